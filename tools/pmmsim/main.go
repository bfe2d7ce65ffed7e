// pmmsim boots the physical frame allocator on the host and exercises it
// with layouts, traces and randomized workloads.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"rpikernel/kernel/kfmt"
)

var log = logrus.New()

func main() {
	var (
		debug     = flag.Bool("debug", false, "enable debug logging")
		logFormat = flag.String("log-format", "text", "log format: text or json")
	)

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Layout), "")
	subcommands.Register(new(Replay), "")
	subcommands.Register(new(Stress), "")
	flag.Parse()

	if err := setupLogging(*debug, *logFormat); err != nil {
		log.WithError(err).Error("invalid logging flags")
		os.Exit(int(subcommands.ExitUsageError))
	}

	// Route kernel console output through the logger.
	console := newKernelLog(log.WithField("src", "kernel"), logrus.InfoLevel)
	kfmt.SetOutputSink(console)

	status := subcommands.Execute(context.Background())

	kfmt.SetOutputSink(nil)
	console.Flush()
	os.Exit(int(status))
}

func setupLogging(debug bool, format string) error {
	log.SetOutput(os.Stderr)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}

	switch format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	return nil
}
