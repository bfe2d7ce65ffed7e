package main

import (
	"context"
	"testing"

	"github.com/google/subcommands"

	"rpikernel/kernel/mem/pmm/allocator"
)

func TestCommands(t *testing.T) {
	layoutPath := writeFile(t, "layout.toml", []byte(testLayoutFile))
	tracePath := writeFile(t, "trace.yaml", []byte(lifecycleTrace))
	badTracePath := writeFile(t, "bad.yaml", []byte("- op: free\n  frame: 3\n"))

	specs := []struct {
		cmd       subcommands.Command
		args      []string
		expStatus subcommands.ExitStatus
		misuse    bool
	}{
		{new(Layout), []string{"-config", layoutPath}, subcommands.ExitSuccess, false},
		{new(Layout), []string{"-config", layoutPath, "-frames"}, subcommands.ExitSuccess, false},
		{new(Layout), []string{"-config", layoutPath, "-kernel-end", "0x1000"}, subcommands.ExitFailure, false},
		{new(Replay), []string{"-config", layoutPath, tracePath}, subcommands.ExitSuccess, true},
		{new(Replay), []string{"-config", layoutPath, badTracePath}, subcommands.ExitFailure, true},
		{new(Replay), []string{"-config", layoutPath, "missing.yaml"}, subcommands.ExitFailure, false},
		{new(Replay), []string{"-config", layoutPath}, subcommands.ExitUsageError, false},
		{new(Stress), []string{"-config", layoutPath, "-ops", "500", "-seed", "9"}, subcommands.ExitSuccess, false},
		{new(Stress), []string{"-ram-size", "0"}, subcommands.ExitFailure, false},
	}

	for specIndex, spec := range specs {
		if spec.misuse && allocator.PanicOnMisuse {
			continue
		}

		fs := newFlagSet()
		spec.cmd.SetFlags(fs)
		if err := fs.Parse(spec.args); err != nil {
			t.Errorf("[spec %d] flag parsing failed: %v", specIndex, err)
			continue
		}

		if got := spec.cmd.Execute(context.Background(), fs); got != spec.expStatus {
			t.Errorf("[spec %d] %s: expected exit status %v; got %v", specIndex, spec.cmd.Name(), spec.expStatus, got)
		}
	}
}

func TestSetupLogging(t *testing.T) {
	defer log.SetOutput(log.Out)
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.Formatter)

	for _, format := range []string{"text", "json"} {
		if err := setupLogging(true, format); err != nil {
			t.Errorf("setupLogging(%q): %v", format, err)
		}
	}
	if err := setupLogging(false, "xml"); err == nil {
		t.Error("expected setupLogging to reject an unknown format")
	}
}

func TestReplayTestdata(t *testing.T) {
	skipIfMisuseHalts(t)

	fs := newFlagSet()
	cmd := new(Replay)
	cmd.SetFlags(fs)
	if err := fs.Parse([]string{"-config", "testdata/raspi2.toml", "testdata/lifecycle.yaml"}); err != nil {
		t.Fatal(err)
	}

	if got := cmd.Execute(context.Background(), fs); got != subcommands.ExitSuccess {
		t.Fatalf("expected replay to succeed; got exit status %v", got)
	}
}
