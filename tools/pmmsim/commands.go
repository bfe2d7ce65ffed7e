package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"rpikernel/kernel/mem/pmm/allocator"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	layoutFlags
	frames bool
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "boot the allocator and print the resulting memory map"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - initialize the frame allocator and print its memory map.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	l.layoutFlags.setFlags(f)
	f.BoolVar(&l.frames, "frames", false, "list the state of every frame")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	alloc, err := bootFromFlags(&l.layoutFlags)
	if err != nil {
		return failure("boot failed", err)
	}

	alloc.PrintMemoryMap()
	if l.frames {
		printFrames(alloc)
	}

	stats := alloc.Stats()
	fmt.Printf("total=%d free=%d reserved=%d allocated=%d tail_bytes=%d\n",
		stats.TotalFrames, stats.FreeFrames, stats.ReservedFrames, stats.AllocatedFrames(), uint64(stats.TailBytes))
	return subcommands.ExitSuccess
}

func printFrames(alloc *allocator.FrameAllocator) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "FRAME\tADDRESS\tSTATE\tMAPPING")
	alloc.VisitFrames(func(info allocator.FrameInfo) bool {
		mapping := "-"
		if info.Mapped() {
			mapping = fmt.Sprintf("0x%x", info.Mapping)
		}
		fmt.Fprintf(w, "%d\t0x%x\t%s\t%s\n", info.Frame, info.Address, info.State, mapping)
		return true
	})
	w.Flush()
}

// Replay implements subcommands.Command for the "replay" command.
type Replay struct {
	layoutFlags
}

// Name implements subcommands.Command.Name.
func (*Replay) Name() string {
	return "replay"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Replay) Synopsis() string {
	return "replay a YAML trace of allocator operations"
}

// Usage implements subcommands.Command.Usage.
func (*Replay) Usage() string {
	return `replay [flags] <trace.yaml> - run the operations listed in the trace and
check their outcome. The allocator invariants are verified after each step.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Replay) SetFlags(f *flag.FlagSet) {
	r.layoutFlags.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (r *Replay) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	steps, err := loadTrace(f.Arg(0))
	if err != nil {
		return failure("cannot load trace", err)
	}

	alloc, err := bootFromFlags(&r.layoutFlags)
	if err != nil {
		return failure("boot failed", err)
	}

	if err := newReplayer(alloc, log).run(steps); err != nil {
		return failure("trace mismatch", err)
	}

	stats := alloc.Stats()
	log.WithFields(logrus.Fields{
		"steps":     len(steps),
		"free":      stats.FreeFrames,
		"allocated": stats.AllocatedFrames(),
	}).Info("trace replayed")
	return subcommands.ExitSuccess
}

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	layoutFlags
	ops         int
	seed        int64
	verifyEvery int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run a randomized alloc/free/map workload against a shadow model"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - run a randomized workload and check every result.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	s.layoutFlags.setFlags(f)
	f.IntVar(&s.ops, "ops", 100000, "number of operations to run")
	f.Int64Var(&s.seed, "seed", 1, "random seed")
	f.IntVar(&s.verifyEvery, "verify-every", 1000, "verify the allocator invariants every N operations (0 disables)")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	alloc, err := bootFromFlags(&s.layoutFlags)
	if err != nil {
		return failure("boot failed", err)
	}

	if _, err := stress(alloc, s.ops, s.seed, s.verifyEvery, log.WithField("seed", s.seed)); err != nil {
		return failure("stress run failed", err)
	}
	return subcommands.ExitSuccess
}

// failure logs err along with its root cause and returns ExitFailure.
func failure(msg string, err error) subcommands.ExitStatus {
	log.WithError(err).WithField("cause", errors.Cause(err)).Error(msg)
	return subcommands.ExitFailure
}

func bootFromFlags(lf *layoutFlags) (*allocator.FrameAllocator, error) {
	c, err := lf.resolve()
	if err != nil {
		return nil, err
	}
	return c.boot()
}
