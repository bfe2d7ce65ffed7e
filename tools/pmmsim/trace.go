package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"rpikernel/kernel"
	"rpikernel/kernel/mem/pmm"
	"rpikernel/kernel/mem/pmm/allocator"
)

// step is a single trace entry.
type step struct {
	// Op is one of alloc, free, map, unmap, query, verify.
	Op string `yaml:"op"`

	// As binds the frame returned by alloc to a name.
	As string `yaml:"as,omitempty"`

	// The target frame of free, map, unmap and query is given by exactly
	// one of: a name bound by an earlier alloc, a frame number or a
	// physical address.
	Ref   string  `yaml:"ref,omitempty"`
	Frame *uint64 `yaml:"frame,omitempty"`
	Addr  *uint64 `yaml:"addr,omitempty"`

	// VAddr is the virtual address recorded by map.
	VAddr uint64 `yaml:"vaddr,omitempty"`

	// Expect is the name of the error the step must fail with. An empty
	// value means the step must succeed.
	Expect string `yaml:"expect,omitempty"`

	// Optional checks on the target frame once the step succeeded.
	ExpectFrame    *uint64 `yaml:"expect_frame,omitempty"`
	ExpectState    string  `yaml:"expect_state,omitempty"`
	ExpectMapping  *uint64 `yaml:"expect_mapping,omitempty"`
	ExpectUnmapped bool    `yaml:"expect_unmapped,omitempty"`
}

// errorsByName maps the names usable in traces to allocator errors.
var errorsByName = map[string]*kernel.Error{
	"OutOfRange":        allocator.ErrOutOfRange,
	"InvalidLayout":     allocator.ErrInvalidLayout,
	"OutOfMemory":       allocator.ErrOutOfMemory,
	"DoubleFree":        allocator.ErrDoubleFree,
	"ReservedFrameFree": allocator.ErrReservedFrameFree,
	"NotAllocated":      allocator.ErrNotAllocated,
	"Corrupted":         allocator.ErrCorrupted,
}

func errorName(err *kernel.Error) string {
	if err == nil {
		return "ok"
	}
	for name, candidate := range errorsByName {
		if candidate == err {
			return name
		}
	}
	return err.Error()
}

// loadTrace parses a YAML trace file.
func loadTrace(path string) ([]step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading trace")
	}
	return parseTrace(data)
}

func parseTrace(data []byte) ([]step, error) {
	var steps []step
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return nil, errors.Wrap(err, "parsing trace")
	}

	for i, s := range steps {
		if s.Expect != "" {
			if _, ok := errorsByName[s.Expect]; !ok {
				return nil, errors.Errorf("step %d: unknown error %q", i, s.Expect)
			}
		}
	}
	return steps, nil
}

// replayer executes trace steps against a frame allocator.
type replayer struct {
	alloc *allocator.FrameAllocator
	names map[string]pmm.Frame
	log   logrus.FieldLogger
}

func newReplayer(alloc *allocator.FrameAllocator, log logrus.FieldLogger) *replayer {
	return &replayer{
		alloc: alloc,
		names: make(map[string]pmm.Frame),
		log:   log,
	}
}

// run executes steps in order. It stops at the first step whose outcome
// differs from the trace expectations or that leaves the allocator in an
// inconsistent state.
func (r *replayer) run(steps []step) error {
	for i, s := range steps {
		if err := r.step(s); err != nil {
			return errors.Wrapf(err, "step %d (%s)", i, s.Op)
		}

		if err := r.alloc.Verify(); err != nil {
			return errors.Wrapf(err, "step %d (%s): invariant check", i, s.Op)
		}
	}
	return nil
}

func (r *replayer) step(s step) error {
	var (
		err   *kernel.Error
		frame = pmm.InvalidFrame
		info  allocator.FrameInfo
	)

	switch s.Op {
	case "alloc":
		if frame, err = r.alloc.Alloc(); err == nil && s.As != "" {
			r.names[s.As] = frame
		}
	case "free", "map", "unmap", "query":
		var rerr error
		if frame, rerr = r.target(s); rerr != nil {
			return rerr
		}

		switch s.Op {
		case "free":
			err = r.alloc.Free(frame)
		case "map":
			err = r.alloc.SetMapping(frame, uintptr(s.VAddr))
		case "unmap":
			err = r.alloc.ClearMapping(frame)
		case "query":
			_, err = r.alloc.Query(frame)
		}
	case "verify":
		err = r.alloc.Verify()
	default:
		return errors.Errorf("unknown op %q", s.Op)
	}

	r.log.WithFields(logrus.Fields{
		"op":     s.Op,
		"frame":  frameNumber(frame),
		"result": errorName(err),
	}).Debug("step")

	if exp, got := expectName(s.Expect), errorName(err); exp != got {
		return errors.Errorf("expected %s; got %s", exp, got)
	}
	if err != nil || !frame.Valid() {
		return nil
	}

	info, _ = r.alloc.Query(frame)
	return checkOutcome(s, frame, info)
}

// target resolves the frame a step refers to.
func (r *replayer) target(s step) (pmm.Frame, error) {
	switch {
	case s.Ref != "":
		frame, ok := r.names[s.Ref]
		if !ok {
			return pmm.InvalidFrame, errors.Errorf("unknown frame reference %q", s.Ref)
		}
		return frame, nil
	case s.Frame != nil:
		return pmm.Frame(*s.Frame), nil
	case s.Addr != nil:
		frame, err := r.alloc.IndexOf(uintptr(*s.Addr))
		if err != nil {
			// Let the operation itself report the out of range frame.
			return pmm.InvalidFrame, nil
		}
		return frame, nil
	default:
		return pmm.InvalidFrame, errors.New("step needs one of ref, frame or addr")
	}
}

func checkOutcome(s step, frame pmm.Frame, info allocator.FrameInfo) error {
	if s.ExpectFrame != nil && pmm.Frame(*s.ExpectFrame) != frame {
		return errors.Errorf("expected frame %d; got %d", *s.ExpectFrame, frame)
	}
	if s.ExpectState != "" && s.ExpectState != info.State.String() {
		return errors.Errorf("expected frame %d to be %s; got %s", frame, s.ExpectState, info.State)
	}
	if s.ExpectMapping != nil && uintptr(*s.ExpectMapping) != info.Mapping {
		return errors.Errorf("expected frame %d to map 0x%x; got 0x%x", frame, *s.ExpectMapping, info.Mapping)
	}
	if s.ExpectUnmapped && info.Mapped() {
		return errors.Errorf("expected frame %d to be unmapped; got 0x%x", frame, info.Mapping)
	}
	return nil
}

func expectName(expect string) string {
	if expect == "" {
		return "ok"
	}
	return expect
}

// frameNumber returns the frame as a loggable value; -1 for InvalidFrame.
func frameNumber(frame pmm.Frame) int64 {
	if !frame.Valid() {
		return -1
	}
	return int64(frame)
}
