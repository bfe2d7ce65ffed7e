package main

import (
	"flag"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"rpikernel/kernel/kmain"
	"rpikernel/kernel/mem/pmm"
	"rpikernel/kernel/mem/pmm/allocator"
)

// regionConfig is a [[reserved]] entry of the layout file.
type regionConfig struct {
	Start uint64 `toml:"start"`
	End   uint64 `toml:"end"`
}

// config describes the simulated machine.
type config struct {
	RAMBase     uint64 `toml:"ram_base"`
	RAMSize     uint64 `toml:"ram_size"`
	KernelStart uint64 `toml:"kernel_start"`
	KernelEnd   uint64 `toml:"kernel_end"`

	// ATAGFile points to a raw ATAG list. When set, the RAM region is
	// taken from the list and the boot path of the kernel is used to set
	// up the allocator.
	ATAGFile string `toml:"atag_file"`

	Reserved []regionConfig `toml:"reserved"`
}

// loadConfig loads a layout file.
func loadConfig(path string) (*config, error) {
	var c config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, errors.Wrapf(err, "loading layout %s", path)
	}
	return &c, nil
}

// layout converts the configuration into an allocator layout.
func (c *config) layout() allocator.Layout {
	l := allocator.Layout{
		RAMBase:     uintptr(c.RAMBase),
		RAMSize:     uintptr(c.RAMSize),
		KernelStart: uintptr(c.KernelStart),
		KernelEnd:   uintptr(c.KernelEnd),
	}
	for _, r := range c.Reserved {
		l.Reserved = append(l.Reserved, pmm.Region{Start: uintptr(r.Start), End: uintptr(r.End)})
	}
	return l
}

// boot initializes a frame allocator for the configured machine.
func (c *config) boot() (*allocator.FrameAllocator, error) {
	if c.ATAGFile != "" {
		data, err := os.ReadFile(c.ATAGFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading ATAG list")
		}

		frames, kerr := kmain.InitMemory(data, uintptr(c.KernelStart), uintptr(c.KernelEnd))
		if kerr != nil {
			return nil, errors.Wrapf(kerr, "booting from %s", c.ATAGFile)
		}
		return frames, nil
	}

	frames, kerr := allocator.Init(c.layout())
	if kerr != nil {
		return nil, errors.Wrapf(kerr, "layout %+v", c.layout())
	}
	return frames, nil
}

// addrValue is a flag.Value for addresses and sizes. It accepts any integer
// literal understood by strconv.ParseUint with base 0 and records whether
// the flag was set.
type addrValue struct {
	set bool
	val uint64
}

func (v *addrValue) String() string {
	return "0x" + strconv.FormatUint(v.val, 16)
}

func (v *addrValue) Set(s string) error {
	val, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return err
	}
	v.set, v.val = true, val
	return nil
}

// layoutFlags holds the flags shared by all commands that boot an allocator.
type layoutFlags struct {
	path string

	ramBase, ramSize       addrValue
	kernelStart, kernelEnd addrValue
}

func (lf *layoutFlags) setFlags(f *flag.FlagSet) {
	f.StringVar(&lf.path, "config", "", "path to the TOML layout file")
	f.Var(&lf.ramBase, "ram-base", "override the RAM base address")
	f.Var(&lf.ramSize, "ram-size", "override the RAM size in bytes")
	f.Var(&lf.kernelStart, "kernel-start", "override the kernel image start address")
	f.Var(&lf.kernelEnd, "kernel-end", "override the kernel image end address")
}

// resolve loads the layout file (if any) and applies flag overrides.
func (lf *layoutFlags) resolve() (*config, error) {
	c := &config{}
	if lf.path != "" {
		var err error
		if c, err = loadConfig(lf.path); err != nil {
			return nil, err
		}
	}

	for _, o := range []struct {
		v   *addrValue
		dst *uint64
	}{
		{&lf.ramBase, &c.RAMBase},
		{&lf.ramSize, &c.RAMSize},
		{&lf.kernelStart, &c.KernelStart},
		{&lf.kernelEnd, &c.KernelEnd},
	} {
		if o.v.set {
			*o.dst = o.v.val
		}
	}

	return c, nil
}
