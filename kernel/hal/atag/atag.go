// Package atag parses the ARM boot tag (ATAG) list that the bootloader
// places in memory and passes to the kernel entry point in r2.
//
// The list is a sequence of little-endian 32-bit words. Each tag starts with
// a two word header (size in words including the header, tag id) followed by
// its payload. A tag with id TagNone terminates the list.
package atag

import (
	"bytes"
	"encoding/binary"

	"rpikernel/kernel"
)

// Tag identifies the type of an ATAG entry.
type Tag uint32

// Supported tag types.
const (
	TagNone    Tag = 0x00000000
	TagCore    Tag = 0x54410001
	TagMem     Tag = 0x54410002
	TagInitrd2 Tag = 0x54420005
	TagCmdline Tag = 0x54410009
)

const (
	wordSize   = 4
	headerSize = 2 * wordSize
)

var (
	// ErrTruncated is returned when a tag header or payload runs past the
	// end of the supplied data or the list is missing its terminator.
	ErrTruncated = &kernel.Error{Module: "atag", Message: "truncated ATAG list"}

	// ErrMalformedTag is returned for tags whose size is too small to hold
	// their payload.
	ErrMalformedTag = &kernel.Error{Module: "atag", Message: "malformed ATAG entry"}
)

// String implements fmt.Stringer for Tag.
func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagCore:
		return "core"
	case TagMem:
		return "mem"
	case TagInitrd2:
		return "initrd2"
	case TagCmdline:
		return "cmdline"
	default:
		return "unknown"
	}
}

// TagVisitor is invoked by VisitTags for each tag in the list. The payload
// excludes the tag header. The visitor must return true to continue or false
// to abort the scan.
type TagVisitor func(tag Tag, payload []byte) bool

// VisitTags invokes visitor for every tag found in data up to (and not
// including) the terminating TagNone entry.
func VisitTags(data []byte, visitor TagVisitor) *kernel.Error {
	for offset := 0; ; {
		if len(data)-offset < headerSize {
			return ErrTruncated
		}

		size := int(binary.LittleEndian.Uint32(data[offset:])) * wordSize
		tag := Tag(binary.LittleEndian.Uint32(data[offset+wordSize:]))
		if tag == TagNone {
			return nil
		}

		if size < headerSize {
			return ErrMalformedTag
		}
		if size > len(data)-offset {
			return ErrTruncated
		}

		if !visitor(tag, data[offset+headerSize:offset+size]) {
			return nil
		}

		offset += size
	}
}

// MemoryRegion describes a physical memory region reported by a TagMem or
// TagInitrd2 entry.
type MemoryRegion struct {
	Start uint32
	Size  uint32
}

// MemRegions returns the memory regions listed in data in the order they
// appear. An empty result means that the bootloader did not report any
// memory (for example QEMU, which passes a device tree instead).
func MemRegions(data []byte) ([]MemoryRegion, *kernel.Error) {
	// ATAG_MEM payload: {size, start}
	return regionsOf(data, TagMem, func(payload []byte) MemoryRegion {
		return MemoryRegion{
			Size:  binary.LittleEndian.Uint32(payload),
			Start: binary.LittleEndian.Uint32(payload[wordSize:]),
		}
	})
}

// InitrdRegions returns the physical location of the initial ramdisks loaded
// by the bootloader.
func InitrdRegions(data []byte) ([]MemoryRegion, *kernel.Error) {
	// ATAG_INITRD2 payload: {start, size}
	return regionsOf(data, TagInitrd2, func(payload []byte) MemoryRegion {
		return MemoryRegion{
			Start: binary.LittleEndian.Uint32(payload),
			Size:  binary.LittleEndian.Uint32(payload[wordSize:]),
		}
	})
}

func regionsOf(data []byte, want Tag, decode func([]byte) MemoryRegion) ([]MemoryRegion, *kernel.Error) {
	var (
		regions []MemoryRegion
		tagErr  *kernel.Error
	)

	err := VisitTags(data, func(tag Tag, payload []byte) bool {
		if tag != want {
			return true
		}

		if len(payload) < 2*wordSize {
			tagErr = ErrMalformedTag
			return false
		}

		regions = append(regions, decode(payload))
		return true
	})

	switch {
	case err != nil:
		return nil, err
	case tagErr != nil:
		return nil, tagErr
	}

	return regions, nil
}

// CommandLine returns the kernel command line passed via a TagCmdline entry
// or an empty string if none is present.
func CommandLine(data []byte) (string, *kernel.Error) {
	var cmdline string

	err := VisitTags(data, func(tag Tag, payload []byte) bool {
		if tag != TagCmdline {
			return true
		}

		if end := bytes.IndexByte(payload, 0); end != -1 {
			payload = payload[:end]
		}
		cmdline = string(payload)
		return false
	})

	return cmdline, err
}

// Builder assembles an ATAG list. It is used by bootloader shims and tests.
type Builder struct {
	buf bytes.Buffer
}

// Core appends an empty TagCore entry.
func (b *Builder) Core() *Builder {
	b.words(2, uint32(TagCore))
	return b
}

// Mem appends a TagMem entry.
func (b *Builder) Mem(start, size uint32) *Builder {
	b.words(4, uint32(TagMem), size, start)
	return b
}

// Initrd appends a TagInitrd2 entry.
func (b *Builder) Initrd(start, size uint32) *Builder {
	b.words(4, uint32(TagInitrd2), start, size)
	return b
}

// Cmdline appends a NUL-terminated TagCmdline entry padded to a word boundary.
func (b *Builder) Cmdline(cmdline string) *Builder {
	payload := append([]byte(cmdline), 0)
	for len(payload)%wordSize != 0 {
		payload = append(payload, 0)
	}

	b.words(uint32(2+len(payload)/wordSize), uint32(TagCmdline))
	b.buf.Write(payload)
	return b
}

// Bytes terminates the list and returns its encoded form.
func (b *Builder) Bytes() []byte {
	b.words(0, uint32(TagNone))
	return b.buf.Bytes()
}

func (b *Builder) words(words ...uint32) {
	for _, w := range words {
		_ = binary.Write(&b.buf, binary.LittleEndian, w)
	}
}
