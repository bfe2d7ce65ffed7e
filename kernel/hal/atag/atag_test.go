package atag

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpikernel/kernel"
)

var (
	// An ATAG list as passed by the Raspberry Pi firmware for a board with
	// 1G of RAM (64M of which is set aside for the GPU).
	rpiTags = []byte{
		// core
		0x05, 0x00, 0x00, 0x00, 0x01, 0x00, 0x41, 0x54,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		// mem: size 0x3c000000 start 0
		0x04, 0x00, 0x00, 0x00, 0x02, 0x00, 0x41, 0x54,
		0x00, 0x00, 0x00, 0x3c, 0x00, 0x00, 0x00, 0x00,
		// cmdline: "console=ttyAMA0\0"
		0x06, 0x00, 0x00, 0x00, 0x09, 0x00, 0x41, 0x54,
		'c', 'o', 'n', 's', 'o', 'l', 'e', '=', 't', 't', 'y', 'A', 'M', 'A', '0', 0x00,
		// none
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

func TestVisitTags(t *testing.T) {
	var tags []Tag
	err := VisitTags(rpiTags, func(tag Tag, payload []byte) bool {
		tags = append(tags, tag)
		return true
	})
	require.Nil(t, err)

	if diff := cmp.Diff([]Tag{TagCore, TagMem, TagCmdline}, tags); diff != "" {
		t.Fatalf("tag mismatch (-want +got):\n%s", diff)
	}
}

func TestVisitTagsAbort(t *testing.T) {
	var visited int
	err := VisitTags(rpiTags, func(Tag, []byte) bool {
		visited++
		return false
	})

	require.Nil(t, err)
	assert.Equal(t, 1, visited)
}

func TestMemRegions(t *testing.T) {
	regions, err := MemRegions(rpiTags)
	require.Nil(t, err)
	assert.Equal(t, []MemoryRegion{{Start: 0, Size: 0x3c000000}}, regions)

	regions, err = MemRegions(new(Builder).Core().Cmdline("quiet").Bytes())
	require.Nil(t, err)
	assert.Empty(t, regions)

	regions, err = MemRegions(new(Builder).Core().Mem(0, 0x1000000).Mem(0x2000000, 0x400000).Bytes())
	require.Nil(t, err)
	assert.Equal(t, []MemoryRegion{{0, 0x1000000}, {0x2000000, 0x400000}}, regions)
}

func TestCommandLine(t *testing.T) {
	cmdline, err := CommandLine(rpiTags)
	require.Nil(t, err)
	assert.Equal(t, "console=ttyAMA0", cmdline)

	cmdline, err = CommandLine(new(Builder).Core().Cmdline("abc").Bytes())
	require.Nil(t, err)
	assert.Equal(t, "abc", cmdline)

	cmdline, err = CommandLine(new(Builder).Core().Bytes())
	require.Nil(t, err)
	assert.Empty(t, cmdline)
}

func TestBuilderMatchesFirmwareEncoding(t *testing.T) {
	// the firmware core tag carries a 3 word payload; compare the rest
	got := new(Builder).Mem(0, 0x3c000000).Cmdline("console=ttyAMA0").Bytes()
	assert.Equal(t, rpiTags[20:], got)
}

func TestParseErrors(t *testing.T) {
	specs := []struct {
		descr  string
		data   []byte
		expErr *kernel.Error
	}{
		{"empty input", nil, ErrTruncated},
		{"missing terminator", new(Builder).Core().Bytes()[:8], ErrTruncated},
		{"tag runs past the end of data", []byte{0x10, 0, 0, 0, 0x01, 0x00, 0x41, 0x54}, ErrTruncated},
		{"tag size smaller than header", []byte{0x01, 0, 0, 0, 0x01, 0x00, 0x41, 0x54, 0, 0, 0, 0, 0, 0, 0, 0}, ErrMalformedTag},
		{"mem tag without payload", []byte{0x02, 0, 0, 0, 0x02, 0x00, 0x41, 0x54, 0, 0, 0, 0, 0, 0, 0, 0}, ErrMalformedTag},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			_, err := MemRegions(spec.data)
			assert.Equal(t, spec.expErr, err)
		})
	}
}

func TestTagString(t *testing.T) {
	specs := map[Tag]string{
		TagNone:    "none",
		TagCore:    "core",
		TagMem:     "mem",
		TagInitrd2: "initrd2",
		TagCmdline: "cmdline",
		Tag(1):     "unknown",
	}

	for tag, exp := range specs {
		if got := tag.String(); got != exp {
			t.Errorf("expected tag 0x%x to be %q; got %q", uint32(tag), exp, got)
		}
	}
}

func TestInitrdRegions(t *testing.T) {
	regions, err := InitrdRegions(rpiTags)
	require.Nil(t, err)
	assert.Empty(t, regions)

	regions, err = InitrdRegions(new(Builder).Core().Mem(0, 0x1000000).Initrd(0x800000, 0x12345).Bytes())
	require.Nil(t, err)
	assert.Equal(t, []MemoryRegion{{Start: 0x800000, Size: 0x12345}}, regions)

	_, err = InitrdRegions([]byte{0x02, 0, 0, 0, 0x05, 0x00, 0x42, 0x54, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.Equal(t, ErrMalformedTag, err)
}
