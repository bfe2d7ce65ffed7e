package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpikernel/kernel/kfmt"
)

func TestKernelLog(t *testing.T) {
	logger, hook := newTestLogger()
	sink := newKernelLog(logger.WithField("src", "kernel"), logrus.InfoLevel)

	n, err := sink.Write([]byte("[pmm] free: 3 frames\n[pmm] reser"))
	require.NoError(t, err)
	assert.Equal(t, 32, n)

	// Entries are emitted before Write returns.
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "[pmm] free: 3 frames", hook.LastEntry().Message)
	assert.Equal(t, "kernel", hook.LastEntry().Data["src"])

	_, _ = sink.Write([]byte("ved: 2 frames\n\n"))
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "[pmm] reserved: 2 frames", hook.LastEntry().Message)

	_, _ = sink.Write([]byte("*** kernel panic"))
	require.Len(t, hook.AllEntries(), 2)
	sink.Flush()
	require.Len(t, hook.AllEntries(), 3)
	assert.Equal(t, "*** kernel panic", hook.LastEntry().Message)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	sink.Flush()
	assert.Len(t, hook.AllEntries(), 3)
}

func TestKernelLogAsConsole(t *testing.T) {
	logger, hook := newTestLogger()
	sink := newKernelLog(logger.WithField("src", "kernel"), logrus.InfoLevel)

	kfmt.SetOutputSink(sink)
	defer kfmt.SetOutputSink(nil)

	newTestAllocator(t).PrintMemoryMap()

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "[pmm] free: 56 frames (224Kb), reserved: 8 frames", entry.Message)
}
