package main

import (
	"bytes"
	"strings"

	"github.com/sirupsen/logrus"
)

// kernelLog is the kfmt output sink of the simulator. Every complete line of
// kernel console output becomes one log entry. It logs synchronously so no
// output is lost when the process exits.
type kernelLog struct {
	entry *logrus.Entry
	level logrus.Level

	// partial holds the trailing bytes of the last write that did not end
	// with a line feed.
	partial bytes.Buffer
}

func newKernelLog(entry *logrus.Entry, level logrus.Level) *kernelLog {
	return &kernelLog{entry: entry, level: level}
}

func (k *kernelLog) Write(p []byte) (int, error) {
	for rest := p; len(rest) != 0; {
		idx := bytes.IndexByte(rest, '\n')
		if idx == -1 {
			k.partial.Write(rest)
			break
		}

		k.partial.Write(rest[:idx])
		k.emit()
		rest = rest[idx+1:]
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (k *kernelLog) Flush() {
	k.emit()
}

func (k *kernelLog) emit() {
	line := strings.TrimRight(k.partial.String(), "\r")
	k.partial.Reset()
	if strings.TrimSpace(line) != "" {
		k.entry.Log(k.level, line)
	}
}
