// Package kfmt implements the kernel console output path. Messages are
// formatted with Printf and sent to the attached output sink (typically the
// UART driver). Output produced before a sink is attached is kept in a
// ring buffer and replayed once SetOutputSink is called.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer is a ring buffer that stores Printf output before the
	// console is initialized.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	// Console forwards writes to the active output sink or, until one is
	// attached, to the early print buffer.
	Console io.Writer = consoleWriter{}
)

type consoleWriter struct{}

func (consoleWriter) Write(p []byte) (int, error) {
	return outputWriter().Write(p)
}

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it. Passing a nil writer
// detaches the current sink.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf formats according to a format specifier and writes the result to
// the active output sink, or to the early print buffer if no sink has been
// attached yet. Write errors are dropped; there is nowhere to report them.
func Printf(format string, args ...interface{}) {
	Fprintf(outputWriter(), format, args...)
}

// Fprintf behaves like Printf but writes its output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func outputWriter() io.Writer {
	if outputSink != nil {
		return outputSink
	}

	return &earlyPrintBuffer
}
