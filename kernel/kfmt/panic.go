package kfmt

import (
	"rpikernel/kernel"
)

var (
	// haltFn is invoked by Panic after printing the error. Tests replace
	// it; the default stops the calling context by unwinding it with a Go
	// panic that carries the kernel error.
	haltFn = func(err *kernel.Error) { panic(err) }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// current execution context. Calls to Panic never return unless haltFn has
// been overridden.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	default:
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	haltFn(err)
}
