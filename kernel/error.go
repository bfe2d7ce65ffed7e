// Package kernel contains the types shared by all kernel sub-systems.
package kernel

// Error describes a kernel error. Kernel errors are defined as package-level
// variables that are pointers to the Error structure and are compared by
// identity. Code running before the memory allocator is up cannot use
// errors.New, so every failure mode is declared upfront.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error message prefixed by the module name.
func (e *Error) String() string {
	return "[" + e.Module + "] " + e.Message
}
