package kernel

// Error is the concrete error type used throughout the kernel. Error
// values are declared as package globals and returned by pointer; early
// kernel code runs without the Go allocator so errors.New and fmt.Errorf
// are off limits.
type Error struct {
	// Module is the name of the subsystem that raised the error.
	Module string

	// Message describes the error condition.
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
