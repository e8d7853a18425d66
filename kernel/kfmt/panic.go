package kfmt

import (
	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/cpu"
)

var (
	// cpuHaltFn is used by tests to override calls to cpu.Halt.
	cpuHaltFn = cpu.Halt
)

// Panic outputs the supplied error (if not nil) and halts the machine. A
// failure inside the memory manager leaves no address space to fall back to,
// so there is nothing more sensible to do.
func Panic(e error) {
	Printf("\n-----------------------------------\n")
	if e != nil {
		switch err := e.(type) {
		case *kernel.Error:
			Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
		default:
			Printf("unrecoverable error: %s\n", err.Error())
		}
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
