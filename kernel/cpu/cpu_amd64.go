// Package cpu provides access to amd64-specific instructions that cannot be
// expressed in Go. Callers inside the memory manager always reach these
// through package-level function variables so tests can run in user-mode.
package cpu

// FlushTLBEntry flushes the TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLB flushes the entire TLB by reloading the CR3 register.
func FlushTLB()

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// Halt stops instruction execution.
func Halt()
