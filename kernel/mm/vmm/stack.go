package vmm

import (
	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/mm"
)

var (
	errInvalidStackSize  = &kernel.Error{Module: "vmm", Message: "stack size must be at least one page"}
	errStackSpaceExhaust = &kernel.Error{Module: "vmm", Message: "stack address space exhausted"}
)

// Stack describes an allocated kernel stack. The page immediately below
// Bottom is left unmapped as a guard: overflowing the stack faults
// instead of silently corrupting adjacent memory.
type Stack struct {
	top    uintptr
	bottom uintptr
}

// Top returns the initial stack pointer value for this stack. Stacks
// grow downwards so Top is the exclusive upper bound of the mapped
// range.
func (s Stack) Top() uintptr {
	return s.top
}

// Bottom returns the lowest mapped address of the stack.
func (s Stack) Bottom() uintptr {
	return s.bottom
}

// StackAllocator carves kernel stacks out of a dedicated virtual address
// range. Allocations burn through the range monotonically; stacks are
// not expected to be recycled.
type StackAllocator struct {
	next mm.Page
	last mm.Page
}

// NewStackAllocator returns an allocator handing out stacks from the
// page range [start, end].
func NewStackAllocator(start, end mm.Page) StackAllocator {
	return StackAllocator{next: start, last: end}
}

// AllocStack reserves sizePages of stack plus one unmapped guard page
// below it, maps the stack pages with writable, non-executable frames
// from alloc and returns the resulting stack. If any page fails to map,
// already established mappings are rolled back and their frames
// returned before the error is propagated.
func (sa *StackAllocator) AllocStack(sizePages int, frames mm.FrameProvider) (Stack, *kernel.Error) {
	if sizePages < 1 {
		return Stack{}, errInvalidStackSize
	}

	// One extra page for the guard.
	if uintptr(sa.next)+uintptr(sizePages) > uintptr(sa.last) {
		return Stack{}, errStackSpaceExhaust
	}

	var (
		guardPage = sa.next
		firstPage = guardPage + 1
		lastPage  = guardPage + mm.Page(sizePages)
	)

	for page := firstPage; page <= lastPage; page++ {
		if _, err := mapFn(page, FlagRW|FlagNoExecute, frames); err != nil {
			for undo := firstPage; undo < page; undo++ {
				unmapFn(undo, frames)
			}
			return Stack{}, err
		}
	}

	sa.next = lastPage + 1

	return Stack{
		top:    (lastPage + 1).Address(),
		bottom: firstPage.Address(),
	}, nil
}
