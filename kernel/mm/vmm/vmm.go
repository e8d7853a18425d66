// Package vmm implements the virtual memory manager for the kernel. It
// maintains the 4-level page table hierarchy through a recursive
// self-mapping, tracks the established regions of the kernel address
// space and hands out guarded kernel stacks.
package vmm

import (
	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/mm"
	"github.com/ESALP/ESALP-1/kernel/sync"
)

// VMM manages the kernel virtual address space: it tracks which regions
// are established, maps and unmaps them through the active page table
// and allocates kernel stacks. All operations serialize on an internal
// spinlock; the mapper never calls back into the VMM so the lock is
// never acquired reentrantly.
type VMM struct {
	mu sync.Spinlock

	active *ActivePageTable
	frames mm.FrameProvider
	stacks StackAllocator

	regions regionList
}

// NewVMM returns a virtual memory manager operating on the given active
// page table, drawing physical frames from frames and carving stacks out
// of the page range [stackStart, stackEnd].
func NewVMM(active *ActivePageTable, frames mm.FrameProvider, stackStart, stackEnd mm.Page) *VMM {
	return &VMM{
		active: active,
		frames: frames,
		stacks: NewStackAllocator(stackStart, stackEnd),
	}
}

// Reserve records a region as established without touching the page
// tables. It is used for regions whose mappings already exist, such as
// the kernel image sections installed during bootstrap. The frames
// backing a reserved region are never released by Unmap.
func (v *VMM) Reserve(r Region) *kernel.Error {
	v.mu.Acquire()
	defer v.mu.Release()

	return v.regions.insert(r)
}

// Map establishes the region r backed by freshly allocated physical
// frames. If any page of the region fails to map, all mappings
// established so far are rolled back, their frames released and the
// region is not recorded.
func (v *VMM) Map(r Region) *kernel.Error {
	v.mu.Acquire()
	defer v.mu.Release()

	r.owned = true
	if err := v.regions.insert(r); err != nil {
		return err
	}

	flags := r.entryFlags()
	firstPage := mm.PageFromAddress(r.Start)
	lastPage := mm.PageFromAddress(r.End - 1)

	for page := firstPage; page <= lastPage; page++ {
		if _, err := mapFn(page, flags, v.frames); err != nil {
			for undo := firstPage; undo < page; undo++ {
				unmapFn(undo, v.frames)
			}
			v.regions.remove(r.Start)
			return err
		}
	}

	return nil
}

// MapTo establishes the region r on top of an existing physical range
// starting at physAddr. The physical frames are owned by the caller
// (device memory, firmware tables) and are not released when the region
// is unmapped. physAddr must be page-aligned.
func (v *VMM) MapTo(r Region, physAddr uintptr) *kernel.Error {
	v.mu.Acquire()
	defer v.mu.Release()

	if err := v.regions.insert(r); err != nil {
		return err
	}

	flags := r.entryFlags()
	firstPage := mm.PageFromAddress(r.Start)
	lastPage := mm.PageFromAddress(r.End - 1)
	frame := mm.FrameFromAddress(physAddr)

	for page := firstPage; page <= lastPage; page, frame = page+1, frame+1 {
		if err := mapToFn(page, frame, flags, v.frames); err != nil {
			for undo := firstPage; undo < page; undo++ {
				unmapFn(undo, nil)
			}
			v.regions.remove(r.Start)
			return err
		}
	}

	return nil
}

// Unmap tears down the region containing addr. Frames backing a region
// established via Map are returned to the frame allocator; frames of
// regions established via MapTo or Reserve stay untouched. It returns
// false if no region contains addr.
func (v *VMM) Unmap(addr uintptr) (bool, *kernel.Error) {
	v.mu.Acquire()
	defer v.mu.Release()

	r, found := v.regions.remove(addr)
	if !found {
		return false, nil
	}

	var dealloc mm.FrameDeallocator
	if r.owned {
		dealloc = v.frames
	}

	firstPage := mm.PageFromAddress(r.Start)
	lastPage := mm.PageFromAddress(r.End - 1)

	for page := firstPage; page <= lastPage; page++ {
		if err := unmapFn(page, dealloc); err != nil {
			return true, err
		}
	}

	return true, nil
}

// RegionAt returns the established region containing addr.
func (v *VMM) RegionAt(addr uintptr) (Region, bool) {
	v.mu.Acquire()
	defer v.mu.Release()

	return v.regions.regionAt(addr)
}

// Translate resolves a virtual address into the physical address it is
// currently mapped to.
func (v *VMM) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return translateFn(virtAddr)
}

// AllocStack allocates a kernel stack of sizePages pages together with
// its guard page and records it as an owned region.
func (v *VMM) AllocStack(sizePages int) (Stack, *kernel.Error) {
	v.mu.Acquire()
	defer v.mu.Release()

	stack, err := v.stacks.AllocStack(sizePages, v.frames)
	if err != nil {
		return Stack{}, err
	}

	r := NewRegion("stack", stack.bottom, stack.top, ProtWrite)
	r.owned = true
	if err = v.regions.insert(r); err != nil {
		// The stack range is carved out of an address range dedicated
		// to the stack allocator; a conflict here means the region list
		// and the allocator disagree about that range. Tear the fresh
		// mappings down again before reporting it.
		firstPage := mm.PageFromAddress(stack.bottom)
		lastPage := mm.PageFromAddress(stack.top - 1)
		for page := firstPage; page <= lastPage; page++ {
			unmapFn(page, v.frames)
		}
		return Stack{}, err
	}

	return stack, nil
}
