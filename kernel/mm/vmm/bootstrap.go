package vmm

import (
	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/hal/bootinfo"
	"github.com/ESALP/ESALP-1/kernel/mm"
)

const (
	// kernelHeapStart and kernelHeapPages describe the region backing
	// early kernel dynamic allocations. The heap lives in the higher
	// half, above the kernel image mappings.
	kernelHeapStart = KernelPageOffset + 0x800000
	kernelHeapPages = 64

	// stackSpacePages is the size of the virtual address range that
	// kernel stacks are carved out of. The range begins one page above
	// the heap so that an out of bounds heap access can never bleed
	// into a stack.
	stackSpacePages = 512

	// consoleFBAddr is the physical address of the text-mode console
	// framebuffer which gets identity mapped during bootstrap.
	consoleFBAddr = uintptr(0xb8000)
)

// StackSpaceRange returns the page range dedicated to the kernel stack
// allocator.
func StackSpaceRange() (start, end mm.Page) {
	start = mm.PageFromAddress(kernelHeapStart+kernelHeapPages*mm.PageSize) + 1
	return start, start + stackSpacePages - 1
}

// EarlyRegions returns the descriptors for the regions that Bootstrap
// establishes in the fresh kernel page table: the kernel image sections,
// the boot information block, any loaded boot modules, the console
// framebuffer and the kernel heap. kmain seeds the region manager with
// this list once the VMM is constructed.
func EarlyRegions(info *bootinfo.Info) []Region {
	var regions []Region

	for _, sec := range info.Sections {
		var prot Protection
		if sec.Flags&bootinfo.SectionWritable != 0 {
			prot |= ProtWrite
		}
		if sec.Flags&bootinfo.SectionExecutable != 0 {
			prot |= ProtExec
		}

		start := sec.VirtAddress &^ (mm.PageSize - 1)
		end := pageAlignUp(sec.VirtAddress + uintptr(sec.Size))
		regions = append(regions, NewRegion(sec.Name, start, end, prot))
	}

	// The boot information block and the boot modules frequently sit
	// inside one of the kernel sections; carve their regions around the
	// section regions so that the list stays free of overlaps.
	sections := regions

	regions = append(regions, subtractRegions(NewRegion(
		"bootinfo",
		KernelPageOffset+(uintptr(info.InfoStart)&^(mm.PageSize-1)),
		KernelPageOffset+pageAlignUp(uintptr(info.InfoEnd)),
		0,
	), sections)...)

	for _, mod := range info.Modules {
		regions = append(regions, subtractRegions(NewRegion(
			mod.Name,
			KernelPageOffset+(uintptr(mod.Start)&^(mm.PageSize-1)),
			KernelPageOffset+pageAlignUp(uintptr(mod.End)),
			0,
		), sections)...)
	}

	heap := NewRegion("heap", kernelHeapStart, kernelHeapStart+kernelHeapPages*mm.PageSize, ProtWrite)
	heap.owned = true

	regions = append(regions,
		NewRegion("console", consoleFBAddr, consoleFBAddr+mm.PageSize, ProtWrite),
		heap,
	)

	return regions
}

// Bootstrap replaces the boot loader provided page table hierarchy with
// a fresh one that maps exactly what the kernel needs: the image
// sections with proper permissions, the boot information block, loaded
// modules, the console framebuffer and the kernel heap. The new
// hierarchy is populated through the self-map hijacking mechanism and
// then atomically made active.
//
// Bootstrap returns the controller for the now-active table together
// with the temporary page (so that its frame pool can later be handed to
// the permanent allocator) and the old root table, whose higher half
// alias the caller is expected to turn into a stack guard page.
func Bootstrap(info *bootinfo.Info, early mm.FrameAllocator) (*ActivePageTable, *TemporaryPage, InactivePageTable, *kernel.Error) {
	active := NewActivePageTable()

	tmp, err := NewTemporaryPage(early)
	if err != nil {
		return nil, nil, InactivePageTable{}, err
	}

	rootFrame, err := early.AllocFrame()
	if err != nil {
		return nil, nil, InactivePageTable{}, err
	}

	newTable, err := NewInactivePageTable(rootFrame, tmp)
	if err != nil {
		return nil, nil, InactivePageTable{}, err
	}

	err = active.With(newTable, tmp, func() *kernel.Error {
		for _, r := range EarlyRegions(info) {
			if err := mapEarlyRegion(r, early); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, InactivePageTable{}, err
	}

	oldTable := active.Switch(newTable)
	return active, tmp, oldTable, nil
}

// mapEarlyRegion establishes the mappings for one of the bootstrap
// regions. Owned regions (the heap) are backed by fresh frames; every
// other early region aliases physical memory that already holds its
// contents. Overlaps between early regions (the boot information block
// commonly sits inside a kernel section) are tolerated.
func mapEarlyRegion(r Region, early mm.FrameAllocator) *kernel.Error {
	var (
		flags     = r.entryFlags()
		firstPage = mm.PageFromAddress(r.Start)
		lastPage  = mm.PageFromAddress(r.End - 1)
	)

	for page := firstPage; page <= lastPage; page++ {
		var err *kernel.Error

		if r.owned {
			_, err = mapFn(page, flags, early)
		} else {
			addr := page.Address()
			if addr >= KernelPageOffset {
				addr -= KernelPageOffset
			}
			err = mapToFn(page, mm.FrameFromAddress(addr), flags, early)
		}

		if err == ErrAlreadyMapped {
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func pageAlignUp(addr uintptr) uintptr {
	return (addr + mm.PageSize - 1) &^ (mm.PageSize - 1)
}
