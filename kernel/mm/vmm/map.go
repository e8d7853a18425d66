package vmm

import (
	"unsafe"

	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/cpu"
	"github.com/ESALP/ESALP-1/kernel/mm"
)

var (
	// ErrAlreadyMapped is returned when trying to map a virtual page that
	// is already backed by a present mapping.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	// ErrNotMapped is returned when an operation expects a present
	// mapping for a virtual page but none exists.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual page is not mapped"}

	// errMisalignedHugePage is a fatal condition raised when a huge page
	// entry points to a frame that is not aligned to the huge page size.
	errMisalignedHugePage = &kernel.Error{Module: "vmm", Message: "huge page frame is not aligned to the huge page size"}

	// The following functions are mocked by tests. Writing to hardware
	// page tables or issuing TLB invalidations cannot happen inside a
	// test process so all paths that touch the MMU go through these
	// variables.
	ptePtrFn        = func(entryAddr uintptr) unsafe.Pointer { return unsafe.Pointer(entryAddr) }
	nextAddrFn      = func(entryAddr uintptr) uintptr { return entryAddr }
	flushTLBEntryFn = cpu.FlushTLBEntry
	flushTLBFn      = cpu.FlushTLB
	activePDTFn     = cpu.ActivePDT
	switchPDTFn     = cpu.SwitchPDT

	// Indirect calls into the mapper itself so that higher level
	// components (temporary pages, the region manager, the frame bitmap)
	// can be tested without a live page table.
	mapFn       = Map
	mapToFn     = MapTo
	unmapFn     = Unmap
	translateFn = Translate
)

// MapTo establishes a mapping from the given virtual page to the given
// physical frame with the requested flag set. The FlagPresent flag is
// always set on the final entry regardless of the supplied flags.
//
// Any missing intermediate page tables along the walk are allocated from
// the supplied allocator and zeroed before use. MapTo returns
// ErrAlreadyMapped without touching the entry if the page already has a
// present mapping.
func MapTo(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, alloc mm.FrameAllocator) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, entryAddr uintptr, pte *pageTableEntry) bool {
		// If we reached the final page table entry, point it to the
		// supplied frame.
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				err = ErrAlreadyMapped
				return false
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		// Mapping through an existing huge page would require breaking
		// it up into smaller pages first.
		if pte.HasFlags(FlagPresent | FlagHugePage) {
			err = ErrAlreadyMapped
			return false
		}

		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			if newTableFrame, err = alloc.AllocFrame(); err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			// The new table becomes recursively accessible the moment
			// its entry turns present; shifting the entry's recursive
			// address left by one level's worth of bits yields the
			// table's own recursive address. Clear any stale entries
			// before walking into it.
			nextTableAddr := (entryAddr << pageLevelBits[pteLevel+1]) &^ (uintptr(1<<mm.PageShift) - 1)
			kernel.Memset(nextAddrFn(nextTableAddr), 0, mm.PageSize)
		}

		return true
	})

	return err
}

// Map establishes a mapping for the given virtual page to a newly
// allocated physical frame. The frame backing the page is returned so
// that callers can track ownership of the allocation.
func Map(page mm.Page, flags PageTableEntryFlag, alloc mm.FrameAllocator) (mm.Frame, *kernel.Error) {
	frame, err := alloc.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	if err = mapToFn(page, frame, flags, alloc); err != nil {
		return mm.InvalidFrame, err
	}

	return frame, nil
}

// IdentityMap maps the page containing the supplied frame's physical
// address to the frame itself. It is used for hardware regions that must
// be addressable at their physical location (e.g. memory-mapped device
// registers).
func IdentityMap(frame mm.Frame, flags PageTableEntryFlag, alloc mm.FrameAllocator) *kernel.Error {
	return mapToFn(mm.Page(frame), frame, flags, alloc)
}

// Unmap removes the mapping for the given virtual page and returns the
// physical frame that backed it to dealloc. Passing a nil dealloc
// deliberately withholds the frame; this is used when repurposing a
// mapping as a guard page. Unmap returns ErrNotMapped if the page has no
// present mapping.
func Unmap(page mm.Page, dealloc mm.FrameDeallocator) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, _ uintptr, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrNotMapped
			return false
		}

		if pteLevel == pageLevels-1 {
			frame := pte.Frame()
			*pte = 0
			flushTLBEntryFn(page.Address())

			if dealloc != nil {
				err = dealloc.FreeFrame(frame)
			}
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = ErrNotMapped
			return false
		}

		return true
	})

	return err
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrNotMapped if the virtual address does not
// correspond to a present mapping.
//
// Translate understands huge page entries at the P3 (1GiB) and P2 (2MiB)
// levels. A huge page entry must point to a frame aligned to the huge
// page size; a misaligned frame indicates a corrupt table and yields an
// error.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		err      *kernel.Error
		physAddr uintptr
		done     bool
	)

	pageOffset := virtAddr & (mm.PageSize - 1)

	walk(virtAddr, func(pteLevel uint8, _ uintptr, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrNotMapped
			return false
		}

		if pteLevel == pageLevels-1 {
			physAddr = pte.Frame().Address() + pageOffset
			done = true
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			physAddr, err = hugePageAddr(virtAddr, pteLevel, pte)
			done = err == nil
			return false
		}

		return true
	})

	if err != nil {
		return 0, err
	}

	if !done {
		return 0, ErrNotMapped
	}

	return physAddr, nil
}

// hugePageAddr computes the physical address for a virtual address whose
// walk terminated at a huge page entry. pteLevel 1 describes a 1GiB page
// and pteLevel 2 a 2MiB page.
func hugePageAddr(virtAddr uintptr, pteLevel uint8, pte *pageTableEntry) (uintptr, *kernel.Error) {
	startFrame := pte.Frame()
	framesPerHugePage := uintptr(1) << ((pageLevels - 1 - uint(pteLevel)) * 9)

	if uintptr(startFrame)%framesPerHugePage != 0 {
		return 0, errMisalignedHugePage
	}

	offsetInHugePage := virtAddr & (framesPerHugePage<<mm.PageShift - 1)
	return startFrame.Address() + offsetInHugePage, nil
}
