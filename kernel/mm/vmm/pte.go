package vmm

import "github.com/ESALP/ESALP-1/kernel/mm"

// PageTableEntryFlag describes an architectural flag associated with a
// page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. The actual encoding of the
// frame address in the entry depends on the bit width of the architecture.
type pageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical page frame that this page table entry points
// to.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical
// frame .
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = (pageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// walk performs a page table walk for the given virtual address. It calls
// the walkFn callback for each page table level, passing it the level, the
// recursive virtual address of the entry and a pointer to the entry that
// corresponds to the virtual address at that level. If walkFn returns
// false, the walk is aborted.
//
// The walk exploits the recursive self-map slot of the active table. To
// access the entry for virtAddr at a given level, the walker constructs a
// virtual address whose upper table indices route the MMU through the
// self-map slot the appropriate number of times, landing on the table
// itself instead of the memory it maps.
func walk(virtAddr uintptr, walkFn func(pteLevel uint8, entryAddr uintptr, pte *pageTableEntry) bool) {
	var (
		level                            uint8
		tableAddr, entryAddr, entryIndex uintptr
		ok                               bool
	)

	// tableAddr is initially set to the recursively mapped virtual address
	// of the top-most (P4) table.
	for level, tableAddr = 0, pdtVirtualAddr; level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// page table index at this level.
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)

		// By shifting the table virtual address left by pageLevelShifts[level]
		// we get the virtual address of the table one level below.
		entryAddr = tableAddr + (entryIndex << mm.PointerShift)

		if ok = walkFn(level, entryAddr, (*pageTableEntry)(ptePtrFn(entryAddr))); !ok {
			return
		}

		// Shift left by the level bits of the next level so that the
		// entryIndex of this level becomes part of the table address for
		// the next level.
		tableAddr = (tableAddr << pageLevelBits[level]) + (entryIndex << mm.PageShift)
	}
}
