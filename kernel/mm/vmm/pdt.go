package vmm

import (
	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/mm"
	"github.com/ESALP/ESALP-1/kernel/sync"
)

// InactivePageTable describes a page table hierarchy that is not
// currently loaded in CR3. Only the physical frame of its top-most table
// is tracked; its contents are reachable either through a temporary
// mapping or by making the table active.
type InactivePageTable struct {
	frame mm.Frame
}

// Frame returns the physical frame of the table's top-most level.
func (t InactivePageTable) Frame() mm.Frame {
	return t.frame
}

// NewInactivePageTable initializes frame as the top-most table of a new,
// empty page table hierarchy. The frame is zeroed through the supplied
// temporary page and its last entry is set up to recursively point back
// to the table itself so that the walking machinery works once the table
// becomes active.
func NewInactivePageTable(frame mm.Frame, tmp *TemporaryPage) (InactivePageTable, *kernel.Error) {
	tableAddr, err := tmp.Map(frame)
	if err != nil {
		return InactivePageTable{frame: mm.InvalidFrame}, err
	}

	for i := uintptr(0); i < entriesPerTable; i++ {
		*(*pageTableEntry)(ptePtrFn(tableAddr + i<<mm.PointerShift)) = 0
	}

	selfEntry := (*pageTableEntry)(ptePtrFn(tableAddr + selfMapIndex<<mm.PointerShift))
	selfEntry.SetFrame(frame)
	selfEntry.SetFlags(FlagPresent | FlagRW)

	if err = tmp.Unmap(); err != nil {
		return InactivePageTable{frame: mm.InvalidFrame}, err
	}

	return InactivePageTable{frame: frame}, nil
}

// ActivePageTable controls the page table hierarchy that the MMU is
// currently translating through. All mutations that retarget the MMU
// (With and Switch) serialize on an internal spinlock.
type ActivePageTable struct {
	mu sync.Spinlock

	pdtFrame mm.Frame
}

// NewActivePageTable returns a controller for the table hierarchy that is
// currently loaded in CR3.
func NewActivePageTable() *ActivePageTable {
	return &ActivePageTable{
		pdtFrame: mm.FrameFromAddress(activePDTFn()),
	}
}

// Frame returns the physical frame of the active top-most table.
func (pdt *ActivePageTable) Frame() mm.Frame {
	return pdt.pdtFrame
}

// With executes fn with the mapper operations transparently redirected
// into the inactive table. It hijacks the self-map slot of the active
// table to point at the inactive one, so every page table walk performed
// by fn mutates the inactive hierarchy while the MMU keeps translating
// through the unchanged active one.
//
// The sequence is careful about ordering: the active top-most table is
// first made accessible through tmp so that the hijacked slot can be
// restored afterwards without any walk being possible through the
// recursive mapping.
func (pdt *ActivePageTable) With(inactive InactivePageTable, tmp *TemporaryPage, fn func() *kernel.Error) *kernel.Error {
	pdt.mu.Acquire()
	defer pdt.mu.Release()

	backupFrame := mm.FrameFromAddress(activePDTFn())

	// Keep a door open into the active table before hijacking the
	// self-map slot; once the slot points elsewhere the recursive
	// mapping can no longer reach it.
	backupAddr, err := tmp.Map(backupFrame)
	if err != nil {
		return err
	}

	selfEntry := (*pageTableEntry)(ptePtrFn(pdtVirtualAddr + selfMapIndex<<mm.PointerShift))
	selfEntry.SetFrame(inactive.frame)
	selfEntry.SetFlags(FlagPresent | FlagRW)
	flushTLBFn()

	fnErr := fn()

	// Restore the self-map slot through the temporary mapping; the
	// recursive path now resolves into the inactive hierarchy and must
	// not be used for the restore.
	restoreEntry := (*pageTableEntry)(ptePtrFn(backupAddr + selfMapIndex<<mm.PointerShift))
	restoreEntry.SetFrame(backupFrame)
	restoreEntry.SetFlags(FlagPresent | FlagRW)
	flushTLBFn()

	if err = tmp.Unmap(); err != nil {
		return err
	}

	return fnErr
}

// Switch loads the inactive table into CR3 making it the active table
// hierarchy. The previously active table is returned as an inactive
// table so that the caller can either repurpose or release its top-most
// frame.
func (pdt *ActivePageTable) Switch(inactive InactivePageTable) InactivePageTable {
	pdt.mu.Acquire()
	defer pdt.mu.Release()

	old := InactivePageTable{frame: pdt.pdtFrame}

	switchPDTFn(inactive.frame.Address())
	pdt.pdtFrame = inactive.frame

	return old
}
