package vmm

import (
	"testing"
	"unsafe"

	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/mm"
)

// fakeMMU emulates the MMU translation mechanism in software so that the
// page table walking code can run against in-memory tables. Each fake
// table is backed by a regular Go array; synthetic virtual addresses
// produced by walk() are resolved by performing the same 4-level
// translation the hardware would perform, starting at the fake CR3.
type fakeMMU struct {
	t *testing.T

	cr3    mm.Frame
	tables map[mm.Frame]*[entriesPerTable]pageTableEntry

	tlbFlushCount      int
	tlbEntryFlushCount int
}

func newFakeMMU(t *testing.T) *fakeMMU {
	m := &fakeMMU{
		t:      t,
		cr3:    mm.Frame(0x100),
		tables: make(map[mm.Frame]*[entriesPerTable]pageTableEntry),
	}

	// The boot P4 with its last entry recursively pointing to itself.
	p4 := new([entriesPerTable]pageTableEntry)
	p4[selfMapIndex].SetFrame(m.cr3)
	p4[selfMapIndex].SetFlags(FlagPresent | FlagRW)
	m.tables[m.cr3] = p4

	return m
}

// install redirects the MMU seams at the fake and returns a function
// that restores the originals.
func (m *fakeMMU) install() func() {
	origPtePtr := ptePtrFn
	origNextAddr := nextAddrFn
	origFlushTLBEntry := flushTLBEntryFn
	origFlushTLB := flushTLBFn
	origActivePDT := activePDTFn
	origSwitchPDT := switchPDTFn

	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		frame := m.mustTranslate(entryAddr)
		table := m.table(frame)
		index := (entryAddr & (mm.PageSize - 1)) >> mm.PointerShift
		return unsafe.Pointer(&table[index])
	}
	nextAddrFn = func(tableAddr uintptr) uintptr {
		frame := m.mustTranslate(tableAddr)
		return uintptr(unsafe.Pointer(&m.table(frame)[0]))
	}
	flushTLBEntryFn = func(uintptr) { m.tlbEntryFlushCount++ }
	flushTLBFn = func() { m.tlbFlushCount++ }
	activePDTFn = func() uintptr { return m.cr3.Address() }
	switchPDTFn = func(pdtPhysAddr uintptr) { m.cr3 = mm.FrameFromAddress(pdtPhysAddr) }

	return func() {
		ptePtrFn = origPtePtr
		nextAddrFn = origNextAddr
		flushTLBEntryFn = origFlushTLBEntry
		flushTLBFn = origFlushTLB
		activePDTFn = origActivePDT
		switchPDTFn = origSwitchPDT
	}
}

// table returns the backing array for a table frame, materializing a
// zeroed table the first time a frame is accessed as one.
func (m *fakeMMU) table(frame mm.Frame) *[entriesPerTable]pageTableEntry {
	table := m.tables[frame]
	if table == nil {
		table = new([entriesPerTable]pageTableEntry)
		m.tables[frame] = table
	}
	return table
}

// translate performs a software page walk from the fake CR3 and returns
// the frame backing the page that virtAddr belongs to.
func (m *fakeMMU) translate(virtAddr uintptr) (mm.Frame, bool) {
	return m.translateFrom(m.cr3, virtAddr)
}

func (m *fakeMMU) translateFrom(root mm.Frame, virtAddr uintptr) (mm.Frame, bool) {
	frame := root
	for level := 0; level < pageLevels; level++ {
		table := m.tables[frame]
		if table == nil {
			return mm.InvalidFrame, false
		}

		index := (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
		pte := table[index]
		if !pte.HasFlags(FlagPresent) {
			return mm.InvalidFrame, false
		}
		frame = pte.Frame()
	}

	return frame, true
}

func (m *fakeMMU) mustTranslate(virtAddr uintptr) mm.Frame {
	frame, ok := m.translate(virtAddr)
	if !ok {
		m.t.Fatalf("fake MMU: no mapping for address %x", virtAddr)
	}
	return frame
}

// fakeFrameAllocator hands out a monotonically increasing sequence of
// frames and records every frame returned to it.
type fakeFrameAllocator struct {
	next       mm.Frame
	allocErr   *kernel.Error
	allocCount int
	freed      []mm.Frame
}

func (a *fakeFrameAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if a.allocErr != nil {
		return mm.InvalidFrame, a.allocErr
	}

	if a.next == 0 {
		a.next = 0x1000
	}

	frame := a.next
	a.next++
	a.allocCount++
	return frame, nil
}

func (a *fakeFrameAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	a.freed = append(a.freed, frame)
	return nil
}
