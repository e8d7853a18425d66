package vmm

import (
	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/mm"
)

// tinyAllocatorCapacity is the number of frames held by a TinyAllocator.
// Mapping a single 4K page requires at most three intermediate tables
// (P3, P2 and P1) so three frames always suffice.
const tinyAllocatorCapacity = 3

var (
	errTinyAllocatorExhausted = &kernel.Error{Module: "vmm", Message: "tiny allocator: frame pool exhausted"}
	errTinyAllocatorFull      = &kernel.Error{Module: "vmm", Message: "tiny allocator: frame pool is full"}
)

// TinyAllocator is a fixed-capacity frame allocator that breaks the
// circular dependency between frame allocation and page table
// construction during early boot. It pre-allocates just enough frames to
// cover the intermediate tables needed to map a single page and recycles
// frames that the mapper hands back when tables are torn down.
type TinyAllocator struct {
	frames [tinyAllocatorCapacity]mm.Frame
}

// newTinyAllocator returns an allocator with an empty pool. The zero
// value is not usable: frame 0 is a valid frame so empty slots must
// explicitly hold mm.InvalidFrame.
func newTinyAllocator() TinyAllocator {
	var a TinyAllocator
	for i := 0; i < tinyAllocatorCapacity; i++ {
		a.frames[i] = mm.InvalidFrame
	}
	return a
}

// Fill tops up any empty slots in the allocator with frames from src.
func (a *TinyAllocator) Fill(src mm.FrameAllocator) *kernel.Error {
	for i := 0; i < tinyAllocatorCapacity; i++ {
		if a.frames[i].Valid() {
			continue
		}

		frame, err := src.AllocFrame()
		if err != nil {
			return err
		}
		a.frames[i] = frame
	}

	return nil
}

// AllocFrame hands out one of the pooled frames or
// errTinyAllocatorExhausted when all slots are empty.
func (a *TinyAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for i := 0; i < tinyAllocatorCapacity; i++ {
		if a.frames[i].Valid() {
			frame := a.frames[i]
			a.frames[i] = mm.InvalidFrame
			return frame, nil
		}
	}

	return mm.InvalidFrame, errTinyAllocatorExhausted
}

// FreeFrame returns a frame to the pool. The pool only tracks
// tinyAllocatorCapacity frames; returning a frame to a full pool is a
// bug in the caller.
func (a *TinyAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	for i := 0; i < tinyAllocatorCapacity; i++ {
		if !a.frames[i].Valid() {
			a.frames[i] = frame
			return nil
		}
	}

	return errTinyAllocatorFull
}

// Drain transfers any frames still held by the pool to dst. It is called
// once the permanent frame allocator is live and the pool is no longer
// needed.
func (a *TinyAllocator) Drain(dst mm.FrameDeallocator) *kernel.Error {
	for i := 0; i < tinyAllocatorCapacity; i++ {
		if !a.frames[i].Valid() {
			continue
		}

		if err := dst.FreeFrame(a.frames[i]); err != nil {
			return err
		}
		a.frames[i] = mm.InvalidFrame
	}

	return nil
}

// TemporaryPage provides scratch access to arbitrary physical frames by
// mapping them at a reserved virtual address. It owns a TinyAllocator so
// that establishing the scratch mapping never depends on the permanent
// frame allocator being available.
type TemporaryPage struct {
	page mm.Page
	pool TinyAllocator
}

// NewTemporaryPage returns a TemporaryPage whose backing pool has been
// filled from src.
func NewTemporaryPage(src mm.FrameAllocator) (*TemporaryPage, *kernel.Error) {
	tmp := &TemporaryPage{
		page: mm.PageFromAddress(tempMappingAddr),
		pool: newTinyAllocator(),
	}

	if err := tmp.pool.Fill(src); err != nil {
		return nil, err
	}

	return tmp, nil
}

// Map makes the contents of frame accessible at the reserved scratch
// address and returns that address. The caller must call Unmap before
// mapping another frame.
func (t *TemporaryPage) Map(frame mm.Frame) (uintptr, *kernel.Error) {
	if err := mapToFn(t.page, frame, FlagRW, &t.pool); err != nil {
		return 0, err
	}

	return t.page.Address(), nil
}

// Unmap tears down the scratch mapping. The mapped frame is still owned
// by the caller of Map so it is deliberately not returned to the pool.
func (t *TemporaryPage) Unmap() *kernel.Error {
	return unmapFn(t.page, nil)
}

// Consume drains the backing pool into dst, handing ownership of any
// unused bootstrap frames to the permanent frame allocator.
func (t *TemporaryPage) Consume(dst mm.FrameDeallocator) *kernel.Error {
	return t.pool.Drain(dst)
}
