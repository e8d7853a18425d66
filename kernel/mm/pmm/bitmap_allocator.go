package pmm

import (
	"math/bits"
	"reflect"
	"unsafe"

	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/mm"
	"github.com/ESALP/ESALP-1/kernel/mm/vmm"
	"github.com/ESALP/ESALP-1/kernel/sync"
)

// bitmapVirtualAddr is the fixed virtual address where the frame bitmap
// lives. The address resides in its own top-level table slot so the
// bitmap can grow without colliding with any other kernel mapping.
const bitmapVirtualAddr = uintptr(0xffffff0000000000)

// blocksPerPage is the number of uint64 bitmap blocks that fit in one
// page of backing memory.
const blocksPerPage = int(mm.PageSize >> mm.PointerShift)

var (
	errFrameUntracked  = &kernel.Error{Module: "pmm", Message: "frame is not tracked by the bitmap allocator"}
	errFrameDoubleFree = &kernel.Error{Module: "pmm", Message: "frame is already free"}

	// The following functions are used by tests to mock calls into the
	// vmm package and the bitmap placement, and are automatically
	// inlined by the compiler.
	mapFn        = vmm.Map
	bitmapAddrFn = func() uintptr { return bitmapVirtualAddr }
)

// BitmapAllocator is the primary physical frame allocator. It tracks the
// state of every frame up to the highest frame drained from the boot
// allocator in a single bitmap where a set bit marks a free frame.
//
// The bitmap is backed by on-demand mapped pages at a fixed virtual
// address. Allocation scans the bitmap from a cursor that remembers
// where the previous scan stopped, wrapping around at most once.
type BitmapAllocator struct {
	mu sync.Spinlock

	bitmap    []uint64
	bitmapHdr reflect.SliceHeader

	// cursor is the bitmap block where the next allocation scan starts.
	cursor int

	totalFrames uint32
	freeFrames  uint32
}

// Init takes over physical memory management from the boot allocator by
// draining it: every frame the boot allocator still considers free is
// marked as free in the bitmap. Frames consumed earlier in the boot
// process (including the pages backing the bitmap itself, which are
// mapped on demand during the drain) keep their zero bit and are
// therefore treated as allocated.
func (alloc *BitmapAllocator) Init(early *BootMemAllocator) *kernel.Error {
	base := bitmapAddrFn()
	alloc.bitmapHdr.Data = base

	mappedPages := 0
	for {
		frame, err := early.AllocFrame()
		if err != nil {
			// The boot allocator is drained.
			break
		}

		blockIndex := int(frame >> 6)
		for blockIndex >= alloc.bitmapHdr.Len {
			pageAddr := base + uintptr(mappedPages)<<mm.PageShift
			if _, err := mapFn(mm.PageFromAddress(pageAddr), vmm.FlagRW|vmm.FlagNoExecute, early); err != nil {
				return err
			}
			kernel.Memset(pageAddr, 0, mm.PageSize)

			mappedPages++
			alloc.bitmapHdr.Len = mappedPages * blocksPerPage
			alloc.bitmapHdr.Cap = alloc.bitmapHdr.Len
			alloc.bitmap = *(*[]uint64)(unsafe.Pointer(&alloc.bitmapHdr))
		}

		alloc.bitmap[blockIndex] |= 1 << (frame & 63)
		alloc.totalFrames++
		alloc.freeFrames++
	}

	return nil
}

// AllocFrame reserves and returns the next available free frame.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mu.Acquire()
	defer alloc.mu.Release()

	if alloc.freeFrames == 0 {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	start := alloc.cursor
	for {
		if block := alloc.bitmap[alloc.cursor]; block != 0 {
			bit := bits.TrailingZeros64(block)
			alloc.bitmap[alloc.cursor] &^= 1 << uint(bit)
			alloc.freeFrames--
			return mm.Frame(alloc.cursor<<6 + bit), nil
		}

		alloc.cursor++
		if alloc.cursor == len(alloc.bitmap) {
			alloc.cursor = 0
		}
		if alloc.cursor == start {
			return mm.InvalidFrame, ErrOutOfMemory
		}
	}
}

// FreeFrame returns a frame to the allocator. Freeing a frame that is
// outside the tracked range or already free indicates a bookkeeping bug
// in the caller.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	alloc.mu.Acquire()
	defer alloc.mu.Release()

	blockIndex := int(frame >> 6)
	if !frame.Valid() || blockIndex >= len(alloc.bitmap) {
		return errFrameUntracked
	}

	mask := uint64(1) << (frame & 63)
	if alloc.bitmap[blockIndex]&mask != 0 {
		return errFrameDoubleFree
	}

	alloc.bitmap[blockIndex] |= mask
	alloc.freeFrames++
	return nil
}

// Stats returns the total number of frames tracked by the allocator and
// how many of them are currently free.
func (alloc *BitmapAllocator) Stats() (totalFrames, freeFrames uint32) {
	alloc.mu.Acquire()
	defer alloc.mu.Release()

	return alloc.totalFrames, alloc.freeFrames
}
