package mm

import (
	"math"

	"github.com/ESALP/ESALP-1/kernel"
)

// Frame describes a physical memory page index. A Frame value represents a
// claim on the physical page it indexes; frames are minted by a frame
// allocator and must be either installed in exactly one present page table
// entry or handed back to an allocator.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when they fail to
	// reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address where this Frame begins.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not page-aligned are rounded down to the frame
// that contains them.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> PageShift)
}

// FrameAllocator is implemented by physical frame allocators.
type FrameAllocator interface {
	// AllocFrame reserves a free physical frame and returns it.
	AllocFrame() (Frame, *kernel.Error)
}

// FrameDeallocator is implemented by physical frame allocators that support
// releasing frames.
type FrameDeallocator interface {
	// FreeFrame releases a frame previously returned by AllocFrame.
	FreeFrame(frame Frame) *kernel.Error
}

// FrameProvider groups frame allocation and deallocation. The persistent
// allocator installed after boot implements both directions.
type FrameProvider interface {
	FrameAllocator
	FrameDeallocator
}
