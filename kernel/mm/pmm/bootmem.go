package pmm

import (
	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/hal/bootinfo"
	"github.com/ESALP/ESALP-1/kernel/kfmt"
	"github.com/ESALP/ESALP-1/kernel/mm"
)

// maxExclusions bounds the number of physical ranges a BootMemAllocator
// can withhold. The set is small and known up front: the kernel image,
// the boot information block and the loaded boot modules.
const maxExclusions = 8

// exclusion describes an inclusive range of frames that must never be
// handed out.
type exclusion struct {
	startFrame mm.Frame
	endFrame   mm.Frame
}

// BootMemAllocator implements a rudimentary physical memory allocator
// used to bootstrap the kernel before paging and the bitmap allocator
// are available.
//
// The allocator walks the memory ranges reported by the firmware in
// increasing physical order and returns the next free frame that does
// not fall inside an excluded range. Allocations are tracked via an
// internal counter holding the last allocated frame; freeing is not
// supported. Once the kernel is properly initialized the remaining free
// frames are handed over to the bitmap allocator.
type BootMemAllocator struct {
	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocFrame tracks the last allocated frame number. It is only
	// meaningful when allocCount is not zero.
	lastAllocFrame mm.Frame

	exclusions     [maxExclusions]exclusion
	exclusionCount int
}

// Init populates the exclusion set from the registered boot records: the
// physical range occupied by the kernel image (whose sections are linked
// at pageOffset), the boot information block and any loaded boot
// modules.
func (alloc *BootMemAllocator) Init(pageOffset uintptr) {
	kernelStart, kernelEnd := bootinfo.KernelPhysRange(pageOffset)
	alloc.exclude(kernelStart, kernelEnd)

	if info := bootinfo.Get(); info != nil {
		alloc.exclude(info.InfoStart, info.InfoEnd)
	}

	bootinfo.VisitModules(func(mod *bootinfo.Module) bool {
		alloc.exclude(mod.Start, mod.End)
		return true
	})
}

// exclude withholds the physical byte range [start, end) by expanding it
// to frame granularity.
func (alloc *BootMemAllocator) exclude(start, end uint64) {
	if end <= start || alloc.exclusionCount == maxExclusions {
		return
	}

	pageSizeMinus1 := uint64(mm.PageSize - 1)
	alloc.exclusions[alloc.exclusionCount] = exclusion{
		startFrame: mm.Frame(start >> mm.PageShift),
		endFrame:   mm.Frame(((end+pageSizeMinus1)&^pageSizeMinus1)>>mm.PageShift) - 1,
	}
	alloc.exclusionCount++
}

// excludedUpTo returns the last frame of the exclusion containing frame,
// if any.
func (alloc *BootMemAllocator) excludedUpTo(frame mm.Frame) (mm.Frame, bool) {
	for i := 0; i < alloc.exclusionCount; i++ {
		if frame >= alloc.exclusions[i].startFrame && frame <= alloc.exclusions[i].endFrame {
			return alloc.exclusions[i].endFrame, true
		}
	}
	return mm.InvalidFrame, false
}

// AllocFrame scans the memory ranges reported by the firmware and
// reserves the next available free frame that is not excluded.
//
// AllocFrame returns ErrOutOfMemory when all reported ranges have been
// consumed.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	candidate := mm.Frame(0)
	if alloc.allocCount != 0 {
		candidate = alloc.lastAllocFrame + 1
	}

	for {
		// Select the range with the lowest base that still contains
		// frames at or above the candidate. Reported addresses may not
		// be page-aligned; round up to get the start frame and round
		// down to get the end frame.
		var (
			bestStart, bestEnd mm.Frame
			haveArea           bool
			pageSizeMinus1     = uint64(mm.PageSize - 1)
		)

		bootinfo.VisitMemRanges(func(r *bootinfo.MemoryRange) bool {
			if r.Length < uint64(mm.PageSize) {
				return true
			}

			startFrame := mm.Frame(((r.Base + pageSizeMinus1) &^ pageSizeMinus1) >> mm.PageShift)
			endFrame := mm.Frame(((r.Base+r.Length)&^pageSizeMinus1)>>mm.PageShift) - 1
			if endFrame < startFrame || endFrame < candidate {
				return true
			}

			if !haveArea || startFrame < bestStart {
				bestStart, bestEnd, haveArea = startFrame, endFrame, true
			}
			return true
		})

		if !haveArea {
			return mm.InvalidFrame, ErrOutOfMemory
		}

		if candidate < bestStart {
			candidate = bestStart
		}

		if lastExcluded, excluded := alloc.excludedUpTo(candidate); excluded {
			candidate = lastExcluded + 1
			continue
		}

		// An exclusion jump on a previous iteration may have pushed the
		// candidate past the end of the selected range.
		if candidate > bestEnd {
			continue
		}

		alloc.lastAllocFrame = candidate
		alloc.allocCount++
		return candidate, nil
	}
}

// PrintMemoryMap prints the system memory map as reported by the
// firmware together with the ranges withheld from allocation.
func (alloc *BootMemAllocator) PrintMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")

	var totalFree uint64
	bootinfo.VisitMemRanges(func(r *bootinfo.MemoryRange) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d\n", r.Base, r.Base+r.Length, r.Length)
		totalFree += r.Length
		return true
	})
	kfmt.Printf("[pmm] available memory: %dKb\n", totalFree/1024)

	for i := 0; i < alloc.exclusionCount; i++ {
		excl := alloc.exclusions[i]
		kfmt.Printf("[pmm] reserved: [0x%10x - 0x%10x]\n",
			uint64(excl.startFrame.Address()),
			uint64(excl.endFrame.Address()+mm.PageSize),
		)
	}
}
