// Package kmain contains the kernel entry point invoked by the boot stub
// once the CPU is in long mode and a minimal stack is available.
package kmain

import (
	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/hal/bootinfo"
	"github.com/ESALP/ESALP-1/kernel/kfmt"
	"github.com/ESALP/ESALP-1/kernel/mm"
	"github.com/ESALP/ESALP-1/kernel/mm/pmm"
	"github.com/ESALP/ESALP-1/kernel/mm/vmm"
)

// bootStackPages is the size of the first kernel stack carved out of the
// stack space once the memory manager is live.
const bootStackPages = 4

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// earlyAllocator hands out frames before paging is reconfigured.
	// Frames it allocates can never be freed; anything it serves before
	// the bitmap allocator takes over stays allocated for the kernel
	// lifetime.
	earlyAllocator pmm.BootMemAllocator

	// frameAllocator is the primary physical allocator for the kernel
	// lifetime.
	frameAllocator pmm.BitmapAllocator
)

// Kmain is the only Go symbol visible to the boot stub. The stub decodes
// the bootloader records into info and jumps here; Kmain brings up the
// memory manager and is not expected to return.
//
//go:noinline
func Kmain(info *bootinfo.Info) {
	bootinfo.Set(info)

	if vmManager, err := initMemoryManagement(info); err != nil {
		kfmt.Panic(err)
	} else if _, err = vmManager.AllocStack(bootStackPages); err != nil {
		kfmt.Panic(err)
	}

	kfmt.Panic(errKmainReturned)
}

// initMemoryManagement executes the boot protocol for the memory
// manager:
//
//  1. seed the boot allocator from the firmware memory map,
//  2. rebuild the page tables with exact section permissions and switch
//     to them,
//  3. drain the boot allocator into the bitmap allocator,
//  4. hand the bootstrap frame pool over to the bitmap allocator,
//  5. turn the old root table's alias into a stack guard page, and
//  6. construct the VMM on top of the established regions.
func initMemoryManagement(info *bootinfo.Info) (*vmm.VMM, *kernel.Error) {
	earlyAllocator.Init(vmm.KernelPageOffset)
	earlyAllocator.PrintMemoryMap()

	active, tmp, oldTable, err := vmm.Bootstrap(info, &earlyAllocator)
	if err != nil {
		return nil, err
	}

	if err = frameAllocator.Init(&earlyAllocator); err != nil {
		return nil, err
	}

	if err = tmp.Consume(&frameAllocator); err != nil {
		return nil, err
	}

	// The old root table sits inside the kernel image right below the
	// boot stack. Unmapping its higher half alias (without releasing
	// the frame) turns it into a guard page for that stack.
	guardPage := mm.PageFromAddress(oldTable.Frame().Address() + vmm.KernelPageOffset)
	if err = vmm.Unmap(guardPage, nil); err != nil && err != vmm.ErrNotMapped {
		return nil, err
	}

	stackStart, stackEnd := vmm.StackSpaceRange()
	vmManager := vmm.NewVMM(active, &frameAllocator, stackStart, stackEnd)

	for _, r := range vmm.EarlyRegions(info) {
		if err = vmManager.Reserve(r); err != nil {
			return nil, err
		}
	}

	total, free := frameAllocator.Stats()
	kfmt.Printf("[kmain] physical memory: %d/%d frames free\n", free, total)

	return vmManager, nil
}
