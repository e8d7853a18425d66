package vmm

import (
	"runtime"
	"testing"

	"github.com/ESALP/ESALP-1/kernel/hal/bootinfo"
	"github.com/ESALP/ESALP-1/kernel/mm"
)

func bootstrapTestInfo() *bootinfo.Info {
	return &bootinfo.Info{
		MemoryRanges: []bootinfo.MemoryRange{
			{Base: 0x100000, Length: 0x7f00000},
		},
		Sections: []bootinfo.Section{
			{Name: ".text", VirtAddress: KernelPageOffset + 0x100000, Size: 0x4000, Flags: bootinfo.SectionExecutable},
			{Name: ".rodata", VirtAddress: KernelPageOffset + 0x104000, Size: 0x1000},
			{Name: ".data", VirtAddress: KernelPageOffset + 0x105000, Size: 0x3000, Flags: bootinfo.SectionWritable},
		},
		Modules: []bootinfo.Module{
			{Name: "initrd", Start: 0x200000, End: 0x201000},
		},
		InfoStart: 0x9500,
		InfoEnd:   0x9700,
	}
}

func TestBootstrapAmd64(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("test requires amd64 runtime; skipping")
	}

	mmu := newFakeMMU(t)
	defer mmu.install()()

	var (
		alloc    fakeFrameAllocator
		info     = bootstrapTestInfo()
		bootRoot = mmu.cr3
	)

	active, tmp, oldTable, err := Bootstrap(info, &alloc)
	if err != nil {
		t.Fatal(err)
	}

	if oldTable.Frame() != bootRoot {
		t.Fatalf("expected the old root to be the boot table %x; got %x", bootRoot, oldTable.Frame())
	}
	if active.Frame() == bootRoot {
		t.Fatal("expected the active table to be a fresh hierarchy")
	}
	if mmu.cr3 != active.Frame() {
		t.Fatalf("expected CR3 to point at the new root %x; got %x", active.Frame(), mmu.cr3)
	}

	newRoot := active.Frame()

	// Kernel sections alias the physical memory the image was loaded
	// at.
	specs := []struct {
		descr    string
		virtAddr uintptr
		expFrame mm.Frame
	}{
		{".text start", KernelPageOffset + 0x100000, mm.Frame(0x100)},
		{".text end", KernelPageOffset + 0x103000, mm.Frame(0x103)},
		{".data", KernelPageOffset + 0x105000, mm.Frame(0x105)},
		{"bootinfo block", KernelPageOffset + 0x9000, mm.Frame(0x9)},
		{"initrd", KernelPageOffset + 0x200000, mm.Frame(0x200)},
		{"console framebuffer", consoleFBAddr, mm.Frame(0xb8)},
	}

	for specIndex, spec := range specs {
		frame, ok := mmu.translateFrom(newRoot, spec.virtAddr)
		if !ok {
			t.Errorf("[spec %d] %s: address %x is not mapped", specIndex, spec.descr, spec.virtAddr)
			continue
		}
		if frame != spec.expFrame {
			t.Errorf("[spec %d] %s: expected frame %x; got %x", specIndex, spec.descr, spec.expFrame, frame)
		}
	}

	// The heap is backed by freshly allocated frames rather than an
	// alias of existing memory.
	heapFrame, ok := mmu.translateFrom(newRoot, kernelHeapStart)
	if !ok {
		t.Fatal("expected the heap to be mapped")
	}
	if heapFrame == mm.FrameFromAddress(kernelHeapStart-KernelPageOffset) {
		t.Fatal("expected the heap to be backed by fresh frames, not a physical alias")
	}

	// None of the new mappings may have leaked into the boot hierarchy.
	if _, ok = mmu.translateFrom(bootRoot, KernelPageOffset+0x100000); ok {
		t.Fatal("expected the boot table to be left untouched")
	}

	// The temporary page stays usable for the caller until its pool is
	// consumed.
	if tmp == nil {
		t.Fatal("expected Bootstrap to hand back the temporary page")
	}
}

func TestEarlyRegionsCarveOverlaps(t *testing.T) {
	info := bootstrapTestInfo()

	// Place the boot information block inside .data and make the initrd
	// straddle the section's upper boundary. Both situations are common
	// with real boot loaders and must not produce overlapping regions.
	info.InfoStart = 0x105200
	info.InfoEnd = 0x105400
	info.Modules = []bootinfo.Module{
		{Name: "initrd", Start: 0x107000, End: 0x109000},
	}

	regions := EarlyRegions(info)

	var list regionList
	for _, r := range regions {
		if err := list.insert(r); err != nil {
			t.Fatalf("expected early region %q [%x, %x) to insert cleanly; got %v", r.Name, r.Start, r.End, err)
		}
	}

	// The info block lies entirely inside .data so no separate region
	// survives for it, but its address range stays covered.
	for _, r := range regions {
		if r.Name == "bootinfo" {
			t.Fatalf("expected the boot information region to be carved away; got [%x, %x)", r.Start, r.End)
		}
	}
	if r, found := list.regionAt(KernelPageOffset + 0x105200); !found || r.Name != ".data" {
		t.Fatalf("expected the boot information block to be covered by .data; got %+v (found: %t)", r, found)
	}

	// Only the part of the initrd outside .data gets its own region.
	r, found := list.regionAt(KernelPageOffset + 0x108000)
	if !found || r.Name != "initrd" {
		t.Fatalf("expected an initrd region above .data; got %+v (found: %t)", r, found)
	}
	if exp := KernelPageOffset + 0x108000; r.Start != exp {
		t.Errorf("expected initrd region to start at %x; got %x", exp, r.Start)
	}
	if exp := KernelPageOffset + 0x109000; r.End != exp {
		t.Errorf("expected initrd region to end at %x; got %x", exp, r.End)
	}
}
