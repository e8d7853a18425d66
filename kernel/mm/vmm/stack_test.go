package vmm

import (
	"testing"

	"github.com/ESALP/ESALP-1/kernel"
	"github.com/ESALP/ESALP-1/kernel/mm"
)

func TestStackAllocator(t *testing.T) {
	defer func(origMap func(mm.Page, PageTableEntryFlag, mm.FrameAllocator) (mm.Frame, *kernel.Error), origUnmap func(mm.Page, mm.FrameDeallocator) *kernel.Error) {
		mapFn = origMap
		unmapFn = origUnmap
	}(mapFn, unmapFn)

	var mappedPages []mm.Page
	mapFn = func(page mm.Page, flags PageTableEntryFlag, _ mm.FrameAllocator) (mm.Frame, *kernel.Error) {
		if exp := FlagRW | FlagNoExecute; flags != exp {
			t.Errorf("expected stack pages to be mapped with flags %x; got %x", exp, flags)
		}
		mappedPages = append(mappedPages, page)
		return mm.Frame(page), nil
	}
	unmapFn = func(page mm.Page, _ mm.FrameDeallocator) *kernel.Error {
		t.Errorf("unexpected unmap of page %x", page)
		return nil
	}

	var (
		alloc fakeFrameAllocator
		sa    = NewStackAllocator(mm.Page(100), mm.Page(109))
	)

	stack, err := sa.AllocStack(2, &alloc)
	if err != nil {
		t.Fatal(err)
	}

	// Page 100 stays unmapped as the guard; pages 101-102 back the
	// stack.
	if exp := []mm.Page{101, 102}; len(mappedPages) != 2 || mappedPages[0] != exp[0] || mappedPages[1] != exp[1] {
		t.Fatalf("expected pages %v to be mapped; got %v", exp, mappedPages)
	}

	if exp := mm.Page(101).Address(); stack.Bottom() != exp {
		t.Fatalf("expected stack bottom %x; got %x", exp, stack.Bottom())
	}
	if exp := mm.Page(103).Address(); stack.Top() != exp {
		t.Fatalf("expected stack top %x; got %x", exp, stack.Top())
	}

	// The next stack starts with its own guard right above the previous
	// top.
	mappedPages = nil
	stack2, err := sa.AllocStack(2, &alloc)
	if err != nil {
		t.Fatal(err)
	}

	if exp := mm.Page(104).Address(); stack2.Bottom() != exp {
		t.Fatalf("expected second stack bottom %x; got %x", exp, stack2.Bottom())
	}

	// Range [100, 109] has 4 pages left which cannot fit another 4-page
	// stack plus its guard.
	if _, err = sa.AllocStack(4, &alloc); err != errStackSpaceExhaust {
		t.Fatalf("expected errStackSpaceExhaust; got %v", err)
	}

	if _, err = sa.AllocStack(0, &alloc); err != errInvalidStackSize {
		t.Fatalf("expected errInvalidStackSize; got %v", err)
	}
}

func TestStackAllocatorRollback(t *testing.T) {
	defer func(origMap func(mm.Page, PageTableEntryFlag, mm.FrameAllocator) (mm.Frame, *kernel.Error), origUnmap func(mm.Page, mm.FrameDeallocator) *kernel.Error) {
		mapFn = origMap
		unmapFn = origUnmap
	}(mapFn, unmapFn)

	expErr := &kernel.Error{Module: "test", Message: "out of memory"}

	mapCallCount := 0
	mapFn = func(page mm.Page, _ PageTableEntryFlag, _ mm.FrameAllocator) (mm.Frame, *kernel.Error) {
		mapCallCount++
		if mapCallCount == 3 {
			return mm.InvalidFrame, expErr
		}
		return mm.Frame(page), nil
	}

	var unmappedPages []mm.Page
	unmapFn = func(page mm.Page, dealloc mm.FrameDeallocator) *kernel.Error {
		if dealloc == nil {
			t.Error("expected rollback to release the stack frames")
		}
		unmappedPages = append(unmappedPages, page)
		return nil
	}

	var (
		alloc fakeFrameAllocator
		sa    = NewStackAllocator(mm.Page(100), mm.Page(109))
	)

	if _, err := sa.AllocStack(4, &alloc); err != expErr {
		t.Fatalf("expected the mapping error to propagate; got %v", err)
	}

	if exp := []mm.Page{101, 102}; len(unmappedPages) != 2 || unmappedPages[0] != exp[0] || unmappedPages[1] != exp[1] {
		t.Fatalf("expected rollback to unmap pages %v; got %v", exp, unmappedPages)
	}

	// A failed allocation must not advance the allocator cursor.
	mapFn = func(page mm.Page, _ PageTableEntryFlag, _ mm.FrameAllocator) (mm.Frame, *kernel.Error) {
		return mm.Frame(page), nil
	}

	stack, err := sa.AllocStack(1, &alloc)
	if err != nil {
		t.Fatal(err)
	}
	if exp := mm.Page(101).Address(); stack.Bottom() != exp {
		t.Fatalf("expected stack bottom %x after retry; got %x", exp, stack.Bottom())
	}
}
