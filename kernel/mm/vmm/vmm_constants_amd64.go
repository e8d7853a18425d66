package vmm

import "math"

const (
	// pageLevels indicates the number of page table levels supported by
	// the amd64 architecture.
	pageLevels = 4

	// entriesPerTable is the number of entries in a table at any level.
	entriesPerTable = 512

	// selfMapIndex is the entry in the top-most table that is recursively
	// mapped to the table itself. Every table in the hierarchy becomes
	// addressable through a virtual address formula derived from this
	// slot, without the need for a separate physical memory window.
	selfMapIndex = uintptr(entriesPerTable - 1)

	// ptePhysPageMask is a mask that allows us to extract the physical
	// memory address pointed to by a page table entry. For this
	// particular architecture, bits 12-51 contain the physical address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// tempMappingAddr is a reserved virtual page address used for
	// temporary physical page mappings (e.g. when bootstrapping inactive
	// page tables). For amd64 this address uses the following table
	// indices: 510, 511, 511, 511.
	tempMappingAddr = uintptr(0xffffff7ffffff000)

	// KernelPageOffset is the virtual address where the kernel image is
	// linked. Subtracting it from a kernel virtual address yields the
	// physical address the kernel was loaded at. The kernel occupies the
	// first slot of the higher half, keeping the last slot free for the
	// recursive mapping of the active table.
	KernelPageOffset = uintptr(0xffff800000000000)
)

var (
	// pdtVirtualAddr is a special virtual address that exploits the
	// recursive mapping of the self-map slot to access the top-most
	// (P4) table via the MMU's own translation mechanism. With all page
	// level bits set to 1 the MMU keeps following the self-map slot for
	// all page levels, landing back on the P4.
	pdtVirtualAddr = uintptr(math.MaxUint64 &^ ((1 << 12) - 1))

	// pageLevelBits defines the number of virtual address bits that
	// correspond to each page level. For amd64 each level uses 9 bits
	// which amounts to 512 entries per table.
	pageLevelBits = [pageLevels]uint8{
		9,
		9,
		9,
		9,
	}

	// pageLevelShifts defines the shift required to extract each page
	// table index from a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this
	// page. If not set only kernel code can access it.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage marks a level 3 entry as a 1GiB page or a level 2
	// entry as a 2MiB page, terminating the walk at that level.
	FlagHugePage

	// FlagGlobal prevents the TLB from evicting the cached translation
	// for this page when a new page table is loaded into CR3.
	FlagGlobal

	// FlagNoExecute marks the contents of a page as non-executable.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)
