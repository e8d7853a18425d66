// Package bootinfo exposes the memory-related records handed to the kernel
// by the bootloader. The wire-format parsing happens inside the boot stub
// before the memory manager is brought up; this package only retains the
// decoded records and provides iteration primitives for them.
package bootinfo

// MemoryRange describes a contiguous physical memory range reported as free
// by the firmware. Range addresses are not necessarily page-aligned.
type MemoryRange struct {
	// The physical address where this range begins.
	Base uint64

	// The length of this range in bytes.
	Length uint64
}

// SectionFlag describes the permission flags of a loaded kernel section as
// derived from the kernel's object format.
type SectionFlag uint8

const (
	// SectionWritable is set for sections that should be mapped RW.
	SectionWritable SectionFlag = 1 << iota

	// SectionExecutable is set for sections containing executable code.
	SectionExecutable
)

// Section describes a loaded kernel image section.
type Section struct {
	// The section name.
	Name string

	// The virtual address where the section is linked.
	VirtAddress uintptr

	// The section size in bytes.
	Size uint64

	// The section permission flags.
	Flags SectionFlag
}

// Module describes a file loaded by the bootloader alongside the kernel. The
// memory manager treats its contents as opaque; the physical range it
// occupies must not be handed out as free frames.
type Module struct {
	// The module name (command line).
	Name string

	// The physical range [Start, End) occupied by the module contents.
	Start uint64
	End   uint64
}

// Info groups the boot-time records consumed by the memory manager.
type Info struct {
	// The free physical memory ranges reported by the firmware.
	MemoryRanges []MemoryRange

	// The loaded kernel image sections.
	Sections []Section

	// The loaded boot modules.
	Modules []Module

	// The physical range [InfoStart, InfoEnd) occupied by the boot
	// information structure itself.
	InfoStart uint64
	InfoEnd   uint64
}

// MemRangeVisitor is invoked once for each free memory range. Returning
// false aborts the iteration.
type MemRangeVisitor func(*MemoryRange) bool

// SectionVisitor is invoked once for each loaded kernel section. Returning
// false aborts the iteration.
type SectionVisitor func(*Section) bool

// ModuleVisitor is invoked once for each loaded boot module. Returning false
// aborts the iteration.
type ModuleVisitor func(*Module) bool

// info points to the records registered by the boot stub via Set.
var info *Info

// Set registers the decoded boot records for use by the memory manager. It
// must be called by the boot stub before any allocator is initialized.
func Set(i *Info) {
	info = i
}

// Get returns the registered boot records.
func Get() *Info {
	return info
}

// VisitMemRanges invokes visitor for each free memory range in the order
// reported by the firmware.
func VisitMemRanges(visitor MemRangeVisitor) {
	if info == nil {
		return
	}

	for i := range info.MemoryRanges {
		if !visitor(&info.MemoryRanges[i]) {
			return
		}
	}
}

// VisitSections invokes visitor for each loaded kernel section.
func VisitSections(visitor SectionVisitor) {
	if info == nil {
		return
	}

	for i := range info.Sections {
		if !visitor(&info.Sections[i]) {
			return
		}
	}
}

// VisitModules invokes visitor for each loaded boot module.
func VisitModules(visitor ModuleVisitor) {
	if info == nil {
		return
	}

	for i := range info.Modules {
		if !visitor(&info.Modules[i]) {
			return
		}
	}
}

// KernelPhysRange returns the physical range [start, end) occupied by the
// loaded kernel image. Sections are linked at pageOffset above their load
// address; sections below pageOffset (e.g. the bootstrap stub) are already
// physical and used verbatim.
func KernelPhysRange(pageOffset uintptr) (start, end uint64) {
	start = ^uint64(0)

	VisitSections(func(sec *Section) bool {
		addr := uint64(sec.VirtAddress)
		if sec.VirtAddress >= pageOffset {
			addr -= uint64(pageOffset)
		}

		if addr < start {
			start = addr
		}
		if secEnd := addr + sec.Size; secEnd > end {
			end = secEnd
		}
		return true
	})

	if start == ^uint64(0) {
		start = 0
	}
	return start, end
}
