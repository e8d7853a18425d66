package vmm

import "github.com/ESALP/ESALP-1/kernel"

var (
	// ErrRegionConflict is returned when inserting a region that overlaps
	// an established region of the virtual address space.
	ErrRegionConflict = &kernel.Error{Module: "vmm", Message: "region overlaps an existing region"}

	errEmptyRegion = &kernel.Error{Module: "vmm", Message: "region end must be greater than its start"}
)

// Protection describes the access rights of a virtual memory region.
type Protection uint8

// The supported region protection bits. A region with none of them set
// is readable kernel memory that cannot be written or executed.
const (
	ProtWrite Protection = 1 << iota
	ProtExec
	ProtUser
)

// Region describes a named, page-aligned chunk [Start, End) of the
// virtual address space together with its protection bits.
type Region struct {
	Name  string
	Start uintptr
	End   uintptr
	Prot  Protection

	// owned indicates that the physical frames backing this region were
	// allocated by the region manager and must be released when the
	// region is unmapped.
	owned bool
}

// NewRegion constructs a region covering [start, end).
func NewRegion(name string, start, end uintptr, prot Protection) Region {
	return Region{Name: name, Start: start, End: end, Prot: prot}
}

// contains returns true if addr falls within the region bounds.
func (r Region) contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End
}

// entryFlags converts the region protection bits into the architectural
// page table entry flags used for its mappings. Kernel regions are
// marked global so that their translations survive page table switches.
func (r Region) entryFlags() PageTableEntryFlag {
	var flags PageTableEntryFlag

	if r.Prot&ProtWrite != 0 {
		flags |= FlagRW
	}
	if r.Prot&ProtExec == 0 {
		flags |= FlagNoExecute
	}
	if r.Prot&ProtUser != 0 {
		flags |= FlagUserAccessible
	} else {
		flags |= FlagGlobal
	}

	return flags
}

// subtractRegions returns the parts of r that do not intersect any region
// in taken. Each returned piece keeps r's name and protection bits.
func subtractRegions(r Region, taken []Region) []Region {
	pending := []Region{r}

	for _, t := range taken {
		var next []Region

		for _, p := range pending {
			if t.End <= p.Start || t.Start >= p.End {
				next = append(next, p)
				continue
			}

			if t.Start > p.Start {
				left := p
				left.End = t.Start
				next = append(next, left)
			}
			if t.End < p.End {
				right := p
				right.Start = t.End
				next = append(next, right)
			}
		}

		pending = next
	}

	return pending
}

// regionList maintains the established regions of an address space as an
// ordered, non-overlapping list.
type regionList struct {
	regions []Region
}

// insert adds a region to the list keeping it ordered by start address.
// It returns ErrRegionConflict if the region overlaps any established
// region, in which case the list is left unchanged.
func (l *regionList) insert(r Region) *kernel.Error {
	if r.End <= r.Start {
		return errEmptyRegion
	}

	for i, existing := range l.regions {
		if r.Start >= existing.End {
			continue
		}

		if r.End <= existing.Start {
			l.regions = append(l.regions, Region{})
			copy(l.regions[i+1:], l.regions[i:])
			l.regions[i] = r
			return nil
		}

		return ErrRegionConflict
	}

	l.regions = append(l.regions, r)
	return nil
}

// regionAt returns the region containing addr.
func (l *regionList) regionAt(addr uintptr) (Region, bool) {
	for _, r := range l.regions {
		if r.contains(addr) {
			return r, true
		}
	}

	return Region{}, false
}

// remove detaches and returns the region containing addr.
func (l *regionList) remove(addr uintptr) (Region, bool) {
	for i, r := range l.regions {
		if r.contains(addr) {
			l.regions = append(l.regions[:i], l.regions[i+1:]...)
			return r, true
		}
	}

	return Region{}, false
}
