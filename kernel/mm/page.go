package mm

import "github.com/ESALP/ESALP-1/kernel"

// ErrInvalidAddress is the panic value used when a non-canonical virtual
// address reaches the memory manager. No caller should be able to construct
// one, so this is treated as fatal corruption rather than a recoverable
// error.
var ErrInvalidAddress = &kernel.Error{Module: "mm", Message: "virtual address is not canonical"}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address where this Page begins.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// P4Index returns the index of the level 4 (top-most) table entry through
// which this page is reached.
func (p Page) P4Index() uintptr {
	return uintptr(p>>27) & 0x1ff
}

// P3Index returns the index of the level 3 table entry through which this
// page is reached.
func (p Page) P3Index() uintptr {
	return uintptr(p>>18) & 0x1ff
}

// P2Index returns the index of the level 2 table entry through which this
// page is reached.
func (p Page) P2Index() uintptr {
	return uintptr(p>>9) & 0x1ff
}

// P1Index returns the index of the level 1 table entry that maps this page.
func (p Page) P1Index() uintptr {
	return uintptr(p) & 0x1ff
}

// PageFromAddress returns the Page that contains the given virtual address.
// Addresses that are not page-aligned are rounded down to the page that
// contains them. PageFromAddress panics with ErrInvalidAddress if virtAddr
// is not canonical.
func PageFromAddress(virtAddr uintptr) Page {
	if !IsCanonical(virtAddr) {
		panic(ErrInvalidAddress)
	}

	return Page(virtAddr >> PageShift)
}
