package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). This constant is used when we
	// need to convert a physical address to a page number (shift right by
	// PageShift) and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// canonicalSignBit is the bit number that the upper bits of a
	// canonical virtual address must replicate.
	canonicalSignBit = 47
)

// IsCanonical returns true if virtAddr is a canonical amd64 virtual address:
// bits 48-63 must be copies of bit 47. The MMU rejects accesses through
// non-canonical addresses, so one reaching the memory manager indicates
// corrupted input rather than a recoverable condition.
func IsCanonical(virtAddr uintptr) bool {
	upper := virtAddr >> canonicalSignBit
	return upper == 0 || upper == (1<<(64-canonicalSignBit))-1
}
