package kernel

import (
	"reflect"
	"unsafe"
)

// byteSlice overlays a []byte on top of an arbitrary memory region.
func byteSlice(addr, size uintptr) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  int(size),
		Cap:  int(size),
	}))
}

// Memset fills the size bytes starting at addr with value. Filling
// proceeds by doubling copies so a page-sized region needs only
// log2(size) copy calls instead of a byte loop.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	dst := byteSlice(addr, size)
	dst[0] = value
	for filled := uintptr(1); filled < size; filled *= 2 {
		copy(dst[filled:], dst[:filled])
	}
}
