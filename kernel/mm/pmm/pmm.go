// Package pmm implements physical frame allocation for the kernel. Two
// allocators cover the kernel lifetime: a rudimentary boot allocator that
// linearly carves frames out of the firmware memory map, and a bitmap
// allocator that takes over once paging is set up and supports freeing.
package pmm

import "github.com/ESALP/ESALP-1/kernel"

// ErrOutOfMemory is returned by the frame allocators when no free
// physical frame is available.
var ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}
