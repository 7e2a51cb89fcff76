// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mmf

import (
	"runtime"
	"unsafe"

	"github.com/HFTrader/memglass/internal/allocator"
)

const (
	// MEM_READ_ONLY maps the object for reading only.
	MEM_READ_ONLY = iota
	// MEM_READWRITE maps the object for reading and writing.
	MEM_READWRITE
)

// Mappable is a named object, which can return a handle,
// that can be used as a file descriptor for mmap.
type Mappable interface {
	Fd() uintptr
	Name() string
}

// MemoryRegion is a mmapped area of a memory object.
// Warning. The internal object has a finalizer set,
// so the region will be unmapped during the gc.
// Thus, you should be careful getting internal data.
// For example, the following code may crash:
//	func f() []byte {
//		region := NewMemoryRegion(...)
//		return region.Data()
//	}
// region may be gc'ed while its data is used by the caller.
// To avoid this, use UseMemoryRegion() or keep the region alive.
type MemoryRegion struct {
	*memoryRegion
}

// NewMemoryRegion creates a new shared memory region.
//	object - an object to mmap.
//	mode - open mode. see MEM_* constants.
//	size - mapping size.
func NewMemoryRegion(object Mappable, mode int, size int) (*MemoryRegion, error) {
	impl, err := newMemoryRegion(object, mode, size)
	if err != nil {
		return nil, err
	}
	result := &MemoryRegion{impl}
	runtime.SetFinalizer(impl, func(region *memoryRegion) {
		region.Close()
	})
	return result, nil
}

// Close unmaps the region so that it can no longer be used.
func (region *MemoryRegion) Close() error {
	return region.memoryRegion.Close()
}

// Data returns region's mapped data.
func (region *MemoryRegion) Data() []byte {
	return region.memoryRegion.Data()
}

// Flush syncs mapped content with the file data.
func (region *MemoryRegion) Flush(async bool) error {
	return region.memoryRegion.Flush(async)
}

// Size returns mapping size.
func (region *MemoryRegion) Size() int {
	return region.memoryRegion.Size()
}

// UseMemoryRegion ensures, that the region is still alive at the moment of the call.
func UseMemoryRegion(region *MemoryRegion) {
	allocator.Use(unsafe.Pointer(region))
}
