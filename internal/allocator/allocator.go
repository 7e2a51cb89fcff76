// Copyright 2015 Aleksandr Demakin. All rights reserved.

package allocator

import (
	"runtime"
	"unsafe"
)

// ByteSliceFromUnsafePointer returns a slice of bytes with the given length.
// Memory pointed to by the unsafe.Pointer is used for the slice.
func ByteSliceFromUnsafePointer(memory unsafe.Pointer, length int) []byte {
	return unsafe.Slice((*byte)(memory), length)
}

// ByteSliceData returns a pointer to the data of the given byte slice.
func ByteSliceData(slice []byte) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(slice))
}

// AdvancePointer adds shift value to 'p' pointer.
func AdvancePointer(p unsafe.Pointer, shift uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) + shift)
}

// AlignUp rounds value up to a multiple of alignment.
// alignment must be a power of two.
func AlignUp(value, alignment uintptr) uintptr {
	return (value + alignment - 1) &^ (alignment - 1)
}

// IsPowerOfTwo reports whether value is a non-zero power of two.
func IsPowerOfTwo(value uintptr) bool {
	return value != 0 && value&(value-1) == 0
}

// Use ensures, that the object is alive at some point.
// It allows to work with raw pointers into mapped memory
// while the owning region is referenced only through them.
func Use(p unsafe.Pointer) {
	runtime.KeepAlive(p)
}
