// Copyright 2015 Aleksandr Demakin. All rights reserved.

package allocator

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.EqualValues(t, 0, AlignUp(0, 8))
	assert.EqualValues(t, 8, AlignUp(1, 8))
	assert.EqualValues(t, 8, AlignUp(8, 8))
	assert.EqualValues(t, 16, AlignUp(9, 8))
	assert.EqualValues(t, 4096, AlignUp(1, 4096))
	assert.EqualValues(t, 7, AlignUp(7, 1))
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.False(t, IsPowerOfTwo(0))
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(2))
	assert.False(t, IsPowerOfTwo(3))
	assert.True(t, IsPowerOfTwo(4096))
	assert.False(t, IsPowerOfTwo(4097))
}

func TestByteSliceCasts(t *testing.T) {
	backing := [16]byte{0: 0xaa, 15: 0xbb}
	slice := ByteSliceFromUnsafePointer(unsafe.Pointer(&backing[0]), len(backing))
	assert.Len(t, slice, 16)
	assert.EqualValues(t, 0xaa, slice[0])
	assert.EqualValues(t, 0xbb, slice[15])

	assert.Equal(t, unsafe.Pointer(&backing[0]), ByteSliceData(slice))
}

func TestAdvancePointer(t *testing.T) {
	backing := [8]byte{3: 0x7f}
	p := AdvancePointer(unsafe.Pointer(&backing[0]), 3)
	assert.EqualValues(t, 0x7f, *(*byte)(p))
}
