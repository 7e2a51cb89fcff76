// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestSeqlockWriteProtocol(t *testing.T) {
	var word uint64
	lock := NewSeqlock(unsafe.Pointer(&word))

	lock.Write(func() {
		assert.EqualValues(t, 1, atomic.LoadUint64(&word)&1, "counter must be odd during the write")
	})
	assert.EqualValues(t, 2, atomic.LoadUint64(&word))

	lock.Write(func() {})
	assert.EqualValues(t, 4, atomic.LoadUint64(&word))
}
