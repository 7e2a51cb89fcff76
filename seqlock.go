// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"sync/atomic"
	"unsafe"
)

// Seqlock is the producer-side write protocol for fields declared
// AtomicitySeqlock. The convention over the wire is a uint64 sequence
// word immediately preceding the guarded field, 8-byte aligned: the
// writer makes it odd, mutates the field, and makes it even again.
// Observers copy the field between two even, equal reads of the word.
//
// The zero word must live inside session memory; lay the type out as
//	seq(u64) value(...)
// and declare the value field at seq's offset + 8.
type Seqlock struct {
	seq *uint64
}

// NewSeqlock wraps the sequence word at ptr. The word must be 8-byte
// aligned and initialised to an even value (fresh regions are zeroed).
func NewSeqlock(ptr unsafe.Pointer) *Seqlock {
	return &Seqlock{seq: (*uint64)(ptr)}
}

// Write runs fn with the sequence word odd, so a concurrent observer
// discards any copy it took while fn was mutating the field.
func (s *Seqlock) Write(fn func()) {
	atomic.AddUint64(s.seq, 1)
	fn()
	atomic.AddUint64(s.seq, 1)
}
