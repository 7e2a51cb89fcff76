// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"bytes"
	"unsafe"
)

// Wire layout of a session. All structs below are overlaid directly on
// mapped shared memory: little-endian, natural alignment, fixed sizes.
// Fields marked atomic are plain words accessed via sync/atomic with
// the release-store/acquire-load discipline; they must stay 4- or
// 8-byte aligned within their struct.

const (
	headerMagic   uint64 = 0x4d474c535f484452 // "MGLS_HDR"
	regionMagic   uint64 = 0x4d474c535f524547 // "MGLS_REG"
	overflowMagic uint64 = 0x4d474c535f4f5646 // "MGLS_OVF"

	layoutVersion uint32 = 1

	inlineNameLen = 64
	shmNameLen    = 256
)

// ObjectState is the lifecycle state stored in ObjectEntry.State.
type ObjectState uint32

const (
	// ObjectAlive marks a registered, readable object.
	ObjectAlive ObjectState = 1
	// ObjectDestroyed marks an entry kept for historical inspection only.
	ObjectDestroyed ObjectState = 2
)

// Atomicity declares how a field must be read to avoid tearing.
type Atomicity uint8

const (
	// AtomicityNone fields are read with a plain aligned load.
	AtomicityNone Atomicity = 0
	// AtomicityAtomic fields are read with a single acquire load.
	AtomicityAtomic Atomicity = 1
	// AtomicitySeqlock fields are guarded by an adjacent sequence word.
	AtomicitySeqlock Atomicity = 2
	// AtomicityLocked fields cannot be read out-of-process.
	AtomicityLocked Atomicity = 3
)

func (a Atomicity) String() string {
	switch a {
	case AtomicityNone:
		return "none"
	case AtomicityAtomic:
		return "atomic"
	case AtomicitySeqlock:
		return "seqlock"
	case AtomicityLocked:
		return "locked"
	}
	return "unknown"
}

// poolDescriptor describes one fixed metadata pool: a byte offset from
// the start of the enclosing region, a slot capacity, and the number
// of published slots. Count is atomic; slots below Count are fully
// initialised and immutable, except ObjectEntry.State and Generation.
type poolDescriptor struct {
	Offset   uint32
	Capacity uint32
	Count    uint32 // atomic
}

// telemetryHeader sits at offset 0 of the header region.
type telemetryHeader struct {
	Magic                 uint64
	Version               uint32
	_                     uint32
	PID                   uint64
	Sequence              uint64 // atomic
	FirstRegionID         uint64 // atomic
	FirstOverflowRegionID uint64 // atomic
	ObjectDir             poolDescriptor
	TypeRegistry          poolDescriptor
	FieldEntries          poolDescriptor
	_                     uint32
}

// regionDescriptor sits at offset 0 of every data region.
type regionDescriptor struct {
	Magic        uint64
	RegionID     uint64
	Size         uint64
	Used         uint64 // atomic
	NextRegionID uint64 // atomic
	ShmName      [shmNameLen]byte
}

// metadataOverflowDescriptor sits at offset 0 of every overflow region.
type metadataOverflowDescriptor struct {
	Magic        uint64
	RegionID     uint64
	NextRegionID uint64 // atomic
	ShmName      [shmNameLen]byte
	ObjectPool   poolDescriptor
	TypePool     poolDescriptor
	FieldPool    poolDescriptor
	_            uint32
}

// ObjectEntry describes one registered object in an object directory.
type ObjectEntry struct {
	State      uint32 // atomic, holds an ObjectState
	TypeID     uint32
	RegionID   uint64
	Offset     uint64
	Generation uint32
	Label      [inlineNameLen]byte
	_          [4]byte
}

// TypeEntry describes one registered composite type. FieldOffset is a
// virtual index into the logical concatenation of the header field
// pool and the overflow field pools in link order.
type TypeEntry struct {
	TypeID      uint32
	Size        uint32
	FieldOffset uint32
	FieldCount  uint32
	Name        [inlineNameLen]byte
}

// FieldEntry describes one field of a composite type. Nesting is
// encoded by the producer as dotted names ("quote.bid").
type FieldEntry struct {
	Name      [inlineNameLen]byte
	TypeID    uint32
	Offset    uint32
	Size      uint32
	Atomicity Atomicity
	_         [3]byte
}

const (
	telemetryHeaderSize    = 88
	regionDescriptorSize   = 296
	overflowDescriptorSize = 320
	objectEntrySize        = 96
	typeEntrySize          = 80
	fieldEntrySize         = 80
)

// compile-time layout checks
var (
	_ = [1]struct{}{}[telemetryHeaderSize-unsafe.Sizeof(telemetryHeader{})]
	_ = [1]struct{}{}[regionDescriptorSize-unsafe.Sizeof(regionDescriptor{})]
	_ = [1]struct{}{}[overflowDescriptorSize-unsafe.Sizeof(metadataOverflowDescriptor{})]
	_ = [1]struct{}{}[objectEntrySize-unsafe.Sizeof(ObjectEntry{})]
	_ = [1]struct{}{}[typeEntrySize-unsafe.Sizeof(TypeEntry{})]
	_ = [1]struct{}{}[fieldEntrySize-unsafe.Sizeof(FieldEntry{})]
)

func setInlineString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func inlineString(src []byte) string {
	if idx := bytes.IndexByte(src, 0); idx >= 0 {
		src = src[:idx]
	}
	return string(src)
}

// LabelString returns the entry's label as a Go string.
func (e *ObjectEntry) LabelString() string {
	return inlineString(e.Label[:])
}

// NameString returns the type's name as a Go string.
func (e *TypeEntry) NameString() string {
	return inlineString(e.Name[:])
}

// NameString returns the field's name as a Go string.
func (e *FieldEntry) NameString() string {
	return inlineString(e.Name[:])
}

func (d *regionDescriptor) setShmName(name string) {
	setInlineString(d.ShmName[:], name)
}

func (d *regionDescriptor) shmName() string {
	return inlineString(d.ShmName[:])
}

func (d *metadataOverflowDescriptor) setShmName(name string) {
	setInlineString(d.ShmName[:], name)
}

func (d *metadataOverflowDescriptor) shmName() string {
	return inlineString(d.ShmName[:])
}
