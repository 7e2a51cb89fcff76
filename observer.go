// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/HFTrader/memglass/internal/allocator"
	"github.com/HFTrader/memglass/internal/helper"
	"github.com/HFTrader/memglass/mmf"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const maxRefreshAttempts = 8

// ObservedField is a decoded FieldEntry.
type ObservedField struct {
	Name      string
	TypeID    uint32
	Offset    uint32
	Size      uint32
	Atomicity Atomicity
}

// ObservedType is a decoded TypeEntry with its resolved field list.
type ObservedType struct {
	TypeID uint32
	Name   string
	Size   uint32
	Fields []ObservedField
}

// ObservedObject is a decoded alive ObjectEntry.
type ObservedObject struct {
	Label      string
	TypeID     uint32
	TypeName   string
	RegionID   uint64
	Offset     uint64
	Generation uint32
}

type observedRegion struct {
	mapping *mmf.MemoryRegion
	desc    *regionDescriptor
}

type observedOverflow struct {
	mapping *mmf.MemoryRegion
	desc    *metadataOverflowDescriptor
}

// Observer attaches to a session from another process and reads its
// metadata and object values without any producer coordination. An
// Observer must not be shared between goroutines without external
// synchronisation.
type Observer struct {
	session      string
	headerRegion *mmf.MemoryRegion
	header       *telemetryHeader

	dataRegions  map[uint64]*observedRegion
	overflowByID map[uint64]*observedOverflow
	overflow     []*observedOverflow // link order

	lastSequence uint64
	types        []ObservedType
	typeByID     map[uint32]*ObservedType
	objects      []ObservedObject
}

// NewObserver prepares an observer for the given session name.
// Nothing is opened until Connect.
func NewObserver(session string) (*Observer, error) {
	if err := checkSessionName(session); err != nil {
		return nil, err
	}
	return &Observer{
		session:      session,
		dataRegions:  make(map[uint64]*observedRegion),
		overflowByID: make(map[uint64]*observedOverflow),
	}, nil
}

// Connect opens the session header, validates it, maps both region
// chains and takes the initial snapshot.
func (o *Observer) Connect() error {
	if o.headerRegion != nil {
		return errors.New("observer is already connected")
	}
	headerRegion, err := helper.OpenRegion(headerName(o.session), true)
	if err != nil {
		return osError(errors.Wrap(err, "failed to open session header"), ErrNameExists, ErrNotFound)
	}
	header := (*telemetryHeader)(allocator.ByteSliceData(headerRegion.Data()))
	if header.Magic != headerMagic || header.Version != layoutVersion {
		err := errors.WithMessagef(ErrVersionMismatch,
			"header magic %#x version %d", header.Magic, header.Version)
		headerRegion.Close()
		return err
	}
	o.headerRegion = headerRegion
	o.header = header
	return o.Refresh()
}

// Disconnect closes every mapping. The producer's session is untouched.
func (o *Observer) Disconnect() error {
	var result error
	for _, region := range o.dataRegions {
		result = multierr.Append(result, region.mapping.Close())
	}
	for _, region := range o.overflowByID {
		result = multierr.Append(result, region.mapping.Close())
	}
	o.dataRegions = make(map[uint64]*observedRegion)
	o.overflowByID = make(map[uint64]*observedOverflow)
	o.overflow = nil
	if o.headerRegion != nil {
		result = multierr.Append(result, o.headerRegion.Close())
		o.headerRegion = nil
		o.header = nil
	}
	o.types, o.typeByID, o.objects = nil, nil, nil
	return result
}

// ProducerPID returns the pid recorded by the producer at startup.
func (o *Observer) ProducerPID() int {
	return int(o.header.PID)
}

// Sequence returns the sequence of the last consistent snapshot.
func (o *Observer) Sequence() uint64 {
	return o.lastSequence
}

// Types returns the composite types of the last snapshot.
func (o *Observer) Types() []ObservedType {
	return o.types
}

// Objects returns the alive objects of the last snapshot, across the
// header directory and every overflow region.
func (o *Observer) Objects() []ObservedObject {
	return o.objects
}

// Refresh re-walks the region chains and re-materialises types and
// objects. The snapshot is retried while the producer is mutating
// structure; after maxRefreshAttempts unstable reads it fails with
// ErrSnapshotUnstable.
func (o *Observer) Refresh() error {
	if o.header == nil {
		return errors.New("observer is not connected")
	}
	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		s0 := atomic.LoadUint64(&o.header.Sequence)
		if err := o.mapChains(); err != nil {
			return err
		}
		types, typeByID, ok := o.snapshotTypes()
		if !ok {
			continue
		}
		objects := o.snapshotObjects(typeByID)
		s1 := atomic.LoadUint64(&o.header.Sequence)
		if s0 != s1 {
			continue
		}
		o.types, o.typeByID, o.objects = types, typeByID, objects
		o.lastSequence = s1
		return nil
	}
	return ErrSnapshotUnstable
}

// mapChains follows both chains, opening any region not mapped yet by
// its canonical name and verifying the descriptor it carries.
func (o *Observer) mapChains() error {
	id := atomic.LoadUint64(&o.header.FirstRegionID)
	for id != 0 {
		region, ok := o.dataRegions[id]
		if !ok {
			name := regionName(o.session, id)
			mapping, err := helper.OpenRegion(name, true)
			if err != nil {
				return osError(errors.Wrapf(err, "failed to open data region %d", id), ErrNameExists, ErrNotFound)
			}
			desc := (*regionDescriptor)(allocator.ByteSliceData(mapping.Data()))
			if desc.Magic != regionMagic || desc.RegionID != id || desc.shmName() != name {
				mapping.Close()
				return errors.WithMessagef(ErrVersionMismatch, "data region %d has a foreign descriptor", id)
			}
			region = &observedRegion{mapping: mapping, desc: desc}
			o.dataRegions[id] = region
		}
		id = atomic.LoadUint64(&region.desc.NextRegionID)
	}

	o.overflow = o.overflow[:0]
	id = atomic.LoadUint64(&o.header.FirstOverflowRegionID)
	for id != 0 {
		region, ok := o.overflowByID[id]
		if !ok {
			name := overflowName(o.session, id)
			mapping, err := helper.OpenRegion(name, true)
			if err != nil {
				return osError(errors.Wrapf(err, "failed to open overflow region %d", id), ErrNameExists, ErrNotFound)
			}
			desc := (*metadataOverflowDescriptor)(allocator.ByteSliceData(mapping.Data()))
			if desc.Magic != overflowMagic || desc.RegionID != id || desc.shmName() != name {
				mapping.Close()
				return errors.WithMessagef(ErrVersionMismatch, "overflow region %d has a foreign descriptor", id)
			}
			region = &observedOverflow{mapping: mapping, desc: desc}
			o.overflowByID[id] = region
		}
		o.overflow = append(o.overflow, region)
		id = atomic.LoadUint64(&region.desc.NextRegionID)
	}
	return nil
}

// fieldPool is one stretch of the virtual field entry space.
type fieldPool struct {
	base  unsafe.Pointer
	count uint32
}

func (o *Observer) fieldPools() []fieldPool {
	pools := make([]fieldPool, 0, 1+len(o.overflow))
	headerBase := allocator.ByteSliceData(o.headerRegion.Data())
	pools = append(pools, fieldPool{
		base:  allocator.AdvancePointer(headerBase, uintptr(o.header.FieldEntries.Offset)),
		count: atomic.LoadUint32(&o.header.FieldEntries.Count),
	})
	for _, region := range o.overflow {
		pools = append(pools, fieldPool{
			base:  allocator.AdvancePointer(allocator.ByteSliceData(region.mapping.Data()), uintptr(region.desc.FieldPool.Offset)),
			count: atomic.LoadUint32(&region.desc.FieldPool.Count),
		})
	}
	return pools
}

func resolveFieldEntry(pools []fieldPool, virtual uint32) *FieldEntry {
	for _, pool := range pools {
		if virtual < pool.count {
			return (*FieldEntry)(allocator.AdvancePointer(pool.base, uintptr(virtual)*fieldEntrySize))
		}
		virtual -= pool.count
	}
	return nil
}

func (o *Observer) snapshotTypes() ([]ObservedType, map[uint32]*ObservedType, bool) {
	pools := o.fieldPools()
	var types []ObservedType

	decode := func(entry *TypeEntry) bool {
		observed := ObservedType{
			TypeID: entry.TypeID,
			Name:   entry.NameString(),
			Size:   entry.Size,
			Fields: make([]ObservedField, 0, entry.FieldCount),
		}
		for i := uint32(0); i < entry.FieldCount; i++ {
			field := resolveFieldEntry(pools, entry.FieldOffset+i)
			if field == nil {
				// the producer is mid-publication; retry the snapshot
				return false
			}
			observed.Fields = append(observed.Fields, ObservedField{
				Name:      field.NameString(),
				TypeID:    field.TypeID,
				Offset:    field.Offset,
				Size:      field.Size,
				Atomicity: field.Atomicity,
			})
		}
		types = append(types, observed)
		return true
	}

	headerBase := allocator.ByteSliceData(o.headerRegion.Data())
	typeBase := allocator.AdvancePointer(headerBase, uintptr(o.header.TypeRegistry.Offset))
	count := atomic.LoadUint32(&o.header.TypeRegistry.Count)
	for i := uint32(0); i < count; i++ {
		entry := (*TypeEntry)(allocator.AdvancePointer(typeBase, uintptr(i)*typeEntrySize))
		if !decode(entry) {
			return nil, nil, false
		}
	}
	for _, region := range o.overflow {
		base := allocator.AdvancePointer(allocator.ByteSliceData(region.mapping.Data()), uintptr(region.desc.TypePool.Offset))
		poolCount := atomic.LoadUint32(&region.desc.TypePool.Count)
		for i := uint32(0); i < poolCount; i++ {
			entry := (*TypeEntry)(allocator.AdvancePointer(base, uintptr(i)*typeEntrySize))
			if !decode(entry) {
				return nil, nil, false
			}
		}
	}

	typeByID := make(map[uint32]*ObservedType, len(types))
	for i := range types {
		typeByID[types[i].TypeID] = &types[i]
	}
	return types, typeByID, true
}

func (o *Observer) snapshotObjects(typeByID map[uint32]*ObservedType) []ObservedObject {
	var objects []ObservedObject

	decode := func(entry *ObjectEntry) {
		if ObjectState(atomic.LoadUint32(&entry.State)) != ObjectAlive {
			return
		}
		observed := ObservedObject{
			Label:      entry.LabelString(),
			TypeID:     entry.TypeID,
			RegionID:   entry.RegionID,
			Offset:     entry.Offset,
			Generation: entry.Generation,
		}
		if typ, ok := typeByID[entry.TypeID]; ok {
			observed.TypeName = typ.Name
		} else if IsPrimitiveType(entry.TypeID) {
			observed.TypeName = PrimitiveTypeName(entry.TypeID)
		}
		objects = append(objects, observed)
	}

	headerBase := allocator.ByteSliceData(o.headerRegion.Data())
	objectBase := allocator.AdvancePointer(headerBase, uintptr(o.header.ObjectDir.Offset))
	count := atomic.LoadUint32(&o.header.ObjectDir.Count)
	for i := uint32(0); i < count; i++ {
		decode((*ObjectEntry)(allocator.AdvancePointer(objectBase, uintptr(i)*objectEntrySize)))
	}
	for _, region := range o.overflow {
		base := allocator.AdvancePointer(allocator.ByteSliceData(region.mapping.Data()), uintptr(region.desc.ObjectPool.Offset))
		poolCount := atomic.LoadUint32(&region.desc.ObjectPool.Count)
		for i := uint32(0); i < poolCount; i++ {
			decode((*ObjectEntry)(allocator.AdvancePointer(base, uintptr(i)*objectEntrySize)))
		}
	}
	return objects
}

// Get returns a view over the object's payload. A view over an object
// whose region is not mapped yet reports every field as unavailable;
// it never fails.
func (o *Observer) Get(obj ObservedObject) *View {
	view := &View{observer: o, object: obj}
	if typ, ok := o.typeByID[obj.TypeID]; ok {
		view.typ = typ
	} else if IsPrimitiveType(obj.TypeID) {
		view.typ = &ObservedType{
			TypeID: obj.TypeID,
			Name:   PrimitiveTypeName(obj.TypeID),
			Size:   PrimitiveTypeSize(obj.TypeID),
		}
	}
	region, ok := o.dataRegions[obj.RegionID]
	if !ok || view.typ == nil {
		return view
	}
	end := obj.Offset + uint64(view.typ.Size)
	if end > region.desc.Size || end > uint64(region.mapping.Size()) {
		return view
	}
	view.region = region
	view.base = allocator.AdvancePointer(allocator.ByteSliceData(region.mapping.Data()), uintptr(obj.Offset))
	return view
}

// View resolves field names of one object to typed field proxies.
type View struct {
	observer *Observer
	object   ObservedObject
	typ      *ObservedType
	region   *observedRegion
	base     unsafe.Pointer
}

// Available reports whether the object's payload can be read at all.
func (v *View) Available() bool {
	return v.base != nil
}

// Object returns the observed object the view was built from.
func (v *View) Object() ObservedObject {
	return v.object
}

// Field returns a proxy for the field with the given name. Nested
// fields use the producer's dotted naming ("quote.bid"). An unknown
// name, a Locked field, or an unavailable payload yields an
// unavailable proxy.
func (v *View) Field(name string) FieldProxy {
	if v.base == nil || v.typ == nil {
		return FieldProxy{}
	}
	for i := range v.typ.Fields {
		field := &v.typ.Fields[i]
		if field.Name == name {
			return v.proxy(field)
		}
	}
	return FieldProxy{}
}

// Fields returns proxies for every field of the object's type,
// in registration order.
func (v *View) Fields() []FieldProxy {
	if v.base == nil || v.typ == nil {
		return nil
	}
	result := make([]FieldProxy, 0, len(v.typ.Fields))
	for i := range v.typ.Fields {
		result = append(result, v.proxy(&v.typ.Fields[i]))
	}
	return result
}

func (v *View) proxy(field *ObservedField) FieldProxy {
	if field.Atomicity == AtomicityLocked {
		return FieldProxy{field: *field}
	}
	if uint64(field.Offset)+uint64(field.Size) > uint64(v.typ.Size) {
		return FieldProxy{field: *field}
	}
	if field.Atomicity == AtomicitySeqlock && v.object.Offset+uint64(field.Offset) < regionDescriptorSize+8 {
		// no room for the preceding sequence word
		return FieldProxy{field: *field}
	}
	return FieldProxy{
		field:  *field,
		ptr:    allocator.AdvancePointer(v.base, uintptr(field.Offset)),
		region: v.region,
	}
}

// FieldProxy reads one field's value with the read protocol its
// declared atomicity requires.
type FieldProxy struct {
	field  ObservedField
	ptr    unsafe.Pointer
	region *observedRegion
}

// Info returns the field's metadata.
func (p FieldProxy) Info() ObservedField {
	return p.field
}

// Available reports whether the field can be read. Locked fields and
// fields in unmapped regions are unavailable.
func (p FieldProxy) Available() bool {
	return p.ptr != nil
}

const seqlockReadAttempts = 64

// read copies the field's bytes into dst honoring the atomicity
// protocol. It reports false if the value cannot be read.
func (p FieldProxy) read(dst []byte) bool {
	if p.ptr == nil || uint32(len(dst)) < p.field.Size {
		return false
	}
	defer allocator.Use(p.ptr)
	switch p.field.Atomicity {
	case AtomicityAtomic:
		switch p.field.Size {
		case 8:
			value := atomic.LoadUint64((*uint64)(p.ptr))
			*(*uint64)(allocator.ByteSliceData(dst)) = value
			return true
		case 4:
			value := atomic.LoadUint32((*uint32)(p.ptr))
			*(*uint32)(allocator.ByteSliceData(dst)) = value
			return true
		}
		// sub-word atomics degrade to a plain aligned load
		copy(dst, allocator.ByteSliceFromUnsafePointer(p.ptr, int(p.field.Size)))
		return true
	case AtomicitySeqlock:
		counter := (*uint64)(unsafe.Pointer(uintptr(p.ptr) - 8))
		src := allocator.ByteSliceFromUnsafePointer(p.ptr, int(p.field.Size))
		for i := 0; i < seqlockReadAttempts; i++ {
			s1 := atomic.LoadUint64(counter)
			if s1&1 != 0 {
				continue
			}
			copy(dst, src)
			if atomic.LoadUint64(counter) == s1 {
				return true
			}
		}
		return false
	case AtomicityLocked:
		return false
	}
	copy(dst, allocator.ByteSliceFromUnsafePointer(p.ptr, int(p.field.Size)))
	return true
}

// Bytes returns a copy of the field's raw value.
func (p FieldProxy) Bytes() ([]byte, bool) {
	if p.ptr == nil {
		return nil, false
	}
	dst := make([]byte, p.field.Size)
	if !p.read(dst) {
		return nil, false
	}
	return dst, true
}

func (p FieldProxy) readWord(size uint32) (uint64, bool) {
	if p.field.Size != size {
		return 0, false
	}
	var buf [8]byte
	if !p.read(buf[:size]) {
		return 0, false
	}
	switch size {
	case 1:
		return uint64(buf[0]), true
	case 2:
		return uint64(*(*uint16)(unsafe.Pointer(&buf[0]))), true
	case 4:
		return uint64(*(*uint32)(unsafe.Pointer(&buf[0]))), true
	default:
		return *(*uint64)(unsafe.Pointer(&buf[0])), true
	}
}

// Bool reads the field as a bool.
func (p FieldProxy) Bool() (bool, bool) {
	value, ok := p.readWord(1)
	return value != 0, ok
}

// Char reads the field as a single byte character.
func (p FieldProxy) Char() (byte, bool) {
	value, ok := p.readWord(1)
	return byte(value), ok
}

// Int8 reads the field as an int8.
func (p FieldProxy) Int8() (int8, bool) {
	value, ok := p.readWord(1)
	return int8(value), ok
}

// Uint8 reads the field as a uint8.
func (p FieldProxy) Uint8() (uint8, bool) {
	value, ok := p.readWord(1)
	return uint8(value), ok
}

// Int16 reads the field as an int16.
func (p FieldProxy) Int16() (int16, bool) {
	value, ok := p.readWord(2)
	return int16(value), ok
}

// Uint16 reads the field as a uint16.
func (p FieldProxy) Uint16() (uint16, bool) {
	value, ok := p.readWord(2)
	return uint16(value), ok
}

// Int32 reads the field as an int32.
func (p FieldProxy) Int32() (int32, bool) {
	value, ok := p.readWord(4)
	return int32(value), ok
}

// Uint32 reads the field as a uint32.
func (p FieldProxy) Uint32() (uint32, bool) {
	value, ok := p.readWord(4)
	return uint32(value), ok
}

// Int64 reads the field as an int64.
func (p FieldProxy) Int64() (int64, bool) {
	value, ok := p.readWord(8)
	return int64(value), ok
}

// Uint64 reads the field as a uint64.
func (p FieldProxy) Uint64() (uint64, bool) {
	value, ok := p.readWord(8)
	return value, ok
}

// Float32 reads the field as a float32.
func (p FieldProxy) Float32() (float32, bool) {
	value, ok := p.readWord(4)
	return math.Float32frombits(uint32(value)), ok
}

// Float64 reads the field as a float64.
func (p FieldProxy) Float64() (float64, bool) {
	value, ok := p.readWord(8)
	return math.Float64frombits(value), ok
}
