// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/HFTrader/memglass/internal/allocator"
	"github.com/HFTrader/memglass/internal/helper"
	"github.com/HFTrader/memglass/mmf"
	"github.com/pkg/errors"
)

// Overflow region body split between the three entry pools.
const (
	overflowObjectShare = 50
	overflowTypeShare   = 10
	overflowFieldShare  = 40
)

type overflowRegion struct {
	mapping *mmf.MemoryRegion
	id      uint64
	desc    *metadataOverflowDescriptor
}

// MetadataManager hands out type, field, and object entry slots.
// Header pools are filled before any overflow region is created, so
// short-lived sessions never leave the header.
//
// Allocators take an init callback: the slot's bytes are written under
// the manager's lock and the pool count is release-stored only after
// the callback returns, so observers never see a half-written entry.
type MetadataManager struct {
	ctx            *Context
	mu             sync.Mutex
	session        string
	overflow       []*overflowRegion
	nextOverflowID uint64

	// Once field allocation spills past the header pool, the header
	// pool is frozen for fields. TypeEntry.FieldOffset indexes the
	// concatenation of pools in link order; a header count that kept
	// growing after an overflow pool started filling would shift every
	// already-published virtual index.
	fieldsSpilled bool
}

func newMetadataManager(ctx *Context, session string) *MetadataManager {
	return &MetadataManager{ctx: ctx, session: session, nextOverflowID: 1}
}

func (m *MetadataManager) headerPoolSlot(pool *poolDescriptor, index uint32, entrySize uintptr) unsafe.Pointer {
	base := allocator.AdvancePointer(m.ctx.headerData(), uintptr(pool.Offset))
	return allocator.AdvancePointer(base, uintptr(index)*entrySize)
}

func (m *MetadataManager) overflowPoolSlot(region *overflowRegion, pool *poolDescriptor, index uint32, entrySize uintptr) unsafe.Pointer {
	base := allocator.AdvancePointer(allocator.ByteSliceData(region.mapping.Data()), uintptr(pool.Offset))
	return allocator.AdvancePointer(base, uintptr(index)*entrySize)
}

// createOverflowRegion is called with the mutex held.
func (m *MetadataManager) createOverflowRegion() (*overflowRegion, error) {
	id := m.nextOverflowID
	name := overflowName(m.session, id)
	regionSize := m.ctx.cfg.OverflowRegionSize
	available := regionSize - overflowDescriptorSize
	if available <= 0 {
		return nil, errors.WithMessage(ErrOutOfSpace, "overflow region size too small for its descriptor")
	}
	objectCapacity := uint32(available * overflowObjectShare / 100 / objectEntrySize)
	typeCapacity := uint32(available * overflowTypeShare / 100 / typeEntrySize)
	fieldCapacity := uint32(available * overflowFieldShare / 100 / fieldEntrySize)

	objectBytes := uint32(objectCapacity) * objectEntrySize
	typeBytes := uint32(typeCapacity) * typeEntrySize
	fieldBytes := uint32(fieldCapacity) * fieldEntrySize
	totalSize := overflowDescriptorSize + int(objectBytes) + int(typeBytes) + int(fieldBytes)

	mapping, err := helper.CreateWritableRegion(name, 0o644, totalSize)
	if err != nil {
		return nil, osError(errors.Wrapf(err, "failed to create overflow region %d", id), ErrNameExists, ErrOutOfSpace)
	}
	m.nextOverflowID++
	desc := (*metadataOverflowDescriptor)(allocator.ByteSliceData(mapping.Data()))
	desc.Magic = overflowMagic
	desc.RegionID = id
	atomic.StoreUint64(&desc.NextRegionID, 0)
	desc.ObjectPool = poolDescriptor{Offset: overflowDescriptorSize, Capacity: objectCapacity}
	desc.TypePool = poolDescriptor{Offset: overflowDescriptorSize + objectBytes, Capacity: typeCapacity}
	desc.FieldPool = poolDescriptor{Offset: overflowDescriptorSize + objectBytes + typeBytes, Capacity: fieldCapacity}
	desc.setShmName(name)

	region := &overflowRegion{mapping: mapping, id: id, desc: desc}
	if len(m.overflow) > 0 {
		prev := m.overflow[len(m.overflow)-1]
		atomic.StoreUint64(&prev.desc.NextRegionID, id)
	} else {
		atomic.StoreUint64(&m.ctx.header.FirstOverflowRegionID, id)
	}
	m.overflow = append(m.overflow, region)
	m.ctx.bumpSequence()
	return region, nil
}

func (m *MetadataManager) currentOverflowRegion() *overflowRegion {
	if len(m.overflow) == 0 {
		return nil
	}
	return m.overflow[len(m.overflow)-1]
}

func (m *MetadataManager) allocateObjectEntry(init func(*ObjectEntry)) (*ObjectEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	header := m.ctx.header
	count := atomic.LoadUint32(&header.ObjectDir.Count)
	if count < header.ObjectDir.Capacity {
		entry := (*ObjectEntry)(m.headerPoolSlot(&header.ObjectDir, count, objectEntrySize))
		init(entry)
		atomic.StoreUint32(&header.ObjectDir.Count, count+1)
		return entry, nil
	}

	if region := m.currentOverflowRegion(); region != nil {
		overflowCount := atomic.LoadUint32(&region.desc.ObjectPool.Count)
		if overflowCount < region.desc.ObjectPool.Capacity {
			entry := (*ObjectEntry)(m.overflowPoolSlot(region, &region.desc.ObjectPool, overflowCount, objectEntrySize))
			init(entry)
			atomic.StoreUint32(&region.desc.ObjectPool.Count, overflowCount+1)
			return entry, nil
		}
	}

	region, err := m.createOverflowRegion()
	if err != nil {
		return nil, err
	}
	if region.desc.ObjectPool.Capacity == 0 {
		return nil, errors.WithMessage(ErrCapacityExhausted, "overflow object pool has zero capacity")
	}
	entry := (*ObjectEntry)(m.overflowPoolSlot(region, &region.desc.ObjectPool, 0, objectEntrySize))
	init(entry)
	atomic.StoreUint32(&region.desc.ObjectPool.Count, 1)
	return entry, nil
}

func (m *MetadataManager) allocateTypeEntry(init func(*TypeEntry)) (*TypeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	header := m.ctx.header
	count := atomic.LoadUint32(&header.TypeRegistry.Count)
	if count < header.TypeRegistry.Capacity {
		entry := (*TypeEntry)(m.headerPoolSlot(&header.TypeRegistry, count, typeEntrySize))
		init(entry)
		atomic.StoreUint32(&header.TypeRegistry.Count, count+1)
		return entry, nil
	}

	if region := m.currentOverflowRegion(); region != nil {
		overflowCount := atomic.LoadUint32(&region.desc.TypePool.Count)
		if overflowCount < region.desc.TypePool.Capacity {
			entry := (*TypeEntry)(m.overflowPoolSlot(region, &region.desc.TypePool, overflowCount, typeEntrySize))
			init(entry)
			atomic.StoreUint32(&region.desc.TypePool.Count, overflowCount+1)
			return entry, nil
		}
	}

	region, err := m.createOverflowRegion()
	if err != nil {
		return nil, err
	}
	if region.desc.TypePool.Capacity == 0 {
		return nil, errors.WithMessage(ErrCapacityExhausted, "overflow type pool has zero capacity")
	}
	entry := (*TypeEntry)(m.overflowPoolSlot(region, &region.desc.TypePool, 0, typeEntrySize))
	init(entry)
	atomic.StoreUint32(&region.desc.TypePool.Count, 1)
	return entry, nil
}

// allocateFieldEntries reserves a contiguous run of count field slots,
// hands them to init, and returns the run's virtual index into the
// cross-region field entry space.
func (m *MetadataManager) allocateFieldEntries(count uint32, init func([]*FieldEntry)) (uint32, error) {
	if count == 0 {
		return 0, errors.New("field entry count must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	header := m.ctx.header
	if !m.fieldsSpilled {
		current := atomic.LoadUint32(&header.FieldEntries.Count)
		if current+count <= header.FieldEntries.Capacity {
			entries := make([]*FieldEntry, count)
			for i := uint32(0); i < count; i++ {
				entries[i] = (*FieldEntry)(m.headerPoolSlot(&header.FieldEntries, current+i, fieldEntrySize))
			}
			init(entries)
			atomic.StoreUint32(&header.FieldEntries.Count, current+count)
			return current, nil
		}
		m.fieldsSpilled = true
	}

	if region := m.currentOverflowRegion(); region != nil {
		overflowCount := atomic.LoadUint32(&region.desc.FieldPool.Count)
		if overflowCount+count <= region.desc.FieldPool.Capacity {
			virtual := m.fieldVirtualBase(region) + overflowCount
			entries := make([]*FieldEntry, count)
			for i := uint32(0); i < count; i++ {
				entries[i] = (*FieldEntry)(m.overflowPoolSlot(region, &region.desc.FieldPool, overflowCount+i, fieldEntrySize))
			}
			init(entries)
			atomic.StoreUint32(&region.desc.FieldPool.Count, overflowCount+count)
			return virtual, nil
		}
	}

	region, err := m.createOverflowRegion()
	if err != nil {
		return 0, err
	}
	if count > region.desc.FieldPool.Capacity {
		return 0, errors.WithMessagef(ErrRequestTooLarge,
			"%d field entries cannot fit a single overflow region", count)
	}
	virtual := m.fieldVirtualBase(region)
	entries := make([]*FieldEntry, count)
	for i := uint32(0); i < count; i++ {
		entries[i] = (*FieldEntry)(m.overflowPoolSlot(region, &region.desc.FieldPool, i, fieldEntrySize))
	}
	init(entries)
	atomic.StoreUint32(&region.desc.FieldPool.Count, count)
	return virtual, nil
}

// fieldVirtualBase is the virtual index of the given overflow region's
// first field slot: header pool count plus every earlier overflow
// pool's count. Called with the mutex held; earlier pools are frozen.
func (m *MetadataManager) fieldVirtualBase(target *overflowRegion) uint32 {
	base := atomic.LoadUint32(&m.ctx.header.FieldEntries.Count)
	for _, region := range m.overflow {
		if region == target {
			break
		}
		base += atomic.LoadUint32(&region.desc.FieldPool.Count)
	}
	return base
}

// TotalObjectCount returns the number of object entries across the
// header pool and every overflow region.
func (m *MetadataManager) TotalObjectCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := atomic.LoadUint32(&m.ctx.header.ObjectDir.Count)
	for _, region := range m.overflow {
		total += atomic.LoadUint32(&region.desc.ObjectPool.Count)
	}
	return total
}

// TotalTypeCount returns the number of type entries across all pools.
func (m *MetadataManager) TotalTypeCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := atomic.LoadUint32(&m.ctx.header.TypeRegistry.Count)
	for _, region := range m.overflow {
		total += atomic.LoadUint32(&region.desc.TypePool.Count)
	}
	return total
}

// TotalFieldCount returns the number of field entries across all pools.
func (m *MetadataManager) TotalFieldCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := atomic.LoadUint32(&m.ctx.header.FieldEntries.Count)
	for _, region := range m.overflow {
		total += atomic.LoadUint32(&region.desc.FieldPool.Count)
	}
	return total
}

func (m *MetadataManager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result error
	for _, region := range m.overflow {
		result = appendErr(result, region.mapping.Close())
	}
	m.overflow = nil
	return result
}

func (m *MetadataManager) unlinkAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result error
	for id := uint64(1); id < m.nextOverflowID; id++ {
		result = appendErr(result, unlinkName(overflowName(m.session, id)))
	}
	return result
}
