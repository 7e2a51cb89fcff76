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

type dataRegion struct {
	mapping *mmf.MemoryRegion
	id      uint64
	desc    *regionDescriptor
}

// RegionManager owns the growable chain of data regions and
// bump-allocates object storage from the newest one.
type RegionManager struct {
	ctx               *Context
	mu                sync.Mutex
	session           string
	regions           []*dataRegion
	nextRegionID      uint64
	currentRegionSize int
}

func newRegionManager(ctx *Context) *RegionManager {
	return &RegionManager{
		ctx:               ctx,
		nextRegionID:      1,
		currentRegionSize: ctx.cfg.InitialRegionSize,
	}
}

func (m *RegionManager) init(session string, initialSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session
	m.currentRegionSize = initialSize
	region, err := m.createRegion(initialSize)
	if err != nil {
		return err
	}
	atomic.StoreUint64(&m.ctx.header.FirstRegionID, region.id)
	return nil
}

// createRegion is called with the mutex held.
func (m *RegionManager) createRegion(size int) (*dataRegion, error) {
	id := m.nextRegionID
	name := regionName(m.session, id)
	totalSize := regionDescriptorSize + size
	mapping, err := helper.CreateWritableRegion(name, 0o644, totalSize)
	if err != nil {
		return nil, osError(errors.Wrapf(err, "failed to create data region %d", id), ErrNameExists, ErrOutOfSpace)
	}
	m.nextRegionID++
	desc := (*regionDescriptor)(allocator.ByteSliceData(mapping.Data()))
	desc.Magic = regionMagic
	desc.RegionID = id
	desc.Size = uint64(totalSize)
	atomic.StoreUint64(&desc.Used, regionDescriptorSize)
	atomic.StoreUint64(&desc.NextRegionID, 0)
	desc.setShmName(name)
	region := &dataRegion{mapping: mapping, id: id, desc: desc}
	if len(m.regions) > 0 {
		prev := m.regions[len(m.regions)-1]
		atomic.StoreUint64(&prev.desc.NextRegionID, id)
	}
	m.regions = append(m.regions, region)
	return region, nil
}

func (m *RegionManager) currentRegion() *dataRegion {
	if len(m.regions) == 0 {
		return nil
	}
	return m.regions[len(m.regions)-1]
}

// Allocate reserves size bytes with the given alignment inside the
// session and returns a pointer into the mapped region. The memory is
// valid until the session is closed.
func (m *RegionManager) Allocate(size int, alignment int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, errors.New("allocation size must be positive")
	}
	if alignment <= 0 || !allocator.IsPowerOfTwo(uintptr(alignment)) {
		return nil, errors.Errorf("alignment %d is not a power of two", alignment)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	region := m.currentRegion()
	if region == nil {
		return nil, errors.New("region manager is not initialized")
	}
	used := atomic.LoadUint64(&region.desc.Used)
	aligned := uint64(allocator.AlignUp(uintptr(used), uintptr(alignment)))
	newUsed := aligned + uint64(size)
	if newUsed > region.desc.Size {
		// a fresh region starts allocating right after its descriptor
		need := int(allocator.AlignUp(regionDescriptorSize, uintptr(alignment))) + size
		if need > m.ctx.cfg.MaxRegionSize {
			return nil, errors.WithMessagef(ErrRequestTooLarge,
				"allocation of %d bytes exceeds max region size %d", size, m.ctx.cfg.MaxRegionSize)
		}
		newSize := m.currentRegionSize * 2
		if need > newSize {
			newSize = need
		}
		if newSize > m.ctx.cfg.MaxRegionSize {
			newSize = m.ctx.cfg.MaxRegionSize
		}
		m.currentRegionSize = newSize
		var err error
		if region, err = m.createRegion(newSize); err != nil {
			return nil, err
		}
		m.ctx.bumpSequence()
		used = atomic.LoadUint64(&region.desc.Used)
		aligned = uint64(allocator.AlignUp(uintptr(used), uintptr(alignment)))
		newUsed = aligned + uint64(size)
	}
	atomic.StoreUint64(&region.desc.Used, newUsed)
	return allocator.AdvancePointer(allocator.ByteSliceData(region.mapping.Data()), uintptr(aligned)), nil
}

// GetLocation resolves a pointer previously returned by Allocate into
// its (region id, byte offset) pair. Used at registration time only.
func (m *RegionManager) GetLocation(ptr unsafe.Pointer) (regionID, offset uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := uintptr(ptr)
	for _, region := range m.regions {
		base := uintptr(allocator.ByteSliceData(region.mapping.Data()))
		if p >= base && p < base+uintptr(region.desc.Size) {
			return region.id, uint64(p - base), nil
		}
	}
	return 0, 0, ErrNotInSession
}

// RegionData returns the base of the region with the given id, or nil.
func (m *RegionManager) RegionData(regionID uint64) unsafe.Pointer {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, region := range m.regions {
		if region.id == regionID {
			return allocator.ByteSliceData(region.mapping.Data())
		}
	}
	return nil
}

func (m *RegionManager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result error
	for _, region := range m.regions {
		result = appendErr(result, region.mapping.Close())
	}
	m.regions = nil
	return result
}

func (m *RegionManager) unlinkAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result error
	for id := uint64(1); id < m.nextRegionID; id++ {
		result = appendErr(result, unlinkName(regionName(m.session, id)))
	}
	return result
}
