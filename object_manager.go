// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
)

// ObjectManager tracks the lifecycle of registered objects. The
// ptr→entry map is producer-local; observers only ever see the shared
// object directory.
type ObjectManager struct {
	ctx        *Context
	mu         sync.Mutex
	ptrToEntry map[uintptr]*ObjectEntry
}

func newObjectManager(ctx *Context) *ObjectManager {
	return &ObjectManager{ctx: ctx, ptrToEntry: make(map[uintptr]*ObjectEntry)}
}

// RegisterObject publishes the object at ptr under the given label.
// ptr must point into session memory returned by Allocate.
func (m *ObjectManager) RegisterObject(ptr unsafe.Pointer, typeID uint32, label string) (*ObjectEntry, error) {
	if len(label) > inlineNameLen {
		return nil, errors.Errorf("label %q exceeds %d bytes", label, inlineNameLen)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	regionID, offset, err := m.ctx.regions.GetLocation(ptr)
	if err != nil {
		return nil, err
	}
	entry, err := m.ctx.metadata.allocateObjectEntry(func(entry *ObjectEntry) {
		entry.TypeID = typeID
		entry.RegionID = regionID
		entry.Offset = offset
		entry.Generation = 1
		setInlineString(entry.Label[:], label)
		atomic.StoreUint32(&entry.State, uint32(ObjectAlive))
	})
	if err != nil {
		return nil, err
	}
	m.ctx.bumpSequence()
	m.ptrToEntry[uintptr(ptr)] = entry
	return entry, nil
}

// DestroyObject marks the entry for ptr as destroyed. The slot is
// kept for historical inspection and never reused.
func (m *ObjectManager) DestroyObject(ptr unsafe.Pointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.ptrToEntry[uintptr(ptr)]
	if !ok {
		return errors.WithMessage(ErrNotFound, "pointer is not a registered object")
	}
	entry.Generation++
	atomic.StoreUint32(&entry.State, uint32(ObjectDestroyed))
	m.ctx.bumpSequence()
	delete(m.ptrToEntry, uintptr(ptr))
	return nil
}

// FindObject returns the first alive entry with the given label.
// Only the header object directory is scanned: the call stays
// O(header capacity) and labels of interest are expected to be
// registered early. Observers see overflow entries via Objects().
func (m *ObjectManager) FindObject(label string) *ObjectEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	header := m.ctx.header
	count := atomic.LoadUint32(&header.ObjectDir.Count)
	for i := uint32(0); i < count; i++ {
		entry := (*ObjectEntry)(m.ctx.metadata.headerPoolSlot(&header.ObjectDir, i, objectEntrySize))
		if ObjectState(atomic.LoadUint32(&entry.State)) == ObjectAlive && entry.LabelString() == label {
			return entry
		}
	}
	return nil
}

// AllObjects returns every alive entry in the header object directory.
func (m *ObjectManager) AllObjects() []*ObjectEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	header := m.ctx.header
	count := atomic.LoadUint32(&header.ObjectDir.Count)
	result := make([]*ObjectEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		entry := (*ObjectEntry)(m.ctx.metadata.headerPoolSlot(&header.ObjectDir, i, objectEntrySize))
		if ObjectState(atomic.LoadUint32(&entry.State)) == ObjectAlive {
			result = append(result, entry)
		}
	}
	return result
}
