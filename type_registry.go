// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"sync"

	"github.com/pkg/errors"
)

// Primitive type ids. Ids below firstCompositeTypeID are reserved and
// never appear in the shared type registry; producers and observers
// know them implicitly.
const (
	TypeBool uint32 = iota + 1
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUInt8
	TypeUInt16
	TypeUInt32
	TypeUInt64
	TypeFloat32
	TypeFloat64
	TypeChar
)

const firstCompositeTypeID uint32 = 100

var primitiveNames = map[uint32]string{
	TypeBool:    "bool",
	TypeInt8:    "int8",
	TypeInt16:   "int16",
	TypeInt32:   "int32",
	TypeInt64:   "int64",
	TypeUInt8:   "uint8",
	TypeUInt16:  "uint16",
	TypeUInt32:  "uint32",
	TypeUInt64:  "uint64",
	TypeFloat32: "float32",
	TypeFloat64: "float64",
	TypeChar:    "char",
}

var primitiveSizes = map[uint32]uint32{
	TypeBool:    1,
	TypeInt8:    1,
	TypeInt16:   2,
	TypeInt32:   4,
	TypeInt64:   8,
	TypeUInt8:   1,
	TypeUInt16:  2,
	TypeUInt32:  4,
	TypeUInt64:  8,
	TypeFloat32: 4,
	TypeFloat64: 8,
	TypeChar:    1,
}

// IsPrimitiveType reports whether id denotes one of the built-in
// primitive types.
func IsPrimitiveType(id uint32) bool {
	_, ok := primitiveNames[id]
	return ok
}

// PrimitiveTypeName returns the name of a primitive type id, or "".
func PrimitiveTypeName(id uint32) string {
	return primitiveNames[id]
}

// PrimitiveTypeSize returns the size of a primitive type id, or 0.
func PrimitiveTypeSize(id uint32) uint32 {
	return primitiveSizes[id]
}

// Field describes one field of a composite type at registration time.
// Nested structs are flattened by the producer into dotted names.
type Field struct {
	Name      string
	TypeID    uint32
	Offset    uint32
	Size      uint32
	Atomicity Atomicity
}

// TypeRegistry interns composite type definitions and lays out their
// field entry runs in the shared metadata pools.
type TypeRegistry struct {
	ctx        *Context
	mu         sync.Mutex
	byName     map[string]uint32
	entries    map[uint32]*TypeEntry
	nextTypeID uint32
}

func newTypeRegistry(ctx *Context) *TypeRegistry {
	return &TypeRegistry{
		ctx:        ctx,
		byName:     make(map[string]uint32),
		entries:    make(map[uint32]*TypeEntry),
		nextTypeID: firstCompositeTypeID,
	}
}

// RegisterType interns a composite type and returns its id. A name
// registered before returns the existing id; the shape is assumed
// identical (schema evolution after first write is not supported).
func (r *TypeRegistry) RegisterType(name string, size uint32, fields []Field) (uint32, error) {
	if len(name) == 0 || len(name) > inlineNameLen {
		return 0, errors.Errorf("type name %q must be 1..%d bytes", name, inlineNameLen)
	}
	if len(fields) == 0 {
		return 0, errors.New("a composite type needs at least one field")
	}
	for _, field := range fields {
		if len(field.Name) == 0 || len(field.Name) > inlineNameLen {
			return 0, errors.Errorf("field name %q must be 1..%d bytes", field.Name, inlineNameLen)
		}
		if field.Offset+field.Size > size {
			return 0, errors.Errorf("field %q [%d,%d) lies outside type of size %d",
				field.Name, field.Offset, field.Offset+field.Size, size)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		return id, nil
	}

	fieldOffset, err := r.ctx.metadata.allocateFieldEntries(uint32(len(fields)), func(entries []*FieldEntry) {
		for i, field := range fields {
			entry := entries[i]
			setInlineString(entry.Name[:], field.Name)
			entry.TypeID = field.TypeID
			entry.Offset = field.Offset
			entry.Size = field.Size
			entry.Atomicity = field.Atomicity
		}
	})
	if err != nil {
		return 0, err
	}

	typeID := r.nextTypeID
	entry, err := r.ctx.metadata.allocateTypeEntry(func(entry *TypeEntry) {
		entry.TypeID = typeID
		entry.Size = size
		entry.FieldOffset = fieldOffset
		entry.FieldCount = uint32(len(fields))
		setInlineString(entry.Name[:], name)
	})
	if err != nil {
		return 0, err
	}
	r.nextTypeID++
	r.byName[name] = typeID
	r.entries[typeID] = entry
	r.ctx.bumpSequence()
	return typeID, nil
}

// TypeByID returns the shared entry for a composite type id, or nil.
func (r *TypeRegistry) TypeByID(id uint32) *TypeEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// TypeSize returns the registered size for a type id, primitive or
// composite, or 0 if unknown.
func (r *TypeRegistry) TypeSize(id uint32) uint32 {
	if size, ok := primitiveSizes[id]; ok {
		return size
	}
	if entry := r.TypeByID(id); entry != nil {
		return entry.Size
	}
	return 0
}
