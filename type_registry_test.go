// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quoteFields() []Field {
	return []Field{
		{Name: "bid", TypeID: TypeFloat64, Offset: 0, Size: 8, Atomicity: AtomicityAtomic},
		{Name: "ask", TypeID: TypeFloat64, Offset: 8, Size: 8, Atomicity: AtomicityAtomic},
	}
}

func TestRegisterTypeRoundTrip(t *testing.T) {
	ctx := openTestSession(t, Config{})

	typeID, err := ctx.RegisterType("Quote", 16, quoteFields())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, typeID, firstCompositeTypeID)

	entry := ctx.Types().TypeByID(typeID)
	require.NotNil(t, entry)
	assert.Equal(t, "Quote", entry.NameString())
	assert.EqualValues(t, 16, entry.Size)
	assert.EqualValues(t, 2, entry.FieldCount)
	assert.EqualValues(t, 16, ctx.Types().TypeSize(typeID))
}

func TestRegisterTypeInterns(t *testing.T) {
	ctx := openTestSession(t, Config{})

	first, err := ctx.RegisterType("Quote", 16, quoteFields())
	require.NoError(t, err)
	second, err := ctx.RegisterType("Quote", 16, quoteFields())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, ctx.Metadata().TotalTypeCount())
}

func TestRegisterTypeAssignsDenseIDs(t *testing.T) {
	ctx := openTestSession(t, Config{})

	a, err := ctx.RegisterType("A", 8, []Field{{Name: "x", TypeID: TypeInt64, Offset: 0, Size: 8}})
	require.NoError(t, err)
	b, err := ctx.RegisterType("B", 8, []Field{{Name: "y", TypeID: TypeInt64, Offset: 0, Size: 8}})
	require.NoError(t, err)
	assert.Equal(t, a+1, b)
}

func TestRegisterTypeValidation(t *testing.T) {
	ctx := openTestSession(t, Config{})

	_, err := ctx.RegisterType("", 8, []Field{{Name: "x", TypeID: TypeInt64, Offset: 0, Size: 8}})
	assert.Error(t, err)

	_, err = ctx.RegisterType("NoFields", 8, nil)
	assert.Error(t, err)

	_, err = ctx.RegisterType("Overhang", 8, []Field{{Name: "x", TypeID: TypeInt64, Offset: 4, Size: 8}})
	assert.Error(t, err)

	_, err = ctx.RegisterType("BadField", 8, []Field{{Name: "", TypeID: TypeInt64, Offset: 0, Size: 8}})
	assert.Error(t, err)
}

func TestNestedFieldNames(t *testing.T) {
	ctx := openTestSession(t, Config{})

	typeID, err := ctx.RegisterType("Position", 24, []Field{
		{Name: "quote.bid", TypeID: TypeFloat64, Offset: 0, Size: 8},
		{Name: "quote.ask", TypeID: TypeFloat64, Offset: 8, Size: 8},
		{Name: "volume", TypeID: TypeInt64, Offset: 16, Size: 8},
	})
	require.NoError(t, err)

	entry := ctx.Types().TypeByID(typeID)
	require.NotNil(t, entry)
	assert.EqualValues(t, 3, entry.FieldCount)
}

func TestPrimitiveTypes(t *testing.T) {
	assert.True(t, IsPrimitiveType(TypeBool))
	assert.True(t, IsPrimitiveType(TypeChar))
	assert.False(t, IsPrimitiveType(firstCompositeTypeID))
	assert.False(t, IsPrimitiveType(0))

	assert.Equal(t, "float64", PrimitiveTypeName(TypeFloat64))
	assert.EqualValues(t, 8, PrimitiveTypeSize(TypeFloat64))
	assert.EqualValues(t, 1, PrimitiveTypeSize(TypeBool))
	assert.EqualValues(t, 2, PrimitiveTypeSize(TypeUInt16))
}
