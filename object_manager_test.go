// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerTestObject(t *testing.T, ctx *Context, label string) unsafe.Pointer {
	t.Helper()
	ptr, err := ctx.Allocate(16, 8)
	require.NoError(t, err)
	_, err = ctx.RegisterObject(ptr, TypeUInt64, label)
	require.NoError(t, err)
	return ptr
}

func TestRegisterAndFindObject(t *testing.T) {
	ctx := openTestSession(t, Config{})

	ptr := registerTestObject(t, ctx, "counter")
	entry := ctx.FindObject("counter")
	require.NotNil(t, entry)
	assert.Equal(t, "counter", entry.LabelString())
	assert.EqualValues(t, TypeUInt64, entry.TypeID)
	assert.EqualValues(t, ObjectAlive, atomic.LoadUint32(&entry.State))
	assert.EqualValues(t, 1, entry.Generation)

	regionID, offset, err := ctx.Regions().GetLocation(ptr)
	require.NoError(t, err)
	assert.Equal(t, regionID, entry.RegionID)
	assert.Equal(t, offset, entry.Offset)
}

func TestRegisterForeignPointer(t *testing.T) {
	ctx := openTestSession(t, Config{})

	var local int64
	_, err := ctx.RegisterObject(unsafe.Pointer(&local), TypeInt64, "stray")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotInSession), "got %v", err)
}

func TestDestroyObject(t *testing.T) {
	ctx := openTestSession(t, Config{})

	ptr := registerTestObject(t, ctx, "doomed")
	entry := ctx.FindObject("doomed")
	require.NotNil(t, entry)

	require.NoError(t, ctx.DestroyObject(ptr))
	assert.Nil(t, ctx.FindObject("doomed"))
	assert.EqualValues(t, ObjectDestroyed, atomic.LoadUint32(&entry.State))
	assert.EqualValues(t, 2, entry.Generation)

	// slots are never reused and a second destroy is an error
	err := ctx.DestroyObject(ptr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestFindObjectReturnsFirstAliveMatch(t *testing.T) {
	ctx := openTestSession(t, Config{})

	first := registerTestObject(t, ctx, "gauge")
	require.NoError(t, ctx.DestroyObject(first))
	registerTestObject(t, ctx, "gauge")

	entry := ctx.FindObject("gauge")
	require.NotNil(t, entry)
	assert.EqualValues(t, ObjectAlive, atomic.LoadUint32(&entry.State))
}

func TestAllObjectsSkipsDestroyed(t *testing.T) {
	ctx := openTestSession(t, Config{})

	registerTestObject(t, ctx, "a")
	doomed := registerTestObject(t, ctx, "b")
	registerTestObject(t, ctx, "c")
	require.NoError(t, ctx.DestroyObject(doomed))

	labels := make([]string, 0, 2)
	for _, entry := range ctx.Objects().AllObjects() {
		labels = append(labels, entry.LabelString())
	}
	assert.ElementsMatch(t, []string{"a", "c"}, labels)
}

func TestRegisterBumpsSequence(t *testing.T) {
	ctx := openTestSession(t, Config{})

	before := atomic.LoadUint64(&ctx.header.Sequence)
	ptr := registerTestObject(t, ctx, "seq")
	middle := atomic.LoadUint64(&ctx.header.Sequence)
	assert.Greater(t, middle, before)

	require.NoError(t, ctx.DestroyObject(ptr))
	assert.Greater(t, atomic.LoadUint64(&ctx.header.Sequence), middle)
}

func TestRegisterLabelTooLong(t *testing.T) {
	ctx := openTestSession(t, Config{})

	ptr, err := ctx.Allocate(8, 8)
	require.NoError(t, err)
	long := make([]byte, inlineNameLen+1)
	for i := range long {
		long[i] = 'l'
	}
	_, err = ctx.RegisterObject(ptr, TypeInt64, string(long))
	assert.Error(t, err)
}
