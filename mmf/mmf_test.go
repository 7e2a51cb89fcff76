// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mmf

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/HFTrader/memglass/shm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMapping(t *testing.T, size int) (*MemoryRegion, string) {
	t.Helper()
	name := fmt.Sprintf("mmftest.%d.%s", os.Getpid(), t.Name())
	obj, err := shm.Create(name, int64(size), 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { shm.Unlink(name) })

	region, err := NewMemoryRegion(obj, MEM_READWRITE, size)
	require.NoError(t, err)
	require.NoError(t, obj.Close())
	t.Cleanup(func() { region.Close() })
	return region, name
}

func TestMapReadWrite(t *testing.T) {
	region, _ := testMapping(t, 4096)
	assert.Equal(t, 4096, region.Size())
	assert.Len(t, region.Data(), 4096)

	copy(region.Data(), "telemetry")
	assert.Equal(t, "telemetry", string(region.Data()[:9]))
	assert.NoError(t, region.Flush(false))
}

func TestTwoMappingsShareContent(t *testing.T) {
	region, name := testMapping(t, 4096)

	obj, err := shm.Open(name, true)
	require.NoError(t, err)
	reader, err := NewMemoryRegion(obj, MEM_READ_ONLY, 4096)
	require.NoError(t, err)
	require.NoError(t, obj.Close())
	defer reader.Close()

	copy(region.Data(), "shared")
	assert.Equal(t, "shared", string(reader.Data()[:6]))
}

func TestInvalidMode(t *testing.T) {
	name := fmt.Sprintf("mmftest.%d.%s", os.Getpid(), t.Name())
	obj, err := shm.Create(name, 4096, 0o644)
	require.NoError(t, err)
	defer shm.Unlink(name)
	defer obj.Close()

	_, err = NewMemoryRegion(obj, 42, 4096)
	assert.Error(t, err)
}

func TestRegionReaderWriter(t *testing.T) {
	region, _ := testMapping(t, 4096)

	writer := NewMemoryRegionWriter(region)
	n, err := writer.Write([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	reader := NewMemoryRegionReader(region)
	buf := make([]byte, 7)
	_, err = io.ReadFull(reader, buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))

	// writes past the end are truncated
	_, err = writer.WriteAt(make([]byte, 10), 4090)
	assert.Equal(t, io.EOF, err)
}
