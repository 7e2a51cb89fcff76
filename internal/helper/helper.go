// Copyright 2016 Aleksandr Demakin. All rights reserved.

package helper

import (
	"os"

	"github.com/HFTrader/memglass/mmf"
	"github.com/HFTrader/memglass/shm"
	"github.com/pkg/errors"
)

// CreateWritableRegion is a helper, which:
//	- creates a shared memory object with the given name and size.
//	- creates a mapping for the entire object with mmf.MEM_READWRITE.
//	- closes the memory object and returns the memory region.
// On failure the object's name is removed again.
func CreateWritableRegion(name string, perm os.FileMode, size int) (*mmf.MemoryRegion, error) {
	// mappings are page-granular; one page is the smallest region
	pageSize := os.Getpagesize()
	if rem := size % pageSize; rem != 0 {
		size += pageSize - rem
	}
	if size == 0 {
		size = pageSize
	}
	obj, err := shm.Create(name, int64(size), perm)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create shm object")
	}
	region, err := mmf.NewMemoryRegion(obj, mmf.MEM_READWRITE, size)
	obj.Close()
	if err != nil {
		shm.Unlink(name)
		return nil, errors.Wrap(err, "failed to create shm region")
	}
	return region, nil
}

// OpenRegion maps an existing shared memory object for its entire size.
// readOnly selects the mapping mode; observers pass true.
func OpenRegion(name string, readOnly bool) (*mmf.MemoryRegion, error) {
	obj, err := shm.Open(name, readOnly)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open shm object")
	}
	defer obj.Close()
	size := obj.Size()
	if size == 0 {
		return nil, errors.New("shm object has zero size")
	}
	mode := mmf.MEM_READWRITE
	if readOnly {
		mode = mmf.MEM_READ_ONLY
	}
	region, err := mmf.NewMemoryRegion(obj, mode, int(size))
	if err != nil {
		return nil, errors.Wrap(err, "failed to map shm region")
	}
	return region, nil
}
