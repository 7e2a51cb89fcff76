// Copyright 2015 Aleksandr Demakin. All rights reserved.

package shm

import (
	"os"
	"runtime"

	"github.com/pkg/errors"
)

// Object is a named POSIX shared memory object, which can be
// mapped into the process' address space via mmf.
type Object struct {
	*memoryObject
}

// Create makes a new shared memory object of the given size.
// name - a name of the object. should not contain '/' and exceed 255 symbols.
// It fails, if an object with the same name already exists.
func Create(name string, size int64, perm os.FileMode) (*Object, error) {
	impl, err := newMemoryObject(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, perm)
	if err != nil {
		return nil, err
	}
	if err = impl.Truncate(size); err != nil {
		impl.Close()
		impl.destroy()
		return nil, errors.Wrap(err, "failed to truncate shm object")
	}
	return wrap(impl), nil
}

// Open opens an existing shared memory object. If readOnly is true,
// the returned object can only be mapped for reading.
func Open(name string, readOnly bool) (*Object, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	impl, err := newMemoryObject(name, flag, 0)
	if err != nil {
		return nil, err
	}
	return wrap(impl), nil
}

// Unlink removes the object's name from the system. Mappings and open
// descriptors survive until their last close. Removing a name, which
// does not exist, is not an error.
func Unlink(name string) error {
	return destroyMemoryObject(name)
}

func wrap(impl *memoryObject) *Object {
	result := &Object{impl}
	runtime.SetFinalizer(impl, func(obj *memoryObject) {
		obj.Close()
	})
	return result
}
