// Copyright 2015 Aleksandr Demakin. All rights reserved.

//go:build darwin || freebsd

package shm

import (
	"os"
	"syscall"
	"unsafe"

	"github.com/HFTrader/memglass/internal/allocator"
	"golang.org/x/sys/unix"
)

func doDestroyMemoryObject(path string) error {
	err := shm_unlink(path)
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

func shmName(name string) (string, error) {
	return "/" + name, nil
}

func shmOpen(path string, flag int, perm os.FileMode) (*os.File, error) {
	flag |= unix.O_CLOEXEC
	fd, err := shm_open(path, flag, int(perm))
	if err != nil {
		return nil, err
	}
	return os.NewFile(fd, path), nil
}

// syscalls

func shm_open(name string, flags, mode int) (uintptr, error) {
	nameBytes, err := unix.BytePtrFromString(name)
	if err != nil {
		return 0, err
	}
	bytes := unsafe.Pointer(nameBytes)
	fd, _, errno := unix.Syscall(unix.SYS_SHM_OPEN, uintptr(bytes), uintptr(flags), uintptr(mode))
	allocator.Use(bytes)
	if errno != syscall.Errno(0) {
		if errno == unix.ENOENT || errno == unix.EEXIST {
			return 0, &os.PathError{Path: name, Op: "shm_open", Err: errno}
		}
		return 0, errno
	}
	return fd, nil
}

func shm_unlink(name string) error {
	nameBytes, err := unix.BytePtrFromString(name)
	if err != nil {
		return err
	}
	bytes := unsafe.Pointer(nameBytes)
	_, _, errno := unix.Syscall(unix.SYS_SHM_UNLINK, uintptr(bytes), uintptr(0), uintptr(0))
	allocator.Use(bytes)
	if errno != syscall.Errno(0) {
		if errno == unix.ENOENT {
			return &os.PathError{Path: name, Op: "shm_unlink", Err: errno}
		}
		return errno
	}
	return nil
}
