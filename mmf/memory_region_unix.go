// Copyright 2016 Aleksandr Demakin. All rights reserved.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package mmf

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type memoryRegion struct {
	data []byte
	size int
}

func newMemoryRegion(obj Mappable, mode int, size int) (*memoryRegion, error) {
	prot, flags, err := memProtAndFlagsFromMode(mode)
	if err != nil {
		return nil, err
	}
	data, err := unix.Mmap(int(obj.Fd()), 0, size, prot, flags)
	if err != nil {
		return nil, errors.Wrap(err, "mmap failed")
	}
	return &memoryRegion{data: data, size: size}, nil
}

func (impl *memoryRegion) Close() error {
	if impl.data == nil {
		return nil
	}
	err := unix.Munmap(impl.data)
	impl.data = nil
	impl.size = 0
	return err
}

func (impl *memoryRegion) Data() []byte {
	return impl.data
}

func (impl *memoryRegion) Flush(async bool) error {
	flag := unix.MS_SYNC
	if async {
		flag = unix.MS_ASYNC
	}
	return msync(impl.data, flag)
}

func (impl *memoryRegion) Size() int {
	return impl.size
}

func memProtAndFlagsFromMode(mode int) (prot, flags int, err error) {
	switch mode {
	case MEM_READ_ONLY:
		prot = unix.PROT_READ
		flags = unix.MAP_SHARED
	case MEM_READWRITE:
		prot = unix.PROT_READ | unix.PROT_WRITE
		flags = unix.MAP_SHARED
	default:
		err = errors.Errorf("invalid mem region mode %d", mode)
	}
	return
}

// syscalls
func msync(data []byte, flags int) error {
	_, _, errno := unix.Syscall(unix.SYS_MSYNC, uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)), uintptr(flags))
	if errno != 0 {
		return errno
	}
	return nil
}
