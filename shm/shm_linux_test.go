// Copyright 2015 Aleksandr Demakin. All rights reserved.

//go:build linux

package shm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShmFsFromReader(t *testing.T) {
	const testData = `
		#
		# /etc/fstab
		UUID=cd459033-ae0a-4fb4-96fb-2323365a8e21 / ext4 defaults 1 1
		tmpfs /dev/shm tmpfs rw,seclabel,nosuid,nodev 0 0
	`
	path := shmFsFromReader(strings.NewReader(testData))
	assert.Equal(t, "/dev/shm/", path)

	const notTmpfs = "tmpfs /dev/shm nottmpfs rw,seclabel,nosuid,nodev 0 0"
	assert.Equal(t, "", shmFsFromReader(strings.NewReader(notTmpfs)))
}
