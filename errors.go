// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// Error kinds surfaced by the telemetry substrate. Callers classify
// wrapped errors with errors.Is.
var (
	// ErrNameExists is returned when a shared memory name is already bound.
	ErrNameExists = errors.New("name already exists")
	// ErrNotFound is returned when a session or region name is not bound.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when the OS refuses access to a name.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrOutOfSpace is returned when a shared memory region cannot be created or grown.
	ErrOutOfSpace = errors.New("out of space")
	// ErrCapacityExhausted is returned when a metadata pool cannot hold another entry.
	ErrCapacityExhausted = errors.New("capacity exhausted")
	// ErrRequestTooLarge is returned when a single request cannot fit any region.
	ErrRequestTooLarge = errors.New("request too large")
	// ErrNotInSession is returned when a pointer does not belong to a session region.
	ErrNotInSession = errors.New("pointer not in session")
	// ErrVersionMismatch is returned when a header's magic or version is unknown.
	ErrVersionMismatch = errors.New("version mismatch")
	// ErrSnapshotUnstable is returned when a consistent snapshot could not
	// be taken in a bounded number of attempts.
	ErrSnapshotUnstable = errors.New("snapshot unstable")
	// ErrSessionAlreadyOpen is returned when a producer for the session name exists.
	ErrSessionAlreadyOpen = errors.New("session already open")
	// ErrInvalidSessionName is returned for empty, oversized, or path-like session names.
	ErrInvalidSessionName = errors.New("invalid session name")
)

// osError converts an error from the shm layer into one of the
// substrate's error kinds, keeping the cause chain.
func osError(err error, exists, notFound error) error {
	cause := errors.Cause(err)
	switch {
	case os.IsExist(cause):
		return errors.WithMessage(exists, err.Error())
	case os.IsNotExist(cause):
		return errors.WithMessage(notFound, err.Error())
	case os.IsPermission(cause):
		return errors.WithMessage(ErrPermissionDenied, err.Error())
	case errors.Is(cause, syscall.ENOSPC):
		return errors.WithMessage(ErrOutOfSpace, err.Error())
	}
	return err
}
