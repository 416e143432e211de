package simgpu

import "errors"

var (
	// ErrOutOfMemory is returned when a pool cannot hold a buffer.
	ErrOutOfMemory = errors.New("out of device memory")

	// ErrVMFault is reported when a command touches memory outside the
	// buffers the submission references.
	ErrVMFault = errors.New("gpu vm fault")

	// ErrPlacementFault is returned by an injected placement failure.
	ErrPlacementFault = errors.New("placement change failed")

	// ErrNotMapped is returned when a CPU mapping is used after unmapping.
	ErrNotMapped = errors.New("mapping is closed")
)
