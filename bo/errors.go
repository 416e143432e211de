package bo

import (
	"errors"
	"fmt"

	"github.com/sarchlab/securebounce/device"
)

var (
	// ErrInvalidArgument is returned for requests that break the allocation
	// preconditions. The device is not touched.
	ErrInvalidArgument = errors.New("invalid allocation request")

	// ErrNotMapped is returned when the CPU mapping of a buffer is absent.
	ErrNotMapped = errors.New("buffer is not CPU mapped")

	// ErrFreed is returned when a freed buffer is used.
	ErrFreed = errors.New("buffer already freed")

	// ErrOutOfRange is returned for accesses beyond the end of a buffer.
	ErrOutOfRange = errors.New("access out of buffer range")
)

// AllocationError reports a failed allocation. Step names the part of the
// allocation sequence that failed.
type AllocationError struct {
	Size      uint64
	Domain    device.Domain
	Encrypted bool
	Step      string
	Err       error
}

func (e *AllocationError) Error() string {
	kind := "plain"
	if e.Encrypted {
		kind = "encrypted"
	}

	return fmt.Sprintf("allocating %d byte %s buffer in %s: %s: %v",
		e.Size, kind, e.Domain, e.Step, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}
