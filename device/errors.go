package device

import (
	"errors"
	"fmt"
)

// Sentinel errors that drivers wrap. Callers test them with errors.Is.
var (
	// ErrDeviceUnavailable means the device cannot run the secure-memory
	// suite at all.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrContextLost means the submission context was reset or lost.
	ErrContextLost = errors.New("context lost")

	// ErrInvalidPacket means the engine rejected the command stream.
	ErrInvalidPacket = errors.New("invalid packet")

	// ErrTimeout means a submission did not complete within the driver wait.
	ErrTimeout = errors.New("submission timed out")

	// ErrUnsupported means the driver does not allow the requested
	// combination, such as encryption in a domain that cannot hold it.
	ErrUnsupported = errors.New("unsupported")

	// ErrNotFound means a handle does not name a live object.
	ErrNotFound = errors.New("not found")
)

// SkipError tells the runner that the suite must be skipped on this device.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skipping secure memory suite: %s", e.Reason)
}

// Unwrap makes a SkipError match ErrDeviceUnavailable.
func (e *SkipError) Unwrap() error {
	return ErrDeviceUnavailable
}

// IsSkip reports whether err asks for the suite to be skipped.
func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}
