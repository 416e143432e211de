package cs

import (
	"errors"
	"fmt"

	"github.com/sarchlab/securebounce/device"
)

var (
	// ErrNoRing is returned when an engine has no usable ring.
	ErrNoRing = errors.New("no ring available")

	// ErrReused is returned when a request is submitted a second time.
	ErrReused = errors.New("request already submitted")

	// ErrReleased is returned when a released context is used.
	ErrReleased = errors.New("context released")
)

// ErrorKind classifies a failed submission.
type ErrorKind int

// Submission failure kinds.
const (
	Other ErrorKind = iota
	ContextLost
	InvalidPacket
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case ContextLost:
		return "ContextLost"
	case InvalidPacket:
		return "InvalidPacket"
	case Timeout:
		return "Timeout"
	default:
		return "Other"
	}
}

// SubmissionError is returned when the driver fails to execute a request.
type SubmissionError struct {
	Kind ErrorKind
	Ring uint32
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission on ring %d failed (%s): %v",
		e.Ring, e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Classify maps a driver error to a failure kind.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, device.ErrContextLost):
		return ContextLost
	case errors.Is(err, device.ErrInvalidPacket):
		return InvalidPacket
	case errors.Is(err, device.ErrTimeout):
		return Timeout
	default:
		return Other
	}
}

// KindOf returns the failure kind of a submission error anywhere in the
// chain of err. ok is false if err holds no SubmissionError.
func KindOf(err error) (kind ErrorKind, ok bool) {
	var se *SubmissionError
	if !errors.As(err, &se) {
		return Other, false
	}

	return se.Kind, true
}
