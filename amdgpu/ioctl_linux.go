package amdgpu

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/sarchlab/securebounce/device"
	"golang.org/x/sys/unix"
)

// ioctl issues a request on the render node, restarting it when a signal
// interrupts the call.
func (d *Driver) ioctl(req uint32, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), uintptr(req), uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}

// mapErrno translates a kernel error into the device error kinds.
func mapErrno(op string, err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch errno {
	case unix.ECANCELED, unix.ENODEV:
		return fmt.Errorf("%s: %w: %w", op, device.ErrContextLost, errno)
	case unix.EINVAL:
		return fmt.Errorf("%s: %w: %w", op, device.ErrInvalidPacket, errno)
	case unix.ETIME, unix.ETIMEDOUT:
		return fmt.Errorf("%s: %w: %w", op, device.ErrTimeout, errno)
	case unix.ENOENT:
		return fmt.Errorf("%s: %w: %w", op, device.ErrNotFound, errno)
	default:
		return fmt.Errorf("%s: %w", op, errno)
	}
}
