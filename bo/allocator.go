// Package bo allocates and frees GPU buffer objects.
package bo

import (
	"errors"
	"fmt"

	"github.com/sarchlab/securebounce/device"
	"gvisor.dev/gvisor/pkg/cleanup"
	"k8s.io/klog/v2"
)

// Allocator creates buffer objects on a device.
type Allocator struct {
	dev *device.Device
}

// NewAllocator creates an Allocator.
func NewAllocator(dev *device.Device) *Allocator {
	return &Allocator{dev: dev}
}

type allocOptions struct {
	noCPUAccess bool
}

// Option tunes an allocation.
type Option func(o *allocOptions)

// WithNoCPUAccess creates a buffer that is never mapped to the CPU.
func WithNoCPUAccess() Option {
	return func(o *allocOptions) {
		o.noCPUAccess = true
	}
}

func validate(size, alignment uint64, domain device.Domain) error {
	switch {
	case size == 0:
		return fmt.Errorf("size is zero: %w", ErrInvalidArgument)
	case alignment == 0 || alignment&(alignment-1) != 0:
		return fmt.Errorf("alignment %d is not a power of two: %w",
			alignment, ErrInvalidArgument)
	case !domain.Valid():
		return fmt.Errorf("%s: %w", domain, ErrInvalidArgument)
	}

	return nil
}

// Allocate creates a buffer, binds a GPU virtual address, and maps it to the
// CPU. A failure after the buffer is created releases everything done so far
// in reverse order.
func (a *Allocator) Allocate(
	size, alignment uint64,
	domain device.Domain,
	encrypted bool,
	opts ...Option,
) (*BufferObject, error) {
	var o allocOptions
	for _, opt := range opts {
		opt(&o)
	}

	fail := func(step string, err error) error {
		return &AllocationError{
			Size:      size,
			Domain:    domain,
			Encrypted: encrypted,
			Step:      step,
			Err:       err,
		}
	}

	if err := validate(size, alignment, domain); err != nil {
		return nil, fail("validate", err)
	}

	req := device.AllocRequest{
		Size:      size,
		Alignment: alignment,
		Domain:    domain,
	}
	if encrypted {
		req.Flags |= device.FlagEncrypted
	}
	if o.noCPUAccess {
		req.Flags |= device.FlagNoCPUAccess
	}

	drv := a.dev.Driver()

	h, err := drv.Alloc(req)
	if err != nil {
		return nil, fail("create", err)
	}

	cu := cleanup.Make(func() {
		if err := drv.Free(h); err != nil {
			klog.ErrorS(err, "Releasing buffer after failed allocation",
				"handle", h)
		}
	})
	defer cu.Clean()

	va, err := drv.MapGPU(h, size)
	if err != nil {
		return nil, fail("map gpu", err)
	}

	cu.Add(func() {
		if err := drv.UnmapGPU(h, va, size); err != nil {
			klog.ErrorS(err, "Unmapping buffer after failed allocation",
				"handle", h)
		}
	})

	b := &BufferObject{
		handle:    h,
		size:      size,
		domain:    domain,
		encrypted: encrypted,
		va:        va,
	}

	if !o.noCPUAccess {
		m, err := drv.MapCPU(h, size)
		if err != nil {
			return nil, fail("map cpu", err)
		}
		b.mapping = m
	}

	cu.Release()

	klog.V(2).InfoS("Buffer allocated",
		"handle", h, "size", size, "domain", domain,
		"encrypted", encrypted, "va", fmt.Sprintf("0x%x", va))

	return b, nil
}

// Free unmaps the buffer from the CPU and the GPU and releases it. Every
// release step runs even if an earlier one fails.
func (a *Allocator) Free(b *BufferObject) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.freed {
		return fmt.Errorf("free buffer %d: %w", b.handle, ErrFreed)
	}
	b.freed = true

	drv := a.dev.Driver()

	var errs []error
	if b.mapping != nil {
		errs = append(errs, drv.UnmapCPU(b.handle))
		b.mapping = nil
	}

	errs = append(errs,
		drv.UnmapGPU(b.handle, b.va, b.size),
		drv.Free(b.handle),
	)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("free buffer %d: %w", b.handle, err)
	}

	klog.V(2).InfoS("Buffer freed", "handle", b.handle)

	return nil
}
