// Package cs submits command streams to the GPU engines.
package cs

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/sim"
	"k8s.io/klog/v2"
)

// LowestRing returns the index of the lowest ring set in the mask.
func LowestRing(mask uint32) (uint32, error) {
	if mask == 0 {
		return 0, ErrNoRing
	}

	return uint32(bits.TrailingZeros32(mask)), nil
}

// A Context is a submission context bound to one ring of one engine.
type Context struct {
	sim.HookableBase

	dev    *device.Device
	handle device.ContextHandle
	kind   device.EngineKind
	ring   uint32

	lock     sync.Mutex
	released bool
}

// NewContext creates a hardware context and selects the lowest available
// ring of the engine.
func NewContext(dev *device.Device, kind device.EngineKind) (*Context, error) {
	mask, err := dev.QueryRings(kind)
	if err != nil {
		return nil, err
	}

	ring, err := LowestRing(mask)
	if err != nil {
		return nil, fmt.Errorf("%s engine: %w", kind, err)
	}

	h, err := dev.CreateContext()
	if err != nil {
		return nil, err
	}

	klog.V(1).InfoS("Context created", "context", h, "engine", kind, "ring", ring)

	return &Context{
		dev:    dev,
		handle: h,
		kind:   kind,
		ring:   ring,
	}, nil
}

// Device returns the device the context belongs to.
func (c *Context) Device() *device.Device {
	return c.dev
}

// Handle returns the driver context handle.
func (c *Context) Handle() device.ContextHandle {
	return c.handle
}

// Engine returns the engine kind of the context.
func (c *Context) Engine() device.EngineKind {
	return c.kind
}

// Ring returns the selected ring.
func (c *Context) Ring() uint32 {
	return c.ring
}

// Release destroys the hardware context. Releasing twice is a no-op.
func (c *Context) Release() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.released {
		return nil
	}
	c.released = true

	return c.dev.DestroyContext(c.handle)
}

func (c *Context) isReleased() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.released
}
