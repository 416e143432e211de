// Package device wraps a kernel driver into the device handle used by the
// secure memory harness.
package device

import (
	"errors"
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// DefaultMinVersion is the oldest driver protocol with encrypted buffers.
var DefaultMinVersion = Version{Major: 3, Minor: 37}

// Device is an opened driver together with its protocol version and
// security capabilities.
type Device struct {
	driver Driver

	version    Version
	caps       Capability
	minVersion Version

	lock     sync.Mutex
	contexts map[ContextHandle]struct{}
	closed   bool
}

// Option configures Open.
type Option func(d *Device)

// WithMinVersion overrides the minimum protocol version the device must
// report.
func WithMinVersion(v Version) Option {
	return func(d *Device) {
		d.minVersion = v
	}
}

// Open opens the driver and checks its protocol version.
func Open(drv Driver, opts ...Option) (*Device, error) {
	d := &Device{
		driver:     drv,
		minVersion: DefaultMinVersion,
		contexts:   make(map[ContextHandle]struct{}),
	}

	for _, o := range opts {
		o(d)
	}

	if err := drv.Open(); err != nil {
		return nil, unavailable("open", err)
	}

	v, err := drv.Version()
	if err != nil {
		_ = drv.Close()
		return nil, unavailable("query version", err)
	}

	if !v.AtLeast(d.minVersion) {
		_ = drv.Close()
		return nil, &SkipError{
			Reason: fmt.Sprintf("driver version %s is older than %s",
				v, d.minVersion),
		}
	}

	caps, err := drv.Capabilities()
	if err != nil {
		_ = drv.Close()
		return nil, unavailable("query capabilities", err)
	}

	d.version = v
	d.caps = caps

	klog.V(1).InfoS("Device opened", "version", v, "caps", caps)

	return d, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrDeviceUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w: %w", op, ErrDeviceUnavailable, err)
}

// Driver returns the underlying driver.
func (d *Device) Driver() Driver {
	return d.driver
}

// Version returns the driver protocol version.
func (d *Device) Version() Version {
	return d.version
}

// Capabilities returns the device security capabilities.
func (d *Device) Capabilities() Capability {
	return d.caps
}

// Supports reports whether the device has a capability.
func (d *Device) Supports(c Capability) bool {
	return d.caps.Has(c)
}

// Gate returns a SkipError if the device cannot run the secure memory suite.
func (d *Device) Gate() error {
	if !d.version.AtLeast(d.minVersion) {
		return &SkipError{
			Reason: fmt.Sprintf("driver version %s is older than %s",
				d.version, d.minVersion),
		}
	}

	if !d.Supports(CapTMZ) {
		return &SkipError{Reason: "device does not support TMZ"}
	}

	return nil
}

// QueryRings returns the bitmask of available rings of an engine kind.
func (d *Device) QueryRings(kind EngineKind) (uint32, error) {
	mask, err := d.driver.QueryRings(kind)
	if err != nil {
		return 0, fmt.Errorf("query %s rings: %w", kind, err)
	}

	return mask, nil
}

// CreateContext creates a command submission context.
func (d *Device) CreateContext() (ContextHandle, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return 0, fmt.Errorf("create context: %w", ErrDeviceUnavailable)
	}

	h, err := d.driver.CreateContext()
	if err != nil {
		return 0, fmt.Errorf("create context: %w", err)
	}

	d.contexts[h] = struct{}{}

	return h, nil
}

// DestroyContext releases a context created by CreateContext.
func (d *Device) DestroyContext(h ContextHandle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if _, ok := d.contexts[h]; !ok {
		return fmt.Errorf("destroy context %d: %w", h, ErrNotFound)
	}

	delete(d.contexts, h)

	if err := d.driver.DestroyContext(h); err != nil {
		return fmt.Errorf("destroy context %d: %w", h, err)
	}

	return nil
}

// OpenContexts returns the number of contexts that are not destroyed yet.
func (d *Device) OpenContexts() int {
	d.lock.Lock()
	defer d.lock.Unlock()

	return len(d.contexts)
}

// Close destroys the remaining contexts and closes the driver. Calling Close
// more than once is a no-op.
func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for h := range d.contexts {
		klog.Warningf("Context %d still open at device close", h)
		errs = append(errs, d.driver.DestroyContext(h))
	}
	clear(d.contexts)

	errs = append(errs, d.driver.Close())

	return errors.Join(errs...)
}
