//go:build !linux

package amdgpu

import (
	"fmt"
	"runtime"

	"github.com/sarchlab/securebounce/device"
)

func unavailable() error {
	return fmt.Errorf("amdgpu render nodes need linux, not %s: %w",
		runtime.GOOS, device.ErrDeviceUnavailable)
}

// Open always fails outside linux.
func (d *Driver) Open() error { return unavailable() }

// Close does nothing outside linux.
func (d *Driver) Close() error { return nil }

func (d *Driver) Version() (device.Version, error) { return device.Version{}, unavailable() }

func (d *Driver) Capabilities() (device.Capability, error) { return 0, unavailable() }

func (d *Driver) QueryRings(device.EngineKind) (uint32, error) { return 0, unavailable() }

func (d *Driver) CreateContext() (device.ContextHandle, error) { return 0, unavailable() }

func (d *Driver) DestroyContext(device.ContextHandle) error { return unavailable() }

func (d *Driver) Alloc(device.AllocRequest) (device.Handle, error) { return 0, unavailable() }

func (d *Driver) MapGPU(device.Handle, uint64) (uint64, error) { return 0, unavailable() }

func (d *Driver) UnmapGPU(device.Handle, uint64, uint64) error { return unavailable() }

func (d *Driver) MapCPU(device.Handle, uint64) (device.Mapping, error) { return nil, unavailable() }

func (d *Driver) UnmapCPU(device.Handle) error { return unavailable() }

func (d *Driver) Free(device.Handle) error { return unavailable() }

func (d *Driver) SetPlacement(device.Handle, device.Domain) error { return unavailable() }

func (d *Driver) Submit(device.ContextHandle, device.Submission) error { return unavailable() }
