// Package amdgpu drives a real AMD GPU through the amdgpu DRM ioctl
// interface of a Linux render node. It implements device.Driver.
package amdgpu

import (
	"sync"
	"time"

	"github.com/sarchlab/securebounce/device"
)

const pageSize = 4096

// DefaultRenderNode is the first render node of the system.
const DefaultRenderNode = "/dev/dri/renderD128"

// DefaultWaitTimeout is how long Submit waits for a command stream.
const DefaultWaitTimeout = 2 * time.Second

type buffer struct {
	size    uint64
	domain  device.Domain
	flags   device.Flags
	cpu     *mapping
}

// Driver is an amdgpu render node.
type Driver struct {
	name        string
	path        string
	waitTimeout time.Duration

	lock    sync.Mutex
	fd      int
	opened  bool
	caps    device.Capability
	vaSpace *device.RangeAllocator
	vaAlign uint64
	buffers map[device.Handle]*buffer

	// Indirect buffers of submissions that timed out. The GPU may still
	// read them, so they are released on Close.
	stale []device.Handle
}

// A Builder can build amdgpu drivers.
type Builder struct {
	path        string
	waitTimeout time.Duration
}

// MakeBuilder creates a builder for the default render node.
func MakeBuilder() Builder {
	return Builder{
		path:        DefaultRenderNode,
		waitTimeout: DefaultWaitTimeout,
	}
}

// WithRenderNode sets the path of the render node to open.
func (b Builder) WithRenderNode(path string) Builder {
	b.path = path
	return b
}

// WithWaitTimeout sets how long a submission may run.
func (b Builder) WithWaitTimeout(t time.Duration) Builder {
	b.waitTimeout = t
	return b
}

// Build creates a driver. The render node is opened by Open.
func (b Builder) Build(name string) *Driver {
	return &Driver{
		name:        name,
		path:        b.path,
		waitTimeout: b.waitTimeout,
		fd:          -1,
		buffers:     make(map[device.Handle]*buffer),
	}
}

// Name returns the name of the driver.
func (d *Driver) Name() string {
	return d.name
}

// RenderNode returns the path of the render node.
func (d *Driver) RenderNode() string {
	return d.path
}

func gemDomain(domain device.Domain) uint64 {
	switch domain {
	case device.DomainVRAM:
		return gemDomainVRAM
	case device.DomainGTT:
		return gemDomainGTT
	default:
		return gemDomainCPU
	}
}

func gemFlags(flags device.Flags) uint64 {
	var f uint64

	if flags.Has(device.FlagEncrypted) {
		f |= gemCreateEncrypted
	}

	if flags.Has(device.FlagNoCPUAccess) {
		f |= gemCreateNoCPUAccess
	} else {
		f |= gemCreateCPUAccessRequired
	}

	return f
}

func hwIP(kind device.EngineKind) uint32 {
	if kind == device.EngineGFX {
		return hwIPGFX
	}

	return hwIPDMA
}

func alignUp(n, alignment uint64) uint64 {
	return (n + alignment - 1) &^ (alignment - 1)
}
