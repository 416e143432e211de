// Package simgpu provides a simulated TMZ capable GPU that implements
// device.Driver.
//
// Memory lives in three pools with disjoint physical address ranges. Encrypted
// buffers hold AES-XTS ciphertext tweaked by the physical address, so moving
// an encrypted buffer requires re-encryption. Submissions run on a serial
// event engine in simulated time.
package simgpu

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/sdma"
	"github.com/sarchlab/securebounce/sim"
	"github.com/sarchlab/securebounce/tracing"
	"k8s.io/klog/v2"
)

// Events of the engine are logged at this verbosity.
const eventLogLevel = 4

// Stats counts the objects and operations of a simulated GPU.
type Stats struct {
	LiveBuffers  int
	LiveContexts int
	Submissions  uint64
	Commands     uint64
	Migrations   uint64
	Timeouts     uint64
	LostContexts uint64
}

type contextState struct {
	lost bool
}

// Driver is a simulated GPU.
type Driver struct {
	sim.HookableBase

	name   string
	cfg    Config
	cipher *tmzCipher

	engine *sim.SerialEngine

	lock      sync.Mutex
	opened    bool
	pools     map[device.Domain]*pool
	vaSpace   *device.RangeAllocator
	pageTable *pageTable
	buffers   map[device.Handle]*buffer
	contexts  map[device.ContextHandle]*contextState

	nextHandle  device.Handle
	nextContext device.ContextHandle
	allocCount  int
	taskCount   uint64
	stats       Stats
}

func (d *Driver) reset() {
	d.engine.Drop()
	d.pools = map[device.Domain]*pool{
		device.DomainVRAM:   newPool(device.DomainVRAM, vramBase, d.cfg.VRAMSize),
		device.DomainGTT:    newPool(device.DomainGTT, gttBase, d.cfg.GTTSize),
		device.DomainSystem: newPool(device.DomainSystem, systemBase, d.cfg.SystemSize),
	}
	d.vaSpace = device.NewRangeAllocator(vaBase, vaSize)
	d.pageTable = newPageTable()
	d.buffers = make(map[device.Handle]*buffer)
	d.contexts = make(map[device.ContextHandle]*contextState)
}

// Name returns the name of the GPU.
func (d *Driver) Name() string {
	return d.name
}

// Config returns the configuration the GPU was built with.
func (d *Driver) Config() Config {
	return d.cfg
}

// CurrentTime returns the simulated time of the GPU engines.
// The engine lives as long as the driver, so the time never goes back.
func (d *Driver) CurrentTime() sim.VTimeInSec {
	return d.engine.CurrentTime()
}

// Stats returns the counters of the GPU.
func (d *Driver) Stats() Stats {
	d.lock.Lock()
	defer d.lock.Unlock()

	s := d.stats
	s.LiveBuffers = len(d.buffers)
	s.LiveContexts = len(d.contexts)

	return s
}

func (d *Driver) nextTaskID() string {
	d.taskCount++
	return d.name + "." + strconv.FormatUint(d.taskCount, 10)
}

func (d *Driver) mustBeOpen() error {
	if !d.opened {
		return fmt.Errorf("%s is not open: %w", d.name, device.ErrDeviceUnavailable)
	}

	return nil
}

// Open makes the GPU usable.
func (d *Driver) Open() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.opened = true

	return nil
}

// Close releases every object of the GPU.
func (d *Driver) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if n := len(d.buffers); n > 0 {
		klog.Warningf("%s closed with %d live buffers", d.name, n)
	}

	d.opened = false
	d.reset()

	return nil
}

// Version returns the configured driver protocol version.
func (d *Driver) Version() (device.Version, error) {
	return d.cfg.Version, nil
}

// Capabilities returns the configured capabilities.
func (d *Driver) Capabilities() (device.Capability, error) {
	return d.cfg.Caps, nil
}

func (d *Driver) ringMask(kind device.EngineKind) (uint32, error) {
	switch kind {
	case device.EngineGFX:
		return d.cfg.GFXRings, nil
	case device.EngineDMA:
		return d.cfg.DMARings, nil
	default:
		return 0, fmt.Errorf("engine %s: %w", kind, device.ErrNotFound)
	}
}

// QueryRings returns the ring mask of an engine.
func (d *Driver) QueryRings(kind device.EngineKind) (uint32, error) {
	return d.ringMask(kind)
}

// CreateContext creates a submission context.
func (d *Driver) CreateContext() (device.ContextHandle, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return 0, err
	}

	d.nextContext++
	d.contexts[d.nextContext] = &contextState{}

	return d.nextContext, nil
}

// DestroyContext destroys a submission context.
func (d *Driver) DestroyContext(h device.ContextHandle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if _, ok := d.contexts[h]; !ok {
		return fmt.Errorf("context %d: %w", h, device.ErrNotFound)
	}

	delete(d.contexts, h)

	return nil
}

func (d *Driver) buffer(h device.Handle) (*buffer, error) {
	b, ok := d.buffers[h]
	if !ok {
		return nil, fmt.Errorf("buffer %d: %w", h, device.ErrNotFound)
	}

	return b, nil
}

// Alloc creates a buffer.
func (d *Driver) Alloc(req device.AllocRequest) (device.Handle, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return 0, err
	}

	d.allocCount++
	if d.allocCount == d.cfg.Faults.FailAllocAt {
		return 0, fmt.Errorf("injected allocation failure: %w", ErrOutOfMemory)
	}

	if req.Size == 0 || !req.Domain.Valid() {
		return 0, fmt.Errorf("size %d in %s: %w",
			req.Size, req.Domain, device.ErrInvalidPacket)
	}

	if req.Alignment&(req.Alignment-1) != 0 {
		return 0, fmt.Errorf("alignment %d is not a power of two: %w",
			req.Alignment, device.ErrInvalidPacket)
	}

	if req.Flags.Has(device.FlagEncrypted) {
		if !d.cfg.Caps.Has(device.CapTMZ) {
			return 0, fmt.Errorf("encrypted buffer without TMZ: %w",
				device.ErrUnsupported)
		}

		if req.Domain == device.DomainSystem {
			return 0, fmt.Errorf("encrypted buffer in %s: %w",
				req.Domain, device.ErrUnsupported)
		}
	}

	b := &buffer{
		size:      req.Size,
		allocSize: roundUp(req.Size, pageSize),
		alignment: max(req.Alignment, pageSize),
		domain:    req.Domain,
		flags:     req.Flags,
	}

	pa, err := d.place(b, req.Domain)
	if err != nil {
		return 0, err
	}
	b.pa = pa

	d.nextHandle++
	b.handle = d.nextHandle
	d.buffers[b.handle] = b

	return b.handle, nil
}

// MapGPU binds a GPU virtual address range to the buffer.
func (d *Driver) MapGPU(h device.Handle, size uint64) (uint64, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	b, err := d.buffer(h)
	if err != nil {
		return 0, err
	}

	if b.gpuMapped {
		return 0, fmt.Errorf("buffer %d already has a gpu mapping: %w",
			h, device.ErrUnsupported)
	}

	if size > b.allocSize {
		return 0, fmt.Errorf("mapping %d bytes of a %d byte buffer: %w",
			size, b.allocSize, device.ErrInvalidPacket)
	}

	va, err := d.vaSpace.Alloc(b.allocSize, b.alignment)
	if err != nil {
		return 0, err
	}

	for off := uint64(0); off < b.allocSize; off += pageSize {
		d.pageTable.insert(page{
			VAddr:  va + off,
			PAddr:  b.pa + off,
			Domain: b.domain,
			Handle: h,
		})
	}

	b.va = va
	b.gpuMapped = true

	return va, nil
}

// UnmapGPU removes the GPU virtual address range of the buffer.
func (d *Driver) UnmapGPU(h device.Handle, va uint64, _ uint64) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	b, err := d.buffer(h)
	if err != nil {
		return err
	}

	if !b.gpuMapped || b.va != va {
		return fmt.Errorf("buffer %d is not mapped at 0x%x: %w",
			h, va, device.ErrNotFound)
	}

	return d.unmapGPU(b)
}

func (d *Driver) unmapGPU(b *buffer) error {
	for off := uint64(0); off < b.allocSize; off += pageSize {
		d.pageTable.remove(b.va + off)
	}

	b.gpuMapped = false

	return d.vaSpace.Release(b.va)
}

// MapCPU returns a CPU view of the buffer.
func (d *Driver) MapCPU(h device.Handle, size uint64) (device.Mapping, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	b, err := d.buffer(h)
	if err != nil {
		return nil, err
	}

	if b.flags.Has(device.FlagNoCPUAccess) {
		return nil, fmt.Errorf("buffer %d has no cpu access: %w",
			h, device.ErrUnsupported)
	}

	b.cpuMapped = true

	return &mapping{d: d, handle: h, size: min(size, b.size)}, nil
}

// UnmapCPU invalidates the CPU views of the buffer.
func (d *Driver) UnmapCPU(h device.Handle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	b, err := d.buffer(h)
	if err != nil {
		return err
	}

	if !b.cpuMapped {
		return fmt.Errorf("buffer %d: %w", h, ErrNotMapped)
	}

	b.cpuMapped = false

	return nil
}

// Free releases the buffer and its mappings.
func (d *Driver) Free(h device.Handle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	b, err := d.buffer(h)
	if err != nil {
		return err
	}

	var errs []error
	if b.gpuMapped {
		errs = append(errs, d.unmapGPU(b))
	}

	errs = append(errs, d.pools[b.domain].release(b.pa, b.allocSize))
	delete(d.buffers, h)

	return errors.Join(errs...)
}

// SetPlacement records a move of the buffer. The move happens when a
// submission next references the buffer.
func (d *Driver) SetPlacement(h device.Handle, domain device.Domain) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	b, err := d.buffer(h)
	if err != nil {
		return err
	}

	if d.cfg.Faults.FailPlacement {
		return fmt.Errorf("buffer %d to %s: %w", h, domain, ErrPlacementFault)
	}

	if !domain.Valid() {
		return fmt.Errorf("buffer %d to %s: %w", h, domain, device.ErrUnsupported)
	}

	if b.encrypted() && domain == device.DomainSystem {
		return fmt.Errorf("encrypted buffer %d to %s: %w",
			h, domain, device.ErrUnsupported)
	}

	b.pending = &domain

	return nil
}

// Submit executes a command stream and waits for it in simulated time.
func (d *Driver) Submit(ctxHandle device.ContextHandle, s device.Submission) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	ctx, ok := d.contexts[ctxHandle]
	if !ok {
		return fmt.Errorf("context %d: %w", ctxHandle, device.ErrNotFound)
	}

	if ctx.lost {
		return fmt.Errorf("context %d: %w", ctxHandle, device.ErrContextLost)
	}

	x, err := d.prepare(s)
	if err != nil {
		return err
	}

	d.stats.Submissions++
	if int(d.stats.Submissions) == d.cfg.Faults.LoseContextAt {
		d.loseContext(ctx)
		return fmt.Errorf("injected context loss: %w", device.ErrContextLost)
	}

	tracing.StartTask(d, tracing.Task{
		ID:     x.taskID,
		Kind:   tracing.KindSubmission,
		What:   s.Engine.String(),
		Detail: s,
	})
	defer tracing.EndTask(d, x.taskID)

	for _, b := range x.referenced {
		if b.pending == nil {
			continue
		}

		if err := d.migrate(b, x.taskID); err != nil {
			return err
		}
	}

	if d.cfg.Faults.HangRings&(1<<s.Ring) != 0 {
		x.hang()
	} else {
		x.start()
	}

	deadline := d.engine.CurrentTime() + d.cfg.WaitTimeout
	err = d.engine.RunUntil(deadline)

	switch {
	case errors.Is(err, sim.ErrDeadlineExceeded):
		d.engine.Drop()
		d.stats.Timeouts++
		d.loseContext(ctx)

		return fmt.Errorf("ring %d: %w", s.Ring, device.ErrTimeout)
	case err != nil:
		d.engine.Drop()
		d.loseContext(ctx)

		return fmt.Errorf("ring %d: %w: %w", s.Ring, device.ErrContextLost, err)
	case !x.done:
		log.Panicf("submission %s drained without a fence", x.taskID)
	}

	return nil
}

func (d *Driver) loseContext(ctx *contextState) {
	ctx.lost = true
	d.stats.LostContexts++
}

func (d *Driver) prepare(s device.Submission) (*execution, error) {
	mask, err := d.ringMask(s.Engine)
	if err != nil {
		return nil, err
	}

	if s.Ring >= 32 || mask&(1<<s.Ring) == 0 {
		return nil, fmt.Errorf("ring %d of %s: %w",
			s.Ring, s.Engine, device.ErrInvalidPacket)
	}

	if s.Secure && !d.cfg.Caps.Has(device.CapTMZ) {
		return nil, fmt.Errorf("secure submission without TMZ: %w",
			device.ErrInvalidPacket)
	}

	referenced := make(map[device.Handle]*buffer, len(s.Handles))
	for _, h := range s.Handles {
		b, err := d.buffer(h)
		if err != nil {
			return nil, err
		}
		referenced[h] = b
	}

	cmds, err := sdma.Decode(s.Words)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrInvalidPacket, err)
	}

	if err := validateCommands(s.Engine, cmds); err != nil {
		return nil, err
	}

	return &execution{
		d:          d,
		taskID:     d.nextTaskID(),
		engine:     s.Engine,
		secure:     s.Secure,
		cmds:       cmds,
		referenced: referenced,
	}, nil
}
