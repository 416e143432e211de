package amdgpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/sarchlab/securebounce/device"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

func (d *Driver) mustBeOpen() error {
	if !d.opened {
		return fmt.Errorf("%s is not open: %w", d.path, device.ErrDeviceUnavailable)
	}

	return nil
}

func (d *Driver) buffer(h device.Handle) (*buffer, error) {
	b, ok := d.buffers[h]
	if !ok {
		return nil, fmt.Errorf("buffer %d: %w", h, device.ErrNotFound)
	}

	return b, nil
}

// Open opens the render node and reads the virtual address layout of the
// device.
func (d *Driver) Open() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.opened {
		return nil
	}

	fd, err := unix.Open(d.path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w: %w", d.path, device.ErrDeviceUnavailable, err)
	}

	d.fd = fd

	info, err := d.devInfo()
	if err != nil {
		unix.Close(fd)
		d.fd = -1

		return fmt.Errorf("%s is not an amdgpu device: %w: %w",
			d.path, device.ErrDeviceUnavailable, err)
	}

	le := binary.LittleEndian
	if le.Uint64(info[devInfoIDSFlags:])&idsFlagsTMZ != 0 {
		d.caps |= device.CapTMZ
	}

	vaStart := le.Uint64(info[devInfoVirtualAddrOffset:])
	vaEnd := le.Uint64(info[devInfoVirtualAddrMax:])
	d.vaAlign = max(uint64(le.Uint32(info[devInfoVirtualAddrAlign:])), pageSize)
	d.vaSpace = device.NewRangeAllocator(vaStart, vaEnd-vaStart)
	d.opened = true

	klog.V(1).InfoS("opened render node", "path", d.path,
		"tmz", d.caps.Has(device.CapTMZ), "vaStart", vaStart, "vaEnd", vaEnd)

	return nil
}

func (d *Driver) devInfo() ([]byte, error) {
	info := make([]byte, devInfoSize)
	args := infoArgs{
		ReturnPointer: uint64(uintptr(unsafe.Pointer(&info[0]))),
		ReturnSize:    devInfoSize,
		Query:         infoDevInfo,
	}

	err := d.ioctl(ioctlInfo, unsafe.Pointer(&args))
	runtime.KeepAlive(info)

	if err != nil {
		return nil, mapErrno("AMDGPU_INFO(DEV_INFO)", err)
	}

	return info, nil
}

// Close frees every buffer the driver still owns and closes the render node.
func (d *Driver) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.opened {
		return nil
	}

	d.stale = nil

	var errs []error

	if n := len(d.buffers); n > 0 {
		klog.V(1).InfoS("freeing buffers left at close", "path", d.path, "count", n)
	}

	for h := range d.buffers {
		errs = append(errs, d.free(h))
	}

	errs = append(errs, unix.Close(d.fd))
	d.fd = -1
	d.opened = false

	return errors.Join(errs...)
}

// Version returns the version of the amdgpu kernel driver.
func (d *Driver) Version() (device.Version, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return device.Version{}, err
	}

	var v drmVersion
	if err := d.ioctl(ioctlVersion, unsafe.Pointer(&v)); err != nil {
		return device.Version{}, mapErrno("DRM_IOCTL_VERSION", err)
	}

	return device.Version{Major: int(v.Major), Minor: int(v.Minor)}, nil
}

// Capabilities reports whether the device runs with TMZ enabled.
func (d *Driver) Capabilities() (device.Capability, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return 0, err
	}

	return d.caps, nil
}

// QueryRings returns the mask of available rings of an engine.
func (d *Driver) QueryRings(kind device.EngineKind) (uint32, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return 0, err
	}

	var ip infoHWIP
	args := infoArgs{
		ReturnPointer: uint64(uintptr(unsafe.Pointer(&ip))),
		ReturnSize:    uint32(unsafe.Sizeof(ip)),
		Query:         infoHWIPInfo,
		Type:          hwIP(kind),
	}

	err := d.ioctl(ioctlInfo, unsafe.Pointer(&args))
	runtime.KeepAlive(&ip)

	if err != nil {
		return 0, mapErrno("AMDGPU_INFO(HW_IP_INFO)", err)
	}

	return ip.AvailableRings, nil
}

// CreateContext creates a submission context.
func (d *Driver) CreateContext() (device.ContextHandle, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return 0, err
	}

	args := ctxArgs{Op: ctxOpAllocCtx}
	if err := d.ioctl(ioctlCtx, unsafe.Pointer(&args)); err != nil {
		return 0, mapErrno("AMDGPU_CTX(ALLOC)", err)
	}

	return device.ContextHandle(args.Op), nil
}

// DestroyContext frees a submission context.
func (d *Driver) DestroyContext(h device.ContextHandle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return err
	}

	args := ctxArgs{Op: ctxOpFreeCtx, CtxID: uint32(h)}
	if err := d.ioctl(ioctlCtx, unsafe.Pointer(&args)); err != nil {
		return mapErrno("AMDGPU_CTX(FREE)", err)
	}

	return nil
}

// Alloc creates a buffer object.
func (d *Driver) Alloc(req device.AllocRequest) (device.Handle, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return 0, err
	}

	return d.alloc(req)
}

func (d *Driver) alloc(req device.AllocRequest) (device.Handle, error) {
	if req.Flags.Has(device.FlagEncrypted) && req.Domain == device.DomainSystem {
		return 0, fmt.Errorf("encrypted buffer in %s: %w", req.Domain, device.ErrUnsupported)
	}

	args := gemCreate{
		BOSize:      req.Size,
		Alignment:   req.Alignment,
		Domains:     gemDomain(req.Domain),
		DomainFlags: gemFlags(req.Flags),
	}

	if err := d.ioctl(ioctlGemCreate, unsafe.Pointer(&args)); err != nil {
		if errors.Is(err, unix.EINVAL) {
			return 0, fmt.Errorf("AMDGPU_GEM_CREATE: %w: %w", device.ErrUnsupported, err)
		}

		return 0, mapErrno("AMDGPU_GEM_CREATE", err)
	}

	// The handle overlays the low word of the size field.
	h := device.Handle(uint32(args.BOSize))
	d.buffers[h] = &buffer{
		size:   req.Size,
		domain: req.Domain,
		flags:  req.Flags,
	}

	klog.V(2).InfoS("created buffer", "handle", h, "size", req.Size,
		"domain", req.Domain, "encrypted", req.Flags.Has(device.FlagEncrypted))

	return h, nil
}

// MapGPU maps a buffer into the GPU virtual address space of the process.
func (d *Driver) MapGPU(h device.Handle, size uint64) (uint64, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return 0, err
	}

	return d.mapGPU(h, size)
}

func (d *Driver) mapGPU(h device.Handle, size uint64) (uint64, error) {
	if _, err := d.buffer(h); err != nil {
		return 0, err
	}

	size = alignUp(size, pageSize)

	va, err := d.vaSpace.Alloc(size, d.vaAlign)
	if err != nil {
		return 0, err
	}

	args := gemVA{
		Handle:    uint32(h),
		Operation: gemVAOpMap,
		Flags:     vmPageReadable | vmPageWriteable | vmPageExec,
		VAAddress: va,
		MapSize:   size,
	}

	if err := d.ioctl(ioctlGemVA, unsafe.Pointer(&args)); err != nil {
		_ = d.vaSpace.Release(va)
		return 0, mapErrno("AMDGPU_GEM_VA(MAP)", err)
	}

	return va, nil
}

// UnmapGPU removes a GPU virtual address mapping.
func (d *Driver) UnmapGPU(h device.Handle, va uint64, size uint64) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return err
	}

	return d.unmapGPU(h, va, size)
}

func (d *Driver) unmapGPU(h device.Handle, va uint64, size uint64) error {
	args := gemVA{
		Handle:    uint32(h),
		Operation: gemVAOpUnmap,
		VAAddress: va,
		MapSize:   alignUp(size, pageSize),
	}

	if err := d.ioctl(ioctlGemVA, unsafe.Pointer(&args)); err != nil {
		return mapErrno("AMDGPU_GEM_VA(UNMAP)", err)
	}

	return d.vaSpace.Release(va)
}

// MapCPU maps a buffer into the address space of the process.
func (d *Driver) MapCPU(h device.Handle, size uint64) (device.Mapping, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return nil, err
	}

	return d.mapCPU(h, size)
}

func (d *Driver) mapCPU(h device.Handle, size uint64) (*mapping, error) {
	b, err := d.buffer(h)
	if err != nil {
		return nil, err
	}

	if b.flags.Has(device.FlagNoCPUAccess) {
		return nil, fmt.Errorf("buffer %d has no CPU access: %w", h, device.ErrUnsupported)
	}

	if b.cpu != nil {
		return b.cpu, nil
	}

	args := gemMmap{HandleOrOffset: uint64(h)}
	if err := d.ioctl(ioctlGemMmap, unsafe.Pointer(&args)); err != nil {
		return nil, mapErrno("AMDGPU_GEM_MMAP", err)
	}

	data, err := unix.Mmap(d.fd, int64(args.HandleOrOffset), int(min(size, b.size)),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap buffer %d: %w", h, err)
	}

	b.cpu = newMapping(data)

	return b.cpu, nil
}

// UnmapCPU removes the CPU mapping of a buffer.
func (d *Driver) UnmapCPU(h device.Handle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return err
	}

	b, err := d.buffer(h)
	if err != nil {
		return err
	}

	return unmapCPU(b)
}

func unmapCPU(b *buffer) error {
	if b.cpu == nil {
		return nil
	}

	data := b.cpu.detach()
	b.cpu = nil

	return unix.Munmap(data)
}

// Free releases a buffer object.
func (d *Driver) Free(h device.Handle) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return err
	}

	return d.free(h)
}

func (d *Driver) free(h device.Handle) error {
	b, err := d.buffer(h)
	if err != nil {
		return err
	}

	if err := unmapCPU(b); err != nil {
		return fmt.Errorf("munmap buffer %d: %w", h, err)
	}

	args := drmGemClose{Handle: uint32(h)}
	if err := d.ioctl(ioctlGemClose, unsafe.Pointer(&args)); err != nil {
		return mapErrno("DRM_IOCTL_GEM_CLOSE", err)
	}

	delete(d.buffers, h)

	return nil
}

// SetPlacement asks the kernel to move a buffer to another domain. The kernel
// moves the buffer when a later submission validates it.
func (d *Driver) SetPlacement(h device.Handle, domain device.Domain) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return err
	}

	b, err := d.buffer(h)
	if err != nil {
		return err
	}

	if b.flags.Has(device.FlagEncrypted) && domain == device.DomainSystem {
		return fmt.Errorf("encrypted buffer in %s: %w", domain, device.ErrUnsupported)
	}

	args := gemOp{Handle: uint32(h), Op: gemOpSetPlacement, Value: gemDomain(domain)}
	if err := d.ioctl(ioctlGemOp, unsafe.Pointer(&args)); err != nil {
		return mapErrno("AMDGPU_GEM_OP(SET_PLACEMENT)", err)
	}

	b.domain = domain

	return nil
}
