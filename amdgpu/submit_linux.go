package amdgpu

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/sarchlab/securebounce/device"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// indirectBuffer is a GTT buffer holding a command stream.
type indirectBuffer struct {
	handle device.Handle
	va     uint64
	size   uint64
}

func (d *Driver) newIndirectBuffer(words []uint32) (*indirectBuffer, error) {
	size := alignUp(uint64(len(words))*4, pageSize)

	h, err := d.alloc(device.AllocRequest{
		Size:      size,
		Alignment: pageSize,
		Domain:    device.DomainGTT,
	})
	if err != nil {
		return nil, err
	}

	m, err := d.mapCPU(h, size)
	if err != nil {
		_ = d.free(h)
		return nil, err
	}

	stream := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(stream[i*4:], w)
	}

	if _, err := m.WriteAt(stream, 0); err != nil {
		_ = d.free(h)
		return nil, err
	}

	va, err := d.mapGPU(h, size)
	if err != nil {
		_ = d.free(h)
		return nil, err
	}

	return &indirectBuffer{handle: h, va: va, size: size}, nil
}

func (d *Driver) releaseIndirectBuffer(ib *indirectBuffer) {
	if err := d.unmapGPU(ib.handle, ib.va, ib.size); err != nil {
		klog.ErrorS(err, "unmapping indirect buffer", "handle", ib.handle)
	}

	if err := d.free(ib.handle); err != nil {
		klog.ErrorS(err, "freeing indirect buffer", "handle", ib.handle)
	}
}

// Submit runs a command stream on a ring and waits for it to finish.
func (d *Driver) Submit(ctx device.ContextHandle, s device.Submission) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if err := d.mustBeOpen(); err != nil {
		return err
	}

	if len(s.Words) == 0 {
		return fmt.Errorf("empty command stream: %w", device.ErrInvalidPacket)
	}

	for _, h := range s.Handles {
		if _, err := d.buffer(h); err != nil {
			return err
		}
	}

	ib, err := d.newIndirectBuffer(s.Words)
	if err != nil {
		return fmt.Errorf("creating indirect buffer: %w", err)
	}

	seq, err := d.submit(ctx, s, ib)
	if err != nil {
		d.releaseIndirectBuffer(ib)
		return err
	}

	busy, err := d.wait(ctx, s, seq)
	if err == nil && busy {
		err = fmt.Errorf("submission %d on ring %d: %w", seq, s.Ring, device.ErrTimeout)
	}

	if err != nil {
		d.stale = append(d.stale, ib.handle)
		return err
	}

	d.releaseIndirectBuffer(ib)

	klog.V(2).InfoS("submission done", "ring", s.Ring, "engine", s.Engine,
		"secure", s.Secure, "words", len(s.Words), "seq", seq)

	return nil
}

func (d *Driver) submit(
	ctx device.ContextHandle,
	s device.Submission,
	ib *indirectBuffer,
) (uint64, error) {
	chunkIB := csChunkIB{
		VAStart: ib.va,
		IBBytes: uint32(len(s.Words) * 4),
		IPType:  hwIP(s.Engine),
		Ring:    s.Ring,
	}
	if s.Secure {
		chunkIB.Flags |= ibFlagsSecure
	}

	entries := make([]boListEntry, 0, len(s.Handles)+1)
	for _, h := range s.Handles {
		entries = append(entries, boListEntry{BOHandle: uint32(h)})
	}
	entries = append(entries, boListEntry{BOHandle: uint32(ib.handle)})

	boList := boListIn{
		BONumber:   uint32(len(entries)),
		BOInfoSize: uint32(unsafe.Sizeof(boListEntry{})),
		BOInfoPtr:  uint64(uintptr(unsafe.Pointer(&entries[0]))),
	}

	chunks := []csChunk{
		{
			ChunkID:   chunkIDIB,
			LengthDW:  uint32(unsafe.Sizeof(chunkIB) / 4),
			ChunkData: uint64(uintptr(unsafe.Pointer(&chunkIB))),
		},
		{
			ChunkID:   chunkIDBOHandles,
			LengthDW:  uint32(unsafe.Sizeof(boList) / 4),
			ChunkData: uint64(uintptr(unsafe.Pointer(&boList))),
		},
	}

	chunkPtrs := []uint64{
		uint64(uintptr(unsafe.Pointer(&chunks[0]))),
		uint64(uintptr(unsafe.Pointer(&chunks[1]))),
	}

	args := csIn{
		CtxID:     uint32(ctx),
		NumChunks: uint32(len(chunks)),
		Chunks:    uint64(uintptr(unsafe.Pointer(&chunkPtrs[0]))),
	}

	err := d.ioctl(ioctlCS, unsafe.Pointer(&args))
	runtime.KeepAlive(&chunkIB)
	runtime.KeepAlive(entries)
	runtime.KeepAlive(&boList)
	runtime.KeepAlive(chunks)
	runtime.KeepAlive(chunkPtrs)

	if err != nil {
		return 0, mapErrno("AMDGPU_CS", err)
	}

	// The sequence number overlays the first two words of the input.
	seq := uint64(args.CtxID) | uint64(args.BOListHandle)<<32

	return seq, nil
}

func (d *Driver) wait(
	ctx device.ContextHandle,
	s device.Submission,
	seq uint64,
) (bool, error) {
	var now unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &now); err != nil {
		return false, fmt.Errorf("reading monotonic clock: %w", err)
	}

	args := waitCS{
		Handle:  seq,
		Timeout: uint64(now.Nano() + d.waitTimeout.Nanoseconds()),
		IPType:  hwIP(s.Engine),
		Ring:    s.Ring,
		CtxID:   uint32(ctx),
	}

	if err := d.ioctl(ioctlWaitCS, unsafe.Pointer(&args)); err != nil {
		return false, mapErrno("AMDGPU_WAIT_CS", err)
	}

	// The status overlays the handle.
	return args.Handle != 0, nil
}
