package simgpu

import (
	"fmt"

	"github.com/sarchlab/securebounce/device"
	"github.com/sarchlab/securebounce/tracing"
)

// Physical base addresses of the memory pools. The pools never overlap, so a
// physical address identifies both the pool and the location in it.
const (
	vramBase   uint64 = 0
	gttBase    uint64 = 1 << 40
	systemBase uint64 = 1 << 41
	vaBase     uint64 = 1 << 32
	vaSize     uint64 = 1 << 40
)

type pool struct {
	domain  device.Domain
	alloc   *device.RangeAllocator
	storage *storage
}

func newPool(domain device.Domain, base, size uint64) *pool {
	return &pool{
		domain:  domain,
		alloc:   device.NewRangeAllocator(base, size),
		storage: newStorage(size),
	}
}

func (p *pool) read(pa, n uint64) ([]byte, error) {
	return p.storage.read(pa-p.alloc.Base(), n)
}

func (p *pool) write(pa uint64, data []byte) error {
	return p.storage.write(pa-p.alloc.Base(), data)
}

func (p *pool) release(pa, n uint64) error {
	p.storage.release(pa-p.alloc.Base(), n)
	return p.alloc.Release(pa)
}

type buffer struct {
	handle    device.Handle
	size      uint64
	allocSize uint64
	alignment uint64
	domain    device.Domain
	flags     device.Flags
	pa        uint64

	va        uint64
	gpuMapped bool
	cpuMapped bool

	pending *device.Domain
}

func (b *buffer) encrypted() bool {
	return b.flags.Has(device.FlagEncrypted)
}

func roundUp(n, to uint64) uint64 {
	return (n + to - 1) / to * to
}

// place reserves physical memory for a buffer in a domain and clears it. An
// encrypted buffer is cleared to the encryption of zeros.
func (d *Driver) place(b *buffer, domain device.Domain) (uint64, error) {
	p := d.pools[domain]

	pa, err := p.alloc.Alloc(b.allocSize, b.alignment)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", domain, ErrOutOfMemory, err)
	}

	fill := make([]byte, b.allocSize)
	if b.encrypted() {
		for off := uint64(0); off < b.allocSize; off += blockSize {
			block := fill[off : off+blockSize]
			d.cipher.encrypt(block, block, pa+off)
		}
	}

	if err := p.write(pa, fill); err != nil {
		return 0, err
	}

	return pa, nil
}

// view reads n bytes at off of a buffer as an engine sees them. Only a secure
// access to an encrypted buffer is decrypted.
func (d *Driver) view(b *buffer, off, n uint64, secure bool) ([]byte, error) {
	if !secure || !b.encrypted() {
		return d.pools[b.domain].read(b.pa+off, n)
	}

	first := off / blockSize * blockSize
	last := roundUp(off+n, blockSize)

	raw, err := d.pools[b.domain].read(b.pa+first, last-first)
	if err != nil {
		return nil, err
	}

	for i := uint64(0); i < uint64(len(raw)); i += blockSize {
		block := raw[i : i+blockSize]
		d.cipher.decrypt(block, block, b.pa+first+i)
	}

	return raw[off-first : off-first+n], nil
}

// store writes data at off of a buffer as an engine does. A secure write
// encrypts every block it touches for the destination address. A write
// without the secure bit cannot modify an encrypted buffer.
func (d *Driver) store(b *buffer, off uint64, data []byte, secure bool) error {
	p := d.pools[b.domain]

	if !secure {
		if b.encrypted() {
			return nil
		}

		return p.write(b.pa+off, data)
	}

	first := off / blockSize * blockSize
	last := roundUp(off+uint64(len(data)), blockSize)

	blocks, err := d.view(b, first, last-first, true)
	if err != nil {
		return err
	}

	copy(blocks[off-first:], data)

	for i := uint64(0); i < uint64(len(blocks)); i += blockSize {
		block := blocks[i : i+blockSize]
		d.cipher.encrypt(block, block, b.pa+first+i)
	}

	return p.write(b.pa+first, blocks)
}

// migrate realizes the pending placement of a buffer. Encrypted blocks are
// decrypted at the old address and encrypted at the new one.
func (d *Driver) migrate(b *buffer, parentID string) error {
	to := *b.pending
	b.pending = nil

	if to == b.domain {
		return nil
	}

	taskID := d.nextTaskID()
	tracing.StartTask(d, tracing.Task{
		ID:       taskID,
		ParentID: parentID,
		Kind:     tracing.KindMigration,
		What:     fmt.Sprintf("%s->%s", b.domain, to),
		Detail:   b.handle,
	})
	defer tracing.EndTask(d, taskID)

	from := d.pools[b.domain]
	dst := d.pools[to]

	newPA, err := dst.alloc.Alloc(b.allocSize, b.alignment)
	if err != nil {
		return fmt.Errorf("migrate buffer %d to %s: %w: %w",
			b.handle, to, ErrOutOfMemory, err)
	}

	data, err := from.read(b.pa, b.allocSize)
	if err != nil {
		return err
	}

	if b.encrypted() && !d.cfg.Faults.BrokenMigration {
		for off := uint64(0); off < b.allocSize; off += blockSize {
			block := data[off : off+blockSize]
			d.cipher.decrypt(block, block, b.pa+off)
			d.cipher.encrypt(block, block, newPA+off)
		}
	}

	if err := dst.write(newPA, data); err != nil {
		return err
	}

	if err := from.release(b.pa, b.allocSize); err != nil {
		return err
	}

	b.pa = newPA
	b.domain = to

	if b.gpuMapped {
		for off := uint64(0); off < b.allocSize; off += pageSize {
			d.pageTable.update(page{
				VAddr:  b.va + off,
				PAddr:  newPA + off,
				Domain: to,
				Handle: b.handle,
			})
		}
	}

	d.stats.Migrations++

	return nil
}

// translate finds the referenced buffer that holds [va, va+n).
func (d *Driver) translate(
	va, n uint64,
	referenced map[device.Handle]*buffer,
) (*buffer, uint64, error) {
	p, found := d.pageTable.find(va)
	if !found {
		return nil, 0, fmt.Errorf("unmapped address 0x%x: %w", va, ErrVMFault)
	}

	b, ok := referenced[p.Handle]
	if !ok {
		return nil, 0, fmt.Errorf(
			"address 0x%x belongs to unreferenced buffer %d: %w",
			va, p.Handle, ErrVMFault)
	}

	off := va - b.va
	if off+n > b.size {
		return nil, 0, fmt.Errorf(
			"access [0x%x, 0x%x) overruns buffer %d: %w",
			va, va+n, b.handle, ErrVMFault)
	}

	return b, off, nil
}
