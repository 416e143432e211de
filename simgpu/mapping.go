package simgpu

import (
	"fmt"
	"io"

	"github.com/sarchlab/securebounce/device"
)

// mapping is the CPU view of a buffer. Every access looks up the current
// physical placement of the buffer, so the view survives migrations. The CPU
// sees encrypted buffers as ciphertext.
type mapping struct {
	d      *Driver
	handle device.Handle
	size   uint64
}

func (m *mapping) Len() int {
	return int(m.size)
}

func (m *mapping) lookup() (*buffer, error) {
	b, err := m.d.buffer(m.handle)
	if err != nil {
		return nil, err
	}

	if !b.cpuMapped {
		return nil, fmt.Errorf("buffer %d: %w", m.handle, ErrNotMapped)
	}

	return b, nil
}

func (m *mapping) clip(n int, off int64) (uint64, error) {
	if off < 0 || uint64(off) > m.size {
		return 0, fmt.Errorf("offset %d outside %d byte mapping", off, m.size)
	}

	return min(uint64(n), m.size-uint64(off)), nil
}

func (m *mapping) ReadAt(p []byte, off int64) (int, error) {
	m.d.lock.Lock()
	defer m.d.lock.Unlock()

	b, err := m.lookup()
	if err != nil {
		return 0, err
	}

	n, err := m.clip(len(p), off)
	if err != nil {
		return 0, err
	}

	data, err := m.d.pools[b.domain].read(b.pa+uint64(off), n)
	if err != nil {
		return 0, err
	}
	copy(p, data)

	if int(n) < len(p) {
		return int(n), io.EOF
	}

	return int(n), nil
}

func (m *mapping) WriteAt(p []byte, off int64) (int, error) {
	m.d.lock.Lock()
	defer m.d.lock.Unlock()

	b, err := m.lookup()
	if err != nil {
		return 0, err
	}

	n, err := m.clip(len(p), off)
	if err != nil {
		return 0, err
	}

	if err := m.d.pools[b.domain].write(b.pa+uint64(off), p[:n]); err != nil {
		return 0, err
	}

	if int(n) < len(p) {
		return int(n), io.ErrShortWrite
	}

	return int(n), nil
}
