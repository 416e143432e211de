package amdgpu

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNotMapped is returned when a CPU mapping is used after unmapping.
var ErrNotMapped = errors.New("mapping is closed")

// mapping is a CPU view of a buffer object. The kernel backs the view with
// the buffer's current pages, so it survives migrations.
type mapping struct {
	lock sync.RWMutex
	data []byte
	size int
}

func newMapping(data []byte) *mapping {
	return &mapping{data: data, size: len(data)}
}

func (m *mapping) Len() int {
	return m.size
}

func (m *mapping) slice(n int, off int64) ([]byte, error) {
	if m.data == nil {
		return nil, ErrNotMapped
	}

	if off < 0 || off > int64(len(m.data)) {
		return nil, fmt.Errorf("offset %d outside %d byte mapping", off, len(m.data))
	}

	end := min(int64(len(m.data)), off+int64(n))

	return m.data[off:end], nil
}

func (m *mapping) ReadAt(p []byte, off int64) (int, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	src, err := m.slice(len(p), off)
	if err != nil {
		return 0, err
	}

	n := copy(p, src)
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (m *mapping) WriteAt(p []byte, off int64) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	dst, err := m.slice(len(p), off)
	if err != nil {
		return 0, err
	}

	n := copy(dst, p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

// detach closes the view and returns the memory it covered.
func (m *mapping) detach() []byte {
	m.lock.Lock()
	defer m.lock.Unlock()

	data := m.data
	m.data = nil

	return data
}
