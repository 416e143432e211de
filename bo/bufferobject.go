package bo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sarchlab/securebounce/device"
)

// A BufferObject is a GPU addressable buffer. Its GPU virtual address stays
// the same while the backing memory migrates between domains.
type BufferObject struct {
	lock sync.Mutex

	handle    device.Handle
	size      uint64
	domain    device.Domain
	encrypted bool
	va        uint64
	mapping   device.Mapping
	freed     bool
}

// Handle returns the driver handle.
func (b *BufferObject) Handle() device.Handle {
	return b.handle
}

// Size returns the size in bytes.
func (b *BufferObject) Size() uint64 {
	return b.size
}

// Domain returns the domain the buffer was last placed in.
func (b *BufferObject) Domain() device.Domain {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.domain
}

// SetDomain records a new placement.
func (b *BufferObject) SetDomain(d device.Domain) {
	b.lock.Lock()
	b.domain = d
	b.lock.Unlock()
}

// Encrypted reports whether the buffer was created encrypted.
func (b *BufferObject) Encrypted() bool {
	return b.encrypted
}

// GPUAddress returns the GPU virtual address of the first byte.
func (b *BufferObject) GPUAddress() uint64 {
	return b.va
}

// Addr returns the GPU virtual address of the byte at offset.
func (b *BufferObject) Addr(offset uint64) uint64 {
	return b.va + offset
}

// Mapped reports whether the buffer has a CPU mapping.
func (b *BufferObject) Mapped() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.mapping != nil && !b.freed
}

// Freed reports whether the buffer was freed.
func (b *BufferObject) Freed() bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.freed
}

func (b *BufferObject) cpuView() (device.Mapping, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.freed {
		return nil, ErrFreed
	}

	if b.mapping == nil {
		return nil, ErrNotMapped
	}

	return b.mapping, nil
}

// Bytes returns a copy of the buffer contents as seen by the CPU.
func (b *BufferObject) Bytes() ([]byte, error) {
	m, err := b.cpuView()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, b.size)
	if _, err := m.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read buffer %d: %w", b.handle, err)
	}

	return buf, nil
}

// NumWords returns the number of 32-bit words in the buffer.
func (b *BufferObject) NumWords() int {
	return int(b.size / 4)
}

// Word reads the i-th 32-bit little-endian word through the CPU mapping.
func (b *BufferObject) Word(i int) (uint32, error) {
	m, err := b.cpuView()
	if err != nil {
		return 0, err
	}

	if i < 0 || i >= b.NumWords() {
		return 0, fmt.Errorf("word %d of %d: %w", i, b.NumWords(), ErrOutOfRange)
	}

	var buf [4]byte
	if _, err := m.ReadAt(buf[:], int64(i)*4); err != nil {
		return 0, fmt.Errorf("read buffer %d: %w", b.handle, err)
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Words returns all the words in the buffer.
func (b *BufferObject) Words() ([]uint32, error) {
	raw, err := b.Bytes()
	if err != nil {
		return nil, err
	}

	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}

	return words, nil
}

// WriteWords stores words starting at word index first.
func (b *BufferObject) WriteWords(first int, words ...uint32) error {
	m, err := b.cpuView()
	if err != nil {
		return err
	}

	if first < 0 || first+len(words) > b.NumWords() {
		return fmt.Errorf("write of %d words at %d: %w",
			len(words), first, ErrOutOfRange)
	}

	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}

	if _, err := m.WriteAt(buf, int64(first)*4); err != nil {
		return fmt.Errorf("write buffer %d: %w", b.handle, err)
	}

	return nil
}

// Fill repeats the pattern over every word of the buffer.
func (b *BufferObject) Fill(pattern uint32) error {
	words := make([]uint32, b.NumWords())
	for i := range words {
		words[i] = pattern
	}

	return b.WriteWords(0, words...)
}

// Equal reports whether two buffers hold the same CPU visible bytes. Only
// the common prefix is compared when the sizes differ.
func (b *BufferObject) Equal(other *BufferObject) (bool, error) {
	mine, err := b.Bytes()
	if err != nil {
		return false, err
	}

	theirs, err := other.Bytes()
	if err != nil {
		return false, err
	}

	n := min(len(mine), len(theirs))

	return bytes.Equal(mine[:n], theirs[:n]), nil
}

// EqualsPattern reports whether every word of the buffer is pattern.
func (b *BufferObject) EqualsPattern(pattern uint32) (bool, error) {
	words, err := b.Words()
	if err != nil {
		return false, err
	}

	for _, w := range words {
		if w != pattern {
			return false, nil
		}
	}

	return true, nil
}
