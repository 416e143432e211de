// Package sdma encodes and decodes the system DMA engine packets used by the
// secure memory harness.
package sdma

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Opcodes of the packets the encoder knows.
const (
	OpNop    = 0
	OpCopy   = 1
	OpWrite  = 2
	OpAtomic = 10
)

// AtomicCmpSwapRtn32 is the atomic operation code of a 32-bit compare and swap
// that returns the previous value.
const AtomicCmpSwapRtn32 = 8

// DefaultLoopInterval is the number of cycles between two retries of a looping
// atomic.
const DefaultLoopInterval = 0x100

// Header bits.
const (
	tmzShift      = 18
	loopBit       = 1 << 16
	atomicOpShift = 25
)

// Sizes of fixed-length packets, in words.
const (
	CopySize   = 7
	AtomicSize = 8
	writeHead  = 4
)

// ErrInvalidSize is returned when a copy or write length is zero or not a
// multiple of 16 bytes.
var ErrInvalidSize = errors.New("size must be a positive multiple of 16 bytes")

// Packet is a sequence of command words.
type Packet []uint32

// Bytes serializes the packet in little-endian order.
func (p Packet) Bytes() []byte {
	buf := make([]byte, 4*len(p))
	for i, w := range p {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}

	return buf
}

// Len returns the number of words in the packet.
func (p Packet) Len() int {
	return len(p)
}

func header(op uint32, secure bool) uint32 {
	h := op
	if secure {
		h |= 1 << tmzShift
	}

	return h
}

func lo(addr uint64) uint32 {
	return uint32(addr & 0xffffffff)
}

func hi(addr uint64) uint32 {
	return uint32(addr >> 32)
}

// Nop returns count filler words. Each zero word is a one-word NOP.
func Nop(count int) Packet {
	return make(Packet, count)
}

// LinearCopy copies size bytes from src to dst.
func LinearCopy(secure bool, size uint32, src, dst uint64) (Packet, error) {
	if size == 0 || size%16 != 0 {
		return nil, fmt.Errorf("linear copy of %d bytes: %w", size, ErrInvalidSize)
	}

	return Packet{
		header(OpCopy, secure),
		size - 1,
		0,
		lo(src), hi(src),
		lo(dst), hi(dst),
	}, nil
}

// LinearWrite writes the given words to dst. size is the number of words.
func LinearWrite(
	secure bool,
	dst uint64,
	size uint32,
	words ...uint32,
) (Packet, error) {
	if size == 0 || size%4 != 0 {
		return nil, fmt.Errorf("linear write of %d words: %w", size, ErrInvalidSize)
	}

	if len(words) != int(size) {
		return nil, fmt.Errorf("linear write of %d words with %d words of data: %w",
			size, len(words), ErrInvalidSize)
	}

	p := make(Packet, 0, writeHead+len(words))
	p = append(p, header(OpWrite, secure), lo(dst), hi(dst), size-1)
	p = append(p, words...)

	return p, nil
}

// AtomicCompareSwap swaps the word at dst to newValue if it holds cmpValue.
// The engine loops until the compare is satisfied.
func AtomicCompareSwap(secure bool, dst uint64, newValue, cmpValue uint32) Packet {
	return Packet{
		AtomicCmpSwapRtn32<<atomicOpShift | header(OpAtomic, secure) | loopBit,
		lo(dst), hi(dst),
		newValue, 0,
		cmpValue, 0,
		DefaultLoopInterval,
	}
}
