package sdma

import (
	"errors"
	"fmt"
)

// ErrInvalidPacket is returned when a word stream cannot be decoded.
var ErrInvalidPacket = errors.New("invalid sdma packet")

// Command is a decoded packet.
type Command interface {
	// Words returns the number of words the command occupies.
	Words() int
}

// NopCmd is a single-word NOP.
type NopCmd struct{}

// CopyCmd is a linear copy.
type CopyCmd struct {
	Secure bool
	Size   uint32
	Src    uint64
	Dst    uint64
}

// WriteCmd is a linear write.
type WriteCmd struct {
	Secure bool
	Dst    uint64
	Data   []uint32
}

// AtomicCmd is an atomic operation.
type AtomicCmd struct {
	Secure       bool
	Op           uint32
	Loop         bool
	Dst          uint64
	Src          uint32
	Cmp          uint32
	LoopInterval uint32
}

// Words returns 1.
func (NopCmd) Words() int { return 1 }

// Words returns the copy packet length.
func (CopyCmd) Words() int { return CopySize }

// Words returns the write packet length.
func (c WriteCmd) Words() int { return writeHead + len(c.Data) }

// Words returns the atomic packet length.
func (AtomicCmd) Words() int { return AtomicSize }

func addr(l, h uint32) uint64 {
	return uint64(h)<<32 | uint64(l)
}

// Decode splits a word stream into commands.
func Decode(words []uint32) ([]Command, error) {
	var cmds []Command

	for pos := 0; pos < len(words); {
		cmd, err := decodeOne(words[pos:])
		if err != nil {
			return nil, fmt.Errorf("word %d: %w", pos, err)
		}

		cmds = append(cmds, cmd)
		pos += cmd.Words()
	}

	return cmds, nil
}

func decodeOne(w []uint32) (Command, error) {
	hdr := w[0]
	op := hdr & 0xff
	secure := hdr&(1<<tmzShift) != 0

	switch op {
	case OpNop:
		return NopCmd{}, nil
	case OpCopy:
		if len(w) < CopySize {
			return nil, truncated("copy", len(w))
		}

		size := w[1] + 1
		if size == 0 {
			return nil, fmt.Errorf("copy of 0x%x bytes: %w",
				uint64(w[1])+1, ErrInvalidPacket)
		}

		return CopyCmd{
			Secure: secure,
			Size:   size,
			Src:    addr(w[3], w[4]),
			Dst:    addr(w[5], w[6]),
		}, nil
	case OpWrite:
		if len(w) < writeHead {
			return nil, truncated("write", len(w))
		}

		n := int(w[3]) + 1
		if len(w) < writeHead+n {
			return nil, truncated("write", len(w))
		}

		return WriteCmd{
			Secure: secure,
			Dst:    addr(w[1], w[2]),
			Data:   append([]uint32(nil), w[writeHead:writeHead+n]...),
		}, nil
	case OpAtomic:
		if len(w) < AtomicSize {
			return nil, truncated("atomic", len(w))
		}

		return AtomicCmd{
			Secure:       secure,
			Op:           hdr >> atomicOpShift,
			Loop:         hdr&loopBit != 0,
			Dst:          addr(w[1], w[2]),
			Src:          w[3],
			Cmp:          w[5],
			LoopInterval: w[7],
		}, nil
	default:
		return nil, fmt.Errorf("opcode %d: %w", op, ErrInvalidPacket)
	}
}

func truncated(kind string, have int) error {
	return fmt.Errorf("truncated %s packet with %d words: %w",
		kind, have, ErrInvalidPacket)
}
