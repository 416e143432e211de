package simgpu

import (
	"crypto/aes"
	"fmt"

	"golang.org/x/crypto/xts"
)

const (
	blockSize = 16
	keySize   = 32
)

// tmzCipher encrypts memory in 16-byte blocks. The tweak is derived from the
// physical address, so the same plaintext encrypts differently at different
// addresses.
type tmzCipher struct {
	c *xts.Cipher
}

func newTMZCipher(key []byte) (*tmzCipher, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("memory key must be %d bytes, got %d",
			keySize, len(key))
	}

	c, err := xts.NewCipher(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("create memory cipher: %w", err)
	}

	return &tmzCipher{c: c}, nil
}

func (t *tmzCipher) encrypt(dst, src []byte, pa uint64) {
	t.c.Encrypt(dst, src, pa/blockSize)
}

func (t *tmzCipher) decrypt(dst, src []byte, pa uint64) {
	t.c.Decrypt(dst, src, pa/blockSize)
}
