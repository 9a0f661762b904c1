package dat

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CryptKey is the fixed AES-128 key of the archive format.
var CryptKey = []byte("bns_obt_kr_2014#")

// BlockSize is the AES block size every encrypted blob is padded to.
const BlockSize = aes.BlockSize

// defaultCipher is built once at package initialisation and never modified.
var defaultCipher = mustCipher(CryptKey)

// Cipher applies AES-128 to consecutive 16-byte blocks independently (ECB, no IV).
// A Cipher is immutable and safe for concurrent use.
type Cipher struct {
	block cipher.Block
}

// NewCipher builds the key schedules for a 16-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("dat: AES-128 key must be 16 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("dat: create AES cipher: %w", err)
	}
	return &Cipher{block: block}, nil
}

// DefaultCipher returns the process-wide cipher keyed with CryptKey.
func DefaultCipher() *Cipher {
	return defaultCipher
}

func mustCipher(key []byte) *Cipher {
	c, err := NewCipher(key)
	if err != nil {
		panic(err)
	}
	return c
}

// PaddedSize rounds n up to the next multiple of BlockSize. PaddedSize(0) is 0.
func PaddedSize(n int) int {
	if n <= 0 {
		return 0
	}
	return ((n-1)/BlockSize + 1) * BlockSize
}

// EncryptBlocks encrypts src into dst block by block. dst and src may overlap
// exactly; their length must be a multiple of BlockSize.
func (c *Cipher) EncryptBlocks(dst, src []byte) error {
	if err := checkBlocks(dst, src); err != nil {
		return err
	}
	for i := 0; i < len(src); i += BlockSize {
		c.block.Encrypt(dst[i:i+BlockSize], src[i:i+BlockSize])
	}
	return nil
}

// DecryptBlocks is the inverse of EncryptBlocks.
func (c *Cipher) DecryptBlocks(dst, src []byte) error {
	if err := checkBlocks(dst, src); err != nil {
		return err
	}
	for i := 0; i < len(src); i += BlockSize {
		c.block.Decrypt(dst[i:i+BlockSize], src[i:i+BlockSize])
	}
	return nil
}

func checkBlocks(dst, src []byte) error {
	if len(src)%BlockSize != 0 {
		return fmt.Errorf("dat: input length %d is not a multiple of the block size", len(src))
	}
	if len(dst) < len(src) {
		return fmt.Errorf("dat: output buffer too small (%d < %d)", len(dst), len(src))
	}
	return nil
}
