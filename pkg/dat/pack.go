package dat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
)

// sizePrefixLen is the length of the big-endian uncompressed size that leads a compressed block.
const sizePrefixLen = 4

// maxPrealloc caps the output buffer reserved up front from a declared size.
const maxPrealloc = 16 << 20

// Codec implements the pack/unpack transform applied to the file table and to
// every entry: compress-then-encrypt and decrypt-then-decompress.
type Codec struct {
	cipher *Cipher
	level  int
}

// NewCodec returns a Codec that encrypts with c and compresses at the given zlib level.
// A nil cipher selects DefaultCipher.
func NewCodec(c *Cipher, level int) *Codec {
	if c == nil {
		c = defaultCipher
	}
	return &Codec{cipher: c, level: level}
}

// Pack transforms data for storage and returns the stored bytes together with
// the intermediate size: the compressed length before cipher padding, or the
// input length when compression is off.
//
// The compressed block's size prefix is never stored; Unpack rebuilds it from
// the size recorded in the entry or header.
func (c *Codec) Pack(data []byte, encrypted, compressed bool) ([]byte, int, error) {
	payload := data
	if compressed {
		block, err := compressBlock(data, c.level)
		if err != nil {
			return nil, 0, err
		}
		payload = block[sizePrefixLen:]
	}
	intermediate := len(payload)

	if encrypted {
		padded := make([]byte, PaddedSize(len(payload)))
		copy(padded, payload)
		if err := c.cipher.EncryptBlocks(padded, padded); err != nil {
			return nil, 0, err
		}
		payload = padded
	}
	return payload, intermediate, nil
}

// Unpack reverses Pack. unpackedSize is the original length recorded out of band;
// it is required because the stored bytes carry neither the size prefix nor the
// pre-padding length.
func (c *Codec) Unpack(data []byte, unpackedSize int64, encrypted, compressed bool) ([]byte, error) {
	if !encrypted && !compressed {
		return data, nil
	}

	headerSize := 0
	if compressed {
		headerSize = sizePrefixLen
	}

	var result []byte
	if encrypted {
		paddedSize := PaddedSize(len(data))
		result = make([]byte, headerSize+paddedSize)
		copy(result[headerSize:], data)
		if err := c.cipher.DecryptBlocks(result[headerSize:], result[headerSize:]); err != nil {
			return nil, err
		}
	} else {
		result = make([]byte, headerSize+len(data))
		copy(result[headerSize:], data)
	}

	if !compressed {
		if unpackedSize >= 0 && unpackedSize < int64(len(result)) {
			result = result[:unpackedSize]
		}
		return result, nil
	}

	if unpackedSize < 0 || unpackedSize > math.MaxUint32 {
		return nil, fmt.Errorf("%w: invalid unpacked size %d", ErrCorrupt, unpackedSize)
	}
	binary.BigEndian.PutUint32(result[:sizePrefixLen], uint32(unpackedSize))
	return uncompressBlock(result)
}

// compressBlock returns a big-endian uncompressed size followed by a zlib stream.
// Empty input yields only the zero size prefix.
func compressBlock(data []byte, level int) ([]byte, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes cannot be compressed into one block", ErrSizeOverflow, len(data))
	}

	var buf bytes.Buffer
	var prefix [sizePrefixLen]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	buf.Write(prefix[:])
	if len(data) == 0 {
		return buf.Bytes(), nil
	}

	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("create zlib writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("zlib write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlib close: %w", err)
	}
	return buf.Bytes(), nil
}

// uncompressBlock inflates a block produced by compressBlock. The result must
// match its size prefix exactly.
// Bytes after the end of the zlib stream, such as cipher padding, are ignored.
func uncompressBlock(block []byte) ([]byte, error) {
	if len(block) < sizePrefixLen {
		return nil, fmt.Errorf("%w: compressed block shorter than its size prefix", ErrCorrupt)
	}
	size := binary.BigEndian.Uint32(block[:sizePrefixLen])
	if size == 0 {
		return []byte{}, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(block[sizePrefixLen:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	// The declared size is untrusted; the buffer grows with the inflated data.
	var out bytes.Buffer
	out.Grow(int(min(uint64(size), maxPrealloc)))
	if _, err := io.Copy(&out, io.LimitReader(zr, int64(size))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if out.Len() != int(size) {
		return nil, fmt.Errorf("%w: stream ended after %d of %d bytes", ErrCorrupt, out.Len(), size)
	}
	return out.Bytes(), nil
}
