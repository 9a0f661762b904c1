package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	encunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Endian is the byte order of every integer and UTF-16 code unit on disk.
var Endian = binary.LittleEndian

// MaxStringLength caps the declared length (in UTF-16 code units) of a single string.
const MaxStringLength = 1 << 26

var (
	// ErrTruncated is returned when fewer bytes are available than a field declares.
	ErrTruncated = errors.New("wire: truncated input")

	// ErrOverflow is returned when a value does not fit the selected integer width.
	ErrOverflow = errors.New("wire: value overflows integer width")
)

// XorKey is the fixed obfuscation key applied to strings inside binary XML.
// It is public and provides no secrecy.
var XorKey = [16]byte{0xA4, 0x9F, 0xD8, 0xB3, 0xF6, 0x8E, 0x39, 0xC2, 0x2D, 0xE0, 0x61, 0x75, 0x5C, 0x4B, 0x1A, 0x07}

// utf16le is immutable; a fresh transformer is taken per call so concurrent callers never share state.
var utf16le = encunicode.UTF16(encunicode.LittleEndian, encunicode.IgnoreBOM)

// Width is the byte width of the size, offset and length-prefix integers of an archive variant.
type Width int

const (
	// Width32 selects 4-byte integers (archives up to 2 GiB of data).
	Width32 Width = 4
	// Width64 selects 8-byte integers for large archives.
	Width64 Width = 8
)

// Valid reports whether w is one of the supported widths.
func (w Width) Valid() bool {
	return w == Width32 || w == Width64
}

// String implements fmt.Stringer.
func (w Width) String() string {
	switch w {
	case Width32:
		return "32-bit"
	case Width64:
		return "64-bit"
	default:
		return fmt.Sprintf("Width(%d)", int(w))
	}
}

// Fits reports whether v can be stored as a signed integer of width w.
func (w Width) Fits(v int64) bool {
	if w == Width32 {
		return v >= -1<<31 && v <= 1<<31-1
	}
	return w == Width64
}

// ReadInt reads one signed little-endian integer of width w.
func (w Width) ReadInt(r io.Reader) (int64, error) {
	if !w.Valid() {
		return 0, fmt.Errorf("wire: unsupported integer width %d", int(w))
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:w]); err != nil {
		return 0, fmt.Errorf("%w: reading %d-byte integer: %v", ErrTruncated, int(w), err)
	}
	if w == Width32 {
		return int64(int32(Endian.Uint32(buf[:4]))), nil
	}
	return int64(Endian.Uint64(buf[:8])), nil
}

// WriteInt writes v as a signed little-endian integer of width w.
func (w Width) WriteInt(out io.Writer, v int64) error {
	if !w.Valid() {
		return fmt.Errorf("wire: unsupported integer width %d", int(w))
	}
	if !w.Fits(v) {
		return fmt.Errorf("%w: %d in %s", ErrOverflow, v, w)
	}
	var buf [8]byte
	if w == Width32 {
		Endian.PutUint32(buf[:4], uint32(int32(v)))
	} else {
		Endian.PutUint64(buf[:8], uint64(v))
	}
	return writeFull(out, buf[:w])
}

// Xor obfuscates buf in place with the repeating XorKey. Applying it twice restores the input.
func Xor(buf []byte) {
	for i := range buf {
		buf[i] ^= XorKey[i%len(XorKey)]
	}
}

// EncodeUTF16 converts s to little-endian UTF-16 code units.
func EncodeUTF16(s string) ([]byte, error) {
	b, _, err := transform.Bytes(utf16le.NewEncoder(), []byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to encode UTF-16LE string: %w", err)
	}
	return b, nil
}

// DecodeUTF16 converts little-endian UTF-16 code units to a Go string.
func DecodeUTF16(b []byte) (string, error) {
	utf8Bytes, _, err := transform.Bytes(utf16le.NewDecoder(), b)
	if err != nil {
		return "", fmt.Errorf("failed to decode UTF-16LE string: %w", err)
	}
	return string(utf8Bytes), nil
}

// lener is implemented by in-memory readers such as *bytes.Reader.
type lener interface {
	Len() int
}

// ReadString reads a string stored as a width-w code unit count followed by
// that many UTF-16LE code units, de-obfuscating the raw bytes first when xor is set.
func ReadString(r io.Reader, w Width, xor bool) (string, error) {
	length, err := w.ReadInt(r)
	if err != nil {
		return "", err
	}
	if length < 0 || length > MaxStringLength {
		return "", fmt.Errorf("%w: invalid string length %d", ErrTruncated, length)
	}
	numBytes := int(length) * 2
	if l, ok := r.(lener); ok && l.Len() < numBytes {
		return "", fmt.Errorf("%w: string needs %d bytes, %d available", ErrTruncated, numBytes, l.Len())
	}

	raw := make([]byte, numBytes)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", fmt.Errorf("%w: reading %d string bytes: %v", ErrTruncated, numBytes, err)
	}
	if xor {
		Xor(raw)
	}
	return DecodeUTF16(raw)
}

// WriteString writes s in the layout read by ReadString and returns the number of bytes written.
func WriteString(out io.Writer, s string, w Width, xor bool) (int, error) {
	raw, err := EncodeUTF16(s)
	if err != nil {
		return 0, err
	}
	if err := w.WriteInt(out, int64(len(raw)/2)); err != nil {
		return 0, err
	}
	if xor {
		Xor(raw)
	}
	if err := writeFull(out, raw); err != nil {
		return int(w), err
	}
	return int(w) + len(raw), nil
}

func writeFull(out io.Writer, p []byte) error {
	n, err := out.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, len(p), io.ErrShortWrite)
	}
	return nil
}
