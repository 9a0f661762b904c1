package binxml

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/user/bnsdat/pkg/wire"
)

const (
	// Signature is the magic at offset 0 of a binary XML file.
	Signature = "LMXBOSLB"
	// Version is the version written by Encode. Decode does not check it.
	Version = 3
	// HeaderSize is the on-disk size of Header.
	HeaderSize = 81

	headerFlag = 1
)

var (
	// ErrFormat is returned for input that is not a well-formed binary or textual XML document.
	ErrFormat = errors.New("binxml: invalid format")

	// ErrUnknownType is returned by AutoConvert for data that is neither binary nor textual XML.
	ErrUnknownType = errors.New("binxml: unknown file type")
)

// Header is the fixed-size record at the start of a binary XML file.
type Header struct {
	Signature [8]byte
	Version   int32
	FileSize  int32 // total length of the file, header included
	Reserved  [64]byte
	Flag      uint8
}

// NewHeader returns the header Encode writes for new documents.
func NewHeader() Header {
	h := Header{Version: Version, Flag: headerFlag}
	copy(h.Signature[:], Signature)
	return h
}

func (h *Header) valid() bool {
	return string(h.Signature[:]) == Signature
}

func readHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, wire.Endian, &h); err != nil {
		return h, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	if !h.valid() {
		return h, fmt.Errorf("%w: bad signature %q", ErrFormat, h.Signature[:])
	}
	return h, nil
}

func (h *Header) encode(out io.Writer) error {
	return binary.Write(out, wire.Endian, h)
}

// IsBinary reports whether data starts with the binary XML signature.
func IsBinary(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Signature))
}
