package dat

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/user/bnsdat/pkg/wire"
)

// Signature is the magic string at offset 0 of every archive.
const Signature = "UOSEDALB"

// Version is the only archive version this package reads or writes.
const Version = 2

// MaxFileCount is the exclusive upper bound on the number of entries in a valid header.
const MaxFileCount = 10000

// entryFlag is the value of the leading entry byte written by the reference packer.
const entryFlag = 2

// Header is the fixed-size record at the start of an archive.
// The integer fields are stored with the archive's width; reserved ranges are
// kept so a header read from disk can be written back unchanged.
type Header struct {
	Signature                 [8]byte
	Version                   int32
	TotalFileIntermediateSize int64 // sum of Entry.IntermediateSize over all entries
	FileCount                 int64
	IsCompressed              bool // flags of the file table blob, not of the entries
	IsEncrypted               bool
	PackedFileTableSize       int64
	UnpackedFileTableSize     int64

	Reserved1 [5]byte
	Reserved2 [62]byte
}

// Entry describes one file stored in the archive. Entries are found inside the
// decoded file table, each preceded by its relative path.
type Entry struct {
	Path             string // relative path, backslash separated
	Flag             uint8
	IsCompressed     bool
	IsEncrypted      bool
	Reserved1        uint8
	UnpackedSize     int64 // original byte length
	IntermediateSize int64 // length after compression, before cipher padding
	PackedSize       int64 // length stored on disk
	DataOffset       int64 // relative to the start of the data region

	Padding [60]byte
}

// header32 and header64 are the packed on-disk layouts of Header.
type header32 struct {
	Signature                 [8]byte
	Version                   int32
	Reserved1                 [5]byte
	TotalFileIntermediateSize int32
	FileCount                 int32
	IsCompressed              bool
	IsEncrypted               bool
	Reserved2                 [62]byte
	PackedFileTableSize       int32
	UnpackedFileTableSize     int32
}

type header64 struct {
	Signature                 [8]byte
	Version                   int32
	Reserved1                 [5]byte
	TotalFileIntermediateSize int64
	FileCount                 int64
	IsCompressed              bool
	IsEncrypted               bool
	Reserved2                 [62]byte
	PackedFileTableSize       int64
	UnpackedFileTableSize     int64
}

// entry32 and entry64 are the packed on-disk layouts of Entry, minus the path.
type entry32 struct {
	Flag             uint8
	IsCompressed     bool
	IsEncrypted      bool
	Reserved1        uint8
	UnpackedSize     int32
	IntermediateSize int32
	PackedSize       int32
	DataOffset       int32
	Padding          [60]byte
}

type entry64 struct {
	Flag             uint8
	IsCompressed     bool
	IsEncrypted      bool
	Reserved1        uint8
	UnpackedSize     int64
	IntermediateSize int64
	PackedSize       int64
	DataOffset       int64
	Padding          [60]byte
}

// HeaderSize returns the on-disk size of the header for width w (97 or 113 bytes).
func HeaderSize(w wire.Width) int {
	if w == wire.Width64 {
		return binary.Size(header64{})
	}
	return binary.Size(header32{})
}

// EntrySize returns the on-disk size of an entry record for width w, excluding its path (80 or 96 bytes).
func EntrySize(w wire.Width) int {
	if w == wire.Width64 {
		return binary.Size(entry64{})
	}
	return binary.Size(entry32{})
}

// NewHeader returns a zero-filled header carrying the archive signature and version.
func NewHeader() Header {
	h := Header{Version: Version}
	copy(h.Signature[:], Signature)
	return h
}

// Validate checks the structural invariants every readable archive header satisfies.
func (h *Header) Validate() error {
	if string(h.Signature[:]) != Signature {
		return fmt.Errorf("%w: bad signature %q", ErrFormat, h.Signature[:])
	}
	if h.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrFormat, h.Version)
	}
	if h.FileCount <= 0 || h.FileCount >= MaxFileCount {
		return fmt.Errorf("%w: invalid file count %d", ErrFormat, h.FileCount)
	}
	if h.PackedFileTableSize > h.UnpackedFileTableSize {
		return fmt.Errorf("%w: packed file table size %d exceeds unpacked size %d",
			ErrFormat, h.PackedFileTableSize, h.UnpackedFileTableSize)
	}
	if h.PackedFileTableSize < 0 {
		return fmt.Errorf("%w: negative packed file table size %d", ErrFormat, h.PackedFileTableSize)
	}
	return nil
}

// ReadHeader reads a header of width w. It does not validate it.
func ReadHeader(r io.Reader, w wire.Width) (*Header, error) {
	h := &Header{}
	switch w {
	case wire.Width32:
		var raw header32
		if err := binary.Read(r, wire.Endian, &raw); err != nil {
			return nil, fmt.Errorf("failed to read %s header: %w", w, err)
		}
		*h = Header{
			Signature:                 raw.Signature,
			Version:                   raw.Version,
			TotalFileIntermediateSize: int64(raw.TotalFileIntermediateSize),
			FileCount:                 int64(raw.FileCount),
			IsCompressed:              raw.IsCompressed,
			IsEncrypted:               raw.IsEncrypted,
			PackedFileTableSize:       int64(raw.PackedFileTableSize),
			UnpackedFileTableSize:     int64(raw.UnpackedFileTableSize),
			Reserved1:                 raw.Reserved1,
			Reserved2:                 raw.Reserved2,
		}
	case wire.Width64:
		var raw header64
		if err := binary.Read(r, wire.Endian, &raw); err != nil {
			return nil, fmt.Errorf("failed to read %s header: %w", w, err)
		}
		*h = Header{
			Signature:                 raw.Signature,
			Version:                   raw.Version,
			TotalFileIntermediateSize: raw.TotalFileIntermediateSize,
			FileCount:                 raw.FileCount,
			IsCompressed:              raw.IsCompressed,
			IsEncrypted:               raw.IsEncrypted,
			PackedFileTableSize:       raw.PackedFileTableSize,
			UnpackedFileTableSize:     raw.UnpackedFileTableSize,
			Reserved1:                 raw.Reserved1,
			Reserved2:                 raw.Reserved2,
		}
	default:
		return nil, fmt.Errorf("unsupported archive width %d", int(w))
	}
	return h, nil
}

// Encode writes h using width w. Fields that do not fit a 32-bit archive yield ErrSizeOverflow.
func (h *Header) Encode(out io.Writer, w wire.Width) error {
	switch w {
	case wire.Width32:
		if err := fitAll(w, h.TotalFileIntermediateSize, h.FileCount, h.PackedFileTableSize, h.UnpackedFileTableSize); err != nil {
			return fmt.Errorf("header: %w", err)
		}
		raw := header32{
			Signature:                 h.Signature,
			Version:                   h.Version,
			Reserved1:                 h.Reserved1,
			TotalFileIntermediateSize: int32(h.TotalFileIntermediateSize),
			FileCount:                 int32(h.FileCount),
			IsCompressed:              h.IsCompressed,
			IsEncrypted:               h.IsEncrypted,
			Reserved2:                 h.Reserved2,
			PackedFileTableSize:       int32(h.PackedFileTableSize),
			UnpackedFileTableSize:     int32(h.UnpackedFileTableSize),
		}
		return binary.Write(out, wire.Endian, &raw)
	case wire.Width64:
		raw := header64{
			Signature:                 h.Signature,
			Version:                   h.Version,
			Reserved1:                 h.Reserved1,
			TotalFileIntermediateSize: h.TotalFileIntermediateSize,
			FileCount:                 h.FileCount,
			IsCompressed:              h.IsCompressed,
			IsEncrypted:               h.IsEncrypted,
			Reserved2:                 h.Reserved2,
			PackedFileTableSize:       h.PackedFileTableSize,
			UnpackedFileTableSize:     h.UnpackedFileTableSize,
		}
		return binary.Write(out, wire.Endian, &raw)
	default:
		return fmt.Errorf("unsupported archive width %d", int(w))
	}
}

// readEntry reads one path-prefixed entry record from the decoded file table.
func readEntry(r io.Reader, w wire.Width) (*Entry, error) {
	path, err := wire.ReadString(r, w, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry path: %w", err)
	}

	e := &Entry{Path: path}
	switch w {
	case wire.Width32:
		var raw entry32
		if err := binary.Read(r, wire.Endian, &raw); err != nil {
			return nil, fmt.Errorf("%w: entry %q record: %v", wire.ErrTruncated, path, err)
		}
		e.Flag, e.IsCompressed, e.IsEncrypted, e.Reserved1 = raw.Flag, raw.IsCompressed, raw.IsEncrypted, raw.Reserved1
		e.UnpackedSize = int64(raw.UnpackedSize)
		e.IntermediateSize = int64(raw.IntermediateSize)
		e.PackedSize = int64(raw.PackedSize)
		e.DataOffset = int64(raw.DataOffset)
		e.Padding = raw.Padding
	case wire.Width64:
		var raw entry64
		if err := binary.Read(r, wire.Endian, &raw); err != nil {
			return nil, fmt.Errorf("%w: entry %q record: %v", wire.ErrTruncated, path, err)
		}
		e.Flag, e.IsCompressed, e.IsEncrypted, e.Reserved1 = raw.Flag, raw.IsCompressed, raw.IsEncrypted, raw.Reserved1
		e.UnpackedSize = raw.UnpackedSize
		e.IntermediateSize = raw.IntermediateSize
		e.PackedSize = raw.PackedSize
		e.DataOffset = raw.DataOffset
		e.Padding = raw.Padding
	default:
		return nil, fmt.Errorf("unsupported archive width %d", int(w))
	}
	return e, nil
}

// encode appends the path and record of e to the file table stream.
func (e *Entry) encode(out io.Writer, w wire.Width) error {
	if err := fitAll(w, e.UnpackedSize, e.IntermediateSize, e.PackedSize, e.DataOffset); err != nil {
		return fmt.Errorf("entry %q: %w", e.Path, err)
	}
	if _, err := wire.WriteString(out, e.Path, w, false); err != nil {
		return fmt.Errorf("entry %q path: %w", e.Path, err)
	}

	var raw any
	switch w {
	case wire.Width32:
		raw = &entry32{
			Flag:             e.Flag,
			IsCompressed:     e.IsCompressed,
			IsEncrypted:      e.IsEncrypted,
			Reserved1:        e.Reserved1,
			UnpackedSize:     int32(e.UnpackedSize),
			IntermediateSize: int32(e.IntermediateSize),
			PackedSize:       int32(e.PackedSize),
			DataOffset:       int32(e.DataOffset),
			Padding:          e.Padding,
		}
	case wire.Width64:
		raw = &entry64{
			Flag:             e.Flag,
			IsCompressed:     e.IsCompressed,
			IsEncrypted:      e.IsEncrypted,
			Reserved1:        e.Reserved1,
			UnpackedSize:     e.UnpackedSize,
			IntermediateSize: e.IntermediateSize,
			PackedSize:       e.PackedSize,
			DataOffset:       e.DataOffset,
			Padding:          e.Padding,
		}
	default:
		return fmt.Errorf("unsupported archive width %d", int(w))
	}
	return binary.Write(out, wire.Endian, raw)
}

// check rejects entries whose sizes cannot describe stored data in a data
// region of dataSize bytes.
func (e *Entry) check(dataSize int64) error {
	if e.UnpackedSize < 0 || e.IntermediateSize < 0 || e.PackedSize < 0 || e.DataOffset < 0 {
		return fmt.Errorf("%w: entry %q has negative size or offset", ErrCorrupt, e.Path)
	}
	if e.PackedSize > dataSize || e.DataOffset > dataSize-e.PackedSize {
		return fmt.Errorf("%w: entry %q data [%d, +%d) lies outside the %d byte data region",
			ErrCorrupt, e.Path, e.DataOffset, e.PackedSize, dataSize)
	}
	return nil
}

func fitAll(w wire.Width, values ...int64) error {
	for _, v := range values {
		if !w.Fits(v) {
			return fmt.Errorf("%w: %d does not fit a %s archive", ErrSizeOverflow, v, w)
		}
	}
	return nil
}
