package dat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/user/bnsdat/pkg/binxml"
	"github.com/user/bnsdat/pkg/wire"
)

// Source is the seekable, randomly addressable input an archive is read from.
// *os.File and *bytes.Reader satisfy it.
type Source interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Archive is an opened archive whose header and file table have been decoded.
type Archive struct {
	src     Source
	closer  io.Closer
	cfg     config
	codec   *Codec
	header  Header
	entries []Entry
	index   map[string]int

	// dataBase is the position of the first data byte; entry offsets are relative to it.
	dataBase int64
	dataSize int64
}

// Open opens the archive at path. The width option must match the file's variant.
func Open(path string, opts ...Option) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}

	a, err := NewReader(f, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read archive %s: %w", path, err)
	}
	a.closer = f
	return a, nil
}

// NewReader reads and validates the header, then decodes the file table.
// A header or table that cannot be decoded yields an error wrapping ErrFormat or ErrCorrupt.
func NewReader(src Source, opts ...Option) (*Archive, error) {
	cfg := newConfig(opts)
	if !cfg.width.Valid() {
		return nil, fmt.Errorf("unsupported archive width %d", int(cfg.width))
	}
	a := &Archive{
		src:   src,
		cfg:   cfg,
		codec: cfg.codec(),
		index: make(map[string]int),
	}

	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to determine archive size: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to archive start: %w", err)
	}

	width := cfg.width
	if size <= int64(HeaderSize(width)) {
		return nil, fmt.Errorf("%w: %d bytes is too short for a %s archive", ErrFormat, size, width)
	}
	header, err := ReadHeader(src, width)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}
	a.header = *header

	if header.PackedFileTableSize > size-int64(HeaderSize(width))-int64(width) {
		return nil, fmt.Errorf("%w: file table of %d bytes runs past the end of the archive", ErrFormat, header.PackedFileTableSize)
	}
	tableEnd := int64(HeaderSize(width)) + header.PackedFileTableSize + int64(width)
	packedTable := make([]byte, header.PackedFileTableSize)
	if _, err := io.ReadFull(src, packedTable); err != nil {
		return nil, fmt.Errorf("%w: failed to read file table: %v", ErrFormat, err)
	}

	declaredBase, err := width.ReadInt(src)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read data begin position: %v", ErrFormat, err)
	}
	// Producers sometimes record a wrong position without damaging the data;
	// offsets are resolved against where the data region actually starts.
	a.dataBase = tableEnd
	a.dataSize = size - tableEnd
	if declaredBase != a.dataBase {
		a.log().Warn("data begin position mismatch", "declared", declaredBase, "actual", a.dataBase)
	}

	table, err := a.codec.Unpack(packedTable, header.UnpackedFileTableSize, header.IsEncrypted, header.IsCompressed)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack file table: %w", err)
	}
	a.parseTable(table)
	return a, nil
}

// parseTable decodes up to FileCount entries. A table that ends early keeps the
// entries decoded so far.
func (a *Archive) parseTable(table []byte) {
	r := bytes.NewReader(table)
	for i := int64(0); i < a.header.FileCount; i++ {
		if r.Len() == 0 {
			a.log().Warn("file table ended early", "entries", i, "declared", a.header.FileCount)
			break
		}
		entry, err := readEntry(r, a.cfg.width)
		if err != nil {
			a.log().Warn("file table truncated", "entries", i, "declared", a.header.FileCount, "error", err)
			break
		}
		a.index[normalizePath(entry.Path)] = len(a.entries)
		a.entries = append(a.entries, *entry)
	}
}

// Close closes the underlying file if the archive was opened with Open.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// Header returns the decoded archive header.
func (a *Archive) Header() Header {
	return a.header
}

// Entries returns the decoded file table in stored order.
func (a *Archive) Entries() []Entry {
	return a.entries
}

// Lookup finds an entry by relative path. Matching ignores case and accepts
// either slash or backslash separators.
func (a *Archive) Lookup(path string) (*Entry, bool) {
	i, ok := a.index[normalizePath(path)]
	if !ok {
		return nil, false
	}
	return &a.entries[i], true
}

// ReadEntry reads and unpacks the content of e. It is safe for concurrent use.
func (a *Archive) ReadEntry(e *Entry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("entry is nil")
	}
	if err := e.check(a.dataSize); err != nil {
		return nil, err
	}

	stored := make([]byte, e.PackedSize)
	if len(stored) > 0 {
		n, err := a.src.ReadAt(stored, a.dataBase+e.DataOffset)
		if n < len(stored) {
			return nil, fmt.Errorf("read %s: %w: %v", e.Path, wire.ErrTruncated, err)
		}
	}

	data, err := a.codec.Unpack(stored, e.UnpackedSize, e.IsEncrypted, e.IsCompressed)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", e.Path, err)
	}
	return data, nil
}

// Extract writes every entry below outDir. Failures of individual entries are
// logged and skipped; only context cancellation or an unusable outDir is returned.
func (a *Archive) Extract(ctx context.Context, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	convert := a.cfg.convert(false)
	converter := a.cfg.converter()
	total := len(a.entries)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.workerCount())
	for i := range a.entries {
		entry := &a.entries[i]
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a.log().Info("extracting entry", "index", i+1, "count", a.header.FileCount, "path", entry.Path)
			a.extractEntry(entry, outDir, convert, converter)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var sum int64
	for i := range a.entries {
		sum += a.entries[i].IntermediateSize
	}
	if sum != a.header.TotalFileIntermediateSize {
		a.log().Warn("recorded total intermediate size mismatch",
			"recorded", a.header.TotalFileIntermediateSize, "actual", sum)
	}
	a.log().Info("extract finished", "entries", total)
	return nil
}

func (a *Archive) extractEntry(e *Entry, outDir string, convert bool, converter *binxml.Converter) {
	data, err := a.ReadEntry(e)
	if err != nil {
		a.log().Warn("skipping unreadable entry", "path", e.Path, "error", err)
		return
	}

	if convert && isXMLPath(e.Path) && binxml.IsBinary(data) {
		text, err := converter.BinaryToText(data)
		if err != nil {
			a.log().Warn("binary xml conversion failed, writing raw bytes", "path", e.Path, "error", err)
		} else {
			data = text
		}
	}

	dest, ok := localPath(outDir, e.Path)
	if !ok {
		a.log().Warn("skipping entry outside output directory", "path", e.Path)
		return
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		a.log().Warn("file open failed", "path", e.Path, "error", err)
		return
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		a.log().Warn("file open failed", "path", e.Path, "error", err)
	}
}

// ExtractFile opens the archive at archivePath and extracts it to outDir.
func ExtractFile(ctx context.Context, archivePath, outDir string, opts ...Option) error {
	cfg := newConfig(opts)
	cfg.log().Info("extracting archive", "archive", archivePath, "out", outDir, "width", cfg.width.String())

	a, err := Open(archivePath, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Extract(ctx, outDir)
}

// log returns the configured logger.
func (a *Archive) log() *slog.Logger {
	return a.cfg.log()
}

// normalizePath maps an entry path to its lookup key.
func normalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "/", "\\"))
}

func isXMLPath(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".xml")
}

// localPath resolves a backslash-separated entry path below root.
// It reports false for absolute paths and paths that climb out of root.
func localPath(root, entryPath string) (string, bool) {
	rel := filepath.FromSlash(strings.ReplaceAll(entryPath, "\\", "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.Join(root, rel), true
}
