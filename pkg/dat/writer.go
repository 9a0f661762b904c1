package dat

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/user/bnsdat/pkg/binxml"
)

// Compress packs every file below inDir into an archive written to out.
//
// Files are compressed and encrypted individually; the file table is packed the
// same way once all files are known. Textual ".xml" files are converted to
// binary XML unless disabled with WithXMLConversion(false). Files that cannot
// be read are logged and left out.
func Compress(ctx context.Context, inDir string, out io.Writer, opts ...Option) error {
	cfg := newConfig(opts)
	width := cfg.width
	if !width.Valid() {
		return fmt.Errorf("unsupported archive width %d", int(width))
	}
	logger := cfg.log()

	files, err := listFiles(inDir, logger)
	if err != nil {
		return fmt.Errorf("list files in %s: %w", inDir, err)
	}

	codec := cfg.codec()
	convert := cfg.convert(true)
	converter := cfg.converter()

	header := NewHeader()
	header.IsCompressed = true
	header.IsEncrypted = true

	var table, data bytes.Buffer
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("compressing file", "index", i+1, "count", len(files), "path", f.rel)

		content, err := os.ReadFile(f.abs)
		if err != nil {
			logger.Warn("file open failed", "path", f.rel, "error", err)
			continue
		}
		if convert && isXMLPath(f.rel) && binxml.IsText(content) {
			converted, err := converter.TextToBinary(content)
			if err != nil {
				logger.Warn("text xml conversion failed, storing text", "path", f.rel, "error", err)
			} else {
				content = converted
			}
		}

		packed, intermediate, err := codec.Pack(content, true, true)
		if err != nil {
			return fmt.Errorf("pack %s: %w", f.rel, err)
		}

		entry := Entry{
			Path:             f.rel,
			Flag:             entryFlag,
			IsCompressed:     true,
			IsEncrypted:      true,
			UnpackedSize:     int64(len(content)),
			IntermediateSize: int64(intermediate),
			PackedSize:       int64(len(packed)),
			DataOffset:       int64(data.Len()),
		}
		if err := entry.encode(&table, width); err != nil {
			return err
		}
		data.Write(packed)

		header.TotalFileIntermediateSize += int64(intermediate)
		header.FileCount++
	}

	packedTable, _, err := codec.Pack(table.Bytes(), true, true)
	if err != nil {
		return fmt.Errorf("pack file table: %w", err)
	}
	header.UnpackedFileTableSize = int64(table.Len())
	header.PackedFileTableSize = int64(len(packedTable))
	if header.FileCount == 0 {
		logger.Warn("archive has no entries and will not be readable", "dir", inDir)
	}

	dataBegin := int64(HeaderSize(width)) + int64(len(packedTable)) + int64(width)
	if !width.Fits(dataBegin + int64(data.Len())) {
		return fmt.Errorf("%w: archive of %d bytes needs the 64-bit variant", ErrSizeOverflow, dataBegin+int64(data.Len()))
	}

	if err := header.Encode(out, width); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := out.Write(packedTable); err != nil {
		return fmt.Errorf("write file table: %w", err)
	}
	if err := width.WriteInt(out, dataBegin); err != nil {
		return fmt.Errorf("write data begin position: %w", err)
	}
	if _, err := data.WriteTo(out); err != nil {
		return fmt.Errorf("write file data: %w", err)
	}

	logger.Info("compress finished", "entries", header.FileCount, "bytes", dataBegin+int64(len(data.Bytes())))
	return nil
}

// CompressFile packs inDir into the archive at outPath. The archive is written
// to a temporary file next to outPath and renamed into place on success.
func CompressFile(ctx context.Context, inDir, outPath string, opts ...Option) error {
	cfg := newConfig(opts)
	cfg.log().Info("compressing directory", "dir", inDir, "archive", outPath, "width", cfg.width.String())

	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".bnsdat-*.tmp")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err := Compress(ctx, inDir, bw, opts...); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", outPath, err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("save archive: %w", err)
	}
	return nil
}
