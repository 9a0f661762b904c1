package dat

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bnsdat/pkg/binxml"
	"github.com/user/bnsdat/pkg/wire"
)

// writeTree creates files below root. Keys use forward slashes.
func writeTree(t *testing.T, root string, files map[string][]byte) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, content, 0o644))
	}
}

func sampleXML(t *testing.T) []byte {
	t.Helper()
	root := binxml.NewElement("skill")
	root.SetAttr("id", "100")
	root.Append(binxml.NewElement("name").Append(binxml.NewText("Slash")))
	text, err := binxml.ToText(&binxml.Document{OriginalPath: `data\skill.xml`, Root: root})
	require.NoError(t, err)
	return text
}

func sampleFiles(t *testing.T) map[string][]byte {
	t.Helper()
	return map[string][]byte{
		"a.txt":          []byte("plain text file"),
		"data/skill.xml": sampleXML(t),
		"empty.dat":      {},
		"sub/dir/b.bin":  bytes.Repeat([]byte{0, 1, 2, 3, 250}, 3000),
	}
}

// buildArchive compresses files and returns the archive bytes.
func buildArchive(t *testing.T, files map[string][]byte, opts ...Option) []byte {
	t.Helper()
	in := t.TempDir()
	writeTree(t, in, files)

	var buf bytes.Buffer
	require.NoError(t, Compress(context.Background(), in, &buf, opts...))
	return buf.Bytes()
}

func TestCompressAndRead(t *testing.T) {
	for _, w := range []wire.Width{wire.Width32, wire.Width64} {
		t.Run(w.String(), func(t *testing.T) {
			files := sampleFiles(t)
			data := buildArchive(t, files, WithWidth(w), WithXMLConversion(false))

			a, err := NewReader(bytes.NewReader(data), WithWidth(w))
			require.NoError(t, err)
			defer a.Close()

			h := a.Header()
			assert.Equal(t, int64(4), h.FileCount)
			assert.True(t, h.IsCompressed)
			assert.True(t, h.IsEncrypted)

			var paths []string
			var sum int64
			for _, e := range a.Entries() {
				paths = append(paths, e.Path)
				sum += e.IntermediateSize
				assert.Equal(t, uint8(entryFlag), e.Flag)
				assert.GreaterOrEqual(t, e.PackedSize, e.IntermediateSize)
			}
			assert.Equal(t, []string{`a.txt`, `data\skill.xml`, `empty.dat`, `sub\dir\b.bin`}, paths)
			assert.Equal(t, h.TotalFileIntermediateSize, sum)

			for name, want := range files {
				e, ok := a.Lookup(name)
				require.True(t, ok, name)
				got, err := a.ReadEntry(e)
				require.NoError(t, err)
				assert.True(t, bytes.Equal(want, got), name)
			}
		})
	}
}

func TestDataBeginPosition(t *testing.T) {
	data := buildArchive(t, sampleFiles(t))
	a, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	pos := int64(HeaderSize(wire.Width32)) + a.Header().PackedFileTableSize
	declared, err := wire.Width32.ReadInt(bytes.NewReader(data[pos:]))
	require.NoError(t, err)
	assert.Equal(t, pos+4, declared)
}

func TestLookup(t *testing.T) {
	a, err := NewReader(bytes.NewReader(buildArchive(t, sampleFiles(t))))
	require.NoError(t, err)

	for _, p := range []string{`sub\dir\b.bin`, "sub/dir/b.bin", `SUB\Dir\B.BIN`} {
		e, ok := a.Lookup(p)
		require.True(t, ok, p)
		assert.Equal(t, `sub\dir\b.bin`, e.Path)
	}
	_, ok := a.Lookup("missing.txt")
	assert.False(t, ok)
}

func TestExtract(t *testing.T) {
	files := sampleFiles(t)
	data := buildArchive(t, files)

	a, err := NewReader(bytes.NewReader(data), WithXMLConversion(true), WithWorkers(4))
	require.NoError(t, err)

	// textual xml was stored as binary xml
	e, ok := a.Lookup("data/skill.xml")
	require.True(t, ok)
	stored, err := a.ReadEntry(e)
	require.NoError(t, err)
	assert.True(t, binxml.IsBinary(stored))

	out := t.TempDir()
	require.NoError(t, a.Extract(context.Background(), out))

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, string(want), string(got), name)
	}
}

func TestExtractWithoutConversion(t *testing.T) {
	data := buildArchive(t, sampleFiles(t))
	a, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	out := t.TempDir()
	require.NoError(t, a.Extract(context.Background(), out))

	got, err := os.ReadFile(filepath.Join(out, "data", "skill.xml"))
	require.NoError(t, err)
	assert.True(t, binxml.IsBinary(got))
}

func TestExtractCanceled(t *testing.T) {
	a, err := NewReader(bytes.NewReader(buildArchive(t, sampleFiles(t))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Extract(ctx, t.TempDir()), context.Canceled)
}

func TestCompressFileExtractFile(t *testing.T) {
	files := sampleFiles(t)
	in := t.TempDir()
	writeTree(t, in, files)

	archive := filepath.Join(t.TempDir(), "nested", "local.dat")
	ctx := context.Background()
	require.NoError(t, CompressFile(ctx, in, archive, WithWidth(wire.Width64)))

	out := filepath.Join(t.TempDir(), "local.dat.files")
	require.NoError(t, ExtractFile(ctx, archive, out, WithWidth(wire.Width64), WithXMLConversion(true)))

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := Open(archive, WithWidth(wire.Width32))
	assert.Error(t, err)
}

func TestCompressEmptyDirectory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Compress(context.Background(), t.TempDir(), &buf))

	_, err := NewReader(bytes.NewReader(buf.Bytes()))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestCompressMissingDirectory(t *testing.T) {
	var buf bytes.Buffer
	err := Compress(context.Background(), filepath.Join(t.TempDir(), "missing"), &buf)
	assert.Error(t, err)
}

func TestNewReaderRejectsHeaders(t *testing.T) {
	base := buildArchive(t, sampleFiles(t))

	// W=4 header offsets: file count at 21, packed table size at 89.
	testCases := []struct {
		name  string
		patch func(b []byte)
	}{
		{"BadSignature", func(b []byte) { b[0] = 'X' }},
		{"BadVersion", func(b []byte) { wire.Endian.PutUint32(b[8:], 1) }},
		{"ZeroFiles", func(b []byte) { wire.Endian.PutUint32(b[21:], 0) }},
		{"TooManyFiles", func(b []byte) { wire.Endian.PutUint32(b[21:], MaxFileCount) }},
		{"PackedLargerThanUnpacked", func(b []byte) {
			unpacked := wire.Endian.Uint32(b[93:])
			wire.Endian.PutUint32(b[89:], unpacked+1)
		}},
		{"TableBeyondEnd", func(b []byte) {
			wire.Endian.PutUint32(b[89:], 1<<30)
			wire.Endian.PutUint32(b[93:], 1<<30)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := bytes.Clone(base)
			tc.patch(data)
			_, err := NewReader(bytes.NewReader(data))
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	t.Run("TooShort", func(t *testing.T) {
		_, err := NewReader(bytes.NewReader(base[:50]))
		assert.ErrorIs(t, err, ErrFormat)
	})
}

func TestNewReaderTolerance(t *testing.T) {
	base := buildArchive(t, sampleFiles(t))

	t.Run("DataBeginMismatch", func(t *testing.T) {
		data := bytes.Clone(base)
		packed := wire.Endian.Uint32(data[89:])
		wire.Endian.PutUint32(data[HeaderSize(wire.Width32)+int(packed):], 12345)

		var logs bytes.Buffer
		a, err := NewReader(bytes.NewReader(data), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
		require.NoError(t, err)
		assert.Contains(t, logs.String(), "data begin position mismatch")

		e, ok := a.Lookup("a.txt")
		require.True(t, ok)
		got, err := a.ReadEntry(e)
		require.NoError(t, err)
		assert.Equal(t, "plain text file", string(got))
	})

	t.Run("ShortTable", func(t *testing.T) {
		data := bytes.Clone(base)
		wire.Endian.PutUint32(data[21:], 6)

		var logs bytes.Buffer
		a, err := NewReader(bytes.NewReader(data), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
		require.NoError(t, err)
		assert.Len(t, a.Entries(), 4)
		assert.Contains(t, logs.String(), "file table ended early")
	})

	t.Run("IntermediateSumMismatch", func(t *testing.T) {
		data := bytes.Clone(base)
		wire.Endian.PutUint32(data[17:], 1)

		var logs bytes.Buffer
		a, err := NewReader(bytes.NewReader(data), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
		require.NoError(t, err)
		require.NoError(t, a.Extract(context.Background(), t.TempDir()))
		assert.Contains(t, logs.String(), "recorded total intermediate size mismatch")
	})
}

func TestNewReaderTruncatedTable(t *testing.T) {
	content := []byte("first file content")
	first := Entry{
		Path:             `dir\first.txt`,
		Flag:             entryFlag,
		UnpackedSize:     int64(len(content)),
		IntermediateSize: int64(len(content)),
		PackedSize:       int64(len(content)),
	}
	second := Entry{
		Path:             `dir\second.txt`,
		Flag:             entryFlag,
		UnpackedSize:     4,
		IntermediateSize: 4,
		PackedSize:       4,
		DataOffset:       int64(len(content)),
	}

	var table bytes.Buffer
	require.NoError(t, first.encode(&table, wire.Width32))
	mark := table.Len()
	require.NoError(t, second.encode(&table, wire.Width32))
	// cut halfway through the second record
	cut := table.Bytes()[:mark+4+2*len(second.Path)+EntrySize(wire.Width32)/2]

	h := NewHeader()
	h.FileCount = 2
	h.TotalFileIntermediateSize = first.IntermediateSize
	h.PackedFileTableSize = int64(len(cut))
	h.UnpackedFileTableSize = int64(len(cut))

	var buf bytes.Buffer
	require.NoError(t, h.Encode(&buf, wire.Width32))
	buf.Write(cut)
	require.NoError(t, wire.Width32.WriteInt(&buf, int64(buf.Len()+4)))
	buf.Write(content)

	var logs bytes.Buffer
	a, err := NewReader(bytes.NewReader(buf.Bytes()), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)
	require.Len(t, a.Entries(), 1)
	assert.Equal(t, first.Path, a.Entries()[0].Path)
	assert.Contains(t, logs.String(), "file table truncated")
	assert.NotContains(t, logs.String(), "data begin position mismatch")

	out := t.TempDir()
	require.NoError(t, a.Extract(context.Background(), out))
	got, err := os.ReadFile(filepath.Join(out, "dir", "first.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.NoFileExists(t, filepath.Join(out, "dir", "second.txt"))
}

func TestReadEntryOutOfBounds(t *testing.T) {
	files := sampleFiles(t)
	data := buildArchive(t, files, WithWidth(wire.Width64))
	a, err := NewReader(bytes.NewReader(data), WithWidth(wire.Width64))
	require.NoError(t, err)

	testCases := []struct {
		name  string
		patch func(e *Entry)
	}{
		{"HugePackedSize", func(e *Entry) { e.PackedSize = 1 << 62 }},
		{"HugeOffset", func(e *Entry) { e.DataOffset = 1 << 62 }},
		{"PastEnd", func(e *Entry) { e.DataOffset = int64(len(data)) }},
		{"Negative", func(e *Entry) { e.PackedSize = -1 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := a.Entries()[0]
			tc.patch(&e)
			_, err := a.ReadEntry(&e)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}

	t.Run("LastEntryFits", func(t *testing.T) {
		entries := a.Entries()
		e := entries[len(entries)-1]
		got, err := a.ReadEntry(&e)
		require.NoError(t, err)
		assert.Equal(t, files["sub/dir/b.bin"], got)
	})

	t.Run("ExtractSkipsEntry", func(t *testing.T) {
		var logs bytes.Buffer
		a, err := NewReader(bytes.NewReader(data), WithWidth(wire.Width64),
			WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
		require.NoError(t, err)
		a.entries[0].PackedSize = 1 << 62

		out := t.TempDir()
		require.NoError(t, a.Extract(context.Background(), out))
		assert.Contains(t, logs.String(), "skipping unreadable entry")
		assert.NoFileExists(t, filepath.Join(out, "a.txt"))

		got, err := os.ReadFile(filepath.Join(out, "sub", "dir", "b.bin"))
		require.NoError(t, err)
		assert.Equal(t, files["sub/dir/b.bin"], got)
	})
}

func TestNewReaderTableSizeOverflow(t *testing.T) {
	data := buildArchive(t, sampleFiles(t), WithWidth(wire.Width64))

	// W=8 header offsets: packed table size at 97, unpacked at 105.
	wire.Endian.PutUint64(data[97:], math.MaxInt64)
	wire.Endian.PutUint64(data[105:], math.MaxInt64)
	_, err := NewReader(bytes.NewReader(data), WithWidth(wire.Width64))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestLocalPath(t *testing.T) {
	root := filepath.Join("out", "root")

	p, ok := localPath(root, `data\xml\a.xml`)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "data", "xml", "a.xml"), p)

	for _, bad := range []string{`..\evil.txt`, `data\..\..\evil.txt`, "/etc/passwd", ""} {
		_, ok := localPath(root, bad)
		assert.False(t, ok, bad)
	}
}

func TestListFilesOrder(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string][]byte{
		"b.txt":     nil,
		"a/z.txt":   nil,
		"a/b/c.txt": nil,
	})

	files, err := listFiles(root, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		rel = append(rel, f.rel)
		assert.True(t, filepath.IsAbs(f.abs))
	}
	assert.Equal(t, []string{`a\b\c.txt`, `a\z.txt`, `b.txt`}, rel)
}
