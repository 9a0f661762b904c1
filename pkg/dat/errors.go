package dat

import "errors"

// Sentinel errors for archive operations.
var (
	// ErrFormat is returned when an archive header or file table is structurally invalid.
	ErrFormat = errors.New("dat: invalid archive format")

	// ErrCorrupt is returned when a packed blob cannot be decrypted or decompressed.
	ErrCorrupt = errors.New("dat: corrupt data")

	// ErrSizeOverflow is returned when a size or offset does not fit the archive width.
	ErrSizeOverflow = errors.New("dat: size overflow")
)
