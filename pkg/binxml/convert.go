package binxml

import (
	"fmt"
	"log/slog"
	"os"
)

// Direction is the conversion AutoConvert performed.
type Direction int

const (
	// DirNone means nothing was converted.
	DirNone Direction = iota
	// DirTextToBin means textual XML was encoded as binary XML.
	DirTextToBin
	// DirBinToText means binary XML was rendered as textual XML.
	DirBinToText
)

func (d Direction) String() string {
	switch d {
	case DirTextToBin:
		return "text to bin"
	case DirBinToText:
		return "bin to text"
	default:
		return "none"
	}
}

// Converter converts whole files between the binary and textual forms.
// It holds no per-call state and is safe for concurrent use.
type Converter struct {
	logger *slog.Logger
}

// ConverterOption configures a Converter.
type ConverterOption func(*Converter)

// WithLogger sets the logger for conversion warnings.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) ConverterOption {
	return func(c *Converter) {
		c.logger = logger
	}
}

// NewConverter returns a Converter configured by opts.
func NewConverter(opts ...ConverterOption) *Converter {
	c := &Converter{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Converter) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// BinaryToText decodes binary XML and renders it as textual XML.
func (c *Converter) BinaryToText(data []byte) ([]byte, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return ToText(doc)
}

// TextToBinary parses textual XML and encodes it as binary XML. A document
// without a leading path comment is encoded with an empty path.
func (c *Converter) TextToBinary(data []byte) ([]byte, error) {
	doc, hasPath, err := ParseText(data)
	if err != nil {
		return nil, err
	}
	if !hasPath {
		c.log().Warn("xml has no path comment, using an empty path", "root", doc.Root.Name)
	}
	return Encode(doc)
}

// AutoConvert converts data in whichever direction its leading bytes call for.
// Data that is neither form yields ErrUnknownType.
func (c *Converter) AutoConvert(data []byte) ([]byte, Direction, error) {
	switch {
	case IsText(data):
		out, err := c.TextToBinary(data)
		return out, DirTextToBin, err
	case IsBinary(data):
		out, err := c.BinaryToText(data)
		return out, DirBinToText, err
	default:
		return nil, DirNone, ErrUnknownType
	}
}

// AutoConvertFile converts the file at path in place.
func (c *Converter) AutoConvertFile(path string) (Direction, error) {
	c.log().Info("auto converting", "path", path)

	info, err := os.Stat(path)
	if err != nil {
		return DirNone, fmt.Errorf("file open failed: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DirNone, fmt.Errorf("file open failed: %w", err)
	}

	out, dir, err := c.AutoConvert(data)
	if err != nil {
		return dir, fmt.Errorf("convert %s: %w", path, err)
	}
	c.log().Info("converting", "path", path, "direction", dir.String())

	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return dir, fmt.Errorf("write %s: %w", path, err)
	}
	c.log().Info("convert finished", "path", path, "bytes", len(out))
	return dir, nil
}
