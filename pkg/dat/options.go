package dat

import (
	"log/slog"
	"runtime"

	"github.com/klauspost/compress/zlib"

	"github.com/user/bnsdat/pkg/binxml"
	"github.com/user/bnsdat/pkg/wire"
)

// config holds the settings shared by the reader and the writer.
type config struct {
	width         wire.Width
	convertXML    bool
	convertXMLSet bool
	workers       int
	level         int
	cipher        *Cipher
	logger        *slog.Logger
}

// Option configures archive reading, extraction and compression.
type Option func(*config)

// WithWidth selects the 32-bit or 64-bit archive variant. The default is wire.Width32.
func WithWidth(w wire.Width) Option {
	return func(c *config) {
		c.width = w
	}
}

// WithXMLConversion toggles binary XML conversion of ".xml" entries.
// Extraction converts binary XML to text only when enabled; compression
// converts textual XML to binary unless disabled.
func WithXMLConversion(enabled bool) Option {
	return func(c *config) {
		c.convertXML = enabled
		c.convertXMLSet = true
	}
}

// WithWorkers sets how many entries are extracted concurrently.
// One (the default) extracts serially; zero or less uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithCompressionLevel sets the zlib level used when packing. The default matches zlib's default level.
func WithCompressionLevel(level int) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithCipher replaces the process-wide cipher.
func WithCipher(ci *Cipher) Option {
	return func(c *config) {
		c.cipher = ci
	}
}

// WithLogger sets the logger for progress and warnings.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func newConfig(opts []Option) config {
	cfg := config{
		width:   wire.Width32,
		workers: 1,
		level:   zlib.DefaultCompression,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// log returns the logger, falling back to a discard logger if nil.
func (c *config) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

func (c *config) convert(fallback bool) bool {
	if c.convertXMLSet {
		return c.convertXML
	}
	return fallback
}

func (c *config) workerCount() int {
	if c.workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.workers
}

func (c *config) codec() *Codec {
	return NewCodec(c.cipher, c.level)
}

func (c *config) converter() *binxml.Converter {
	return binxml.NewConverter(binxml.WithLogger(c.log()))
}
