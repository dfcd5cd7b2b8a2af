package config

import (
	"time"

	"github.com/pkg/errors"
)

type Format string

const (
	FormatBinary Format = "binary"
	FormatJSON   Format = "json"
)

type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
	CompressionZstd   Compression = "zstd"
)

const (
	DefaultSegmentSize     = 64 * 1024 * 1024 // 64MB
	DefaultTimeout         = 30 * time.Second
	DefaultMaxEntries      = 1000
	DefaultCleanupInterval = 10 * time.Second
)

var ErrInvalidConfig = errors.New("invalid config")

// Options configures a write-ahead log.
type Options struct {
	SegmentSize    int64         `mapstructure:"segment_size" yaml:"segment_size"`
	MaxSegments    int           `mapstructure:"max_segments" yaml:"max_segments"` // 0 keeps every segment
	CachedSegments int           `mapstructure:"cached_segments" yaml:"cached_segments"`
	SyncAfterWrite bool          `mapstructure:"sync_after_write" yaml:"sync_after_write"`
	Format         Format        `mapstructure:"format" yaml:"format"`
	Compression    Compression   `mapstructure:"compression" yaml:"compression"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxEntries     int           `mapstructure:"max_entries" yaml:"max_entries"`

	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

func Defaults() Options {
	return Options{
		SegmentSize:     DefaultSegmentSize,
		CachedSegments:  2,
		SyncAfterWrite:  true,
		Format:          FormatBinary,
		Compression:     CompressionNone,
		DefaultTimeout:  DefaultTimeout,
		MaxEntries:      DefaultMaxEntries,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// Validate reports the first invalid option wrapped in ErrInvalidConfig.
func (o Options) Validate() error {
	switch {
	case o.SegmentSize <= 0:
		return errors.Wrapf(ErrInvalidConfig, "segment size must be positive, got %d", o.SegmentSize)
	case o.MaxSegments < 0:
		return errors.Wrapf(ErrInvalidConfig, "max segments must not be negative, got %d", o.MaxSegments)
	case o.CachedSegments < 0:
		return errors.Wrapf(ErrInvalidConfig, "cached segments must not be negative, got %d", o.CachedSegments)
	case o.DefaultTimeout <= 0:
		return errors.Wrapf(ErrInvalidConfig, "default timeout must be positive, got %s", o.DefaultTimeout)
	case o.MaxEntries <= 0:
		return errors.Wrapf(ErrInvalidConfig, "max entries must be positive, got %d", o.MaxEntries)
	case o.CleanupInterval <= 0:
		return errors.Wrapf(ErrInvalidConfig, "cleanup interval must be positive, got %s", o.CleanupInterval)
	}

	switch o.Format {
	case FormatBinary, FormatJSON:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown format %q", o.Format)
	}

	switch o.Compression {
	case CompressionNone, CompressionSnappy, CompressionZstd:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown compression %q", o.Compression)
	}

	return nil
}
