package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidateRejectsBadOptions(t *testing.T) {
	cases := map[string]func(o *Options){
		"zero segment size":     func(o *Options) { o.SegmentSize = 0 },
		"negative segment size": func(o *Options) { o.SegmentSize = -1 },
		"negative max segments": func(o *Options) { o.MaxSegments = -1 },
		"negative cache":        func(o *Options) { o.CachedSegments = -2 },
		"zero timeout":          func(o *Options) { o.DefaultTimeout = 0 },
		"zero max entries":      func(o *Options) { o.MaxEntries = 0 },
		"zero cleanup interval": func(o *Options) { o.CleanupInterval = 0 },
		"unknown format":        func(o *Options) { o.Format = "xml" },
		"unknown compression":   func(o *Options) { o.Compression = "lz4" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := Defaults()
			mutate(&opts)

			err := opts.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.yaml")

	content := []byte(`segment_size: 4096
max_segments: 8
sync_after_write: false
format: json
compression: snappy
default_timeout: 250ms
cleanup_interval: 1s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	opts, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(4096), opts.SegmentSize)
	assert.Equal(t, 8, opts.MaxSegments)
	assert.False(t, opts.SyncAfterWrite)
	assert.Equal(t, FormatJSON, opts.Format)
	assert.Equal(t, CompressionSnappy, opts.Compression)
	assert.Equal(t, 250*time.Millisecond, opts.DefaultTimeout)
	assert.Equal(t, time.Second, opts.CleanupInterval)
	assert.Equal(t, DefaultMaxEntries, opts.MaxEntries)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	opts, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), opts)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("segment_size: -5\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
