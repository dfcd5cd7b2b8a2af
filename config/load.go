package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const envPrefix = "STRATA"

// Load reads options from the file at path, falling back to Defaults for
// missing keys. Environment variables prefixed with STRATA_ override both.
// An empty path loads defaults and environment only.
func Load(path string) (Options, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("segment_size", d.SegmentSize)
	v.SetDefault("max_segments", d.MaxSegments)
	v.SetDefault("cached_segments", d.CachedSegments)
	v.SetDefault("sync_after_write", d.SyncAfterWrite)
	v.SetDefault("format", string(d.Format))
	v.SetDefault("compression", string(d.Compression))
	v.SetDefault("default_timeout", d.DefaultTimeout)
	v.SetDefault("max_entries", d.MaxEntries)
	v.SetDefault("cleanup_interval", d.CleanupInterval)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Options{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, errors.Wrap(err, "decode config")
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}

	return opts, nil
}
