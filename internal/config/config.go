// Package config loads the server's YAML configuration file into a typed
// Config, then lets CLI flags override individual fields.
//
// The shape is file -> loosely typed map -> typed struct -> flag override,
// matching the pack's config stacks but without pulling in a dedicated
// config library: gopkg.in/yaml.v3 unmarshals into a map[string]any,
// github.com/spf13/cast normalizes numeric fields in that map to the int
// types mapstructure will decode into (a YAML author can write 16, "16",
// or 16.0 and all three land the same), and github.com/mitchellh/mapstructure
// decodes the normalized map into Config.
package config

import (
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// TLS holds the optional TLS side-channel's listener configuration. Left
// zero, TLS is disabled.
type TLS struct {
	Addr     string `config:"addr" yaml:"addr"`
	CertFile string `config:"certFile" yaml:"certFile"`
	KeyFile  string `config:"keyFile" yaml:"keyFile"`
}

// Config is the full, typed server configuration.
type Config struct {
	Addr          string `config:"addr" yaml:"addr"`
	Multicore     bool   `config:"multicore" yaml:"multicore"`
	ReadBufferCap int    `config:"readBufferCap" yaml:"readBufferCap"`
	Shards        int    `config:"shards" yaml:"shards"`

	TLS TLS `config:"tls" yaml:"tls"`

	Logging LoggingOptions `config:"logging" yaml:"logging"`
}

// LoggingOptions mirrors internal/logging.Options so config files don't
// need to know about that package's import path.
type LoggingOptions struct {
	Stdout     bool   `config:"stdout" yaml:"stdout"`
	Level      string `config:"level" yaml:"level"`
	Filename   string `config:"filename" yaml:"filename"`
	MaxSize    int    `config:"maxSize" yaml:"maxSize"`
	MaxAge     int    `config:"maxAge" yaml:"maxAge"`
	MaxBackups int    `config:"maxBackups" yaml:"maxBackups"`
}

// Default returns the zero-config server: plaintext RESP on 0.0.0.0:6379,
// multicore on, logging to stdout at info level.
func Default() Config {
	return Config{
		Addr:          "tcp://0.0.0.0:6379",
		Multicore:     true,
		ReadBufferCap: 64 * 1024,
		Shards:        0, // 0 means "let backend.New pick the next power of two >= GOMAXPROCS*2"
		Logging: LoggingOptions{
			Stdout: true,
			Level:  "info",
		},
	}
}

// Load reads path as YAML and decodes it over Default(). A missing file is
// not an error: Default() is returned unchanged, so the server runs out of
// the box with no config file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config file %q", path)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config file %q", path)
	}
	if tree == nil {
		return cfg, nil
	}
	normalizeInts(tree, "shards", "readBufferCap")
	if logging, ok := tree["logging"].(map[string]any); ok {
		normalizeInts(logging, "maxSize", "maxAge", "maxBackups")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "config",
		Result:  &cfg,
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "building config decoder")
	}
	if err := decoder.Decode(tree); err != nil {
		return Config{}, errors.Wrapf(err, "decoding config file %q", path)
	}
	return cfg, nil
}

// normalizeInts rewrites each named key present in m to an int, using cast
// to coerce whatever yaml.v3 handed back (a quoted "16", a float64 from a
// "16.0" literal, or an int already) before mapstructure decodes the map
// into typed int fields.
func normalizeInts(m map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			m[k] = cast.ToInt(v)
		}
	}
}

// OverrideAddr applies a CLI --addr flag value over cfg.Addr, if non-empty.
func (c *Config) OverrideAddr(flag string) {
	if flag != "" {
		c.Addr = flag
	}
}

// OverrideLogLevel applies a CLI --log-level flag value over cfg.Logging.Level,
// if non-empty.
func (c *Config) OverrideLogLevel(flag string) {
	if flag != "" {
		c.Logging.Level = flag
	}
}

// OverrideShards applies a CLI --shards flag over cfg.Shards, if positive.
func (c *Config) OverrideShards(flag int) {
	if flag > 0 {
		c.Shards = flag
	}
}
