// Package config loads the YAML configuration used by the command line tools.
package config

import (
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/rigado/blescard"
	"github.com/rigado/blescard/cache"
	"github.com/rigado/blescard/secure"
)

// Config represents the tool configuration
type Config struct {
	Reader    ReaderConfig    `yaml:"reader"`
	Security  SecurityConfig  `yaml:"security"`
	Transport TransportConfig `yaml:"transport"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
}

// ReaderConfig selects the reader to connect to
type ReaderConfig struct {
	Address     string        `yaml:"address"`
	Name        string        `yaml:"name"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// SecurityConfig enables the secure channel. An empty key leaves it off.
type SecurityConfig struct {
	KeyIndex string `yaml:"key_index"`
	Key      string `yaml:"key"`
}

// TransportConfig tunes the GATT exchange
type TransportConfig struct {
	ChunkSize       int           `yaml:"chunk_size"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

// CacheConfig points at the device info file
type CacheConfig struct {
	Path string `yaml:"path"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Reader:    ReaderConfig{ScanTimeout: 10 * time.Second},
		Security:  SecurityConfig{KeyIndex: "user"},
		Transport: TransportConfig{ChunkSize: blescard.DefaultWriteChunkSize, ResponseTimeout: blescard.DefaultResponseTimeout},
		Log:       LogConfig{Level: "info", Format: blescard.LogFormatText},
	}
}

// Load reads filename over the defaults and applies environment overrides.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("BLESCARD_KEY"); key != "" {
		c.Security.Key = key
	}
	if level := os.Getenv("BLESCARD_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if addr := os.Getenv("BLESCARD_ADDRESS"); addr != "" {
		c.Reader.Address = addr
	}
}

// Validate checks the values Options would reject.
func (c *Config) Validate() error {
	if c.Reader.Address != "" {
		if _, err := blescard.ParseAddr(c.Reader.Address); err != nil {
			return err
		}
	}
	if _, err := secure.ParseKeyIndex(c.Security.KeyIndex); err != nil {
		return err
	}
	if _, err := c.key(); err != nil {
		return err
	}
	if c.Transport.ChunkSize < 0 {
		return errors.Errorf("invalid chunk size %d", c.Transport.ChunkSize)
	}
	if c.Transport.ResponseTimeout < 0 {
		return errors.Errorf("invalid response timeout %v", c.Transport.ResponseTimeout)
	}
	return nil
}

func (c *Config) key() ([]byte, error) {
	if c.Security.Key == "" {
		return nil, nil
	}
	k, err := hex.DecodeString(c.Security.Key)
	if err != nil {
		return nil, errors.Wrap(err, "security key")
	}
	if len(k) != 16 {
		return nil, errors.Errorf("security key must be 16 bytes, got %d", len(k))
	}
	return k, nil
}

// ConfigureLogging installs the package logger described by the log section.
func (c *Config) ConfigureLogging(w io.Writer) error {
	return blescard.ConfigureLogger(w, c.Log.Level, c.Log.Format)
}

// Options maps the configuration to session options.
func (c *Config) Options() ([]blescard.Option, error) {
	var opts []blescard.Option

	if c.Reader.Address != "" {
		a, err := blescard.ParseAddr(c.Reader.Address)
		if err != nil {
			return nil, err
		}
		opts = append(opts, blescard.OptAddr(a))
	}

	key, err := c.key()
	if err != nil {
		return nil, err
	}
	if key != nil {
		idx, err := secure.ParseKeyIndex(c.Security.KeyIndex)
		if err != nil {
			return nil, err
		}
		opts = append(opts, blescard.OptSecureChannel(idx, key))
	}

	if c.Transport.ChunkSize > 0 {
		opts = append(opts, blescard.OptWriteChunkSize(c.Transport.ChunkSize))
	}
	if c.Transport.ResponseTimeout > 0 {
		opts = append(opts, blescard.OptResponseTimeout(c.Transport.ResponseTimeout))
	}
	if c.Cache.Path != "" {
		opts = append(opts, blescard.OptCache(cache.New(c.Cache.Path)))
	}
	return opts, nil
}
