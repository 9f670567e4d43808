package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

const (
	DefaultPath        = "xmldb-data"
	DefaultCompression = "zstd"
	DefaultLogLevel    = "info"
)

type Config struct {
	Paths          []string `yaml:"paths"`
	MinimumFreeGB  uint     `yaml:"minimumFreeGB"`
	Compression    string   `yaml:"compression"`
	LogLevel       string   `yaml:"logLevel"`
	KeepWhitespace bool     `yaml:"keepWhitespace"`
}

// Load reads a YAML config file. A missing file yields the defaults; an
// empty path skips reading.
func Load(path string) (Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("error reading config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return Config{}, fmt.Errorf("error parsing config %s: %w", path, err)
			}
		}
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if len(c.Paths) == 0 {
		c.Paths = []string{DefaultPath}
	}
	if c.Compression == "" {
		c.Compression = DefaultCompression
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

func (c *Config) validate() error {
	switch c.Compression {
	case "none", "zstd", "xz":
	default:
		return fmt.Errorf("unknown compression %q, want none, zstd or xz", c.Compression)
	}
	return nil
}
