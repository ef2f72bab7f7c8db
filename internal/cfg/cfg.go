// Package cfg holds the optional YAML configuration shared by the four
// pipeline binaries.
package cfg

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cipherline/cipherline/internal/logging"
)

// OutputDirEnv overrides the configured output directory for receivers.
const OutputDirEnv = "OUTPUT_DIR"

// Config is the on-disk configuration. Every field has a usable default;
// the config file is optional.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`

	// OutputDir is where receivers place the reconstructed file.
	OutputDir string `yaml:"output_dir"`

	// AttachTimeoutMs bounds how long emitters and receivers retry
	// attaching to a segment that is not there yet.
	AttachTimeoutMs int `yaml:"attach_timeout_ms"`
}

// AttachTimeout returns the attach retry window as a duration.
func (c *Config) AttachTimeout() time.Duration {
	return time.Duration(c.AttachTimeoutMs) * time.Millisecond
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Logging:         logging.DefaultConfig(),
		OutputDir:       "./out",
		AttachTimeoutMs: 5000,
	}
}

// LoadConfig loads configuration from a YAML file at the specified path. An
// empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}
	return cfg, nil
}

// ResolveOutputDir applies the environment override to the configured
// output directory.
func (c *Config) ResolveOutputDir() string {
	if dir := os.Getenv(OutputDirEnv); dir != "" {
		return dir
	}
	if c.OutputDir != "" {
		return c.OutputDir
	}
	return "./out"
}
