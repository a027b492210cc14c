// Package config loads diaryctl configuration from TOML or YAML files with
// NOSTRDIARY_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the diaryctl configuration.
type Config struct {
	// DataDir holds the key file and database unless they are set explicitly.
	DataDir string `toml:"data_dir" yaml:"data_dir"`
	// KeyFile is the identity key file.
	KeyFile string `toml:"key_file" yaml:"key_file"`
	// Database is the SQLite diary store.
	Database string `toml:"database" yaml:"database"`
	// Passphrase unlocks the key file. Prefer NOSTRDIARY_PASSPHRASE over
	// writing it to disk.
	Passphrase string `toml:"passphrase" yaml:"passphrase"`

	Relays      []string      `toml:"relays" yaml:"relays"`
	Timeout     time.Duration `toml:"timeout" yaml:"timeout"`
	Retries     int           `toml:"retries" yaml:"retries"`
	Concurrency int           `toml:"concurrency" yaml:"concurrency"`
	// PublishRate is the maximum publishes per second, summed over all relays.
	// Zero disables pacing.
	PublishRate float64 `toml:"publish_rate" yaml:"publish_rate"`

	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint of long-running commands.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
}

// DefaultRelays are used when no relays are configured.
var DefaultRelays = []string{"wss://relay.damus.io", "wss://nos.lol"}

// Default returns the default configuration rooted at DataDirPath().
func Default() *Config {
	cfg := defaults()
	cfg.resolvePaths()
	return cfg
}

// defaults leaves KeyFile and Database empty so they follow DataDir.
func defaults() *Config {
	return &Config{
		DataDir:     DataDirPath(),
		Relays:      append([]string(nil), DefaultRelays...),
		Timeout:     30 * time.Second,
		Retries:     3,
		Concurrency: 8,
		PublishRate: 2,
		Logging:     LoggingConfig{Level: "info", Format: "text"},
		Metrics:     MetricsConfig{Addr: "127.0.0.1:9464"},
	}
}

// DataDirPath returns the default data directory. NOSTRDIARY_DATA_DIR overrides it.
func DataDirPath() string {
	if dir := os.Getenv("NOSTRDIARY_DATA_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "nostrdiary")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".nostrdiary")
	}
	return ".nostrdiary"
}

// Path returns the default configuration file path.
func Path() string {
	return filepath.Join(DataDirPath(), "config.toml")
}

// Load reads configuration from path, applies environment overrides and
// validates the result. A missing file yields the defaults. The format is
// chosen by extension: .yaml and .yml are YAML, anything else is TOML.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		path = Path()
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	}
	return nil
}

// resolvePaths fills empty paths from DataDir.
func (c *Config) resolvePaths() {
	if c.KeyFile == "" {
		c.KeyFile = filepath.Join(c.DataDir, "nostr_keys.json")
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, "diary.db")
	}
}

// ApplyEnvOverrides applies NOSTRDIARY_* environment variables.
// NOSTRDIARY_RELAYS is a comma-separated list.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("NOSTRDIARY_KEY_FILE"); v != "" {
		c.KeyFile = v
	}
	if v := os.Getenv("NOSTRDIARY_DATABASE"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("NOSTRDIARY_PASSPHRASE"); v != "" {
		c.Passphrase = v
	}
	if v := os.Getenv("NOSTRDIARY_RELAYS"); v != "" {
		c.Relays = splitList(v)
	}
	if v := os.Getenv("NOSTRDIARY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ValidationError{Field: "NOSTRDIARY_TIMEOUT", Message: err.Error()}
		}
		c.Timeout = d
	}
	if v := os.Getenv("NOSTRDIARY_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Field: "NOSTRDIARY_RETRIES", Message: "not an integer"}
		}
		c.Retries = n
	}
	if v := os.Getenv("NOSTRDIARY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NOSTRDIARY_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
