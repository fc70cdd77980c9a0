// ABOUTME: Configuration loading and parsing for dmsync
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied before a file is decoded.
const (
	DefaultDatabasePath   = "dmsync.db"
	DefaultFeedBufferSize = 64
	DefaultDedupeMaxSize  = 50_000
	DefaultPreviewRunes   = 80
)

// Config represents the complete dmsync configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Feed     FeedConfig     `yaml:"feed" toml:"feed"`
	Dedupe   DedupeConfig   `yaml:"dedupe" toml:"dedupe"`
	Preview  PreviewConfig  `yaml:"preview" toml:"preview"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// SessionConfig identifies the local user. The shell's --as flag overrides it.
type SessionConfig struct {
	LocalUserID string `yaml:"local_user_id" toml:"local_user_id"`
}

// FeedConfig sizes the live event feed
type FeedConfig struct {
	BufferSize int `yaml:"buffer_size" toml:"buffer_size"`
}

// DedupeConfig bounds the applied-message window of the conversation index.
// A zero TTL keeps ids until they are evicted by size.
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`

	// Raw string value for unmarshaling
	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// PreviewConfig controls conversation list previews
type PreviewConfig struct {
	MaxRunes int `yaml:"max_runes" toml:"max_runes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration usable without any file.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Feed:     FeedConfig{BufferSize: DefaultFeedBufferSize},
		Dedupe:   DedupeConfig{MaxSize: DefaultDedupeMaxSize},
		Preview:  PreviewConfig{MaxRunes: DefaultPreviewRunes},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file in the same directory is loaded into the environment first; it
// never overrides variables that are already set. Environment variables in the
// format ${VAR_NAME} are then expanded. Files ending in .toml are decoded as
// TOML, everything else as YAML. Keys absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns Default() when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

func loadDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("loading %s: %w", envPath, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Feed.BufferSize <= 0 {
		return fmt.Errorf("feed.buffer_size must be positive, got %d", c.Feed.BufferSize)
	}

	if c.Dedupe.MaxSize <= 0 {
		return fmt.Errorf("dedupe.max_size must be positive, got %d", c.Dedupe.MaxSize)
	}
	if c.Dedupe.TTL < 0 {
		return fmt.Errorf("dedupe.ttl must not be negative, got %s", c.Dedupe.TTL)
	}

	if c.Preview.MaxRunes <= 0 {
		return fmt.Errorf("preview.max_runes must be positive, got %d", c.Preview.MaxRunes)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Dedupe.TTLRaw != "" {
		d, err := time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
		cfg.Dedupe.TTL = d
	}
	return nil
}
