// Package config provides YAML-based configuration loading for the vault.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// DefaultDirName is the vault directory created under the user home.
const DefaultDirName = ".passvault"

// Duration wraps time.Duration so YAML values like "15m" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Session SessionConfig     `yaml:"session"`
	Storage StorageConfig     `yaml:"storage"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	return c.Storage.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	AuditDir string     `yaml:"audit_dir"`
}

// SessionConfig controls auto-lock and failed-attempt behaviour.
type SessionConfig struct {
	Timeout          Duration `yaml:"timeout"`
	ExpiryInterval   Duration `yaml:"expiry_interval"`
	AttemptThreshold uint32   `yaml:"attempt_threshold"`
}

// Validate validates the session configuration.
func (c *SessionConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("session: timeout must be positive, got %s", c.Timeout)
	}
	if c.ExpiryInterval <= 0 {
		return fmt.Errorf("session: expiry_interval must be positive, got %s", c.ExpiryInterval)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.AttemptThreshold, validation.Required, validation.Min(uint32(1))),
	)
}

// Storage backend names accepted in configuration.
const (
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// StorageConfig holds the primary backend selection and file paths.
//
// Mirror controls redundancy: when true, writes fan out to both the
// Bolt and SQLite files and reads fall back across them.
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	BoltPath   string `yaml:"bolt_path"`
	SQLitePath string `yaml:"sqlite_path"`
	Mirror     bool   `yaml:"mirror"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendBolt
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendBolt, BackendSQLite)),
	); err != nil {
		return err
	}
	if c.Backend == BackendBolt && c.BoltPath == "" {
		return errors.New("storage: backend is bolt but bolt_path is empty")
	}
	if c.Backend == BackendSQLite && c.SQLitePath == "" {
		return errors.New("storage: backend is sqlite but sqlite_path is empty")
	}
	if c.Mirror && (c.BoltPath == "" || c.SQLitePath == "") {
		return errors.New("storage: mirror requires both bolt_path and sqlite_path")
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
// All file paths resolve under dir, normally the user's ~/.passvault.
func NewDefaultConfig(dir string) *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			AuditDir: filepath.Join(dir, "audit"),
		},
		Session: SessionConfig{
			Timeout:          Duration(60 * time.Minute),
			ExpiryInterval:   Duration(2 * time.Minute),
			AttemptThreshold: 3,
		},
		Storage: StorageConfig{
			Backend:    BackendBolt,
			BoltPath:   filepath.Join(dir, "vault.db"),
			SQLitePath: filepath.Join(dir, "vault.sqlite"),
		},
	}
}

// DefaultDir returns the vault directory under the user home.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

// Load reads configuration from a YAML file with environment variable
// expansion. A missing file is not an error: defaults for dir apply and
// any values present in the file override them.
func Load(filename, dir string) (*Config, error) {
	cfg := NewDefaultConfig(dir)

	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
