// Package config loads knolword settings from defaults, a YAML file,
// KNOLWORD_* environment variables and command line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	// DataDir holds the history database and the default config file.
	DataDir string `koanf:"data_dir" validate:"required"`

	// DBPath is the SQLite history file. Defaults to DataDir/history.db.
	DBPath string `koanf:"db_path"`

	// DictDir holds dictionary directories. Defaults to DataDir/dicts.
	DictDir string `koanf:"dict_dir"`

	Log    LogConfig    `koanf:"log"`
	Server ServerConfig `koanf:"server"`
	FSRS   FSRSConfig   `koanf:"fsrs"`
	Recall RecallConfig `koanf:"recall"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `koanf:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (text, json).
	Format string `koanf:"format" validate:"oneof=text json"`
}

// ServerConfig holds settings for the review web server.
type ServerConfig struct {
	Addr        string        `koanf:"addr" validate:"required"`
	ReadTimeout time.Duration `koanf:"read_timeout" validate:"gt=0"`
}

// FSRSConfig tunes the scheduler model.
type FSRSConfig struct {
	DesiredRetention float64 `koanf:"desired_retention" validate:"gte=0.7,lte=0.99"`
	MaximumInterval  int64   `koanf:"maximum_interval" validate:"gte=1"`
}

// RecallConfig tunes similar-word lookup.
type RecallConfig struct {
	MaxDistance int `koanf:"max_distance" validate:"gte=0,lte=5"`
}

// DefaultDataDir returns $XDG_DATA_HOME/knolword, falling back to
// ~/.local/share/knolword.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "knolword")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".knolword"
	}
	return filepath.Join(home, ".local", "share", "knolword")
}

// defaults is keyed by the flattened koanf path.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"data_dir":               DefaultDataDir(),
		"db_path":                "",
		"dict_dir":               "",
		"log.level":              "info",
		"log.format":             "text",
		"server.addr":            "127.0.0.1:8765",
		"server.read_timeout":    "15s",
		"fsrs.desired_retention": 0.9,
		"fsrs.maximum_interval":  36500,
		"recall.max_distance":    1,
	}
}

// resolve fills paths that derive from DataDir.
func (c *Config) resolve() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "history.db")
	}
	if c.DictDir == "" {
		c.DictDir = filepath.Join(c.DataDir, "dicts")
	}
}

// EnsureDirs creates the data and dictionary directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.DictDir, filepath.Dir(c.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
