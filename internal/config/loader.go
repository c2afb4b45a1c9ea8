package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "KNOLWORD_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
	// FileName is the config file looked up in the data dir when no path is given.
	FileName = "knolword.yaml"
)

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"data-dir":   "data_dir",
	"db-path":    "db_path",
	"dict-dir":   "dict_dir",
	"log-level":  "log.level",
	"log-format": "log.format",
	"addr":       "server.addr",
}

// RegisterFlags adds the global configuration flags to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML config file (default <data-dir>/"+FileName+")")
	flags.String("data-dir", "", "directory for the history database and config")
	flags.String("db-path", "", "path to the history database (default <data-dir>/history.db)")
	flags.String("dict-dir", "", "directory containing dictionaries (default <data-dir>/dicts)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")
}

// Loader handles configuration loading from the layered sources.
type Loader struct {
	k     *koanf.Koanf
	flags []*pflag.FlagSet
}

// NewLoader creates a loader that applies the given flag sets last.
func NewLoader(flags ...*pflag.FlagSet) *Loader {
	return &Loader{
		k:     koanf.New(Delimiter),
		flags: flags,
	}
}

// Load reads configuration with the following priority:
//  1. Command line flags (highest)
//  2. Environment variables
//  3. Configuration file
//  4. Defaults (lowest)
//
// When configPath is empty, FileName inside the data dir is used if it exists.
func (l *Loader) Load(configPath string) (*Config, error) {
	if configPath == "" {
		dataDir, err := l.probeDataDir()
		if err != nil {
			return nil, err
		}
		candidate := filepath.Join(dataDir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	} else if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	if err := l.loadLayers(l.k, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.resolve()

	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// probeDataDir resolves data_dir from everything except the config file,
// which is itself located inside the data dir.
func (l *Loader) probeDataDir() (string, error) {
	probe := koanf.New(Delimiter)
	if err := l.loadLayers(probe, ""); err != nil {
		return "", err
	}
	return probe.String("data_dir"), nil
}

func (l *Loader) loadLayers(k *koanf.Koanf, configPath string) error {
	if err := k.Load(confmap.Provider(defaults(), Delimiter), nil); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if ext := strings.ToLower(filepath.Ext(configPath)); ext != ".yaml" && ext != ".yml" {
			return fmt.Errorf("unsupported config file format: %s", ext)
		}
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil); err != nil {
		return fmt.Errorf("failed to load env vars: %w", err)
	}

	for _, set := range l.flags {
		p := posflag.ProviderWithFlag(set, Delimiter, k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(set, f)
		})
		if err := k.Load(p, nil); err != nil {
			return fmt.Errorf("failed to load flags: %w", err)
		}
	}
	return nil
}

// envKey maps KNOLWORD_LOG_LEVEL to log.level. Only known keys are accepted,
// since key names themselves contain underscores.
func envKey(name string) string {
	for key := range defaults() {
		if EnvPrefix+strings.ToUpper(strings.ReplaceAll(key, Delimiter, "_")) == name {
			return key
		}
	}
	return ""
}

// Load is a convenience function to load configuration.
func Load(configPath string, flags ...*pflag.FlagSet) (*Config, error) {
	return NewLoader(flags...).Load(configPath)
}
