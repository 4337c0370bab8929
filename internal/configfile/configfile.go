// Package configfile reads and writes the metadata file that describes a
// native storage directory.
package configfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ConfigFileName       = "metadata.json"
	legacyConfigFileName = "config.json"

	// DefaultSuite is the suite used when none is selected
	DefaultSuite     = "NativeStorage"
	defaultExtension = ".json"
)

// ErrInvalidSuite is returned for suite names that cannot be used as file names
var ErrInvalidSuite = errors.New("invalid suite name")

type Config struct {
	DefaultSuite   string `json:"default_suite"`
	StoreExtension string `json:"store_extension,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		DefaultSuite:   DefaultSuite,
		StoreExtension: defaultExtension,
	}
}

// DefaultStoreDir returns <user config dir>/nstore
func DefaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".nstore", "store")
	}
	return filepath.Join(dir, "nstore")
}

func ConfigPath(storeDir string) string {
	return filepath.Join(storeDir, ConfigFileName)
}

// Load reads the metadata for storeDir. A nil config and nil error mean
// the directory has none yet. An old config.json is moved to metadata.json.
func Load(storeDir string) (*Config, error) {
	configPath := ConfigPath(storeDir)

	data, err := os.ReadFile(configPath) // #nosec G304 - controlled path from config
	if os.IsNotExist(err) {
		legacyPath := filepath.Join(storeDir, legacyConfigFileName)
		data, err = os.ReadFile(legacyPath) // #nosec G304 - controlled path from config
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading legacy config: %w", err)
		}

		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing legacy config: %w", err)
		}
		cfg.fillDefaults()

		if err := cfg.Save(storeDir); err != nil {
			return nil, fmt.Errorf("migrating config to %s: %w", ConfigFileName, err)
		}

		// Remove legacy file (best effort)
		_ = os.Remove(legacyPath)

		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.fillDefaults()

	return &cfg, nil
}

// LoadOrCreate loads the metadata for storeDir, writing the defaults when
// the directory has none.
func LoadOrCreate(storeDir string) (*Config, error) {
	cfg, err := Load(storeDir)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	if err := os.MkdirAll(storeDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	cfg = DefaultConfig()
	if err := cfg.Save(storeDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(storeDir string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(storeDir), data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

func (c *Config) fillDefaults() {
	if c.DefaultSuite == "" {
		c.DefaultSuite = DefaultSuite
	}
	if c.StoreExtension == "" {
		c.StoreExtension = defaultExtension
	}
}

// ValidateSuite rejects names that would escape the store directory
func ValidateSuite(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidSuite, name)
	}
	return nil
}

// SuitePath returns the store file for suite, or for the default suite
// when suite is empty.
func (c *Config) SuitePath(storeDir, suite string) (string, error) {
	if suite == "" {
		suite = c.DefaultSuite
	}
	if err := ValidateSuite(suite); err != nil {
		return "", err
	}
	ext := c.StoreExtension
	if ext == "" {
		ext = defaultExtension
	}
	return filepath.Join(storeDir, suite+ext), nil
}
