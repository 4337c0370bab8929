// Package config loads nstore settings from config files and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names, so origin.host is
// read from NSTORE_ORIGIN_HOST.
const EnvPrefix = "NSTORE"

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	v.SetConfigType("yaml")

	// Explicit config file override
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// findConfigFile walks up from the working directory looking for
// .nstore/config.yaml, then falls back to the user config directory.
func findConfigFile() string {
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			candidate := filepath.Join(dir, ".nstore", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if configDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(configDir, "nstore", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("json", false)
	v.SetDefault("verbose", false)

	// Platform environment
	v.SetDefault("library-dir", "")
	v.SetDefault("simulator", false)
	v.SetDefault("bundle-id", "")
	v.SetDefault("platform-version", "")
	v.SetDefault("origin.scheme", "ionic")
	v.SetDefault("origin.host", "app")

	// Destination store
	v.SetDefault("store.dir", "")
	v.SetDefault("store.suite", "")

	// Host bridge
	v.SetDefault("bridge.socket", "")

	// Migration
	v.SetDefault("migrate.backup-dir", "")

	// Logging
	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size-mb", 10)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 7)
	v.SetDefault("log.compress", true)
}

// ConfigFileUsed returns the config file that was loaded, if any
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// Set sets a configuration value
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// AllSettings returns all configuration settings as a map
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
