// Package config loads and validates the application configuration from a
// YAML file, environment variables, and built-in defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/mrevell/slotstream/internal/version"
)

// CatalogConfig points at the remote update catalog.
type CatalogConfig struct {
	// URL is the page listing per-device update packages.
	URL string `mapstructure:"url"`
	// UserAgent is sent on every catalog and package request and forwarded
	// to the update engine for the payload stream.
	UserAgent string `mapstructure:"user_agent"`
	// Cookie acknowledges the catalog's terms-of-service wall; without it the
	// page served contains no download tables.
	Cookie string `mapstructure:"cookie"`
	// Authorization is an optional Authorization header for the package host.
	Authorization string `mapstructure:"authorization"`
}

// DeviceConfig optionally overrides properties read from the device itself.
// Empty fields resolve through getprop.
type DeviceConfig struct {
	Device             string `mapstructure:"device"`
	BuildID            string `mapstructure:"build_id"`
	BuildIncremental   string `mapstructure:"build_incremental"`
	Fingerprint        string `mapstructure:"fingerprint"`
	SecurityPatchLevel string `mapstructure:"security_patch_level"`
	ActiveSlotSuffix   string `mapstructure:"active_slot_suffix"`
}

// EngineConfig controls how the update engine is reached.
type EngineConfig struct {
	// NetworkID is passed through to the engine so the payload stream is
	// pinned to a specific network.
	NetworkID string `mapstructure:"network_id"`
}

// PatcherConfig names the privileged commands the patch coordinator runs.
type PatcherConfig struct {
	// VbmetaPathTemplate expands a slot suffix into the verified-boot
	// partition path, e.g. "/dev/block/by-name/vbmeta%s".
	VbmetaPathTemplate string `mapstructure:"vbmeta_path_template"`
	// RootCheckCmd prints "patched" when the inactive slot carries the root
	// patch.
	RootCheckCmd []string `mapstructure:"root_check_cmd"`
	// RootPatchCmd applies the root patch to the inactive slot.
	RootPatchCmd []string `mapstructure:"root_patch_cmd"`
	// Elevate wraps every privileged command in `su -c`.
	Elevate bool `mapstructure:"elevate"`
}

// StateConfig locates the persistent store.
type StateConfig struct {
	// DBPath is the bbolt database file.
	DBPath string `mapstructure:"db_path"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	// File receives rotated logs; empty logs to stderr only.
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Config is the full application configuration.
type Config struct {
	Catalog CatalogConfig `mapstructure:"catalog"`
	Device  DeviceConfig  `mapstructure:"device"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Patcher PatcherConfig `mapstructure:"patcher"`
	State   StateConfig   `mapstructure:"state"`
	Log     LogConfig     `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.url", "https://developers.google.com/android/ota")
	v.SetDefault("catalog.user_agent", "slotstream/"+version.Version)
	v.SetDefault("catalog.cookie", "devsite_wall_acks=nexus-ota-tos")
	v.SetDefault("patcher.vbmeta_path_template", "/dev/block/by-name/vbmeta%s")
	v.SetDefault("patcher.elevate", true)
	v.SetDefault("state.db_path", "slotstream.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// LoadConfig reads configuration from path (optional), the environment
// (SLOTSTREAM_ prefix), and defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SLOTSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for internally inconsistent or missing
// values.
func (c *Config) Validate() error {
	if c.Catalog.URL == "" {
		return fmt.Errorf("catalog.url is required")
	}
	if c.Catalog.UserAgent == "" {
		return fmt.Errorf("catalog.user_agent is required")
	}
	if c.State.DBPath == "" {
		return fmt.Errorf("state.db_path is required")
	}
	if c.Patcher.VbmetaPathTemplate != "" && !strings.Contains(c.Patcher.VbmetaPathTemplate, "%s") {
		return fmt.Errorf("patcher.vbmeta_path_template must contain a %%s slot placeholder")
	}
	if len(c.Patcher.RootPatchCmd) > 0 && len(c.Patcher.RootCheckCmd) == 0 {
		return fmt.Errorf("patcher.root_check_cmd is required when root_patch_cmd is set")
	}
	if s := c.Device.ActiveSlotSuffix; s != "" && s != "_a" && s != "_b" {
		return fmt.Errorf("device.active_slot_suffix must be _a or _b, got %q", s)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}
