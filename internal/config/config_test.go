package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			URL:       "https://ota.example.com/catalog",
			UserAgent: "slotstream/test",
		},
		Patcher: PatcherConfig{
			VbmetaPathTemplate: "/dev/block/by-name/vbmeta%s",
		},
		State: StateConfig{
			DBPath: "/data/slotstream.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		wantErr     bool
		errContains string
	}{
		{
			name:   "valid - ok",
			mutate: func(c *Config) {},
		},
		{
			name:        "missing catalog url",
			mutate:      func(c *Config) { c.Catalog.URL = "" },
			wantErr:     true,
			errContains: "catalog.url",
		},
		{
			name:        "missing user agent",
			mutate:      func(c *Config) { c.Catalog.UserAgent = "" },
			wantErr:     true,
			errContains: "user_agent",
		},
		{
			name:        "missing state db path",
			mutate:      func(c *Config) { c.State.DBPath = "" },
			wantErr:     true,
			errContains: "db_path",
		},
		{
			name:        "vbmeta template without slot placeholder",
			mutate:      func(c *Config) { c.Patcher.VbmetaPathTemplate = "/dev/block/by-name/vbmeta_a" },
			wantErr:     true,
			errContains: "placeholder",
		},
		{
			name: "root patch without root check",
			mutate: func(c *Config) {
				c.Patcher.RootPatchCmd = []string{"magisk-patch"}
			},
			wantErr:     true,
			errContains: "root_check_cmd",
		},
		{
			name:        "bad slot suffix override",
			mutate:      func(c *Config) { c.Device.ActiveSlotSuffix = "_c" },
			wantErr:     true,
			errContains: "active_slot_suffix",
		},
		{
			name:        "bad log level",
			mutate:      func(c *Config) { c.Log.Level = "trace" },
			wantErr:     true,
			errContains: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_DefaultsAndFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "https://developers.google.com/android/ota", cfg.Catalog.URL)
	assert.Equal(t, "devsite_wall_acks=nexus-ota-tos", cfg.Catalog.Cookie)
	assert.True(t, cfg.Patcher.Elevate)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
catalog:
  url: https://ota.example.com/catalog
  user_agent: slotstream/1.0
state:
  db_path: /data/local/tmp/slotstream.db
log:
  level: debug
`), 0o644))

	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://ota.example.com/catalog", cfg.Catalog.URL)
	assert.Equal(t, "slotstream/1.0", cfg.Catalog.UserAgent)
	assert.Equal(t, "/data/local/tmp/slotstream.db", cfg.State.DBPath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/dev/block/by-name/vbmeta%s", cfg.Patcher.VbmetaPathTemplate,
		"defaults survive partial files")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
