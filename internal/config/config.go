package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Database   string       `mapstructure:"database"`
	SourcesDir string       `mapstructure:"sources_dir"`
	SyncDir    string       `mapstructure:"sync_dir"`
	Device     DeviceConfig `mapstructure:"device"`
}

// DeviceConfig identifies this machine in multi-device rollups. An empty ID
// is filled in from the persisted device-id file (created on first run).
type DeviceConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
}

func appDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".usage-history"
	}
	return filepath.Join(homeDir, ".usage-history")
}

// LoadConfig loads configuration from the specified path or the default
// location (~/.usage-history/config.toml). A missing config file is not an
// error: all settings have working defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database", filepath.Join(appDir(), "history.db"))
	v.SetDefault("sources_dir", defaultSourcesDir())
	v.SetDefault("sync_dir", "")
	v.SetDefault("device.id", "")
	v.SetDefault("device.name", defaultDeviceName())
	v.SetDefault("device.type", "desktop")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(appDir(), "config.toml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Device.ID == "" {
		id, err := loadOrCreateDeviceID(filepath.Join(filepath.Dir(v.ConfigFileUsed()), "device-id"))
		if err != nil {
			return nil, err
		}
		cfg.Device.ID = id
	}

	return &cfg, nil
}

// loadOrCreateDeviceID reads the persisted device id, minting and saving a
// new one on first run. The id must stay stable across runs or every sync
// would see this machine as a new device.
func loadOrCreateDeviceID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}

func defaultSourcesDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "projects")
	}
	return filepath.Join(homeDir, ".claude", "projects")
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// GetDatabasePath returns the database path, using the default if the config
// left it empty.
func (c *Config) GetDatabasePath() string {
	if c.Database != "" {
		return c.Database
	}
	return filepath.Join(appDir(), "history.db")
}
