package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "non-existent.toml")

	// Should NOT return error, but use defaults
	cfg, err := LoadConfig(nonExistentPath)
	if err != nil {
		t.Fatalf("LoadConfig failed for missing file: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected config, got nil")
	}

	if cfg.Database == "" {
		t.Error("Expected default database path")
	}
	if cfg.SourcesDir == "" {
		t.Error("Expected default sources dir")
	}
	if cfg.Device.ID == "" {
		t.Error("Expected device id to be minted on first load")
	}
}

func TestLoadConfig_ReadsFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.toml")
	content := `database = "/data/history.db"
sources_dir = "/data/logs"
sync_dir = "/data/sync"

[device]
id = "dev-fixed"
name = "workstation"
type = "desktop"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Database != "/data/history.db" {
		t.Errorf("Database = %s; want /data/history.db", cfg.Database)
	}
	if cfg.SourcesDir != "/data/logs" {
		t.Errorf("SourcesDir = %s; want /data/logs", cfg.SourcesDir)
	}
	if cfg.SyncDir != "/data/sync" {
		t.Errorf("SyncDir = %s; want /data/sync", cfg.SyncDir)
	}
	if cfg.Device.ID != "dev-fixed" {
		t.Errorf("Device.ID = %s; want dev-fixed", cfg.Device.ID)
	}
	if cfg.Device.Name != "workstation" {
		t.Errorf("Device.Name = %s; want workstation", cfg.Device.Name)
	}
}

func TestDeviceIDStableAcrossLoads(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.toml")

	first, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("first LoadConfig failed: %v", err)
	}
	second, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("second LoadConfig failed: %v", err)
	}

	if first.Device.ID != second.Device.ID {
		t.Errorf("device id changed between loads: %s -> %s", first.Device.ID, second.Device.ID)
	}

	// The id lives next to the config file.
	data, err := os.ReadFile(filepath.Join(tmpDir, "device-id"))
	if err != nil {
		t.Fatalf("device-id file not written: %v", err)
	}
	if len(data) == 0 {
		t.Error("device-id file is empty")
	}
}

func TestGetDatabasePathFallback(t *testing.T) {
	cfg := &Config{}
	if cfg.GetDatabasePath() == "" {
		t.Error("GetDatabasePath() returned empty for zero config")
	}

	cfg.Database = "/explicit/path.db"
	if got := cfg.GetDatabasePath(); got != "/explicit/path.db" {
		t.Errorf("GetDatabasePath() = %s; want /explicit/path.db", got)
	}
}
