package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:           "https://api.music.yandex.net",
			RequestsPerSecond: 10,
			Burst:             10,
			Timeout:           30,
		},
		Download: DownloadConfig{
			OutputDir: "/tmp/downloads",
			Workers:   5,
			CoverSize: 300,
			ChunkSize: 20,
		},
		History: HistoryConfig{
			Path: "/tmp/history.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero workers",
			modify:  func(c *Config) { c.Download.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "too many workers",
			modify:  func(c *Config) { c.Download.Workers = 33 },
			wantErr: true,
		},
		{
			name:    "empty output dir",
			modify:  func(c *Config) { c.Download.OutputDir = "" },
			wantErr: true,
		},
		{
			name:    "cover too small",
			modify:  func(c *Config) { c.Download.CoverSize = 10 },
			wantErr: true,
		},
		{
			name:    "zero chunk size",
			modify:  func(c *Config) { c.Download.ChunkSize = 0 },
			wantErr: true,
		},
		{
			name:    "empty history path",
			modify:  func(c *Config) { c.History.Path = "" },
			wantErr: true,
		},
		{
			name:    "both tokens",
			modify:  func(c *Config) { c.Account.Token, c.Account.TokenEncrypted = "a", "b" },
			wantErr: true,
		},
		{
			name:    "invalid rate",
			modify:  func(c *Config) { c.API.RequestsPerSecond = 0 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "metrics without address",
			modify:  func(c *Config) { c.Metrics.Enabled = true },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadCreatesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "settings.json")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("Expected default config to be written: %v", err)
	}

	if cfg.Download.Workers != 5 {
		t.Errorf("Expected 5 workers, got %d", cfg.Download.Workers)
	}
	if cfg.Download.OutputDir != "download" {
		t.Errorf("Expected output dir download, got %s", cfg.Download.OutputDir)
	}
	if cfg.Download.CoverSize != 300 {
		t.Errorf("Expected cover size 300, got %d", cfg.Download.CoverSize)
	}
	if cfg.API.BaseURL != "https://api.music.yandex.net" {
		t.Errorf("Unexpected base url %s", cfg.API.BaseURL)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "settings.json")

	cfg := validConfig()
	cfg.Account.Token = "secret"
	cfg.Account.UserID = 1234
	cfg.Download.Workers = 8
	cfg.Download.SkipExisting = true
	cfg.Metrics = MetricsConfig{Enabled: true, Addr: ":9999"}

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Account.Token != "secret" {
		t.Errorf("Expected token secret, got %s", loaded.Account.Token)
	}
	if loaded.Account.UserID != 1234 {
		t.Errorf("Expected user id 1234, got %d", loaded.Account.UserID)
	}
	if loaded.Download.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", loaded.Download.Workers)
	}
	if !loaded.Download.SkipExisting {
		t.Error("Expected SkipExisting to be true")
	}
	if loaded.Metrics.Addr != ":9999" {
		t.Errorf("Expected metrics addr :9999, got %s", loaded.Metrics.Addr)
	}
}

func TestEnvOverride(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "settings.json")
	t.Setenv("YMD_DOWNLOAD_WORKERS", "7")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Download.Workers != 7 {
		t.Errorf("Expected env override to 7 workers, got %d", cfg.Download.Workers)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestGetDataDir(t *testing.T) {
	t.Setenv("YMD_HOME", "/opt/ymd")
	if got := GetDataDir(); got != "/opt/ymd" {
		t.Errorf("Expected /opt/ymd, got %s", got)
	}
	if got := GetConfigPath(); got != filepath.Join("/opt/ymd", "settings.json") {
		t.Errorf("Unexpected config path %s", got)
	}
}
