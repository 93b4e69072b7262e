package migration

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Laynholt/ymd2/internal/config"
	"github.com/Laynholt/ymd2/internal/security"
)

// LegacySettings is the JSON document earlier releases kept in config.ini.
// The theme switches belonged to the desktop window and are not carried over.
type LegacySettings struct {
	Token        string `json:"token"`
	History      string `json:"history"`
	Download     string `json:"download"`
	DefaultTheme bool   `json:"default_theme"`
	DarkTheme    bool   `json:"dark_theme"`
}

// SettingsMigrator converts a legacy config.ini into the current config file
type SettingsMigrator struct {
	legacyPath string
	configPath string
	encryptor  *security.TokenEncryptor
}

// NewSettingsMigrator creates a new SettingsMigrator. When encryptor is not
// nil the imported token is stored encrypted.
func NewSettingsMigrator(legacyPath, configPath string, encryptor *security.TokenEncryptor) *SettingsMigrator {
	return &SettingsMigrator{
		legacyPath: legacyPath,
		configPath: configPath,
		encryptor:  encryptor,
	}
}

// ReadLegacySettings reads and parses the legacy settings file
func (sm *SettingsMigrator) ReadLegacySettings() (*LegacySettings, error) {
	data, err := os.ReadFile(sm.legacyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy settings: %w", err)
	}

	var settings LegacySettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse legacy settings: %w", err)
	}

	return &settings, nil
}

// ConvertToConfig maps legacy settings onto the default configuration
func (sm *SettingsMigrator) ConvertToConfig(legacy *LegacySettings) (*config.Config, error) {
	cfg := config.Default()

	if path := strings.TrimSpace(legacy.History); path != "" {
		cfg.History.Path = path
	}
	if dir := strings.TrimSpace(legacy.Download); dir != "" {
		cfg.Download.OutputDir = dir
	}

	token := strings.TrimSpace(legacy.Token)
	if token == "" {
		return cfg, nil
	}
	if err := security.ValidateToken(token); err != nil {
		return nil, fmt.Errorf("legacy token rejected: %w", err)
	}

	if sm.encryptor == nil {
		cfg.Account.Token = token
		return cfg, nil
	}

	encrypted, err := sm.encryptor.EncryptToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt legacy token: %w", err)
	}
	cfg.Account.TokenEncrypted = encrypted

	return cfg, nil
}

// Migrate performs the complete settings migration
func (sm *SettingsMigrator) Migrate() (*config.Config, error) {
	legacy, err := sm.ReadLegacySettings()
	if err != nil {
		return nil, err
	}

	cfg, err := sm.ConvertToConfig(legacy)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("converted config validation failed: %w", err)
	}

	if err := cfg.Save(sm.configPath); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}

	return cfg, nil
}
