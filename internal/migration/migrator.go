package migration

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Laynholt/ymd2/internal/config"
	"github.com/Laynholt/ymd2/internal/security"
	"github.com/Laynholt/ymd2/internal/store"
)

// Migrator orchestrates the complete migration process
type Migrator struct {
	detector     *Detector
	configPath   string
	encryptor    *security.TokenEncryptor
	logger       *zap.Logger
	installation *LegacyInstallation
}

// MigrationResult contains the results of the migration
type MigrationResult struct {
	SettingsMigrated bool
	HistoryMigrated  bool
	HistoryTables    []string
	BackupPath       string
	Config           *config.Config
	Errors           []error
}

// NewMigrator creates a Migrator that reads legacy files from dataDir and
// writes the new configuration to configPath
func NewMigrator(dataDir, configPath string, encryptor *security.TokenEncryptor, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{
		detector:   NewDetector(dataDir),
		configPath: configPath,
		encryptor:  encryptor,
		logger:     logger,
	}
}

// Detect detects a legacy installation
func (m *Migrator) Detect() (*LegacyInstallation, error) {
	installation, err := m.detector.Detect()
	if err != nil {
		return nil, err
	}

	m.installation = installation
	return installation, nil
}

// MigrateSettings imports the legacy config.ini
func (m *Migrator) MigrateSettings() (*config.Config, error) {
	if m.installation == nil || !m.installation.HasConfig {
		return nil, fmt.Errorf("no legacy settings found to migrate")
	}

	return NewSettingsMigrator(m.installation.ConfigPath, m.configPath, m.encryptor).Migrate()
}

// MigrateHistory opens the legacy history database in place. The schema is
// unchanged, opening it applies the registry migrations so its playlist
// tables become visible.
func (m *Migrator) MigrateHistory(ctx context.Context, path string) ([]string, error) {
	if path == "" {
		if m.installation == nil || !m.installation.HasHistory {
			return nil, fmt.Errorf("no legacy history database found to migrate")
		}
		path = m.installation.HistoryPath
	}

	history, err := store.OpenHistory(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	defer history.Close()

	return history.Tables(ctx)
}

// Migrate performs the complete migration process
func (m *Migrator) Migrate(ctx context.Context) *MigrationResult {
	result := &MigrationResult{}

	installation, err := m.Detect()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("detection failed: %w", err))
		return result
	}

	if err := m.detector.CreateBackup(installation); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("backup failed: %w", err))
		return result
	}
	result.BackupPath = installation.BackupPath

	if err := m.detector.ValidateBackup(installation); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("backup validation failed: %w", err))
		return result
	}

	m.logger.Info("Legacy installation backed up",
		zap.String("source", installation.DataDir),
		zap.String("backup", installation.BackupPath))

	historyPath := installation.HistoryPath
	if installation.HasConfig {
		cfg, err := m.MigrateSettings()
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("settings migration failed: %w", err))
		} else {
			result.SettingsMigrated = true
			result.Config = cfg
			historyPath = cfg.History.Path
		}
	}

	// The legacy settings may point at a database outside the data dir
	if historyPath != "" && isFile(historyPath) {
		tables, err := m.MigrateHistory(ctx, historyPath)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("history migration failed: %w", err))
		} else {
			result.HistoryMigrated = true
			result.HistoryTables = tables
			m.logger.Info("History database registered",
				zap.String("path", historyPath),
				zap.Int("tables", len(tables)))
		}
	}

	return result
}

// CheckMigrationNeeded reports whether dataDir holds a legacy installation
// and configPath does not exist yet
func CheckMigrationNeeded(dataDir, configPath string) bool {
	installation, err := NewDetector(dataDir).Detect()
	if err != nil {
		return false
	}

	if _, err := os.Stat(configPath); err == nil {
		return false
	}

	return installation.HasConfig
}
