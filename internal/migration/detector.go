package migration

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

const (
	// LegacyConfigName is the settings file written by earlier releases
	LegacyConfigName = "config.ini"
	// LegacyHistoryName is the history database name used by earlier releases
	LegacyHistoryName = "history.db"

	manifestName = "backup_manifest.json"
)

// LegacyInstallation represents a detected installation of an earlier release
type LegacyInstallation struct {
	DataDir     string
	ConfigPath  string
	HistoryPath string
	HasConfig   bool
	HasHistory  bool
	BackupPath  string
	DetectedAt  time.Time
}

// Detector handles detection of earlier installations
type Detector struct {
	dataDir string
}

// NewDetector creates a Detector looking for legacy files in dataDir
func NewDetector(dataDir string) *Detector {
	return &Detector{dataDir: dataDir}
}

// Detect looks for the legacy settings file and history database
func (d *Detector) Detect() (*LegacyInstallation, error) {
	if info, err := os.Stat(d.dataDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("no legacy installation found at %s", d.dataDir)
	}

	installation := &LegacyInstallation{
		DataDir:    d.dataDir,
		DetectedAt: time.Now(),
	}

	configPath := filepath.Join(d.dataDir, LegacyConfigName)
	if isFile(configPath) {
		installation.ConfigPath = configPath
		installation.HasConfig = true
	}

	historyPath := filepath.Join(d.dataDir, LegacyHistoryName)
	if isFile(historyPath) {
		installation.HistoryPath = historyPath
		installation.HasHistory = true
	}

	if !installation.HasConfig && !installation.HasHistory {
		return nil, fmt.Errorf("no legacy installation found at %s", d.dataDir)
	}

	return installation, nil
}

// CreateBackup copies the legacy files into a timestamped directory
func (d *Detector) CreateBackup(installation *LegacyInstallation) error {
	if installation == nil {
		return fmt.Errorf("no installation to backup")
	}

	timestamp := installation.DetectedAt.Format("20060102_150405")
	backupDir := filepath.Join(installation.DataDir, fmt.Sprintf("backup_%s", timestamp))

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	installation.BackupPath = backupDir

	if installation.HasConfig {
		if err := copyFile(installation.ConfigPath, filepath.Join(backupDir, LegacyConfigName)); err != nil {
			return fmt.Errorf("failed to backup settings: %w", err)
		}
	}

	if installation.HasHistory {
		if err := copyFile(installation.HistoryPath, filepath.Join(backupDir, LegacyHistoryName)); err != nil {
			return fmt.Errorf("failed to backup history database: %w", err)
		}
	}

	manifest := map[string]interface{}{
		"backup_date":  installation.DetectedAt,
		"source_dir":   installation.DataDir,
		"has_config":   installation.HasConfig,
		"has_history":  installation.HasHistory,
		"config_path":  installation.ConfigPath,
		"history_path": installation.HistoryPath,
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create backup manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(backupDir, manifestName), manifestData, 0644); err != nil {
		return fmt.Errorf("failed to write backup manifest: %w", err)
	}

	return nil
}

// ValidateBackup checks that every detected file has a copy in the backup
func (d *Detector) ValidateBackup(installation *LegacyInstallation) error {
	if installation.BackupPath == "" {
		return fmt.Errorf("no backup path set")
	}

	if !isFile(filepath.Join(installation.BackupPath, manifestName)) {
		return fmt.Errorf("backup manifest not found")
	}

	if installation.HasConfig && !isFile(filepath.Join(installation.BackupPath, LegacyConfigName)) {
		return fmt.Errorf("settings backup not found")
	}

	if installation.HasHistory && !isFile(filepath.Join(installation.BackupPath, LegacyHistoryName)) {
		return fmt.Errorf("history database backup not found")
	}

	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// copyFile streams src into dst; history databases can be large
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy file: %w", err)
	}

	return out.Close()
}
