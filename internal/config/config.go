package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Account  AccountConfig  `json:"account" mapstructure:"account"`
	API      APIConfig      `json:"api" mapstructure:"api"`
	Download DownloadConfig `json:"download" mapstructure:"download"`
	History  HistoryConfig  `json:"history" mapstructure:"history"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
}

// AccountConfig contains the music service credentials. Either Token or
// TokenEncrypted is set, never both.
type AccountConfig struct {
	Token          string `json:"token" mapstructure:"token"`
	TokenEncrypted string `json:"token_encrypted" mapstructure:"token_encrypted"`
	UserID         int64  `json:"user_id" mapstructure:"user_id"`
}

// APIConfig contains music service client settings
type APIConfig struct {
	BaseURL           string  `json:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `json:"burst" mapstructure:"burst"`
	Timeout           int     `json:"timeout" mapstructure:"timeout"`
}

// DownloadConfig contains download-related settings
type DownloadConfig struct {
	OutputDir    string `json:"output_dir" mapstructure:"output_dir"`
	Workers      int    `json:"workers" mapstructure:"workers"`
	Rewrite      bool   `json:"rewrite" mapstructure:"rewrite"`
	AppendID     bool   `json:"append_id" mapstructure:"append_id"`
	SkipExisting bool   `json:"skip_existing" mapstructure:"skip_existing"`
	CoverSize    int    `json:"cover_size" mapstructure:"cover_size"`
	ChunkSize    int    `json:"chunk_size" mapstructure:"chunk_size"`
}

// HistoryConfig contains history database settings
type HistoryConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = GetConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	// Read config file if it exists, otherwise write the defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := v.WriteConfigAs(configPath); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Allow environment variable overrides, e.g. YMD_ACCOUNT_TOKEN
	v.SetEnvPrefix("YMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Account.Token != "" && c.Account.TokenEncrypted != "" {
		return fmt.Errorf("only one of token and token_encrypted may be set")
	}

	// API validation
	if c.API.BaseURL == "" {
		return fmt.Errorf("api base url cannot be empty")
	}

	if c.API.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}

	if c.API.Burst < 1 {
		return fmt.Errorf("burst must be at least 1")
	}

	if c.API.Timeout < 1 {
		return fmt.Errorf("api timeout must be at least 1 second")
	}

	// Download validation
	if c.Download.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if c.Download.Workers > 32 {
		return fmt.Errorf("workers cannot exceed 32")
	}

	if c.Download.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}

	if c.Download.CoverSize < 50 || c.Download.CoverSize > 1500 {
		return fmt.Errorf("cover size must be between 50 and 1500 pixels")
	}

	if c.Download.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be at least 1")
	}

	if c.History.Path == "" {
		return fmt.Errorf("history path cannot be empty")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address cannot be empty when metrics are enabled")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	if err := ensureConfigDir(path); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("account", c.Account)
	v.Set("api", c.API)
	v.Set("download", c.Download)
	v.Set("history", c.History)
	v.Set("logging", c.Logging)
	v.Set("metrics", c.Metrics)

	return v.WriteConfigAs(path)
}

// Default returns the configuration used when no file exists yet
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults only hold plain values, decoding cannot fail
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("account.token", "")
	v.SetDefault("account.token_encrypted", "")
	v.SetDefault("account.user_id", 0)

	// API defaults
	v.SetDefault("api.base_url", "https://api.music.yandex.net")
	v.SetDefault("api.requests_per_second", 10)
	v.SetDefault("api.burst", 10)
	v.SetDefault("api.timeout", 30)

	// Download defaults
	v.SetDefault("download.output_dir", "download")
	v.SetDefault("download.workers", 5)
	v.SetDefault("download.rewrite", false)
	v.SetDefault("download.append_id", false)
	v.SetDefault("download.skip_existing", false)
	v.SetDefault("download.cover_size", 300)
	v.SetDefault("download.chunk_size", 20)

	v.SetDefault("history.path", filepath.Join(GetDataDir(), "history.db"))

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(GetDataDir(), "logs", "ymd.log"))
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

// GetDataDir returns the application data directory. YMD_HOME overrides the
// default "stuff" directory next to the working directory.
func GetDataDir() string {
	if home := os.Getenv("YMD_HOME"); home != "" {
		return home
	}
	return "stuff"
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}
