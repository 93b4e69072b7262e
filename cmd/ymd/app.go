package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Laynholt/ymd2/internal/api"
	"github.com/Laynholt/ymd2/internal/config"
	"github.com/Laynholt/ymd2/internal/metadata"
	"github.com/Laynholt/ymd2/internal/migration"
	"github.com/Laynholt/ymd2/internal/monitoring"
	"github.com/Laynholt/ymd2/internal/security"
	"github.com/Laynholt/ymd2/internal/store"
)

// app holds the wired components of one command run
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
	encryptor  *security.TokenEncryptor
	client     *api.Client
	history    *store.HistoryStore
	covers     *metadata.CoverCache
}

func configPath(cliCtx *cli.Context) string {
	if path := cliCtx.String(flagConfig); path != "" {
		return path
	}
	return config.GetConfigPath()
}

// loadConfig loads the configuration, importing an earlier installation's
// settings first when there is no configuration yet
func loadConfig(cliCtx *cli.Context) (*config.Config, string, error) {
	path := configPath(cliCtx)

	if migration.CheckMigrationNeeded(config.GetDataDir(), path) {
		fmt.Fprintln(cliCtx.App.ErrWriter, "Importing settings from the earlier installation...")
		result := migration.NewMigrator(config.GetDataDir(), path, security.NewTokenEncryptor(config.GetDataDir()), nil).
			Migrate(cliCtx.Context)
		for _, err := range result.Errors {
			fmt.Fprintf(cliCtx.App.ErrWriter, "  %v\n", err)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newLogger builds the logger from the logging section. Fields left empty
// fall back to the defaults under the data directory.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	defaults := monitoring.DefaultLogConfig(config.GetDataDir())
	return monitoring.NewLogger(&monitoring.LogConfig{
		Level:      cmp.Or(cfg.Logging.Level, defaults.Level),
		Format:     cmp.Or(cfg.Logging.Format, defaults.Format),
		Output:     cmp.Or(cfg.Logging.Output, defaults.Output),
		FilePath:   cmp.Or(cfg.Logging.FilePath, defaults.FilePath),
		MaxSizeMB:  cmp.Or(cfg.Logging.MaxSizeMB, defaults.MaxSizeMB),
		MaxBackups: cmp.Or(cfg.Logging.MaxBackups, defaults.MaxBackups),
		MaxAgeDays: cmp.Or(cfg.Logging.MaxAgeDays, defaults.MaxAgeDays),
		Compress:   cfg.Logging.Compress,
	})
}

// newApp wires the client and, when withHistory is set, the history store
func newApp(cliCtx *cli.Context, withHistory bool) (*app, error) {
	cfg, path, err := loadConfig(cliCtx)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{
		configPath: path,
		cfg:        cfg,
		logger:     logger,
		encryptor:  security.NewTokenEncryptor(config.GetDataDir()),
	}

	token, err := a.token()
	if err != nil {
		a.close()
		return nil, err
	}

	a.client, err = api.NewClient(api.Config{
		BaseURL:           cfg.API.BaseURL,
		Token:             token,
		UserID:            cfg.Account.UserID,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		Timeout:           time.Duration(cfg.API.Timeout) * time.Second,
		Workers:           cfg.Download.Workers,
		ChunkSize:         cfg.Download.ChunkSize,
	}, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	if withHistory {
		a.history, err = store.OpenHistory(cfg.History.Path)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		a.covers = metadata.NewCoverCache(256)
	}

	return a, nil
}

// token returns the plain account token
func (a *app) token() (string, error) {
	if a.cfg.Account.TokenEncrypted != "" {
		token, err := a.encryptor.DecryptToken(a.cfg.Account.TokenEncrypted)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt token, set it again with 'ymd token set': %w", err)
		}
		return token, nil
	}
	if a.cfg.Account.Token == "" {
		return "", errors.New("no token configured, set one with 'ymd token set'")
	}
	return a.cfg.Account.Token, nil
}

func (a *app) close() {
	if a.covers != nil {
		a.covers.Stop()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("Failed to close history", zap.Error(err))
		}
	}
	if a.client != nil {
		a.client.Close()
	}
	a.logger.Sync()
}

// serveMetrics exposes /metrics and /healthz until ctx is done
func (a *app) serveMetrics(ctx context.Context, stats monitoring.StatsFunc) {
	health := monitoring.NewHealthChecker(version, a.history, a.cfg.Download.OutputDir)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health.Handler(stats))

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})

	a.logger.Info("Metrics server listening", zap.String("addr", a.cfg.Metrics.Addr))
}
