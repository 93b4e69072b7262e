package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Laynholt/ymd2/internal/catalog"
	"github.com/Laynholt/ymd2/internal/config"
	"github.com/Laynholt/ymd2/internal/download"
	"github.com/Laynholt/ymd2/internal/metadata"
	"github.com/Laynholt/ymd2/internal/migration"
	"github.com/Laynholt/ymd2/internal/security"
)

func listPlaylists(cliCtx *cli.Context) error {
	a, err := newApp(cliCtx, false)
	if err != nil {
		return err
	}
	defer a.close()

	playlists, err := a.client.Playlists(cliCtx.Context)
	if err != nil {
		return fmt.Errorf("failed to list playlists: %w", err)
	}

	w := tabwriter.NewWriter(cliCtx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tTITLE\tTRACKS")
	for _, p := range playlists {
		fmt.Fprintf(w, "%d\t%s\t%d\n", p.Kind, p.Title, p.TrackCount)
	}
	return w.Flush()
}

// selection builds the Basket's playlist map. Without --track every playlist
// is taken whole; with it, each playlist is narrowed to the given ids and
// playlists with no match are left out.
func (a *app) selection(ctx context.Context, cliCtx *cli.Context) (map[int64][]catalog.Track, error) {
	kinds := lo.Uniq(cliCtx.Int64Slice(flagPlaylist))
	trackIDs := cliCtx.Int64Slice(flagTrack)

	if len(trackIDs) == 0 {
		return lo.SliceToMap(kinds, func(kind int64) (int64, []catalog.Track) { return kind, nil }), nil
	}

	selection := make(map[int64][]catalog.Track, len(kinds))
	for _, kind := range kinds {
		tracks, err := a.client.PlaylistTracks(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tracks of playlist %d: %w", kind, err)
		}

		picked := lo.Filter(tracks, func(t catalog.Track, _ int) bool { return lo.Contains(trackIDs, t.ID) })
		if len(picked) == 0 {
			a.logger.Warn("No selected track in playlist", zap.Int64("kind", kind))
			continue
		}
		selection[kind] = picked
	}

	if len(selection) == 0 {
		return nil, errors.New("none of the given tracks belongs to the given playlists")
	}
	return selection, nil
}

func (a *app) flags(cliCtx *cli.Context) download.Flags {
	pick := func(name string, fallback bool) bool {
		if cliCtx.IsSet(name) {
			return cliCtx.Bool(name)
		}
		return fallback
	}

	return download.Flags{
		AppendID:     pick(flagAppendID, a.cfg.Download.AppendID),
		Rewrite:      pick(flagRewrite, a.cfg.Download.Rewrite),
		SkipExisting: pick(flagSkipExisting, a.cfg.Download.SkipExisting),
	}
}

func runBasket(cliCtx *cli.Context, action download.ActionKind) error {
	a, err := newApp(cliCtx, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()

	workers := a.cfg.Download.Workers
	if cliCtx.IsSet(flagWorkers) {
		workers = cliCtx.Int(flagWorkers)
	}

	selection, err := a.selection(ctx, cliCtx)
	if err != nil {
		return err
	}

	orchestrator, err := download.NewOrchestrator(download.Options{
		OutputDir: a.cfg.Download.OutputDir,
		Workers:   workers,
		CoverSize: a.cfg.Download.CoverSize,
	}, download.Dependencies{
		Catalog:   a.client,
		Transport: a.client,
		History:   a.history,
		Tagger: metadata.NewWriter(&metadata.Config{
			EmbedCover: true,
			CoverSize:  a.cfg.Download.CoverSize,
		}),
		Covers: a.covers,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}

	if a.cfg.Metrics.Enabled {
		a.serveMetrics(ctx, orchestrator.Stats)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- orchestrator.Run(ctx) }()

	tracker := download.NewTracker(action)
	basket := download.NewBasket(action, selection, a.flags(cliCtx))
	basket.Progress = tracker.NewProgress

	control, err := orchestrator.Submit(basket)
	orchestrator.Stop()
	if err != nil {
		cancel()
		<-runDone
		return err
	}

	a.watch(ctx, cancel, cliCtx, control, tracker)

	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("Orchestrator exited with error", zap.Error(err))
	}
	return control.Err()
}

// watch renders progress until the Basket is done. The first interrupt
// closes the Basket gracefully, the second cancels everything.
func (a *app) watch(ctx context.Context, cancel context.CancelFunc, cliCtx *cli.Context, control *download.Control, tracker *download.Tracker) {
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	pauses := make(chan os.Signal, 1)
	notifyPause(pauses)
	defer signal.Stop(pauses)

	printer := newProgressPrinter(cliCtx.App.Writer)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	interrupted := 0
	for {
		select {
		case <-control.Done():
			printer.render(tracker.Snapshot())
			printer.summary(tracker.Snapshot())
			return
		case <-interrupts:
			interrupted++
			if interrupted == 1 {
				fmt.Fprintln(cliCtx.App.ErrWriter, "Finishing tracks in progress, interrupt again to abort")
				control.Close()
			} else {
				cancel()
			}
		case <-pauses:
			control.Pause()
			if control.Paused() {
				fmt.Fprintln(cliCtx.App.ErrWriter, "Paused")
			} else {
				fmt.Fprintln(cliCtx.App.ErrWriter, "Resumed")
			}
		case <-ticker.C:
			printer.render(tracker.Snapshot())
		case <-ctx.Done():
			// Run finishes the Basket with the context error
			<-control.Done()
			printer.summary(tracker.Snapshot())
			return
		}
	}
}

func migrate(cliCtx *cli.Context) error {
	path := configPath(cliCtx)
	dataDir := config.GetDataDir()

	installation, err := migration.NewDetector(dataDir).Detect()
	if err != nil {
		return fmt.Errorf("nothing to migrate: %w", err)
	}
	if _, err := os.Stat(path); err == nil && installation.HasConfig {
		fmt.Fprintf(cliCtx.App.ErrWriter, "%s exists and will be overwritten\n", path)
	}

	result := migration.NewMigrator(dataDir, path, security.NewTokenEncryptor(dataDir), nil).Migrate(cliCtx.Context)

	out := cliCtx.App.Writer
	if result.BackupPath != "" {
		fmt.Fprintf(out, "Backup: %s\n", result.BackupPath)
	}
	fmt.Fprintf(out, "Settings migrated: %t\n", result.SettingsMigrated)
	fmt.Fprintf(out, "History tables: %d\n", len(result.HistoryTables))

	if len(result.Errors) > 0 {
		return errors.Join(result.Errors...)
	}
	return nil
}

func setToken(cliCtx *cli.Context) error {
	if cliCtx.NArg() != 1 {
		return cli.ShowSubcommandHelp(cliCtx)
	}

	token := strings.TrimSpace(cliCtx.Args().First())
	if err := security.ValidateToken(token); err != nil {
		return err
	}

	cfg, path, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}

	encrypted, err := security.NewTokenEncryptor(config.GetDataDir()).EncryptToken(token)
	if err != nil {
		return err
	}

	cfg.Account.Token = ""
	cfg.Account.TokenEncrypted = encrypted
	cfg.Account.UserID = 0
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(cliCtx.App.Writer, "Token saved to %s\n", path)
	return nil
}
