package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Laynholt/ymd2/internal/catalog"
	apperrors "github.com/Laynholt/ymd2/internal/errors"
	"github.com/Laynholt/ymd2/internal/metadata"
	"github.com/Laynholt/ymd2/internal/monitoring"
	"github.com/Laynholt/ymd2/internal/naming"
	"github.com/Laynholt/ymd2/internal/security"
)

// DefaultWorkers is the worker count used when Options.Workers is unset
const DefaultWorkers = 5

var (
	// ErrNoWorkers ends a Basket whose workers all stopped while jobs remained
	ErrNoWorkers = errors.New("no workers left to process the basket")
	// ErrStopped is returned for Baskets submitted to or left in a stopped orchestrator
	ErrStopped = errors.New("orchestrator stopped")
)

// Options configures an Orchestrator
type Options struct {
	OutputDir string
	Workers   int
	CoverSize int
}

// Dependencies are the collaborators shared by every Basket
type Dependencies struct {
	Catalog   Catalog
	Transport Transport
	History   History
	Tagger    Tagger
	Covers    *metadata.CoverCache
	Logger    *zap.Logger
}

// Orchestrator runs submitted Baskets one at a time
type Orchestrator struct {
	opts Options
	deps Dependencies

	logger  *zap.Logger
	running atomic.Bool
	notify  chan struct{}

	mu      sync.Mutex
	inbox   []*Control
	stopped bool
	current *jobQueue
}

// NewOrchestrator creates an orchestrator. Call Run to start processing.
func NewOrchestrator(opts Options, deps Dependencies) (*Orchestrator, error) {
	if deps.Catalog == nil || deps.Transport == nil || deps.History == nil || deps.Tagger == nil {
		return nil, apperrors.NewValidationError("catalog, transport, history and tagger are required")
	}
	if opts.OutputDir == "" {
		return nil, apperrors.NewValidationError("output directory cannot be empty")
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.CoverSize <= 0 {
		opts.CoverSize = metadata.DefaultCoverSize
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Orchestrator{
		opts:   opts,
		deps:   deps,
		logger: deps.Logger,
		notify: make(chan struct{}, 1),
	}, nil
}

// Submit queues a Basket without blocking
func (o *Orchestrator) Submit(b *Basket) (*Control, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	c := newControl(b)

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil, ErrStopped
	}
	o.inbox = append(o.inbox, c)
	o.mu.Unlock()

	o.wake()
	o.logger.Info("Basket submitted",
		zap.String("basket_id", b.ID),
		zap.String("action", string(b.Action)),
		zap.Int("playlists", len(b.Playlists)))
	return c, nil
}

// Stop closes the inbox. Run returns once the Baskets already submitted are done.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.wake()
}

// Stats returns the queued jobs and Working workers of the active playlist
func (o *Orchestrator) Stats() (queued, working int) {
	o.mu.Lock()
	q := o.current
	o.mu.Unlock()

	if q == nil {
		return 0, 0
	}
	return q.stats()
}

func (o *Orchestrator) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// Run processes Baskets until the inbox is stopped and empty, or ctx is
// done. On cancellation the Baskets still queued finish with the context error.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return fmt.Errorf("orchestrator already running")
	}

	o.logger.Info("Orchestrator started", zap.Int("workers", o.opts.Workers))
	defer o.logger.Info("Orchestrator stopped")

	for {
		c, err := o.next(ctx)
		if err != nil {
			o.abandon(err)
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}

		err = o.runBasket(ctx, c)
		if err != nil {
			o.logger.Error("Basket failed", zap.String("basket_id", c.basket.ID), zap.Error(err))
		} else {
			o.logger.Info("Basket completed", zap.String("basket_id", c.basket.ID))
		}
		c.finish(err)
	}
}

// next blocks until a Basket is available, the stopped inbox is empty or
// ctx is done
func (o *Orchestrator) next(ctx context.Context) (*Control, error) {
	for {
		o.mu.Lock()
		switch {
		case len(o.inbox) > 0:
			c := o.inbox[0]
			o.inbox[0] = nil
			o.inbox = o.inbox[1:]
			o.mu.Unlock()
			return c, nil
		case o.stopped:
			o.mu.Unlock()
			return nil, ErrStopped
		}
		o.mu.Unlock()

		select {
		case <-o.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// abandon finishes every Basket left in the inbox with err
func (o *Orchestrator) abandon(err error) {
	o.mu.Lock()
	pending := o.inbox
	o.inbox = nil
	o.stopped = true
	o.mu.Unlock()

	for _, c := range pending {
		c.finish(err)
	}
}

func (o *Orchestrator) setCurrent(q *jobQueue) {
	o.mu.Lock()
	o.current = q
	o.mu.Unlock()
}

// playlistRun is a playlist resolved to its title and tracks
type playlistRun struct {
	kind   int64
	title  string
	tracks []catalog.Track
}

func (o *Orchestrator) runBasket(ctx context.Context, c *Control) error {
	b := c.basket
	logger := monitoring.LoggerWithContext(o.logger, zap.String("basket_id", b.ID), zap.String("action", string(b.Action)))

	if c.isClosed() {
		logger.Info("Basket closed before it started")
		return nil
	}

	liked, err := o.deps.Catalog.LikedTrackIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch liked tracks: %w", err)
	}

	env := NewEnv(o.deps.Transport, o.deps.History, o.deps.Tagger, liked)
	env.Covers = o.deps.Covers
	env.CoverSize = o.opts.CoverSize
	env.Logger = logger

	action, err := NewAction(b.Action, env)
	if err != nil {
		return err
	}

	playlists, err := o.resolve(ctx, b, logger)
	if err != nil {
		return err
	}

	queue := newJobQueue()
	workers := make([]*Worker, o.opts.Workers)
	for i := range workers {
		workers[i] = newWorker(i+1, queue, action, logger)
	}

	o.setCurrent(queue)
	defer o.setCurrent(nil)
	c.attach(queue)

	stop := context.AfterFunc(ctx, func() { queue.requestClose() })
	defer stop()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error { return w.run(ctx) })
	}

	runErr := o.runPlaylists(ctx, b, playlists, queue, workers, logger)

	queue.shutdown()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	return runErr
}

// resolve orders the Basket's playlists by id and fills empty selections
// with the full playlist
func (o *Orchestrator) resolve(ctx context.Context, b *Basket, logger *zap.Logger) ([]playlistRun, error) {
	kinds := lo.Keys(b.Playlists)
	slices.Sort(kinds)

	runs := make([]playlistRun, 0, len(kinds))
	for _, kind := range kinds {
		playlist, err := o.deps.Catalog.Playlist(ctx, kind)
		if err != nil {
			if !o.skippable(err) {
				return nil, fmt.Errorf("failed to fetch playlist %d: %w", kind, err)
			}
			logger.Warn("Skipping playlist", zap.Int64("kind", kind), zap.Error(err))
			continue
		}

		tracks := b.Playlists[kind]
		if len(tracks) == 0 {
			tracks, err = o.deps.Catalog.PlaylistTracks(ctx, kind)
			if err != nil {
				if !o.skippable(err) {
					return nil, fmt.Errorf("failed to fetch tracks of playlist %d: %w", kind, err)
				}
				logger.Warn("Skipping playlist", zap.Int64("kind", kind), zap.Error(err))
				continue
			}
		}

		runs = append(runs, playlistRun{kind: kind, title: playlist.Title, tracks: tracks})
	}
	return runs, nil
}

// skippable reports whether a listing error concerns only one playlist
func (o *Orchestrator) skippable(err error) bool {
	return !apperrors.IsConnectivityError(err) &&
		!apperrors.IsAuthError(err) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) runPlaylists(ctx context.Context, b *Basket, playlists []playlistRun, queue *jobQueue, workers []*Worker, logger *zap.Logger) error {
	factory := b.Progress
	if factory == nil {
		factory = noopFactory
	}

	for i, playlist := range playlists {
		if queue.isClosing() {
			logger.Info("Basket closed, skipping remaining playlists", zap.Int("remaining", len(playlists)-i))
			return nil
		}

		if err := o.runPlaylist(ctx, b, i, playlist, factory, queue, workers, logger); err != nil {
			return err
		}
	}
	return nil
}

// runPlaylist enqueues one playlist and blocks until it drains
func (o *Orchestrator) runPlaylist(ctx context.Context, b *Basket, index int, playlist playlistRun, factory ProgressFactory, queue *jobQueue, workers []*Worker, logger *zap.Logger) error {
	logger = logger.With(zap.String("playlist", playlist.title))

	progress := factory(index, playlist.title, len(playlist.tracks))
	defer progress.Finish()

	folder, err := security.ValidateFilePath(o.opts.OutputDir, naming.Folder(playlist.title))
	if err != nil {
		logger.Warn("Skipping playlist with unusable folder name", zap.Error(err))
		return nil
	}

	if err := os.MkdirAll(filepath.Join(folder, coversDir), 0755); err != nil {
		return apperrors.NewFileSystemError("failed to create playlist folder", err)
	}

	infoLog, err := OpenInfoLog(filepath.Join(folder, infoDir), logger)
	if err != nil {
		return apperrors.NewFileSystemError("failed to open info logs", err)
	}
	defer func() {
		if err := infoLog.Close(); err != nil {
			logger.Warn("Failed to close info logs", zap.Error(err))
		}
	}()

	if err := o.deps.History.EnsureTable(ctx, playlist.title); err != nil {
		return fmt.Errorf("failed to prepare history for %q: %w", playlist.title, err)
	}

	for _, w := range workers {
		w.sink.Rebind(progress)
	}

	jobs := lo.Map(playlist.tracks, func(track catalog.Track, _ int) *Job {
		return &Job{
			Track:         track,
			PlaylistTitle: playlist.title,
			Folder:        folder,
			Flags:         b.Flags,
			log:           infoLog,
		}
	})

	logger.Info("Processing playlist", zap.Int64("kind", playlist.kind), zap.Int("tracks", len(jobs)))
	queue.push(jobs)
	drainErr := queue.waitDrain()

	var ok, failedCount int
	for _, w := range workers {
		s, f := w.sink.Tallies()
		ok += s
		failedCount += f
	}
	progress.SetResult(ok, failedCount)

	logger.Info("Playlist finished", zap.Int("succeeded", ok), zap.Int("failed", failedCount))
	return drainErr
}

// Control is the handle of one submitted Basket
type Control struct {
	basket *Basket
	done   chan struct{}

	mu     sync.Mutex
	queue  *jobQueue
	paused bool
	closed bool
	err    error
}

func newControl(b *Basket) *Control {
	return &Control{
		basket: b,
		done:   make(chan struct{}),
	}
}

// Basket returns the controlled Basket
func (c *Control) Basket() *Basket {
	return c.basket
}

// Pause toggles the Paused flag of every worker. Queued jobs are kept.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.paused = !c.paused
	if c.queue != nil {
		c.queue.setPaused(c.paused)
	}
}

// Paused reports whether the Basket is paused
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Close lets claimed jobs finish and drops everything else
func (c *Control) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if c.queue != nil {
		c.queue.requestClose()
	}
}

// Done is closed when the Basket has finished
func (c *Control) Done() <-chan struct{} {
	return c.done
}

// Err returns the Basket's error once Done is closed
func (c *Control) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Control) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// attach applies pause and close requests made before the Basket started
func (c *Control) attach(q *jobQueue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = q
	if c.paused {
		q.setPaused(true)
	}
	if c.closed {
		q.requestClose()
	}
}

func (c *Control) finish(err error) {
	c.mu.Lock()
	c.err = err
	c.queue = nil
	c.mu.Unlock()
	close(c.done)
}
