package download

import (
	"sync"
	"sync/atomic"

	"github.com/Laynholt/ymd2/internal/monitoring"
)

// Progress is the UI handle of one playlist run
type Progress interface {
	// Advance adds one processed track, whatever its outcome
	Advance()
	// SetResult publishes the playlist totals once it has drained
	SetResult(succeeded, failed int)
	// Finish marks the playlist done
	Finish()
}

// ProgressFactory returns a fresh handle for the index-th playlist of a Basket
type ProgressFactory func(index int, title string, total int) Progress

type noopProgress struct{}

func (noopProgress) Advance()           {}
func (noopProgress) SetResult(int, int) {}
func (noopProgress) Finish()            {}

func noopFactory(int, string, int) Progress { return noopProgress{} }

// ProgressSink is a worker's view of the active playlist: local success and
// failure tallies plus the shared progress handle
type ProgressSink struct {
	mu        sync.Mutex
	progress  Progress
	succeeded int
	failed    int
}

// Rebind points the sink at a new playlist handle and zeroes the tallies
func (s *ProgressSink) Rebind(progress Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress = progress
	s.succeeded = 0
	s.failed = 0
}

// Record counts one outcome and advances the shared processed counter
func (s *ProgressSink) Record(outcome Outcome) {
	s.mu.Lock()
	if outcome.Succeeded {
		s.succeeded++
	} else {
		s.failed++
	}
	progress := s.progress
	s.mu.Unlock()

	if progress != nil {
		progress.Advance()
	}
}

// Tallies returns the counts recorded since the last Rebind
func (s *ProgressSink) Tallies() (succeeded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.succeeded, s.failed
}

// PlaylistProgress is the Progress kept by a Tracker
type PlaylistProgress struct {
	index  int
	title  string
	total  int
	action ActionKind

	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	finished  atomic.Bool
}

func (p *PlaylistProgress) Advance() {
	p.processed.Add(1)
}

func (p *PlaylistProgress) SetResult(succeeded, failed int) {
	p.succeeded.Store(int64(succeeded))
	p.failed.Store(int64(failed))
}

func (p *PlaylistProgress) Finish() {
	if p.finished.CompareAndSwap(false, true) {
		monitoring.RecordPlaylistCompleted(string(p.action))
	}
}

// Snapshot is a point-in-time copy of one playlist's progress
type Snapshot struct {
	Index     int
	Title     string
	Total     int
	Processed int
	Succeeded int
	Failed    int
	Finished  bool
}

// Tracker collects the progress of every playlist of a Basket
type Tracker struct {
	action ActionKind

	mu        sync.Mutex
	playlists []*PlaylistProgress
}

// NewTracker creates a Tracker. Pass its NewProgress method as the Basket's
// ProgressFactory.
func NewTracker(action ActionKind) *Tracker {
	return &Tracker{action: action}
}

// NewProgress implements ProgressFactory
func (t *Tracker) NewProgress(index int, title string, total int) Progress {
	p := &PlaylistProgress{
		index:  index,
		title:  title,
		total:  total,
		action: t.action,
	}

	t.mu.Lock()
	t.playlists = append(t.playlists, p)
	t.mu.Unlock()

	return p
}

// Snapshot returns the progress of every playlist started so far
func (t *Tracker) Snapshot() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(t.playlists))
	for _, p := range t.playlists {
		snapshots = append(snapshots, Snapshot{
			Index:     p.index,
			Title:     p.title,
			Total:     p.total,
			Processed: int(p.processed.Load()),
			Succeeded: int(p.succeeded.Load()),
			Failed:    int(p.failed.Load()),
			Finished:  p.finished.Load(),
		})
	}
	return snapshots
}
