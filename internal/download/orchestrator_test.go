package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Laynholt/ymd2/internal/catalog"
	apperrors "github.com/Laynholt/ymd2/internal/errors"
	"github.com/Laynholt/ymd2/internal/metadata"
	"github.com/Laynholt/ymd2/internal/monitoring"
	"github.com/Laynholt/ymd2/internal/store"
)

type fakeCatalog struct {
	mu        sync.Mutex
	titles    map[int64]string
	tracks    map[int64][]catalog.Track
	liked     []int64
	likedGate chan struct{}
	trackErrs map[int64]error
}

func (c *fakeCatalog) LikedTrackIDs(ctx context.Context) ([]int64, error) {
	if c.likedGate != nil {
		<-c.likedGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.liked...), nil
}

func (c *fakeCatalog) Playlist(ctx context.Context, kind int64) (*catalog.Playlist, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	title, ok := c.titles[kind]
	if !ok {
		return nil, apperrors.NewUnavailableError(fmt.Sprintf("playlist %d not found", kind))
	}
	return &catalog.Playlist{Kind: kind, Title: title, TrackCount: len(c.tracks[kind])}, nil
}

func (c *fakeCatalog) PlaylistTracks(ctx context.Context, kind int64) ([]catalog.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.trackErrs[kind]; err != nil {
		return nil, err
	}
	return c.tracks[kind], nil
}

func (c *fakeCatalog) setLiked(ids ...int64) {
	c.mu.Lock()
	c.liked = ids
	c.mu.Unlock()
}

type fakeTransport struct {
	mu        sync.Mutex
	encodings map[int64][]catalog.Encoding
	failures  map[string]error
	panics    map[int64]bool
	lyrics    string
	transfers int

	started chan struct{}
	gate    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		encodings: make(map[int64][]catalog.Encoding),
		failures:  make(map[string]error),
		panics:    make(map[int64]bool),
	}
}

func failureKey(trackID int64, encoding catalog.Encoding) string {
	return fmt.Sprintf("%d/%s/%d", trackID, encoding.Codec, encoding.BitrateKbps)
}

func (t *fakeTransport) Encodings(ctx context.Context, trackID int64) ([]catalog.Encoding, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if encodings, ok := t.encodings[trackID]; ok {
		return encodings, nil
	}
	return []catalog.Encoding{{Codec: "mp3", BitrateKbps: 192}, {Codec: "mp3", BitrateKbps: 320}}, nil
}

func (t *fakeTransport) Fetch(ctx context.Context, trackID int64, encoding catalog.Encoding, w io.Writer) (int64, error) {
	if t.started != nil {
		select {
		case t.started <- struct{}{}:
		default:
		}
	}
	if t.gate != nil {
		<-t.gate
	}

	t.mu.Lock()
	if t.panics[trackID] {
		t.mu.Unlock()
		panic("transport exploded")
	}
	err := t.failures[failureKey(trackID, encoding)]
	t.mu.Unlock()

	if err != nil {
		return 0, err
	}

	n, err := fmt.Fprintf(w, "audio %d %d", trackID, encoding.BitrateKbps)

	t.mu.Lock()
	t.transfers++
	t.mu.Unlock()
	return int64(n), err
}

func (t *fakeTransport) Cover(ctx context.Context, uri string, size int) ([]byte, error) {
	return nil, errors.New("no covers here")
}

func (t *fakeTransport) Lyrics(ctx context.Context, trackID int64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lyrics, nil
}

func (t *fakeTransport) fail(trackID int64, encoding catalog.Encoding, err error) {
	t.mu.Lock()
	t.failures[failureKey(trackID, encoding)] = err
	t.mu.Unlock()
}

func (t *fakeTransport) transferCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfers
}

func (t *fakeTransport) resetTransfers() {
	t.mu.Lock()
	t.transfers = 0
	t.mu.Unlock()
}

type fakeTagger struct {
	mu     sync.Mutex
	paths  []string
	lyrics []string
	err    error
}

func (f *fakeTagger) Apply(path string, meta *metadata.TrackMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	f.lyrics = append(f.lyrics, meta.Lyrics)
	return f.err
}

func (f *fakeTagger) tagged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// brokenHistory fails every insert
type brokenHistory struct {
	*store.HistoryStore
}

func (brokenHistory) InsertIfAbsent(ctx context.Context, title string, record *store.Record) (bool, error) {
	return false, apperrors.NewDatabaseError("disk I/O error", nil)
}

type harness struct {
	orchestrator *Orchestrator
	catalog      *fakeCatalog
	transport    *fakeTransport
	history      *store.HistoryStore
	tagger       *fakeTagger
	root         string
}

func newHarness(t *testing.T, workers int, cat *fakeCatalog) *harness {
	t.Helper()
	return newHarnessWithHistory(t, workers, cat, nil)
}

// newHarnessWithHistory lets wrap replace the History the orchestrator sees.
// h.history stays the real store underneath.
func newHarnessWithHistory(t *testing.T, workers int, cat *fakeCatalog, wrap func(*store.HistoryStore) History) *harness {
	t.Helper()

	dir := t.TempDir()
	history, err := store.OpenHistory(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	h := &harness{
		catalog:   cat,
		transport: newFakeTransport(),
		history:   history,
		tagger:    &fakeTagger{},
		root:      filepath.Join(dir, "download"),
	}

	var hist History = h.history
	if wrap != nil {
		hist = wrap(h.history)
	}

	h.orchestrator, err = NewOrchestrator(Options{OutputDir: h.root, Workers: workers}, Dependencies{
		Catalog:   h.catalog,
		Transport: h.transport,
		History:   hist,
		Tagger:    h.tagger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.orchestrator.Run(ctx)
	}()
	t.Cleanup(func() {
		h.orchestrator.Stop()
		cancel()
		<-done
	})

	return h
}

// submit queues a Basket and attaches a fresh Tracker to it
func (h *harness) submit(t *testing.T, action ActionKind, playlists map[int64][]catalog.Track, flags Flags) (*Control, *Tracker) {
	t.Helper()

	tracker := NewTracker(action)
	basket := NewBasket(action, playlists, flags)
	basket.Progress = tracker.NewProgress

	control, err := h.orchestrator.Submit(basket)
	require.NoError(t, err)
	return control, tracker
}

func (h *harness) run(t *testing.T, action ActionKind, playlists map[int64][]catalog.Track, flags Flags) *Tracker {
	t.Helper()

	control, tracker := h.submit(t, action, playlists, flags)
	waitDone(t, control)
	require.NoError(t, control.Err())
	return tracker
}

func waitDone(t *testing.T, c *Control) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("basket did not finish")
	}
}

func track(id int64, title string) catalog.Track {
	return catalog.Track{
		ID:        id,
		Title:     title,
		Artists:   []catalog.Artist{{ID: 100 + id, Name: "Artist"}},
		Albums:    []catalog.Album{{ID: 200, Title: "Album", Year: 2020, TrackPosition: catalog.TrackPosition{Volume: 1, Index: int(id)}}},
		Available: true,
	}
}

func tracksN(n int) []catalog.Track {
	tracks := make([]catalog.Track, n)
	for i := range tracks {
		tracks[i] = track(int64(i+1), fmt.Sprintf("Song %d", i+1))
	}
	return tracks
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.FieldsFunc(string(data), func(r rune) bool { return r == '\n' })
}

func singlePlaylist(kind int64, title string, tracks []catalog.Track) *fakeCatalog {
	return &fakeCatalog{
		titles: map[int64]string{kind: title},
		tracks: map[int64][]catalog.Track{kind: tracks},
	}
}

func TestOrchestrator_DownloadScenario(t *testing.T) {
	tracks := []catalog.Track{track(1, "A"), track(2, "B")}
	h := newHarness(t, 2, singlePlaylist(7, "PlaylistName", tracks))

	tracker := h.run(t, ActionDownload, map[int64][]catalog.Track{7: tracks}, Flags{})

	snapshots := tracker.Snapshot()
	require.Len(t, snapshots, 1)
	assert.Equal(t, Snapshot{Index: 0, Title: "PlaylistName", Total: 2, Processed: 2, Succeeded: 2, Failed: 0, Finished: true}, snapshots[0])

	folder := filepath.Join(h.root, "PlaylistName")
	assert.DirExists(t, filepath.Join(folder, coversDir))
	assert.DirExists(t, filepath.Join(folder, infoDir))
	assert.FileExists(t, filepath.Join(folder, "Artist - A.mp3"))
	assert.FileExists(t, filepath.Join(folder, "Artist - B.mp3"))
	assert.NoFileExists(t, filepath.Join(folder, "Artist - A.mp3"+partSuffix))

	ctx := context.Background()
	count, err := h.history.Count(ctx, "PlaylistName")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	tables, err := h.history.Tables(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "table_PlaylistName")

	records, err := h.history.List(ctx, "PlaylistName")
	require.NoError(t, err)
	for _, record := range records {
		assert.Equal(t, 320, record.BitRate, "highest bitrate is transferred first")
		assert.Equal(t, "mp3", record.Codec)
	}

	assert.ElementsMatch(t, []string{"Artist - A", "Artist - B"}, readLines(t, filepath.Join(folder, infoDir, downloadedFile)))
	assert.Empty(t, readLines(t, filepath.Join(folder, infoDir, errorsFile)))
	assert.Len(t, h.tagger.tagged(), 2)
}

func TestOrchestrator_FileOrErrorLinePerTrack(t *testing.T) {
	good := track(1, "Good")
	unavailable := track(2, "Gone")
	unavailable.Available = false
	broken := track(3, "Broken")
	tracks := []catalog.Track{good, unavailable, broken}

	h := newHarness(t, 3, singlePlaylist(10, "Mixed", tracks))
	for _, bitrate := range []int{192, 320} {
		h.transport.fail(broken.ID, catalog.Encoding{Codec: "mp3", BitrateKbps: bitrate}, apperrors.NewTransferError("status 500", nil))
	}

	tracker := h.run(t, ActionDownload, map[int64][]catalog.Track{10: tracks}, Flags{})

	folder := filepath.Join(h.root, "Mixed")
	errorLines := readLines(t, filepath.Join(folder, infoDir, errorsFile))

	for _, tr := range tracks {
		name := "Artist - " + tr.Title
		_, statErr := os.Stat(filepath.Join(folder, name+".mp3"))
		hasFile := statErr == nil
		hasError := false
		for _, line := range errorLines {
			if strings.HasPrefix(line, name+" ~ ") {
				hasError = true
			}
		}
		assert.True(t, hasFile != hasError, "track %q must have exactly one of file or error line", name)
	}

	assert.ElementsMatch(t, []string{
		"Artist - Gone ~ " + reasonUnavailable,
		"Artist - Broken ~ " + reasonDownload,
	}, errorLines)

	snapshot := tracker.Snapshot()[0]
	assert.Equal(t, 3, snapshot.Processed)
	assert.Equal(t, 1, snapshot.Succeeded)
	assert.Equal(t, 2, snapshot.Failed)
}

func TestOrchestrator_SkipExistingRerun(t *testing.T) {
	tracks := tracksN(4)
	h := newHarness(t, 2, singlePlaylist(20, "Again", tracks))
	selection := map[int64][]catalog.Track{20: nil}

	h.run(t, ActionDownload, selection, Flags{})
	require.Equal(t, 4, h.transport.transferCount())

	h.transport.resetTransfers()
	tracker := h.run(t, ActionDownload, selection, Flags{SkipExisting: true})

	assert.Zero(t, h.transport.transferCount())
	snapshot := tracker.Snapshot()[0]
	assert.Equal(t, 4, snapshot.Processed)
	assert.Equal(t, 4, snapshot.Succeeded)
	assert.Zero(t, snapshot.Failed)
}

func TestOrchestrator_ExistingFileIsNotTransferredAgain(t *testing.T) {
	tracks := tracksN(2)
	h := newHarness(t, 1, singlePlaylist(21, "Present", tracks))
	selection := map[int64][]catalog.Track{21: tracks}

	h.run(t, ActionDownload, selection, Flags{})
	h.transport.resetTransfers()

	h.run(t, ActionDownload, selection, Flags{})
	assert.Zero(t, h.transport.transferCount())

	h.run(t, ActionDownload, selection, Flags{Rewrite: true})
	assert.Equal(t, 2, h.transport.transferCount())

	count, err := h.history.Count(context.Background(), "Present")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestOrchestrator_AddToHistoryTwice(t *testing.T) {
	tracks := tracksN(3)
	h := newHarness(t, 2, singlePlaylist(30, "Archive", tracks))
	selection := map[int64][]catalog.Track{30: tracks}

	h.run(t, ActionAddToHistory, selection, Flags{})
	tracker := h.run(t, ActionAddToHistory, selection, Flags{})

	count, err := h.history.Count(context.Background(), "Archive")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, tracker.Snapshot()[0].Succeeded)

	assert.Zero(t, h.transport.transferCount())
	assert.NoFileExists(t, filepath.Join(h.root, "Archive", "Artist - Song 1.mp3"))
}

func TestOrchestrator_UpdateFavorite(t *testing.T) {
	liked := track(1, "Loved")
	other := track(2, "Plain")
	missing := track(3, "Missing")
	cat := singlePlaylist(40, "Likes", []catalog.Track{liked, other, missing})
	h := newHarness(t, 2, cat)
	ctx := context.Background()

	h.run(t, ActionAddToHistory, map[int64][]catalog.Track{40: {liked, other}}, Flags{})

	record, err := h.history.Find(ctx, "Likes", store.KeyFor(&liked))
	require.NoError(t, err)
	require.False(t, record.IsFavorite)

	cat.setLiked(liked.ID)
	tracker := h.run(t, ActionUpdateFavorite, map[int64][]catalog.Track{40: nil}, Flags{})

	record, err = h.history.Find(ctx, "Likes", store.KeyFor(&liked))
	require.NoError(t, err)
	assert.True(t, record.IsFavorite)

	record, err = h.history.Find(ctx, "Likes", store.KeyFor(&other))
	require.NoError(t, err)
	assert.False(t, record.IsFavorite)

	snapshot := tracker.Snapshot()[0]
	assert.Equal(t, 2, snapshot.Succeeded)
	assert.Equal(t, 1, snapshot.Failed)
	assert.Equal(t,
		[]string{"Artist - Missing ~ " + reasonNotInHistory},
		readLines(t, filepath.Join(h.root, "Likes", infoDir, errorsFile)))
}

func TestOrchestrator_PauseResume(t *testing.T) {
	tracks := tracksN(10)
	cat := singlePlaylist(50, "Paused", tracks)
	cat.likedGate = make(chan struct{})
	h := newHarness(t, 3, cat)

	control, tracker := h.submit(t, ActionDownload, map[int64][]catalog.Track{50: tracks}, Flags{})
	control.Pause()
	require.True(t, control.Paused())
	close(cat.likedGate)

	assert.Never(t, func() bool {
		select {
		case <-control.Done():
			return true
		default:
			return false
		}
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Zero(t, h.transport.transferCount())

	control.Pause()
	require.False(t, control.Paused())
	waitDone(t, control)
	require.NoError(t, control.Err())

	snapshot := tracker.Snapshot()[0]
	assert.Equal(t, 10, snapshot.Processed)
	assert.Equal(t, 10, snapshot.Succeeded)
	assert.Equal(t, 10, h.transport.transferCount())

	count, err := h.history.Count(context.Background(), "Paused")
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestOrchestrator_CloseMidBasket(t *testing.T) {
	first := tracksN(3)
	second := []catalog.Track{track(9, "Later")}
	cat := &fakeCatalog{
		titles: map[int64]string{1: "First", 2: "Second"},
		tracks: map[int64][]catalog.Track{1: first, 2: second},
	}
	h := newHarness(t, 1, cat)
	h.transport.started = make(chan struct{}, 1)
	h.transport.gate = make(chan struct{})

	control, tracker := h.submit(t, ActionDownload, map[int64][]catalog.Track{1: first, 2: second}, Flags{})

	select {
	case <-h.transport.started:
	case <-time.After(5 * time.Second):
		t.Fatal("no transfer started")
	}
	control.Close()
	close(h.transport.gate)

	waitDone(t, control)
	require.NoError(t, control.Err())

	snapshots := tracker.Snapshot()
	require.Len(t, snapshots, 1, "no playlist starts after close")
	assert.Equal(t, 1, snapshots[0].Processed)
	assert.Equal(t, 1, snapshots[0].Succeeded)
	assert.True(t, snapshots[0].Finished)

	assert.FileExists(t, filepath.Join(h.root, "First", "Artist - Song 1.mp3"))
	assert.NoDirExists(t, filepath.Join(h.root, "Second"))
}

func TestOrchestrator_PlaylistsRunInIdOrder(t *testing.T) {
	cat := &fakeCatalog{
		titles: map[int64]string{5: "Five", 2: "Two", 9: "Nine"},
		tracks: map[int64][]catalog.Track{5: tracksN(1), 2: tracksN(2), 9: tracksN(1)},
	}
	h := newHarness(t, 2, cat)

	tracker := h.run(t, ActionAddToHistory, map[int64][]catalog.Track{9: nil, 2: nil, 5: nil}, Flags{})

	titles := make([]string, 0, 3)
	for _, s := range tracker.Snapshot() {
		titles = append(titles, s.Title)
	}
	assert.Equal(t, []string{"Two", "Five", "Nine"}, titles)
}

func TestOrchestrator_UnknownPlaylistIsSkipped(t *testing.T) {
	h := newHarness(t, 1, singlePlaylist(1, "Known", tracksN(1)))

	tracker := h.run(t, ActionAddToHistory, map[int64][]catalog.Track{1: nil, 404: nil}, Flags{})

	snapshots := tracker.Snapshot()
	require.Len(t, snapshots, 1)
	assert.Equal(t, "Known", snapshots[0].Title)
}

func TestOrchestrator_NoWorkersLeft(t *testing.T) {
	tracks := tracksN(5)
	h := newHarness(t, 2, singlePlaylist(60, "Offline", tracks))
	for _, tr := range tracks {
		for _, bitrate := range []int{192, 320} {
			h.transport.fail(tr.ID, catalog.Encoding{Codec: "mp3", BitrateKbps: bitrate},
				apperrors.NewConnectivityError("dial failed", nil))
		}
	}

	control, tracker := h.submit(t, ActionDownload, map[int64][]catalog.Track{60: tracks}, Flags{})
	waitDone(t, control)

	assert.ErrorIs(t, control.Err(), ErrNoWorkers)

	snapshot := tracker.Snapshot()[0]
	assert.Equal(t, 2, snapshot.Processed, "each worker fails one track then stops")
	assert.Equal(t, 2, snapshot.Failed)
	assert.True(t, snapshot.Finished)

	for _, line := range readLines(t, filepath.Join(h.root, "Offline", infoDir, errorsFile)) {
		assert.True(t, strings.HasSuffix(line, " ~ "+reasonDownload), line)
	}
}

func TestOrchestrator_PanicIsCountedAsFailure(t *testing.T) {
	tracks := tracksN(3)
	h := newHarness(t, 2, singlePlaylist(70, "Fragile", tracks))
	h.transport.panics[2] = true

	tracker := h.run(t, ActionDownload, map[int64][]catalog.Track{70: tracks}, Flags{})

	snapshot := tracker.Snapshot()[0]
	assert.Equal(t, 3, snapshot.Processed)
	assert.Equal(t, 2, snapshot.Succeeded)
	assert.Equal(t, 1, snapshot.Failed)
	assert.Equal(t,
		[]string{"Artist - Song 2 ~ " + reasonInternal},
		readLines(t, filepath.Join(h.root, "Fragile", infoDir, errorsFile)))
}

func TestOrchestrator_FallsBackToLowerBitrate(t *testing.T) {
	tr := track(1, "Fallback")
	h := newHarness(t, 1, singlePlaylist(80, "Lossy", []catalog.Track{tr}))
	h.transport.encodings[tr.ID] = []catalog.Encoding{{Codec: "mp3", BitrateKbps: 128}, {Codec: "aac", BitrateKbps: 256}}
	h.transport.fail(tr.ID, catalog.Encoding{Codec: "aac", BitrateKbps: 256}, apperrors.NewTransferError("timeout", nil))

	tracker := h.run(t, ActionDownload, map[int64][]catalog.Track{80: nil}, Flags{})

	assert.Equal(t, 1, tracker.Snapshot()[0].Succeeded)
	folder := filepath.Join(h.root, "Lossy")
	assert.FileExists(t, filepath.Join(folder, "Artist - Fallback.mp3"))
	assert.NoFileExists(t, filepath.Join(folder, "Artist - Fallback.aac"))
	assert.NoFileExists(t, filepath.Join(folder, "Artist - Fallback.aac"+partSuffix))

	record, err := h.history.Find(context.Background(), "Lossy", store.KeyFor(&tr))
	require.NoError(t, err)
	assert.Equal(t, 128, record.BitRate)
	assert.Equal(t, "mp3", record.Codec)
}

func TestOrchestrator_TagFailureKeepsDownload(t *testing.T) {
	tracks := tracksN(1)
	h := newHarness(t, 1, singlePlaylist(81, "Untagged", tracks))
	h.tagger.err = apperrors.NewTaggingError("bad container", nil)
	tagErrors := testutil.ToFloat64(monitoring.ErrorsTotal.WithLabelValues(string(apperrors.ErrTypeTagging)))

	tracker := h.run(t, ActionDownload, map[int64][]catalog.Track{81: tracks}, Flags{})

	assert.Equal(t, 1, tracker.Snapshot()[0].Succeeded)
	assert.FileExists(t, filepath.Join(h.root, "Untagged", "Artist - Song 1.mp3"))
	assert.Empty(t, readLines(t, filepath.Join(h.root, "Untagged", infoDir, errorsFile)))
	assert.Equal(t, tagErrors+1, testutil.ToFloat64(monitoring.ErrorsTotal.WithLabelValues(string(apperrors.ErrTypeTagging))))
}

func TestOrchestrator_HistoryFailureKeepsDownload(t *testing.T) {
	tr := track(1, "A")
	h := newHarnessWithHistory(t, 1, singlePlaylist(7, "Unrecorded", []catalog.Track{tr}),
		func(hs *store.HistoryStore) History { return brokenHistory{hs} })
	dbErrors := testutil.ToFloat64(monitoring.ErrorsTotal.WithLabelValues(string(apperrors.ErrTypeDatabase)))

	tracker := h.run(t, ActionDownload, map[int64][]catalog.Track{7: {tr}}, Flags{})

	folder := filepath.Join(h.root, "Unrecorded")
	assert.FileExists(t, filepath.Join(folder, "Artist - A.mp3"))
	assert.Empty(t, readLines(t, filepath.Join(folder, infoDir, errorsFile)))
	assert.Equal(t, []string{"Artist - A"}, readLines(t, filepath.Join(folder, infoDir, downloadedFile)))

	snapshot := tracker.Snapshot()[0]
	assert.Equal(t, 1, snapshot.Succeeded)
	assert.Zero(t, snapshot.Failed)
	assert.Equal(t, dbErrors+1, testutil.ToFloat64(monitoring.ErrorsTotal.WithLabelValues(string(apperrors.ErrTypeDatabase))))

	count, err := h.history.Count(context.Background(), "Unrecorded")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOrchestrator_DuplicateTrackIsRecordedOnce(t *testing.T) {
	tr := track(1, "Twice")
	h := newHarness(t, 4, singlePlaylist(8, "Doubles", []catalog.Track{tr}))

	selection := map[int64][]catalog.Track{8: {tr, tr, tr, tr}}
	tracker := h.run(t, ActionAddToHistory, selection, Flags{})

	assert.Equal(t, 4, tracker.Snapshot()[0].Succeeded)
	count, err := h.history.Count(context.Background(), "Doubles")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOrchestrator_SyncedLyricsArePlain(t *testing.T) {
	tr := track(1, "Sung")
	tr.LyricsAvailable = true
	h := newHarness(t, 1, singlePlaylist(82, "Lyrics", []catalog.Track{tr}))
	h.transport.lyrics = "[00:01.00]First line\n[00:04.50]Second line"

	h.run(t, ActionDownload, map[int64][]catalog.Track{82: {tr}}, Flags{})

	h.tagger.mu.Lock()
	defer h.tagger.mu.Unlock()
	assert.Equal(t, []string{"First line\nSecond line"}, h.tagger.lyrics)
}

func TestOrchestrator_ListingFailureAbortsBasket(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"connectivity", apperrors.NewConnectivityError("dial tcp: refused", nil), apperrors.IsConnectivityError},
		{"auth", apperrors.NewAuthError("token expired", nil), apperrors.IsAuthError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := &fakeCatalog{
				titles:    map[int64]string{1: "Reachable", 7: "Unreachable"},
				tracks:    map[int64][]catalog.Track{1: tracksN(2), 7: tracksN(2)},
				trackErrs: map[int64]error{7: tt.err},
			}
			h := newHarness(t, 2, cat)

			control, tracker := h.submit(t, ActionDownload, map[int64][]catalog.Track{1: nil, 7: nil}, Flags{})
			waitDone(t, control)

			require.Error(t, control.Err())
			assert.True(t, tt.check(control.Err()), control.Err().Error())
			assert.Empty(t, tracker.Snapshot())
			assert.Zero(t, h.transport.transferCount())
			assert.NoDirExists(t, filepath.Join(h.root, "Reachable"))
			assert.NoDirExists(t, filepath.Join(h.root, "Unreachable"))
		})
	}

	t.Run("other errors skip the playlist", func(t *testing.T) {
		cat := &fakeCatalog{
			titles:    map[int64]string{1: "Reachable", 7: "Hidden"},
			tracks:    map[int64][]catalog.Track{1: tracksN(1)},
			trackErrs: map[int64]error{7: apperrors.NewUnavailableError("playlist is private")},
		}
		h := newHarness(t, 1, cat)

		tracker := h.run(t, ActionDownload, map[int64][]catalog.Track{1: nil, 7: nil}, Flags{})

		snapshots := tracker.Snapshot()
		require.Len(t, snapshots, 1)
		assert.Equal(t, "Reachable", snapshots[0].Title)
		assert.NoDirExists(t, filepath.Join(h.root, "Hidden"))
	})
}

func TestOrchestrator_UpdateMetadata(t *testing.T) {
	tracks := tracksN(2)
	h := newHarness(t, 2, singlePlaylist(90, "Tags", tracks))

	t.Run("no file is a no-op success", func(t *testing.T) {
		tracker := h.run(t, ActionUpdateMetadata, map[int64][]catalog.Track{90: tracks}, Flags{})

		assert.Equal(t, 2, tracker.Snapshot()[0].Succeeded)
		assert.Empty(t, h.tagger.tagged())
		assert.Zero(t, h.transport.transferCount())

		count, err := h.history.Count(context.Background(), "Tags")
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("existing file is retagged", func(t *testing.T) {
		folder := filepath.Join(h.root, "Tags")
		path := filepath.Join(folder, "Artist - Song 1.mp3")
		require.NoError(t, os.WriteFile(path, []byte("audio"), 0644))

		tracker := h.run(t, ActionUpdateMetadata, map[int64][]catalog.Track{90: tracks}, Flags{})

		assert.Equal(t, 2, tracker.Snapshot()[0].Succeeded)
		assert.Equal(t, []string{path}, h.tagger.tagged())
	})

	t.Run("tag failure is reported", func(t *testing.T) {
		h.tagger.mu.Lock()
		h.tagger.err = apperrors.NewTaggingError("bad container", nil)
		h.tagger.mu.Unlock()

		tracker := h.run(t, ActionUpdateMetadata, map[int64][]catalog.Track{90: tracks}, Flags{})

		assert.Equal(t, 1, tracker.Snapshot()[0].Failed)
		assert.Equal(t,
			[]string{"Artist - Song 1 ~ " + reasonMetadata},
			readLines(t, filepath.Join(h.root, "Tags", infoDir, errorsFile)))
	})
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	h := newHarness(t, 1, singlePlaylist(1, "Any", nil))

	tests := []struct {
		name   string
		basket *Basket
	}{
		{"nil basket", nil},
		{"unknown action", NewBasket(ActionKind("dance"), map[int64][]catalog.Track{1: nil}, Flags{})},
		{"no playlists", NewBasket(ActionDownload, nil, Flags{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orchestrator.Submit(tt.basket)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrTypeValidation, apperrors.GetErrorType(err))
		})
	}

	h.orchestrator.Stop()
	_, err := h.orchestrator.Submit(NewBasket(ActionDownload, map[int64][]catalog.Track{1: nil}, Flags{}))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(Options{OutputDir: t.TempDir()}, Dependencies{})
	require.Error(t, err)

	_, err = NewOrchestrator(Options{}, Dependencies{
		Catalog:   &fakeCatalog{},
		Transport: newFakeTransport(),
		History:   &store.HistoryStore{},
		Tagger:    &fakeTagger{},
	})
	require.Error(t, err)
}

func TestParseActionKind(t *testing.T) {
	tests := []struct {
		input   string
		want    ActionKind
		wantErr bool
	}{
		{"download", ActionDownload, false},
		{"update_metadata", ActionUpdateMetadata, false},
		{"add_to_history", ActionAddToHistory, false},
		{"update_favorite", ActionUpdateFavorite, false},
		{"delete", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseActionKind(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
