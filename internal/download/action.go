package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Laynholt/ymd2/internal/catalog"
	apperrors "github.com/Laynholt/ymd2/internal/errors"
	"github.com/Laynholt/ymd2/internal/metadata"
	"github.com/Laynholt/ymd2/internal/store"
)

// Catalog lists playlists and liked tracks
type Catalog interface {
	LikedTrackIDs(ctx context.Context) ([]int64, error)
	Playlist(ctx context.Context, kind int64) (*catalog.Playlist, error)
	PlaylistTracks(ctx context.Context, kind int64) ([]catalog.Track, error)
}

// Transport moves audio, covers and lyrics
type Transport interface {
	Encodings(ctx context.Context, trackID int64) ([]catalog.Encoding, error)
	Fetch(ctx context.Context, trackID int64, encoding catalog.Encoding, w io.Writer) (int64, error)
	Cover(ctx context.Context, uri string, size int) ([]byte, error)
	Lyrics(ctx context.Context, trackID int64) (string, error)
}

// History is the per-playlist record of processed tracks
type History interface {
	EnsureTable(ctx context.Context, title string) error
	Find(ctx context.Context, title string, key store.Key) (*store.Record, error)
	Exists(ctx context.Context, title string, key store.Key) (bool, error)
	InsertIfAbsent(ctx context.Context, title string, record *store.Record) (bool, error)
	SetFavorite(ctx context.Context, title string, trackID int64, favorite bool) error
}

// Tagger writes tags into an audio file
type Tagger interface {
	Apply(path string, meta *metadata.TrackMetadata) error
}

// Env is what actions share for the lifetime of a Basket
type Env struct {
	Transport Transport
	History   History
	Tagger    Tagger
	Covers    *metadata.CoverCache
	CoverSize int
	Liked     map[int64]struct{}
	Logger    *zap.Logger
}

// NewEnv builds an Env with the liked-track set of the Basket
func NewEnv(transport Transport, history History, tagger Tagger, liked []int64) *Env {
	return &Env{
		Transport: transport,
		History:   history,
		Tagger:    tagger,
		CoverSize: metadata.DefaultCoverSize,
		Liked:     lo.Associate(liked, func(id int64) (int64, struct{}) { return id, struct{}{} }),
		Logger:    zap.NewNop(),
	}
}

// IsFavorite reports whether the track is liked
func (e *Env) IsFavorite(trackID int64) bool {
	_, ok := e.Liked[trackID]
	return ok
}

// Action is what a Basket does with each track. The set of actions is
// closed: only this package can implement it.
type Action interface {
	Kind() ActionKind
	Execute(ctx context.Context, job *Job) Outcome
	sealed()
}

// NewAction returns the action of the given kind
func NewAction(kind ActionKind, env *Env) (Action, error) {
	if env == nil {
		return nil, apperrors.NewValidationError("action environment cannot be nil")
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	if env.CoverSize <= 0 {
		env.CoverSize = metadata.DefaultCoverSize
	}

	base := handler{env: env}
	switch kind {
	case ActionDownload:
		return &downloadAction{base}, nil
	case ActionUpdateMetadata:
		return &updateMetadataAction{base}, nil
	case ActionAddToHistory:
		return &addToHistoryAction{base}, nil
	case ActionUpdateFavorite:
		return &updateFavoriteAction{base}, nil
	}
	return nil, apperrors.NewValidationError(fmt.Sprintf("unknown action %q", kind))
}

// handler holds the steps every action shares
type handler struct {
	env *Env
}

func (handler) sealed() {}

// resolve computes the track's file stem and rejects unavailable tracks
func (h handler) resolve(job *Job) (string, bool) {
	name := job.Name()
	if !job.Track.Available {
		job.log.Error(name, reasonUnavailable)
		return name, false
	}
	return name, true
}

// encodings returns the track's encodings, highest bitrate first. A
// snapshot carried by the track is used as is.
func (h handler) encodings(ctx context.Context, job *Job) ([]catalog.Encoding, error) {
	encodings := job.Track.Encodings
	if len(encodings) == 0 {
		var err error
		encodings, err = h.env.Transport.Encodings(ctx, job.Track.ID)
		if err != nil {
			return nil, err
		}
	}
	return catalog.SortEncodings(encodings), nil
}

func (h handler) target(job *Job, name string, encoding catalog.Encoding) string {
	return filepath.Join(job.Folder, name+"."+encoding.Codec)
}

// ensureRecord inserts a history record for the track unless one matches
func (h handler) ensureRecord(ctx context.Context, job *Job, encoding catalog.Encoding) error {
	record := store.NewRecord(&job.Track, encoding, h.env.IsFavorite(job.Track.ID))
	_, err := h.env.History.InsertIfAbsent(ctx, job.PlaylistTitle, record)
	return err
}

// cover returns the track's cover, saving it to covers/<name>.jpg when it
// is not there yet. Failures are logged and yield no cover.
func (h handler) cover(ctx context.Context, job *Job, name string) []byte {
	path := filepath.Join(job.Folder, coversDir, name+coverExt)
	if data, err := os.ReadFile(path); err == nil {
		return data
	}

	if job.Track.CoverURI == "" {
		return nil
	}

	fetch := func() ([]byte, error) {
		raw, err := h.env.Transport.Cover(ctx, job.Track.CoverURI, h.env.CoverSize)
		if err != nil {
			return nil, err
		}
		return metadata.PrepareCover(raw, h.env.CoverSize)
	}

	var data []byte
	var err error
	if h.env.Covers != nil {
		data, err = h.env.Covers.Fetch(job.Track.CoverURI, fetch)
	} else {
		data, err = fetch()
	}
	if err != nil {
		h.env.Logger.Warn("Failed to fetch cover", zap.Int64("track", job.Track.ID), zap.Error(err))
		return nil
	}

	if err := metadata.SaveCover(path, data); err != nil {
		h.env.Logger.Warn("Failed to save cover", zap.String("path", path), zap.Error(err))
	}
	return data
}

// tag writes the track's tags, cover and lyrics into path
func (h handler) tag(ctx context.Context, job *Job, name, path string) error {
	meta := metadata.FromTrack(&job.Track)
	meta.Cover = h.cover(ctx, job, name)

	if job.Track.LyricsAvailable {
		lyrics, err := h.env.Transport.Lyrics(ctx, job.Track.ID)
		if err != nil {
			h.env.Logger.Warn("Failed to fetch lyrics", zap.Int64("track", job.Track.ID), zap.Error(err))
		}
		// USLT holds plain text, synced lyrics lose their timestamps
		meta.Lyrics = metadata.PlainLyrics(lyrics)
	}

	return h.env.Tagger.Apply(path, meta)
}

// isFatal reports whether no lower encoding should be tried after err
func isFatal(err error) bool {
	return apperrors.IsConnectivityError(err) ||
		errors.Is(err, context.Canceled) ||
		!apperrors.IsRetryable(err)
}
