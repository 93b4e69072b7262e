package download

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Laynholt/ymd2/internal/catalog"
	apperrors "github.com/Laynholt/ymd2/internal/errors"
	"github.com/Laynholt/ymd2/internal/metadata"
	"github.com/Laynholt/ymd2/internal/monitoring"
	"github.com/Laynholt/ymd2/internal/store"
)

// downloadAction transfers the best available encoding of a track
type downloadAction struct{ handler }

func (a *downloadAction) Kind() ActionKind { return ActionDownload }

func (a *downloadAction) Execute(ctx context.Context, job *Job) Outcome {
	name, ok := a.resolve(job)
	if !ok {
		return failed(reasonUnavailable, apperrors.NewUnavailableError(name))
	}

	if job.Flags.SkipExisting {
		exists, err := a.env.History.Exists(ctx, job.PlaylistTitle, store.KeyFor(&job.Track))
		if err != nil {
			a.env.Logger.Warn("History lookup failed", zap.String("track", name), zap.Error(err))
		} else if exists {
			return succeeded()
		}
	}

	encodings, err := a.encodings(ctx, job)
	if err != nil {
		job.log.Error(name, reasonDownload)
		return failed(reasonDownload, err)
	}

	var lastErr error
	for i, encoding := range encodings {
		target := a.target(job, name, encoding)

		if !job.Flags.Rewrite && metadata.FileExists(target) {
			a.record(ctx, job, name, encoding)
			return succeeded()
		}

		if i > 0 {
			monitoring.RecordEncodingFallback()
		}

		err := a.transfer(ctx, job, encoding, target)
		if err == nil {
			return a.complete(ctx, job, name, encoding, target)
		}

		lastErr = err
		a.env.Logger.Debug("Transfer failed",
			zap.String("track", name),
			zap.String("codec", encoding.Codec),
			zap.Int("bitrate", encoding.BitrateKbps),
			zap.Error(err))

		if isFatal(err) {
			break
		}
	}

	job.log.Error(name, reasonDownload)
	if apperrors.IsConnectivityError(lastErr) {
		return failed(reasonDownload, lastErr)
	}
	return failed(reasonDownload, apperrors.NewExhaustedError(fmt.Sprintf("no encoding of %s could be transferred", name), lastErr))
}

// transfer writes the encoding to target via a .part file. The .part file
// never outlives a failed transfer.
func (a *downloadAction) transfer(ctx context.Context, job *Job, encoding catalog.Encoding, target string) error {
	part := target + partSuffix

	f, err := os.Create(part)
	if err != nil {
		return apperrors.NewFileSystemError("failed to create "+part, err)
	}

	renamed := false
	defer func() {
		if !renamed {
			f.Close()
			os.Remove(part)
		}
	}()

	written, err := a.env.Transport.Fetch(ctx, job.Track.ID, encoding, f)
	if err != nil {
		return err
	}
	if written == 0 {
		return apperrors.NewTransferError("empty body", nil)
	}
	if err := f.Close(); err != nil {
		return apperrors.NewFileSystemError("failed to write "+part, err)
	}

	if err := os.Rename(part, target); err != nil {
		return apperrors.NewFileSystemError("failed to move "+part, err)
	}
	renamed = true
	return nil
}

// complete runs the post-transfer steps. The file on disk is the track's
// result: tagging and history failures are logged and counted but never
// turn the outcome into a failure.
func (a *downloadAction) complete(ctx context.Context, job *Job, name string, encoding catalog.Encoding, target string) Outcome {
	job.log.Downloaded(name)

	if err := a.tag(ctx, job, name, target); err != nil {
		monitoring.RecordError(string(apperrors.ErrTypeTagging))
		a.env.Logger.Warn("Failed to tag track", zap.String("path", target), zap.Error(err))
	}

	a.record(ctx, job, name, encoding)
	return succeeded()
}

// record adds the downloaded track to the history
func (a *downloadAction) record(ctx context.Context, job *Job, name string, encoding catalog.Encoding) {
	if err := a.ensureRecord(ctx, job, encoding); err != nil {
		monitoring.RecordError(string(apperrors.ErrTypeDatabase))
		a.env.Logger.Error("Failed to add track to history",
			zap.String("playlist", job.PlaylistTitle),
			zap.String("track", name),
			zap.Error(err))
	}
}

// updateMetadataAction rewrites the tags of an already downloaded track
type updateMetadataAction struct{ handler }

func (a *updateMetadataAction) Kind() ActionKind { return ActionUpdateMetadata }

func (a *updateMetadataAction) Execute(ctx context.Context, job *Job) Outcome {
	name, ok := a.resolve(job)
	if !ok {
		return failed(reasonUnavailable, apperrors.NewUnavailableError(name))
	}

	encodings, err := a.encodings(ctx, job)
	if err != nil {
		job.log.Error(name, reasonMetadata)
		return failed(reasonMetadata, err)
	}

	for _, encoding := range encodings {
		target := a.target(job, name, encoding)
		if !metadata.FileExists(target) {
			continue
		}

		if err := a.tag(ctx, job, name, target); err != nil {
			job.log.Error(name, reasonMetadata)
			return failed(reasonMetadata, err)
		}
		return succeeded()
	}

	// Nothing on disk to update
	return succeeded()
}

// addToHistoryAction records a track without touching any file
type addToHistoryAction struct{ handler }

func (a *addToHistoryAction) Kind() ActionKind { return ActionAddToHistory }

func (a *addToHistoryAction) Execute(ctx context.Context, job *Job) Outcome {
	name, ok := a.resolve(job)
	if !ok {
		return failed(reasonUnavailable, apperrors.NewUnavailableError(name))
	}

	exists, err := a.env.History.Exists(ctx, job.PlaylistTitle, store.KeyFor(&job.Track))
	if err != nil {
		job.log.Error(name, reasonHistory)
		return failed(reasonHistory, err)
	}
	if exists {
		return succeeded()
	}

	encodings, err := a.encodings(ctx, job)
	if err == nil && len(encodings) == 0 {
		err = apperrors.NewUnavailableError("no encodings offered")
	}
	if err != nil {
		job.log.Error(name, reasonHistory)
		return failed(reasonHistory, err)
	}

	record := store.NewRecord(&job.Track, encodings[0], a.env.IsFavorite(job.Track.ID))
	if _, err := a.env.History.InsertIfAbsent(ctx, job.PlaylistTitle, record); err != nil {
		job.log.Error(name, reasonHistory)
		return failed(reasonHistory, err)
	}
	return succeeded()
}

// updateFavoriteAction syncs the is_favorite column with the liked tracks
type updateFavoriteAction struct{ handler }

func (a *updateFavoriteAction) Kind() ActionKind { return ActionUpdateFavorite }

func (a *updateFavoriteAction) Execute(ctx context.Context, job *Job) Outcome {
	name, ok := a.resolve(job)
	if !ok {
		return failed(reasonUnavailable, apperrors.NewUnavailableError(name))
	}

	record, err := a.env.History.Find(ctx, job.PlaylistTitle, store.KeyFor(&job.Track))
	if errors.Is(err, store.ErrNotFound) {
		job.log.Error(name, reasonNotInHistory)
		return failed(reasonNotInHistory, err)
	}
	if err != nil {
		job.log.Error(name, reasonFavorite)
		return failed(reasonFavorite, err)
	}

	favorite := a.env.IsFavorite(job.Track.ID)
	if err := a.env.History.SetFavorite(ctx, job.PlaylistTitle, record.TrackID, favorite); err != nil {
		job.log.Error(name, reasonFavorite)
		return failed(reasonFavorite, err)
	}
	return succeeded()
}
