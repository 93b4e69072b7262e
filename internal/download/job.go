package download

import (
	"github.com/Laynholt/ymd2/internal/catalog"
	"github.com/Laynholt/ymd2/internal/naming"
)

// Failure reasons written to info/errors.txt
const (
	reasonUnavailable  = "track is unavailable"
	reasonDownload     = "could not download track"
	reasonHistory      = "could not add track to history"
	reasonMetadata     = "could not update metadata"
	reasonNotInHistory = "track is not in history"
	reasonFavorite     = "could not update favorite flag"
	reasonInternal     = "internal error"
)

const (
	coversDir  = "covers"
	infoDir    = "info"
	partSuffix = ".part"
	coverExt   = ".jpg"
)

// Job is one track queued for the active playlist
type Job struct {
	Track         catalog.Track
	PlaylistTitle string
	Folder        string
	Flags         Flags

	log *InfoLog
}

// Name returns the file stem of the track: "<artists> - <title>", with the
// id appended when requested, stripped of forbidden characters
func (j *Job) Name() string {
	return naming.TrackName(j.Track.ArtistNames(), j.Track.FullTitle(), j.Track.ID, j.Flags.AppendID)
}

// Outcome is the result of one action on one track. A track either
// succeeded or failed, never both.
type Outcome struct {
	Succeeded bool
	Reason    string
	Err       error
}

func succeeded() Outcome {
	return Outcome{Succeeded: true}
}

func failed(reason string, err error) Outcome {
	return Outcome{Reason: reason, Err: err}
}
