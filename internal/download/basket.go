// Package download runs Baskets: batches of playlist tracks processed by a
// pool of workers with one of four actions.
package download

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Laynholt/ymd2/internal/catalog"
	apperrors "github.com/Laynholt/ymd2/internal/errors"
)

// ActionKind names what a Basket does with each of its tracks
type ActionKind string

const (
	ActionDownload       ActionKind = "download"
	ActionUpdateMetadata ActionKind = "update_metadata"
	ActionAddToHistory   ActionKind = "add_to_history"
	ActionUpdateFavorite ActionKind = "update_favorite"
)

// ParseActionKind validates an action name
func ParseActionKind(s string) (ActionKind, error) {
	switch kind := ActionKind(s); kind {
	case ActionDownload, ActionUpdateMetadata, ActionAddToHistory, ActionUpdateFavorite:
		return kind, nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("unknown action %q", s))
}

// Flags are the per-Basket mode switches
type Flags struct {
	AppendID     bool
	Rewrite      bool
	SkipExisting bool
}

// Basket is one submitted unit of work. An empty track list for a playlist
// means the whole playlist.
type Basket struct {
	ID        string
	Action    ActionKind
	Playlists map[int64][]catalog.Track
	Flags     Flags

	// Progress supplies a fresh progress handle per playlist. Optional.
	Progress ProgressFactory
}

// NewBasket creates a Basket with a fresh id
func NewBasket(action ActionKind, playlists map[int64][]catalog.Track, flags Flags) *Basket {
	return &Basket{
		ID:        uuid.NewString(),
		Action:    action,
		Playlists: playlists,
		Flags:     flags,
	}
}

// Validate checks the Basket before it is queued
func (b *Basket) Validate() error {
	if b == nil {
		return apperrors.NewValidationError("basket cannot be nil")
	}
	if _, err := ParseActionKind(string(b.Action)); err != nil {
		return err
	}
	if len(b.Playlists) == 0 {
		return apperrors.NewValidationError("basket has no playlists")
	}
	return nil
}
