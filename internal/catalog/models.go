// Package catalog holds the immutable track and playlist snapshots produced by
// the music service client and consumed by the download engine.
package catalog

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// FavoriteKind is the reserved playlist id of the liked-tracks pseudo-playlist.
// It is never matched by title.
const FavoriteKind int64 = 3

// FavoriteTitle is the title of the liked-tracks pseudo-playlist. Its folder
// and history table are named after it, so it matches what earlier releases
// wrote.
const FavoriteTitle = "Любимое"

// Artist represents a performer
type Artist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TrackPosition locates a track inside an album
type TrackPosition struct {
	Volume int `json:"volume"`
	Index  int `json:"index"`
}

// Album represents the album attributes carried by a track
type Album struct {
	ID            int64         `json:"id"`
	Title         string        `json:"title"`
	Genre         string        `json:"genre"`
	Year          int           `json:"year"`
	ReleaseDate   string        `json:"release_date"`
	TrackPosition TrackPosition `json:"track_position"`
	Artists       []Artist      `json:"artists"`
	Bests         []int64       `json:"bests"`
}

// Encoding is one (codec, bitrate) pair offered for a track
type Encoding struct {
	Codec       string `json:"codec"`
	BitrateKbps int    `json:"bitrate_in_kbps"`
}

// Track is an immutable snapshot of a catalog track
type Track struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Version         string     `json:"version,omitempty"`
	Artists         []Artist   `json:"artists"`
	Albums          []Album    `json:"albums"`
	Available       bool       `json:"available"`
	ContentWarning  string     `json:"content_warning,omitempty"`
	Encodings       []Encoding `json:"encodings,omitempty"`
	CoverURI        string     `json:"cover_uri,omitempty"`
	LyricsAvailable bool       `json:"lyrics_available,omitempty"`
}

// FullTitle returns the title with the version suffix, if any
func (t *Track) FullTitle() string {
	if t.Version == "" {
		return t.Title
	}
	return t.Title + " (" + t.Version + ")"
}

// ArtistNames joins all artist names with ", "
func (t *Track) ArtistNames() string {
	return strings.Join(lo.Map(t.Artists, func(a Artist, _ int) string { return a.Name }), ", ")
}

// AlbumNames joins all album titles with ", "
func (t *Track) AlbumNames() string {
	return strings.Join(lo.Map(t.Albums, func(a Album, _ int) string { return a.Title }), ", ")
}

// PrimaryAlbum returns the first album or nil when the track has none
func (t *Track) PrimaryAlbum() *Album {
	if len(t.Albums) == 0 {
		return nil
	}
	return &t.Albums[0]
}

// IsExplicit reports whether the service attached a content warning
func (t *Track) IsExplicit() bool {
	return t.ContentWarning != ""
}

// IsPopular reports whether the track is among its album's best tracks
func (t *Track) IsPopular() bool {
	album := t.PrimaryAlbum()
	if album == nil {
		return false
	}
	return lo.Contains(album.Bests, t.ID)
}

// SortEncodings returns a copy of encodings ordered by bitrate, highest first.
// Equal bitrates keep their original order.
func SortEncodings(encodings []Encoding) []Encoding {
	sorted := make([]Encoding, len(encodings))
	copy(sorted, encodings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BitrateKbps > sorted[j].BitrateKbps
	})
	return sorted
}

// Playlist is an immutable snapshot of a playlist
type Playlist struct {
	Kind       int64   `json:"kind"`
	Title      string  `json:"title"`
	TrackCount int     `json:"track_count"`
	Tracks     []Track `json:"tracks,omitempty"`
	CoverURI   string  `json:"cover_uri,omitempty"`
}

// IsFavorite reports whether this is the liked-tracks pseudo-playlist
func (p *Playlist) IsFavorite() bool {
	return p.Kind == FavoriteKind
}

// NewFavoritePlaylist synthesizes the liked-tracks pseudo-playlist
func NewFavoritePlaylist(liked []Track) Playlist {
	return Playlist{
		Kind:       FavoriteKind,
		Title:      FavoriteTitle,
		TrackCount: len(liked),
		Tracks:     liked,
	}
}
