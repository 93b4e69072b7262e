package api

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"

	"github.com/Laynholt/ymd2/internal/catalog"
)

// FlexibleID handles ids that the API sends either as numbers or as strings.
// Liked-track ids may carry an album suffix ("123:456"), which is dropped.
type FlexibleID int64

// UnmarshalJSON implements custom unmarshaling for FlexibleID
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s, _, _ = strings.Cut(s, ":")
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", s, err)
		}
		*f = FlexibleID(n)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("FlexibleID must be a string or number")
	}
	*f = FlexibleID(n)
	return nil
}

// apiError is the "error" member of a failed API response
type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

type accountStatus struct {
	Account struct {
		UID   FlexibleID `json:"uid"`
		Login string     `json:"login"`
	} `json:"account"`
}

type artistDTO struct {
	ID   FlexibleID `json:"id"`
	Name string     `json:"name"`
}

type albumDTO struct {
	ID            FlexibleID   `json:"id"`
	Title         string       `json:"title"`
	Genre         string       `json:"genre"`
	Year          int          `json:"year"`
	ReleaseDate   string       `json:"releaseDate"`
	TrackPosition *positionDTO `json:"trackPosition"`
	Artists       []artistDTO  `json:"artists"`
	Bests         []FlexibleID `json:"bests"`
}

type positionDTO struct {
	Volume int `json:"volume"`
	Index  int `json:"index"`
}

type trackDTO struct {
	ID              FlexibleID  `json:"id"`
	Title           string      `json:"title"`
	Version         string      `json:"version"`
	Available       bool        `json:"available"`
	ContentWarning  string      `json:"contentWarning"`
	Artists         []artistDTO `json:"artists"`
	Albums          []albumDTO  `json:"albums"`
	CoverURI        string      `json:"coverUri"`
	LyricsAvailable bool        `json:"lyricsAvailable"`
}

type playlistItemDTO struct {
	ID    FlexibleID `json:"id"`
	Track *trackDTO  `json:"track"`
}

type playlistDTO struct {
	Kind       int64  `json:"kind"`
	Title      string `json:"title"`
	TrackCount int    `json:"trackCount"`
	Cover      *struct {
		URI      string   `json:"uri"`
		ItemsURI []string `json:"itemsUri"`
	} `json:"cover"`
	Tracks []playlistItemDTO `json:"tracks"`
}

type likesDTO struct {
	Library struct {
		Tracks []struct {
			ID FlexibleID `json:"id"`
		} `json:"tracks"`
	} `json:"library"`
}

type supplementDTO struct {
	Lyrics *struct {
		FullLyrics string `json:"fullLyrics"`
	} `json:"lyrics"`
}

// downloadInfo is one (codec, bitrate) variant offered for a track
type downloadInfo struct {
	Codec           string `json:"codec"`
	BitrateInKbps   int    `json:"bitrateInKbps"`
	DownloadInfoURL string `json:"downloadInfoUrl"`
	Preview         bool   `json:"preview"`
}

// directLinkInfo is the XML document behind a downloadInfoUrl
type directLinkInfo struct {
	XMLName xml.Name `xml:"download-info"`
	Host    string   `xml:"host"`
	Path    string   `xml:"path"`
	TS      string   `xml:"ts"`
	S       string   `xml:"s"`
}

func (a artistDTO) toCatalog() catalog.Artist {
	return catalog.Artist{ID: int64(a.ID), Name: a.Name}
}

func (a albumDTO) toCatalog() catalog.Album {
	album := catalog.Album{
		ID:          int64(a.ID),
		Title:       a.Title,
		Genre:       a.Genre,
		Year:        a.Year,
		ReleaseDate: a.ReleaseDate,
		Artists:     lo.Map(a.Artists, func(ar artistDTO, _ int) catalog.Artist { return ar.toCatalog() }),
		Bests:       lo.Map(a.Bests, func(id FlexibleID, _ int) int64 { return int64(id) }),
	}
	if a.TrackPosition != nil {
		album.TrackPosition = catalog.TrackPosition{
			Volume: a.TrackPosition.Volume,
			Index:  a.TrackPosition.Index,
		}
	}
	return album
}

func (t *trackDTO) toCatalog() catalog.Track {
	return catalog.Track{
		ID:              int64(t.ID),
		Title:           t.Title,
		Version:         t.Version,
		Artists:         lo.Map(t.Artists, func(a artistDTO, _ int) catalog.Artist { return a.toCatalog() }),
		Albums:          lo.Map(t.Albums, func(a albumDTO, _ int) catalog.Album { return a.toCatalog() }),
		Available:       t.Available,
		ContentWarning:  t.ContentWarning,
		CoverURI:        t.CoverURI,
		LyricsAvailable: t.LyricsAvailable,
	}
}

func (p *playlistDTO) toCatalog() catalog.Playlist {
	playlist := catalog.Playlist{
		Kind:       p.Kind,
		Title:      p.Title,
		TrackCount: p.TrackCount,
	}
	if p.Cover != nil {
		playlist.CoverURI = p.Cover.URI
		if playlist.CoverURI == "" && len(p.Cover.ItemsURI) > 0 {
			playlist.CoverURI = p.Cover.ItemsURI[0]
		}
	}
	return playlist
}
