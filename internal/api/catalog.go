package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Laynholt/ymd2/internal/catalog"
)

// LikedTrackIDs returns the ids of the tracks the account has liked
func (c *Client) LikedTrackIDs(ctx context.Context) ([]int64, error) {
	path, err := c.userPath(ctx, "/likes/tracks")
	if err != nil {
		return nil, err
	}

	var likes likesDTO
	if err := c.getResult(ctx, "likes", http.MethodGet, path, nil, &likes); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(likes.Library.Tracks))
	for _, t := range likes.Library.Tracks {
		if t.ID != 0 {
			ids = append(ids, int64(t.ID))
		}
	}
	return ids, nil
}

// Playlists lists the account's playlists, followed by the Favorites
// pseudo-playlist
func (c *Client) Playlists(ctx context.Context) ([]catalog.Playlist, error) {
	path, err := c.userPath(ctx, "/playlists/list")
	if err != nil {
		return nil, err
	}

	var dtos []playlistDTO
	if err := c.getResult(ctx, "playlists_list", http.MethodGet, path, nil, &dtos); err != nil {
		return nil, err
	}

	playlists := lo.Map(dtos, func(p playlistDTO, _ int) catalog.Playlist { return p.toCatalog() })

	favorites, err := c.favorites(ctx)
	if err != nil {
		return nil, err
	}
	return append(playlists, *favorites), nil
}

// Playlist returns the playlist header (title, track count, cover) of kind
func (c *Client) Playlist(ctx context.Context, kind int64) (*catalog.Playlist, error) {
	if kind == catalog.FavoriteKind {
		return c.favorites(ctx)
	}

	dto, err := c.playlist(ctx, kind)
	if err != nil {
		return nil, err
	}
	playlist := dto.toCatalog()
	return &playlist, nil
}

// PlaylistTracks returns every track of the playlist kind, in playlist order
func (c *Client) PlaylistTracks(ctx context.Context, kind int64) ([]catalog.Track, error) {
	if kind == catalog.FavoriteKind {
		ids, err := c.LikedTrackIDs(ctx)
		if err != nil {
			return nil, err
		}
		return c.Tracks(ctx, ids)
	}

	dto, err := c.playlist(ctx, kind)
	if err != nil {
		return nil, err
	}

	// Large playlists come back with bare ids; those are fetched in batches
	var missing []int64
	for _, item := range dto.Tracks {
		if item.Track == nil {
			missing = append(missing, int64(item.ID))
		}
	}

	fetched := map[int64]catalog.Track{}
	if len(missing) > 0 {
		tracks, err := c.Tracks(ctx, missing)
		if err != nil {
			return nil, err
		}
		fetched = lo.KeyBy(tracks, func(t catalog.Track) int64 { return t.ID })
	}

	tracks := make([]catalog.Track, 0, len(dto.Tracks))
	for _, item := range dto.Tracks {
		if item.Track != nil {
			tracks = append(tracks, item.Track.toCatalog())
			continue
		}
		if t, ok := fetched[int64(item.ID)]; ok {
			tracks = append(tracks, t)
		}
	}
	return tracks, nil
}

// Tracks fetches full track objects for ids, chunkSize ids per request.
// The result keeps the order of ids; ids the service does not know are
// skipped.
func (c *Client) Tracks(ctx context.Context, ids []int64) ([]catalog.Track, error) {
	tracks := make([]catalog.Track, 0, len(ids))

	for _, chunk := range lo.Chunk(ids, c.chunkSize) {
		form := url.Values{}
		form.Set("track-ids", strings.Join(lo.Map(chunk, func(id int64, _ int) string {
			return strconv.FormatInt(id, 10)
		}), ","))
		form.Set("with-positions", "false")

		var dtos []trackDTO
		if err := c.getResult(ctx, "tracks", http.MethodPost, "/tracks", form, &dtos); err != nil {
			return nil, fmt.Errorf("failed to fetch %d tracks: %w", len(chunk), err)
		}

		byID := lo.KeyBy(dtos, func(t trackDTO) int64 { return int64(t.ID) })
		for _, id := range chunk {
			if dto, ok := byID[id]; ok {
				tracks = append(tracks, dto.toCatalog())
			}
		}
	}

	if len(tracks) < len(ids) {
		c.logger.Debug("Some tracks were not returned",
			zap.Int("requested", len(ids)),
			zap.Int("received", len(tracks)))
	}
	return tracks, nil
}

func (c *Client) playlist(ctx context.Context, kind int64) (*playlistDTO, error) {
	path, err := c.userPath(ctx, "/playlists/%d", kind)
	if err != nil {
		return nil, err
	}

	var dto playlistDTO
	if err := c.getResult(ctx, "playlist", http.MethodGet, path, nil, &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

func (c *Client) favorites(ctx context.Context) (*catalog.Playlist, error) {
	ids, err := c.LikedTrackIDs(ctx)
	if err != nil {
		return nil, err
	}
	favorites := catalog.NewFavoritePlaylist(nil)
	favorites.TrackCount = len(ids)
	return &favorites, nil
}
