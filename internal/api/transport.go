package api

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Laynholt/ymd2/internal/catalog"
	apperrors "github.com/Laynholt/ymd2/internal/errors"
	"github.com/Laynholt/ymd2/internal/monitoring"
	"github.com/Laynholt/ymd2/internal/network"
)

// signSalt is the fixed prefix of the storage link signature
const signSalt = "XGRlBW9FXlekgbPrRHuSiA"

// Encodings lists the full-length encodings offered for a track
func (c *Client) Encodings(ctx context.Context, trackID int64) ([]catalog.Encoding, error) {
	infos, err := c.downloadInfos(ctx, trackID)
	if err != nil {
		return nil, err
	}

	return lo.Map(infos, func(info downloadInfo, _ int) catalog.Encoding {
		return catalog.Encoding{Codec: info.Codec, BitrateKbps: info.BitrateInKbps}
	}), nil
}

// Fetch streams the audio of trackID in the given encoding into w and
// returns the number of bytes written
func (c *Client) Fetch(ctx context.Context, trackID int64, encoding catalog.Encoding, w io.Writer) (int64, error) {
	infos, err := c.downloadInfos(ctx, trackID)
	if err != nil {
		return 0, err
	}

	info, ok := lo.Find(infos, func(i downloadInfo) bool {
		return i.Codec == encoding.Codec && i.BitrateInKbps == encoding.BitrateKbps
	})
	if !ok {
		return 0, apperrors.NewTransferError(
			fmt.Sprintf("encoding %s/%d is not offered for track %d", encoding.Codec, encoding.BitrateKbps, trackID), nil)
	}

	link, err := c.directLink(ctx, info)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := c.fetch(ctx, "storage", link)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		return written, network.Classify(fmt.Sprintf("transfer of track %d interrupted", trackID), err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return written, apperrors.NewTransferError(
			fmt.Sprintf("short body for track %d: got %d of %d bytes", trackID, written, resp.ContentLength), nil)
	}

	monitoring.RecordTransfer(encoding.Codec, time.Since(start), written)
	c.logger.Debug("Track transferred",
		zap.Int64("track", trackID),
		zap.String("codec", encoding.Codec),
		zap.Int("bitrate", encoding.BitrateKbps),
		zap.Int64("bytes", written))

	return written, nil
}

// Cover downloads a cover image at size x size pixels
func (c *Client) Cover(ctx context.Context, uri string, size int) ([]byte, error) {
	if uri == "" {
		return nil, apperrors.NewUnavailableError("track has no cover")
	}

	link := strings.ReplaceAll(uri, "%%", fmt.Sprintf("%dx%d", size, size))
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}

	resp, err := c.fetch(ctx, "cover", link)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, network.Classify("failed to read cover", err)
	}
	return data, nil
}

// Lyrics returns the full lyrics text of a track, or "" when it has none
func (c *Client) Lyrics(ctx context.Context, trackID int64) (string, error) {
	var supplement supplementDTO
	path := "/tracks/" + strconv.FormatInt(trackID, 10) + "/supplement"
	if err := c.getResult(ctx, "supplement", http.MethodGet, path, nil, &supplement); err != nil {
		if apperrors.GetErrorType(err) == apperrors.ErrTypeUnavailable {
			return "", nil
		}
		return "", err
	}

	if supplement.Lyrics == nil {
		return "", nil
	}
	return supplement.Lyrics.FullLyrics, nil
}

// downloadInfos returns the non-preview download variants of a track. The
// listing is cached briefly so Fetch can reuse what Encodings just loaded.
func (c *Client) downloadInfos(ctx context.Context, trackID int64) ([]downloadInfo, error) {
	key := strconv.FormatInt(trackID, 10)
	item, err := c.infoCache.Fetch(key, downloadInfoTTL, func() ([]downloadInfo, error) {
		var infos []downloadInfo
		path := "/tracks/" + key + "/download-info"
		if err := c.getResult(ctx, "download_info", http.MethodGet, path, nil, &infos); err != nil {
			return nil, err
		}
		return lo.Filter(infos, func(i downloadInfo, _ int) bool { return !i.Preview }), nil
	})
	if err != nil {
		return nil, err
	}
	return item.Value(), nil
}

// directLink resolves a download variant into a signed storage URL
func (c *Client) directLink(ctx context.Context, info downloadInfo) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	resp, err := c.fetch(ctx, "direct_link", info.DownloadInfoURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var link directLinkInfo
	if err := xml.NewDecoder(resp.Body).Decode(&link); err != nil {
		return "", apperrors.NewTransferError("failed to decode download info", err)
	}
	if link.Host == "" || link.Path == "" {
		return "", apperrors.NewTransferError("download info is incomplete", nil)
	}

	return fmt.Sprintf("%s://%s/get-%s/%s/%s%s",
		c.storageScheme, link.Host, info.Codec, signPath(link.Path, link.S), link.TS, link.Path), nil
}

// signPath computes the storage link signature of path
func signPath(path, s string) string {
	sum := md5.Sum([]byte(signSalt + strings.TrimPrefix(path, "/") + s))
	return hex.EncodeToString(sum[:])
}
