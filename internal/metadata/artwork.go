package metadata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/karlseguin/ccache/v3"
	"github.com/nfnt/resize"
)

const (
	// DefaultCoverSize is the edge length in pixels of saved and embedded covers
	DefaultCoverSize = 300
	// coverCacheTTL bounds how long fetched cover bytes are reused across tracks
	coverCacheTTL = 30 * time.Minute
)

// PrepareCover decodes a cover image and downsizes it so that its longest edge
// is at most size pixels. The result is always JPEG.
func PrepareCover(data []byte, size int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	if size <= 0 {
		size = DefaultCoverSize
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	// Resize image (maintain aspect ratio, use target as max dimension)
	if width > size || height > size {
		if width > height {
			img = resize.Resize(uint(size), 0, img, resize.Lanczos3)
		} else {
			img = resize.Resize(0, uint(size), img, resize.Lanczos3)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode cover: %w", err)
	}

	return buf.Bytes(), nil
}

// SaveCover writes cover bytes to path, creating the parent directory
func SaveCover(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cover directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write cover: %w", err)
	}
	return nil
}

// CoverCache keeps recently fetched covers in memory so that tracks of the
// same album share one transfer
type CoverCache struct {
	cache *ccache.Cache[[]byte]
}

// NewCoverCache creates a cover cache holding at most maxItems covers
func NewCoverCache(maxItems int64) *CoverCache {
	if maxItems <= 0 {
		maxItems = 256
	}
	return &CoverCache{
		cache: ccache.New(ccache.Configure[[]byte]().MaxSize(maxItems)),
	}
}

// Fetch returns the cached cover for key or loads it with fetch
func (cc *CoverCache) Fetch(key string, fetch func() ([]byte, error)) ([]byte, error) {
	item, err := cc.cache.Fetch(key, coverCacheTTL, fetch)
	if err != nil {
		return nil, err
	}
	return item.Value(), nil
}

// Stop releases the cache's background worker
func (cc *CoverCache) Stop() {
	cc.cache.Stop()
}

func coverMIME(metadata *TrackMetadata) string {
	if metadata.CoverMIME != "" {
		return metadata.CoverMIME
	}
	return http.DetectContentType(metadata.Cover)
}

// pictureBlock encodes a FLAC PICTURE metadata block body for a front cover:
// type, MIME, description, width, height, depth, colors, data
func pictureBlock(imageData []byte, mimeType string) []byte {
	const description = "Front Cover"

	var buf bytes.Buffer
	writeUint32BE(&buf, 3)
	writeUint32BE(&buf, uint32(len(mimeType)))
	buf.WriteString(mimeType)
	writeUint32BE(&buf, uint32(len(description)))
	buf.WriteString(description)

	// Dimensions, depth and palette size are left to the decoder
	for i := 0; i < 4; i++ {
		writeUint32BE(&buf, 0)
	}

	writeUint32BE(&buf, uint32(len(imageData)))
	buf.Write(imageData)

	return buf.Bytes()
}

// parsePictureBlock extracts the MIME type and image data of a PICTURE block
func parsePictureBlock(data []byte) (string, []byte, error) {
	r := bytes.NewReader(data)

	var pictureType, length uint32
	if err := binary.Read(r, binary.BigEndian, &pictureType); err != nil {
		return "", nil, err
	}

	readString := func() ([]byte, error) {
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		if int64(length) > int64(r.Len()) {
			return nil, fmt.Errorf("picture block truncated")
		}
		out := make([]byte, length)
		_, err := io.ReadFull(r, out)
		return out, err
	}

	mime, err := readString()
	if err != nil {
		return "", nil, err
	}
	if _, err := readString(); err != nil {
		return "", nil, err
	}
	if _, err := r.Seek(16, io.SeekCurrent); err != nil {
		return "", nil, err
	}
	picture, err := readString()
	if err != nil {
		return "", nil, err
	}

	return string(mime), picture, nil
}

// writeUint32BE writes a uint32 in big-endian format
func writeUint32BE(buf *bytes.Buffer, v uint32) {
	buf.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
