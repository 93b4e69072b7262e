package metadata

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"

	"github.com/Laynholt/ymd2/internal/catalog"
	apperrors "github.com/Laynholt/ymd2/internal/errors"
)

func testCover(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

// minimalFLAC returns a stream with an empty STREAMINFO block followed by a frame sync code
func minimalFLAC() []byte {
	data := []byte("fLaC")
	data = append(data, 0x80, 0x00, 0x00, 34)
	data = append(data, make([]byte, 34)...)
	data = append(data, 0xFF, 0xF8, 0x01, 0x02, 0x03, 0x04)
	return data
}

func sampleMetadata() *TrackMetadata {
	return &TrackMetadata{
		Title:       "Song (Live)",
		Artist:      "Alpha, Beta",
		Album:       "Record",
		AlbumArtist: "Alpha",
		Genre:       "rock",
		Year:        2001,
		TrackNumber: 4,
		DiscNumber:  2,
		Lyrics:      "first line\nsecond line",
		Cover:       []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3},
		CoverMIME:   "image/jpeg",
	}
}

func assertMetadata(t *testing.T, got, want *TrackMetadata) {
	t.Helper()
	if got.Title != want.Title {
		t.Errorf("Expected title %q, got %q", want.Title, got.Title)
	}
	if got.Artist != want.Artist {
		t.Errorf("Expected artist %q, got %q", want.Artist, got.Artist)
	}
	if got.Album != want.Album {
		t.Errorf("Expected album %q, got %q", want.Album, got.Album)
	}
	if got.AlbumArtist != want.AlbumArtist {
		t.Errorf("Expected album artist %q, got %q", want.AlbumArtist, got.AlbumArtist)
	}
	if got.Genre != want.Genre {
		t.Errorf("Expected genre %q, got %q", want.Genre, got.Genre)
	}
	if got.Year != want.Year {
		t.Errorf("Expected year %d, got %d", want.Year, got.Year)
	}
	if got.TrackNumber != want.TrackNumber {
		t.Errorf("Expected track number %d, got %d", want.TrackNumber, got.TrackNumber)
	}
	if got.DiscNumber != want.DiscNumber {
		t.Errorf("Expected disc number %d, got %d", want.DiscNumber, got.DiscNumber)
	}
	if got.Lyrics != want.Lyrics {
		t.Errorf("Expected lyrics %q, got %q", want.Lyrics, got.Lyrics)
	}
	if !bytes.Equal(got.Cover, want.Cover) {
		t.Errorf("Expected cover of %d bytes, got %d bytes", len(want.Cover), len(got.Cover))
	}
}

func TestNewWriter(t *testing.T) {
	writer := NewWriter(nil)
	if writer == nil {
		t.Fatal("NewWriter returned nil")
	}
	if !writer.config.EmbedCover {
		t.Error("Default EmbedCover should be true")
	}
	if writer.config.CoverSize != DefaultCoverSize {
		t.Errorf("Default CoverSize should be %d, got %d", DefaultCoverSize, writer.config.CoverSize)
	}

	writer = NewWriter(&Config{EmbedCover: false, CoverSize: 600})
	if writer.config.LyricsLanguage != "eng" {
		t.Errorf("Expected lyrics language fallback 'eng', got %q", writer.config.LyricsLanguage)
	}
}

func TestFromTrack(t *testing.T) {
	track := &catalog.Track{
		ID:      1,
		Title:   "Song",
		Version: "Live",
		Artists: []catalog.Artist{{Name: "Alpha"}, {Name: "Beta"}},
		Albums: []catalog.Album{{
			Title:         "Record",
			Genre:         "rock",
			Year:          2001,
			TrackPosition: catalog.TrackPosition{Volume: 2, Index: 4},
			Artists:       []catalog.Artist{{Name: "Alpha"}},
		}},
	}

	meta := FromTrack(track)
	want := sampleMetadata()
	want.Lyrics = ""
	want.Cover = nil
	assertMetadata(t, meta, want)
}

func TestApplyAndRead_ID3(t *testing.T) {
	for _, ext := range []string{".mp3", ".aac"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "track"+ext)
			if err := os.WriteFile(path, []byte("not a real audio stream, only payload"), 0644); err != nil {
				t.Fatalf("Failed to create test file: %v", err)
			}

			writer := NewWriter(nil)
			meta := sampleMetadata()

			// Applying twice must replace frames, not duplicate them
			for i := 0; i < 2; i++ {
				if err := writer.Apply(path, meta); err != nil {
					t.Fatalf("Failed to apply metadata: %v", err)
				}
			}

			got, err := writer.Read(path)
			if err != nil {
				t.Fatalf("Failed to read metadata: %v", err)
			}
			assertMetadata(t, got, meta)

			tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
			if err != nil {
				t.Fatalf("Failed to open tag: %v", err)
			}
			defer tag.Close()

			if tag.Version() != 4 {
				t.Errorf("Expected ID3v2.4, got v2.%d", tag.Version())
			}
			if n := len(tag.GetFrames("APIC")); n != 1 {
				t.Errorf("Expected 1 APIC frame, got %d", n)
			}
			if n := len(tag.GetFrames("USLT")); n != 1 {
				t.Errorf("Expected 1 USLT frame, got %d", n)
			}
		})
	}
}

func TestApplyAndRead_FLAC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.flac")
	if err := os.WriteFile(path, minimalFLAC(), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	writer := NewWriter(nil)
	meta := sampleMetadata()

	for i := 0; i < 2; i++ {
		if err := writer.Apply(path, meta); err != nil {
			t.Fatalf("Failed to apply metadata: %v", err)
		}
	}

	got, err := writer.Read(path)
	if err != nil {
		t.Fatalf("Failed to read metadata: %v", err)
	}
	assertMetadata(t, got, meta)
	if got.CoverMIME != "image/jpeg" {
		t.Errorf("Expected cover MIME image/jpeg, got %q", got.CoverMIME)
	}
}

func TestApply_Errors(t *testing.T) {
	dir := t.TempDir()
	writer := NewWriter(nil)

	tests := []struct {
		name    string
		file    string
		content []byte
	}{
		{"unsupported extension", "track.ogg", []byte("data")},
		{"malformed flac", "track.flac", []byte("definitely not flac")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, tt.content, 0644); err != nil {
				t.Fatalf("Failed to create test file: %v", err)
			}

			err := writer.Apply(path, sampleMetadata())
			if apperrors.GetErrorType(err) != apperrors.ErrTypeTagging {
				t.Errorf("Expected tagging error, got %v", err)
			}

			if !FileExists(path) {
				t.Error("File must not be removed on tagging failure")
			}
		})
	}

	if err := writer.Apply(filepath.Join(dir, "x.mp3"), nil); err == nil {
		t.Error("Expected error for nil metadata")
	}
}

func TestIsSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.mp3", true},
		{"a.AAC", true},
		{"a.flac", true},
		{"a.ogg", false},
		{"a", false},
	}

	for _, tt := range tests {
		if got := IsSupported(tt.path); got != tt.want {
			t.Errorf("IsSupported(%s) = %v, expected %v", tt.path, got, tt.want)
		}
	}
}

func TestPlainLyrics(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[00:12.00]First line\n[00:15.50]Second line", "First line\nSecond line"},
		{"[00:01.00][00:20.000]Chorus", "Chorus"},
		{"[ar:Artist]\nText", "[ar:Artist]\nText"},
		{"plain\r\ntext", "plain\ntext"},
	}

	for _, tt := range tests {
		if got := PlainLyrics(tt.in); got != tt.want {
			t.Errorf("PlainLyrics(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestLRCTimestampToMilliseconds(t *testing.T) {
	tests := []struct {
		timestamp string
		expected  int
	}{
		{"00:00.00", 0},
		{"00:01.00", 1000},
		{"00:15.50", 15500},
		{"02:05.50", 125500},
		{"02:05.505", 125505},
		{"invalid", -1},
		{"00", -1},
		{"00:00", -1},
		{"00:00:00", -1},
		{"aa:bb.cc", -1},
	}

	for _, test := range tests {
		result := lrcTimestampToMilliseconds(test.timestamp)
		if result != test.expected {
			t.Errorf("lrcTimestampToMilliseconds(%s) = %d, expected %d", test.timestamp, result, test.expected)
		}
	}
}

func TestPrepareCover(t *testing.T) {
	out, err := PrepareCover(testCover(t, 600, 400), 300)
	if err != nil {
		t.Fatalf("Failed to prepare cover: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Prepared cover is not JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 300 || b.Dy() != 200 {
		t.Errorf("Expected 300x200, got %dx%d", b.Dx(), b.Dy())
	}

	// Smaller images are not upscaled
	out, err = PrepareCover(testCover(t, 100, 100), 300)
	if err != nil {
		t.Fatalf("Failed to prepare small cover: %v", err)
	}
	img, err = jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Prepared cover is not JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 {
		t.Errorf("Expected width 100, got %d", b.Dx())
	}

	if _, err := PrepareCover([]byte("garbage"), 300); err == nil {
		t.Error("Expected error for undecodable image")
	}
}

func TestPictureBlock(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}
	mime, picture, err := parsePictureBlock(pictureBlock(data, "image/png"))
	if err != nil {
		t.Fatalf("Failed to parse picture block: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("Expected MIME image/png, got %s", mime)
	}
	if !bytes.Equal(picture, data) {
		t.Errorf("Expected %v, got %v", data, picture)
	}

	if _, _, err := parsePictureBlock([]byte{0, 0}); err == nil {
		t.Error("Expected error for truncated block")
	}
}

func TestCoverCache(t *testing.T) {
	cache := NewCoverCache(8)
	defer cache.Stop()

	calls := 0
	fetch := func() ([]byte, error) {
		calls++
		return []byte("cover"), nil
	}

	for i := 0; i < 3; i++ {
		data, err := cache.Fetch("album-1", fetch)
		if err != nil {
			t.Fatalf("Failed to fetch cover: %v", err)
		}
		if string(data) != "cover" {
			t.Errorf("Expected cached bytes, got %q", data)
		}
	}

	if calls != 1 {
		t.Errorf("Expected 1 fetch, got %d", calls)
	}
}
