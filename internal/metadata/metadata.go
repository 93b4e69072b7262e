// Package metadata embeds tags, cover art and lyrics into downloaded audio files.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"github.com/samber/lo"

	"github.com/Laynholt/ymd2/internal/catalog"
	apperrors "github.com/Laynholt/ymd2/internal/errors"
)

// Writer applies tags to audio files
type Writer struct {
	config *Config
}

// Config contains metadata configuration
type Config struct {
	EmbedCover     bool
	CoverSize      int
	LyricsLanguage string
}

// TrackMetadata contains all metadata for a track
type TrackMetadata struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Genre       string
	Year        int
	TrackNumber int
	DiscNumber  int
	Lyrics      string
	Cover       []byte
	CoverMIME   string
}

// NewWriter creates a new metadata writer
func NewWriter(config *Config) *Writer {
	if config == nil {
		config = &Config{
			EmbedCover:     true,
			CoverSize:      DefaultCoverSize,
			LyricsLanguage: "eng",
		}
	}
	if config.LyricsLanguage == "" {
		config.LyricsLanguage = "eng"
	}
	return &Writer{config: config}
}

// FromTrack builds the tag set of a catalog track. Cover and lyrics are
// attached by the caller once fetched.
func FromTrack(track *catalog.Track) *TrackMetadata {
	meta := &TrackMetadata{
		Title:  track.FullTitle(),
		Artist: track.ArtistNames(),
		Album:  track.AlbumNames(),
	}

	if album := track.PrimaryAlbum(); album != nil {
		meta.Genre = album.Genre
		meta.Year = album.Year
		meta.TrackNumber = album.TrackPosition.Index
		meta.DiscNumber = album.TrackPosition.Volume
		meta.AlbumArtist = strings.Join(lo.Map(album.Artists, func(a catalog.Artist, _ int) string {
			return a.Name
		}), ", ")
	}

	return meta
}

// IsSupported reports whether Apply can tag a file with this extension
func IsSupported(filePath string) bool {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3", ".aac", ".flac":
		return true
	}
	return false
}

// Apply writes metadata into an audio file. MP3 and ADTS AAC files get an
// ID3v2.4 tag, FLAC files get Vorbis comments and a PICTURE block.
// The file is never removed on failure.
func (w *Writer) Apply(filePath string, metadata *TrackMetadata) error {
	if metadata == nil {
		return apperrors.NewValidationError("metadata cannot be nil")
	}

	var err error
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3", ".aac":
		err = w.applyID3(filePath, metadata)
	case ".flac":
		err = w.applyFLAC(filePath, metadata)
	default:
		return apperrors.NewTaggingError(fmt.Sprintf("unsupported file format: %s", ext), nil)
	}

	if err != nil {
		return apperrors.NewTaggingError(fmt.Sprintf("failed to tag %s", filepath.Base(filePath)), err)
	}
	return nil
}

// applyID3 applies metadata using an ID3v2.4 tag
func (w *Writer) applyID3(filePath string, metadata *TrackMetadata) error {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if metadata.Title != "" {
		tag.SetTitle(metadata.Title)
	}
	if metadata.Artist != "" {
		tag.SetArtist(metadata.Artist)
	}
	if metadata.Album != "" {
		tag.SetAlbum(metadata.Album)
	}
	if metadata.Genre != "" {
		tag.SetGenre(metadata.Genre)
	}
	if metadata.Year > 0 {
		tag.SetYear(strconv.Itoa(metadata.Year))
	}

	// Album artist (TPE2)
	if metadata.AlbumArtist != "" {
		tag.DeleteFrames(tag.CommonID("Band/Orchestra/Accompaniment"))
		tag.AddTextFrame(tag.CommonID("Band/Orchestra/Accompaniment"), id3v2.EncodingUTF8, metadata.AlbumArtist)
	}

	if metadata.TrackNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, strconv.Itoa(metadata.TrackNumber))
	}
	if metadata.DiscNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Part of a set"), id3v2.EncodingUTF8, strconv.Itoa(metadata.DiscNumber))
	}

	if w.config.EmbedCover && len(metadata.Cover) > 0 {
		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    coverMIME(metadata),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     metadata.Cover,
		})
	}

	if metadata.Lyrics != "" {
		setID3Lyrics(tag, metadata.Lyrics, w.config.LyricsLanguage)
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save tag: %w", err)
	}

	return nil
}

// vorbisFields maps comment names to the values Apply sets
func vorbisFields(metadata *TrackMetadata) map[string]string {
	fields := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	set("TITLE", metadata.Title)
	set("ARTIST", metadata.Artist)
	set("ALBUM", metadata.Album)
	set("ALBUMARTIST", metadata.AlbumArtist)
	set("GENRE", metadata.Genre)
	set("LYRICS", metadata.Lyrics)
	if metadata.Year > 0 {
		fields["DATE"] = strconv.Itoa(metadata.Year)
	}
	if metadata.TrackNumber > 0 {
		fields["TRACKNUMBER"] = strconv.Itoa(metadata.TrackNumber)
	}
	if metadata.DiscNumber > 0 {
		fields["DISCNUMBER"] = strconv.Itoa(metadata.DiscNumber)
	}
	return fields
}

// applyFLAC applies metadata using Vorbis comments
func (w *Writer) applyFLAC(filePath string, metadata *TrackMetadata) error {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	var cmtBlock *flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmtBlock = block
			break
		}
	}

	if cmtBlock == nil {
		cmtBlock = &flac.MetaDataBlock{
			Type: flac.VorbisComment,
		}
		f.Meta = append(f.Meta, cmtBlock)
	}

	cmt, err := flacvorbis.ParseFromMetaDataBlock(*cmtBlock)
	if err != nil {
		cmt = flacvorbis.New()
	}

	// Drop previous values of every field being rewritten
	fields := vorbisFields(metadata)
	cmt.Comments = lo.Filter(cmt.Comments, func(comment string, _ int) bool {
		key, _, _ := strings.Cut(comment, "=")
		_, replaced := fields[strings.ToUpper(key)]
		return !replaced
	})
	keys := lo.Keys(fields)
	sort.Strings(keys)
	for _, key := range keys {
		if err := cmt.Add(key, fields[key]); err != nil {
			return fmt.Errorf("failed to add %s comment: %w", key, err)
		}
	}

	res := cmt.Marshal()
	cmtBlock.Data = res.Data

	if w.config.EmbedCover && len(metadata.Cover) > 0 {
		f.Meta = lo.Filter(f.Meta, func(block *flac.MetaDataBlock, _ int) bool {
			return block.Type != flac.Picture
		})
		f.Meta = append(f.Meta, &flac.MetaDataBlock{
			Type: flac.Picture,
			Data: pictureBlock(metadata.Cover, coverMIME(metadata)),
		})
	}

	if err := f.Save(filePath); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}

	return nil
}

// Read reads metadata back from an audio file
func (w *Writer) Read(filePath string) (*TrackMetadata, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp3", ".aac":
		return readID3(filePath)
	case ".flac":
		return readFLAC(filePath)
	default:
		return nil, apperrors.NewTaggingError(fmt.Sprintf("unsupported file format: %s", ext), nil)
	}
}

func readID3(filePath string) (*TrackMetadata, error) {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return nil, apperrors.NewTaggingError("failed to open file", err)
	}
	defer tag.Close()

	metadata := &TrackMetadata{
		Title:  tag.Title(),
		Artist: tag.Artist(),
		Album:  tag.Album(),
		Genre:  tag.Genre(),
	}

	if year, err := strconv.Atoi(tag.Year()); err == nil {
		metadata.Year = year
	}

	metadata.AlbumArtist = textFrame(tag, "Band/Orchestra/Accompaniment")
	metadata.TrackNumber = numberFrame(tag, "Track number/Position in set")
	metadata.DiscNumber = numberFrame(tag, "Part of a set")
	metadata.Lyrics = id3Lyrics(tag)

	if frames := tag.GetFrames(tag.CommonID("Attached picture")); len(frames) > 0 {
		if pic, ok := frames[0].(id3v2.PictureFrame); ok {
			metadata.Cover = pic.Picture
			metadata.CoverMIME = pic.MimeType
		}
	}

	return metadata, nil
}

func textFrame(tag *id3v2.Tag, description string) string {
	if frames := tag.GetFrames(tag.CommonID(description)); len(frames) > 0 {
		if tf, ok := frames[0].(id3v2.TextFrame); ok {
			return tf.Text
		}
	}
	return ""
}

func numberFrame(tag *id3v2.Tag, description string) int {
	text, _, _ := strings.Cut(textFrame(tag, description), "/")
	n, _ := strconv.Atoi(text)
	return n
}

func readFLAC(filePath string) (*TrackMetadata, error) {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return nil, apperrors.NewTaggingError("failed to parse FLAC file", err)
	}

	metadata := &TrackMetadata{}

	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment:
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				continue
			}

			first := func(key string) string {
				if values, err := cmt.Get(key); err == nil && len(values) > 0 {
					return values[0]
				}
				return ""
			}

			metadata.Title = first("TITLE")
			metadata.Artist = first("ARTIST")
			metadata.Album = first("ALBUM")
			metadata.AlbumArtist = first("ALBUMARTIST")
			metadata.Genre = first("GENRE")
			metadata.Lyrics = first("LYRICS")
			metadata.Year, _ = strconv.Atoi(first("DATE"))
			metadata.TrackNumber, _ = strconv.Atoi(first("TRACKNUMBER"))
			metadata.DiscNumber, _ = strconv.Atoi(first("DISCNUMBER"))
		case flac.Picture:
			mime, data, err := parsePictureBlock(block.Data)
			if err == nil {
				metadata.Cover = data
				metadata.CoverMIME = mime
			}
		}
	}

	return metadata, nil
}

// FileExists checks if a file exists
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}
