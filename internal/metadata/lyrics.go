package metadata

import (
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
)

// setID3Lyrics replaces the USLT frame of a tag
func setID3Lyrics(tag *id3v2.Tag, lyrics, language string) {
	tag.DeleteFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))

	if len(language) != 3 {
		language = "eng"
	}

	tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
		Encoding:          id3v2.EncodingUTF8,
		Language:          language,
		ContentDescriptor: "",
		Lyrics:            lyrics,
	})
}

// id3Lyrics returns the first USLT frame text of a tag
func id3Lyrics(tag *id3v2.Tag) string {
	frames := tag.GetFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))
	for _, frame := range frames {
		if uslt, ok := frame.(id3v2.UnsynchronisedLyricsFrame); ok {
			return uslt.Lyrics
		}
	}
	return ""
}

// PlainLyrics strips LRC timestamps ("[mm:ss.xx]") from synced lyrics so they
// fit an unsynchronised frame. Lines without a valid timestamp are kept as is.
func PlainLyrics(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		for strings.HasPrefix(line, "[") {
			closeBracket := strings.Index(line, "]")
			if closeBracket == -1 || lrcTimestampToMilliseconds(line[1:closeBracket]) < 0 {
				break
			}
			line = line[closeBracket+1:]
		}
		out = append(out, strings.TrimSpace(line))
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

// lrcTimestampToMilliseconds converts an LRC timestamp (mm:ss.xx or mm:ss.xxx)
// to milliseconds, or returns -1 when the format is invalid
func lrcTimestampToMilliseconds(timestamp string) int {
	minutesPart, rest, ok := strings.Cut(timestamp, ":")
	if !ok {
		return -1
	}
	secondsPart, fraction, ok := strings.Cut(rest, ".")
	if !ok || strings.Contains(fraction, ".") {
		return -1
	}

	minutes, err := strconv.Atoi(minutesPart)
	if err != nil {
		return -1
	}
	seconds, err := strconv.Atoi(secondsPart)
	if err != nil {
		return -1
	}

	// Handle both .xx and .xxx formats
	if len(fraction) == 2 {
		fraction += "0"
	}
	if len(fraction) != 3 {
		return -1
	}
	ms, err := strconv.Atoi(fraction)
	if err != nil {
		return -1
	}

	return (minutes*60+seconds)*1000 + ms
}
