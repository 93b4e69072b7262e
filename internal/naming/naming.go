// Package naming derives file, folder and table names from catalog titles.
package naming

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// softForbidden keeps word characters plus the punctuation allowed in track file names
	softForbidden = regexp.MustCompile(`[^\p{L}\p{N}_!@#$%^&)(+}\]\[{,.;= -]`)
	// hardForbidden keeps word characters plus a minimal set, for folders and table names
	hardForbidden = regexp.MustCompile(`[^\p{L}\p{N}_.)( -]`)
)

// TablePrefix prefixes every per-playlist history table
const TablePrefix = "table_"

// Soft removes characters that are not allowed in track file names.
func Soft(s string) string {
	return softForbidden.ReplaceAllString(s, "")
}

// Hard removes every character outside the strict folder-name set.
func Hard(s string) string {
	return hardForbidden.ReplaceAllString(s, "")
}

// Folder returns the directory name used for a playlist title.
func Folder(title string) string {
	folder := Hard(title)
	if strings.TrimSpace(folder) == "" {
		return "unknown"
	}
	return folder
}

// TableName returns the history table name for a playlist title.
func TableName(title string) string {
	return TablePrefix + strings.ReplaceAll(Hard(title), " ", "_")
}

// TrackName builds the canonical "<artists> - <title>" stem, with the track id
// appended in parentheses when appendID is set.
func TrackName(artists, title string, id int64, appendID bool) string {
	name := fmt.Sprintf("%s - %s", artists, title)
	if appendID {
		name = fmt.Sprintf("%s (%d)", name, id)
	}
	return Soft(name)
}
