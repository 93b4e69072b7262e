package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath joins requestedPath onto basePath and rejects results that
// leave basePath, such as a playlist titled "..".
func ValidateFilePath(basePath, requestedPath string) (string, error) {
	if requestedPath == "" || strings.Contains(requestedPath, "\x00") {
		return "", fmt.Errorf("invalid path %q", requestedPath)
	}

	if filepath.IsAbs(requestedPath) {
		return "", fmt.Errorf("absolute paths not allowed")
	}

	cleanBase := filepath.Clean(basePath)
	fullPath := filepath.Join(cleanBase, requestedPath)

	relPath, err := filepath.Rel(cleanBase, fullPath)
	if err != nil || relPath == "." || relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %q", requestedPath)
	}

	return fullPath, nil
}
