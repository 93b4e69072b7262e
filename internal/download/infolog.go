package download

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const (
	errorsFile     = "errors.txt"
	downloadedFile = "downloaded.txt"
)

// InfoLog appends to a playlist's info/errors.txt and info/downloaded.txt.
// Both files are truncated when the log is opened. Safe for concurrent use.
type InfoLog struct {
	mu         sync.Mutex
	errors     *os.File
	downloaded *os.File
	logger     *zap.Logger
}

// OpenInfoLog creates or truncates the two log files in dir
func OpenInfoLog(dir string, logger *zap.Logger) (*InfoLog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create info directory: %w", err)
	}

	errorsLog, err := os.Create(filepath.Join(dir, errorsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", errorsFile, err)
	}

	downloadedLog, err := os.Create(filepath.Join(dir, downloadedFile))
	if err != nil {
		errorsLog.Close()
		return nil, fmt.Errorf("failed to open %s: %w", downloadedFile, err)
	}

	return &InfoLog{
		errors:     errorsLog,
		downloaded: downloadedLog,
		logger:     logger,
	}, nil
}

// Error records a failed track as "<name> ~ <reason>"
func (l *InfoLog) Error(name, reason string) {
	if l == nil {
		return
	}
	l.write(l.errors, fmt.Sprintf("%s ~ %s\n", name, reason))
}

// Downloaded records a transferred track
func (l *InfoLog) Downloaded(name string) {
	if l == nil {
		return
	}
	l.write(l.downloaded, name+"\n")
}

func (l *InfoLog) write(f *os.File, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := f.WriteString(line); err != nil {
		l.logger.Warn("Failed to write info log", zap.String("file", f.Name()), zap.Error(err))
	}
}

// Close closes both files
func (l *InfoLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	errErrors := l.errors.Close()
	errDownloaded := l.downloaded.Close()
	if errErrors != nil {
		return errErrors
	}
	return errDownloaded
}
