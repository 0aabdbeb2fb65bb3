package fetcher

import (
	"fmt"
	"os"
	"path/filepath"
)

// DebugSink receives the raw document of a URL's first attempt for manual inspection.
type DebugSink interface {
	SaveDocument(url string, body []byte) error
}

// FileDebugSink overwrites a single file with the latest saved document.
type FileDebugSink struct {
	Path string
}

func NewFileDebugSink(path string) *FileDebugSink {
	return &FileDebugSink{Path: path}
}

func (s *FileDebugSink) SaveDocument(url string, body []byte) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create debug directory: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, body, 0644); err != nil {
		return fmt.Errorf("write debug document for %s: %w", url, err)
	}
	return nil
}

type NopDebugSink struct{}

func (NopDebugSink) SaveDocument(string, []byte) error { return nil }
