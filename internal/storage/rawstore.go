// Package storage provides the raw-message object store port and its
// filesystem implementation. The routing core only ever needs two
// operations: save raw bytes under a message id and fetch raw bytes by
// locator.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound indicates the requested raw message was not found
	ErrNotFound = errors.New("raw message not found")
	// ErrWriteFailed indicates a raw message write failed
	ErrWriteFailed = errors.New("failed to write raw message")
	// ErrReadFailed indicates a raw message read failed
	ErrReadFailed = errors.New("failed to read raw message")
)

// RawStore is the object-store port consumed by the routing core
type RawStore interface {
	// Save persists raw bytes and returns an opaque locator
	Save(messageID string, content []byte) (string, error)
	// Fetch returns the raw bytes stored under a locator
	Fetch(locator string) ([]byte, error)
}

// FileStore stores raw messages as .eml files under a base directory
type FileStore struct {
	baseDir string
}

// NewFileStore creates a filesystem-backed raw store
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// Save writes the raw message and returns its file path as the locator
func (s *FileStore) Save(messageID string, content []byte) (string, error) {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %s", ErrWriteFailed, err.Error())
	}

	filename := sanitizeFilename(messageID) + ".eml"
	filePath := filepath.Join(s.baseDir, filename)

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return "", fmt.Errorf("%w: %s", ErrWriteFailed, err.Error())
	}

	return filePath, nil
}

// Fetch reads the raw message stored under the locator
func (s *FileStore) Fetch(locator string) ([]byte, error) {
	content, err := os.ReadFile(locator)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReadFailed, err.Error())
	}
	return content, nil
}

// sanitizeFilename makes a message id safe to use as a filename
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "",
		">", "",
		"|", "_",
		" ", "_",
	)
	sanitized := replacer.Replace(name)
	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}
	if sanitized == "" {
		sanitized = "message"
	}
	return sanitized
}
