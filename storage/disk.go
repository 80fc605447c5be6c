// Package storage keeps uploaded file content on disk and their metadata in
// BadgerDB. Content integrity is the upload server's concern; this package
// only guarantees that a file is either fully promoted or absent.
package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"collab-lab/errors"
)

const (
	stagingDir = "staging"
	filesDir   = "files"
)

// Store manages the content directories. Uploads land in staging under their
// session id and are renamed into the files directory only after checksum
// verification, so a reader can never observe a half-written file.
type Store struct {
	root string
	log  *slog.Logger
}

func NewStore(root string, log *slog.Logger) (*Store, error) {
	for _, dir := range []string{filepath.Join(root, stagingDir), filepath.Join(root, filesDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage dir %s: %w", dir, err)
		}
	}
	s := &Store{root: root, log: log}
	s.sweepStaging()
	return s, nil
}

// SanitizeFilename rejects anything that could escape the storage root:
// separators, traversal components, rooted paths, NUL bytes.
func SanitizeFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", errors.ErrInvalidFilename)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q contains path separators", errors.ErrInvalidFilename, name)
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q contains traversal components", errors.ErrInvalidFilename, name)
	}
	return nil
}

// CreateStaging opens a fresh staging file for one upload session.
func (s *Store) CreateStaging(sessionID string) (*os.File, error) {
	path := filepath.Join(s.root, stagingDir, sessionID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating staging file: %w", err)
	}
	return f, nil
}

// Promote atomically renames a staging file to its final stored name.
func (s *Store) Promote(sessionID, storedName string) (string, error) {
	src := filepath.Join(s.root, stagingDir, sessionID)
	dst := filepath.Join(s.root, filesDir, storedName)
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("promoting upload: %w", err)
	}
	return dst, nil
}

// Discard removes a staging file after an aborted or failed upload.
func (s *Store) Discard(sessionID string) {
	path := filepath.Join(s.root, stagingDir, sessionID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("Failed to remove staging file", "path", path, "error", err)
	}
}

// OpenAt opens a stored file positioned at offset and returns the remaining
// byte count. An offset equal to the size yields an empty reader; beyond it,
// ErrInvalidRange.
func (s *Store) OpenAt(storedName string, offset int64) (io.ReadCloser, int64, error) {
	path := filepath.Join(s.root, filesDir, storedName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", errors.ErrNotFound, storedName)
		}
		return nil, 0, fmt.Errorf("opening %s: %w", storedName, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", storedName, err)
	}

	if offset < 0 || offset > info.Size() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: offset %d, size %d", errors.ErrInvalidRange, offset, info.Size())
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("seeking %s: %w", storedName, err)
	}
	return f, info.Size() - offset, nil
}

func (s *Store) Size(storedName string) (int64, error) {
	info, err := os.Stat(filepath.Join(s.root, filesDir, storedName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", errors.ErrNotFound, storedName)
		}
		return 0, err
	}
	return info.Size(), nil
}

// sweepStaging garbage-collects staging files left behind by a previous run.
func (s *Store) sweepStaging() {
	dir := filepath.Join(s.root, stagingDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.Warn("Failed to sweep staging dir", "dir", dir, "error", err)
		return
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.log.Warn("Failed to remove orphan staging file", "path", path, "error", err)
			continue
		}
		s.log.Info("Removed orphan staging file", "path", path)
	}
}
