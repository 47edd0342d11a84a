package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"raffleflow/logger"
)

// renameFile is swapped out in tests to simulate a crash between the staging
// write and the atomic replace.
var renameFile = os.Rename

// Store persists structured documents as JSON files under a single data
// directory. Saves are staged to a temp file and atomically renamed into
// place so a crash leaves either the old or the new complete document on
// disk, never a partial write.
type Store struct {
	dir string
	log *logger.Log
}

// New creates the data directory if needed and returns a Store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dir: dir, log: logger.GetLogger()}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load reads the named document into v. A missing file leaves v untouched so
// the caller's default survives. A corrupt document is logged and treated as
// absent, never propagated as a fatal error.
func (s *Store) Load(name string, v interface{}) error {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		s.log.WithComponent("store").WithError(err).WithFields(logger.Fields{"document": name}).Warn("failed to read document, using default")
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.log.WithComponent("store").WithError(err).WithFields(logger.Fields{"document": name}).Warn("corrupt document, using default")
		return nil
	}
	return nil
}

// Save durably persists v as the named document. The document is written to
// a staging file first and renamed over the final path in one step; the file
// content is never modified in place.
func (s *Store) Save(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", name, err)
	}

	final := s.path(name)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to stage document %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write staged document %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync staged document %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close staged document %s: %w", name, err)
	}

	if err := renameFile(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace document %s: %w", name, err)
	}
	return nil
}
