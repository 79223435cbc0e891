// Package state provides the shared-state store the coordination pipeline
// is built on: a key-value abstraction over a directory tree with an atomic
// write contract. Writers stage content in a temporary file and rename it
// into place, so a concurrent reader observes either the previous version or
// the new one, never a mix.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a key has no value in the store.
var ErrNotFound = errors.New("state: key not found")

// Store is the shared-state contract. Keys are slash-separated relative
// paths ("status/schema.json", "handoffs/schema-complete"). Any backing
// store that makes Write atomic with respect to Read satisfies the
// interface.
type Store interface {
	// Read returns the value for key, or ErrNotFound.
	Read(key string) ([]byte, error)

	// Write atomically replaces the value for key. A concurrent Read must
	// never observe a partial write.
	Write(key string, data []byte) error

	// Exists reports whether key has a value.
	Exists(key string) (bool, error)

	// List returns all keys under the given prefix, sorted.
	List(prefix string) ([]string, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// ModTime returns the last-modified time of key, or ErrNotFound.
	ModTime(key string) (time.Time, error)
}

// DirStore implements Store on a real directory tree.
type DirStore struct {
	root string
}

// NewDirStore creates a store rooted at dir, creating it if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store root %s: %w", dir, err)
	}
	return &DirStore{root: dir}, nil
}

// Root returns the directory backing the store.
func (s *DirStore) Root() string {
	return s.root
}

// path resolves a key to an on-disk path, rejecting traversal outside the
// store root.
func (s *DirStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("state: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Read returns the value for key.
func (s *DirStore) Read(key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}

// Write stages data in a temp file next to the target and renames it into
// place. Rename within a directory is atomic on POSIX filesystems, which is
// what gives readers the all-or-nothing guarantee.
func (s *DirStore) Write(key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", key, err)
	}

	// Temp file must be on the same filesystem as the target for the
	// rename to stay atomic, so create it in the target's directory.
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file for %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place for %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key has a value.
func (s *DirStore) Exists(key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// List walks the prefix directory and returns keys of regular files, sorted.
// Temp files from in-flight writes are skipped.
func (s *DirStore) List(prefix string) ([]string, error) {
	dir := s.root
	if prefix != "" {
		p, err := s.path(prefix)
		if err != nil {
			return nil, err
		}
		dir = p
	}

	var keys []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // empty prefix
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil // in-flight temp files
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key if present.
func (s *DirStore) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// ModTime returns the last-modified time of key.
func (s *DirStore) ModTime(key string) (time.Time, error) {
	p, err := s.path(key)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.ModTime(), nil
}
