// Package archive implements the content-addressed artifact store.
//
// Artifacts are immutable byte blobs addressed by the hex BLAKE3 hash of
// their content, laid out on the filesystem in sharded directories
// (ab/abcdef...). Put is idempotent on identical bytes: the pipeline never
// stores duplicate bytes for identical content.
package archive

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// ErrNotFound is returned by Get when no artifact exists for the hash.
var ErrNotFound = errors.New("archive: artifact not found")

// Store is a filesystem-backed content-addressed artifact store.
// It is safe for concurrent use: writes go through a temp file and an
// atomic rename, and identical content always lands at the same path.
type Store struct {
	root string
}

// NewStore opens (creating if needed) a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	return &Store{root: dir}, nil
}

// Hash returns the hex BLAKE3 hash of data. This is the artifact address
// and also the basis of content-item identity.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put writes data to the store and returns its hash. Writing bytes that
// already exist is a no-op returning the existing reference (dedup
// contract). Failures here are retryable at the calling stage's policy.
func (s *Store) Put(data []byte) (string, error) {
	hash := Hash(data)
	path := s.path(hash)

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}

	// Rename is atomic; a concurrent Put of the same bytes just wins the
	// race to create an identical file.
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to commit artifact: %w", err)
	}

	return hash, nil
}

// Get retrieves an artifact's bytes by hash.
// Returns ErrNotFound if no artifact exists.
func (s *Store) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Exists checks artifact existence without fetching the bytes.
func (s *Store) Exists(hash string) (bool, error) {
	_, err := os.Stat(s.path(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat artifact: %w", err)
}

// path maps a hash to its sharded filesystem location.
func (s *Store) path(hash string) string {
	shard := "00"
	if len(hash) >= 2 {
		shard = hash[:2]
	}
	return filepath.Join(s.root, shard, hash)
}
