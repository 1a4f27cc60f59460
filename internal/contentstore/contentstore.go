// Package contentstore implements an optional, content-addressable
// cache for scraped bodies, keyed by their MD5 hash. It is off by
// default; when enabled, the scraper executor still fetches every body,
// marks one already seen under any task key as a cache hit, and skips
// rewriting a scratch file that already holds the same bytes.
package contentstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// Entry is the record stored per content hash.
type Entry struct {
	Hash      string `badgerhold:"key"`
	Size      int
	FirstSeen time.Time
	SeenCount int
}

// Store wraps a BadgerHold database under a content-hash key.
type Store struct {
	db     *badgerhold.Store
	logger arbor.ILogger
}

// Open creates or reopens a content store at path.
func Open(logger arbor.ILogger, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create content store directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Seen reports whether hash has been recorded before, and bumps its
// seen count either way.
func (s *Store) Seen(hash string, size int) (bool, error) {
	var existing Entry
	err := s.db.Get(hash, &existing)
	if err == nil {
		existing.SeenCount++
		if updateErr := s.db.Update(hash, &existing); updateErr != nil {
			return true, fmt.Errorf("update content store entry: %w", updateErr)
		}
		return true, nil
	}
	if err != badgerhold.ErrNotFound {
		return false, fmt.Errorf("query content store: %w", err)
	}

	entry := Entry{Hash: hash, Size: size, FirstSeen: time.Now(), SeenCount: 1}
	if err := s.db.Insert(hash, &entry); err != nil {
		return false, fmt.Errorf("insert content store entry: %w", err)
	}
	return false, nil
}
