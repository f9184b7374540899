// Package state persists harvest progress in a bbolt database: the window
// cursor and, optionally, the set of article ids already written.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCursor = []byte("cursor")
	bucketSeen   = []byte("seen")

	keyWindowEnd = []byte("last_window_end")
	keyTotal     = []byte("total")
)

// Cursor is the persisted harvest position.
type Cursor struct {
	// WindowEnd is the end of the last fully harvested window.
	WindowEnd time.Time
	// Total is the number of articles persisted across all runs.
	Total int64
}

// Store wraps the bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the state database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketCursor, bucketSeen} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init state buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Cursor returns the persisted cursor; ok is false when no run has completed
// a window yet.
func (s *Store) Cursor() (Cursor, bool, error) {
	var (
		cur Cursor
		ok  bool
	)

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCursor)

		raw := b.Get(keyWindowEnd)
		if raw == nil {
			return nil
		}
		t, err := time.Parse(time.RFC3339, string(raw))
		if err != nil {
			return fmt.Errorf("corrupt cursor value %q: %w", raw, err)
		}
		cur.WindowEnd = t
		ok = true

		if rawTotal := b.Get(keyTotal); rawTotal != nil {
			total, err := strconv.ParseInt(string(rawTotal), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt total value %q: %w", rawTotal, err)
			}
			cur.Total = total
		}
		return nil
	})
	if err != nil {
		return Cursor{}, false, err
	}
	return cur, ok, nil
}

// SetCursor records the end of the last completed window and the running
// article total.
func (s *Store) SetCursor(cur Cursor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCursor)
		if err := b.Put(keyWindowEnd, []byte(cur.WindowEnd.UTC().Format(time.RFC3339))); err != nil {
			return err
		}
		return b.Put(keyTotal, []byte(strconv.FormatInt(cur.Total, 10)))
	})
}

// Seen reports whether the article id was persisted by an earlier window or
// run.
func (s *Store) Seen(id string) (bool, error) {
	var seen bool
	err := s.db.View(func(tx *bolt.Tx) error {
		seen = tx.Bucket(bucketSeen).Get([]byte(id)) != nil
		return nil
	})
	return seen, err
}

// MarkSeen records the ids as persisted.
func (s *Store) MarkSeen(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	now := []byte(time.Now().UTC().Format(time.RFC3339))
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSeen)
		for _, id := range ids {
			if id == "" {
				continue
			}
			if err := b.Put([]byte(id), now); err != nil {
				return err
			}
		}
		return nil
	})
}

// SeenCount returns how many ids the store remembers. Used by tests and the
// run summary at debug level.
func (s *Store) SeenCount() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketSeen).Stats().KeyN
		return nil
	})
	return n, err
}
