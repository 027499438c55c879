// Copyright 2026 The MyDM Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

// Package store is the engine's persistence store: a durable, embedded,
// single-file record of every download and its segments, plus key/value
// settings, category rules and an append-only per-download log. It is
// backed by github.com/coreos/bbolt, an embedded ACID key-value store,
// following the same pattern Sia's consensus/renter modules use bbolt
// for durable on-disk state (one process, one file, transactional commit
// before the call returns). bbolt does not expose SQLite's
// "journal_mode=WAL / synchronous=NORMAL" pragmas by name, but gives the
// equivalent guarantee by construction: every Update transaction commits
// its B+tree pages and fsyncs before returning, so a write is durable
// before the call returns.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "github.com/coreos/bbolt"

	"mydm/internal/model"
)

var (
	bucketDownloads  = []byte("downloads")
	bucketSegments   = []byte("segments") // keyed by downloadID/index
	bucketSettings   = []byte("settings")
	bucketCategories = []byte("categories")
	bucketLogs       = []byte("logs") // keyed by downloadID/autoincrement
)

// Store is the engine's durable record. The zero value is not usable;
// use Open.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the single-file database at path.
// The database is opened exactly once per process.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDownloads, bucketSegments, bucketSettings, bucketCategories, bucketLogs} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Downloads ---

// PutDownload inserts or updates a download record in a single write.
func (s *Store) PutDownload(d *model.Download) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketDownloads), []byte(d.ID), d)
	})
}

// GetDownload reads one download by id.
func (s *Store) GetDownload(id string) (*model.Download, error) {
	var d model.Download
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketDownloads), []byte(id), &d)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDownloads returns every persisted download, in no particular order.
func (s *Store) ListDownloads() ([]*model.Download, error) {
	var out []*model.Download
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDownloads).ForEach(func(k, v []byte) error {
			var d model.Download
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("corrupt download record %s: %w", k, err)
			}
			out = append(out, &d)
			return nil
		})
	})
	return out, err
}

// DeleteDownload removes a download record. It does not touch segments;
// callers must DeleteSegments first.
func (s *Store) DeleteDownload(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDownloads).Delete([]byte(id))
	})
}

// --- Segments ---

// PutSegment inserts or updates a single segment.
func (s *Store) PutSegment(seg *model.Segment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSegments), segmentKey(seg.DownloadID, seg.Index), seg)
	})
}

// PutSegments upserts every segment of a download in a single write
// transaction.
func (s *Store) PutSegments(segs []*model.Segment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSegments)
		for _, seg := range segs {
			if err := putJSON(b, segmentKey(seg.DownloadID, seg.Index), seg); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSegments returns a download's segments ordered by index.
func (s *Store) ListSegments(downloadID string) ([]*model.Segment, error) {
	prefix := []byte(downloadID + "/")
	var out []*model.Segment
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSegments).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var seg model.Segment
			if err := json.Unmarshal(v, &seg); err != nil {
				return fmt.Errorf("corrupt segment record %s: %w", k, err)
			}
			out = append(out, &seg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSegmentsByIndex(out)
	return out, nil
}

// DeleteSegments removes every segment row belonging to a download.
func (s *Store) DeleteSegments(downloadID string) error {
	prefix := []byte(downloadID + "/")
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSegments)
		c := b.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func segmentKey(downloadID string, index int) []byte {
	return []byte(fmt.Sprintf("%s/%08d", downloadID, index))
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

func sortSegmentsByIndex(segs []*model.Segment) {
	// Keys are already index-ordered lexically because they are zero
	// padded, but ForEach/Cursor ordering is keyspace order, not
	// insertion order, so this is a defensive final sort.
	for i := 1; i < len(segs); i++ {
		for j := i; j > 0 && segs[j].Index < segs[j-1].Index; j-- {
			segs[j], segs[j-1] = segs[j-1], segs[j]
		}
	}
}

// --- Settings ---

// GetSetting reads a setting by key. ok is false if unset.
func (s *Store) GetSetting(key string) (value string, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSettings).Get([]byte(key))
		if v == nil {
			return nil
		}
		ok = true
		value = string(v)
		return nil
	})
	return value, ok, err
}

// PutSetting writes a setting by key.
func (s *Store) PutSetting(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), []byte(value))
	})
}

// AllSettings returns every persisted setting.
func (s *Store) AllSettings() (map[string]string, error) {
	out := map[string]string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}

// --- Categories ---

// PutCategory inserts or updates a category rule.
func (s *Store) PutCategory(c *model.Category) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketCategories), []byte(c.ID), c)
	})
}

// ListCategories returns every persisted category rule.
func (s *Store) ListCategories() ([]*model.Category, error) {
	var out []*model.Category
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCategories).ForEach(func(k, v []byte) error {
			var c model.Category
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("corrupt category record %s: %w", k, err)
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

// --- Logs ---

// AppendLog appends one log line for a download.
func (s *Store) AppendLog(downloadID, level, message string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry := model.LogEntry{
			ID:         int64(seq),
			DownloadID: downloadID,
			Timestamp:  time.Now().UTC(),
			Level:      level,
			Message:    message,
		}
		return putJSON(b, logKey(downloadID, seq), &entry)
	})
}

// TailLog returns up to the last n log lines for a download, oldest
// first.
func (s *Store) TailLog(downloadID string, n int) ([]model.LogEntry, error) {
	prefix := []byte(downloadID + "/")
	var all []model.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketLogs).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var entry model.LogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("corrupt log record %s: %w", k, err)
			}
			all = append(all, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func logKey(downloadID string, seq uint64) []byte {
	b := make([]byte, len(downloadID)+1+8)
	n := copy(b, downloadID)
	b[n] = '/'
	binary.BigEndian.PutUint64(b[n+1:], seq)
	return b
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// ErrNotFound is returned by GetDownload when no record exists for the
// given id.
var ErrNotFound = fmt.Errorf("store: not found")
