// Package cache implements the short-lived disk cache for fetched source
// payloads: one JSON file per key, TTL-based validity, self-healing reads.
package cache

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
)

// DefaultTTL is how long an entry stays valid unless the store is configured
// otherwise.
const DefaultTTL = 24 * time.Hour

// entry is the on-disk layout: the payload plus the moment it was stored.
type entry struct {
	StoredAt time.Time       `json:"stored_at"`
	Data     json.RawMessage `json:"data"`
}

// Store is a file-backed cache rooted at a single directory. It is the sole
// reader and writer of its entries. Reads that hit a corrupt, truncated or
// expired file delete it so the next read is a clean miss.
type Store struct {
	dir string
	ttl time.Duration

	now func() time.Time
}

// Stats classifies every entry found in a full scan of the cache directory.
type Stats struct {
	Total      int   `json:"total"`
	Valid      int   `json:"valid"`
	Expired    int   `json:"expired"`
	Invalid    int   `json:"invalid"`
	TotalBytes int64 `json:"totalBytes"`
}

// New creates the cache directory if needed and returns a Store with the
// given TTL (DefaultTTL when ttl <= 0). An unusable directory is a
// StorageError: running without a cache is not silently acceptable.
func New(dir string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &activity.StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Store{dir: dir, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached payload for key, or false on any kind of miss:
// absent file, unparsable JSON, missing timestamp, or an entry older than the
// TTL. Every invalid case removes the offending file.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	path := s.filePath(key)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	e, ok := decodeEntry(raw)
	if !ok {
		log.Printf("cache entry %q is corrupt, removing", key)
		s.remove(path)
		return nil, false
	}

	if s.expired(e) {
		log.Printf("cache entry %q expired, removing", key)
		s.remove(path)
		return nil, false
	}

	return e.Data, true
}

// Put stores data under key with the current timestamp, overwriting any
// existing entry. The write goes to a temp file first and is renamed into
// place so a partial write can never be read back as valid JSON.
func (s *Store) Put(key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return &activity.StorageError{Op: "marshal", Path: key, Err: err}
	}

	blob, err := json.Marshal(entry{StoredAt: s.now().UTC(), Data: raw})
	if err != nil {
		return &activity.StorageError{Op: "marshal", Path: key, Err: err}
	}

	path := s.filePath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return &activity.StorageError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		s.remove(tmp)
		return &activity.StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// IsValid reports whether the entry for key exists and is younger than ttl
// (the store TTL when ttl <= 0). Unlike Get it never deletes anything, so it
// is safe for statistics.
func (s *Store) IsValid(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.ttl
	}
	raw, err := os.ReadFile(s.filePath(key))
	if err != nil {
		return false
	}
	e, ok := decodeEntry(raw)
	if !ok {
		return false
	}
	return s.now().UTC().Sub(e.StoredAt) <= ttl
}

// Clear removes the entry for one key. Clearing an absent key is not an
// error.
func (s *Store) Clear(key string) error {
	err := os.Remove(s.filePath(key))
	if err != nil && !os.IsNotExist(err) {
		return &activity.StorageError{Op: "remove", Path: s.filePath(key), Err: err}
	}
	return nil
}

// ClearAll removes every entry and returns how many were deleted.
func (s *Store) ClearAll() (int, error) {
	paths, err := s.entryPaths()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range paths {
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	log.Printf("cleared all cache data (%d files)", removed)
	return removed, nil
}

// Stats scans the whole directory and classifies each entry against the
// store TTL.
func (s *Store) Stats() (Stats, error) {
	paths, err := s.entryPaths()
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, path := range paths {
		stats.Total++
		if info, err := os.Stat(path); err == nil {
			stats.TotalBytes += info.Size()
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			stats.Invalid++
			continue
		}
		e, ok := decodeEntry(raw)
		switch {
		case !ok:
			stats.Invalid++
		case s.expired(e):
			stats.Expired++
		default:
			stats.Valid++
		}
	}
	return stats, nil
}

// CleanupExpired deletes every entry at or past expiry, treating unparsable
// entries as expired. Returns the number of files removed.
func (s *Store) CleanupExpired() (int, error) {
	paths, err := s.entryPaths()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			s.remove(path)
			removed++
			continue
		}
		e, ok := decodeEntry(raw)
		if !ok || s.expired(e) {
			s.remove(path)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("cleaned up %d expired cache files", removed)
	}
	return removed, nil
}

func (s *Store) expired(e entry) bool {
	return s.now().UTC().Sub(e.StoredAt) > s.ttl
}

func (s *Store) entryPaths() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, &activity.StorageError{Op: "scan", Path: s.dir, Err: err}
	}
	return paths, nil
}

func (s *Store) filePath(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

func (s *Store) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to remove cache file %s: %v", path, err)
	}
}

// sanitizeKey maps a logical key to a filesystem-safe identifier by keeping
// letters, digits, '-', '_' and '.'. The application's key space (source name
// plus date) never collides under this mapping.
func sanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// decodeEntry parses an on-disk entry, rejecting anything without a
// timestamp or data field.
func decodeEntry(raw []byte) (entry, bool) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, false
	}
	if e.StoredAt.IsZero() || len(e.Data) == 0 {
		return entry{}, false
	}
	return e, true
}
