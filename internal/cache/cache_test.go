package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velodata/cycling-data-aggregation/internal/activity"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := New(t.TempDir(), ttl)
	require.NoError(t, err)
	return s
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestPutGetRoundtrip(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)

	data := map[string]float64{"miles": 12.5}
	require.NoError(t, s.Put("peloton_2024", data))

	raw, ok := s.Get("peloton_2024")
	require.True(t, ok)

	var got map[string]float64
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, data, got)
}

func TestGetExpiredEntryRemovesFile(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)

	require.NoError(t, s.Put("peloton_2024", map[string]float64{"miles": 12.5}))
	require.Equal(t, 1, countFiles(t, s.dir))

	// Simulate 25 hours passing.
	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	_, ok := s.Get("peloton_2024")
	require.False(t, ok)
	require.Equal(t, 0, countFiles(t, s.dir), "expired entry must be deleted on read")
}

func TestGetCorruptEntryRemovesFile(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)

	path := filepath.Join(s.dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, ok := s.Get("bad")
	require.False(t, ok)
	require.Equal(t, 0, countFiles(t, s.dir))
}

func TestGetMissingTimestampRemovesFile(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)

	path := filepath.Join(s.dir, "nots.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data":{"x":1}}`), 0o644))

	_, ok := s.Get("nots")
	require.False(t, ok)
	require.Equal(t, 0, countFiles(t, s.dir))
}

func TestPutOverwritesExisting(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)

	require.NoError(t, s.Put("k", map[string]int{"v": 1}))
	require.NoError(t, s.Put("k", map[string]int{"v": 2}))

	raw, ok := s.Get("k")
	require.True(t, ok)

	var got map[string]int
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, 2, got["v"])
	require.Equal(t, 1, countFiles(t, s.dir))
}

func TestPutUnwritableDirIsStorageError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}

	s := newTestStore(t, 24*time.Hour)
	require.NoError(t, os.Chmod(s.dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(s.dir, 0o755) })

	err := s.Put("k", map[string]int{"v": 1})
	require.Error(t, err)

	var storageErr *activity.StorageError
	require.ErrorAs(t, err, &storageErr)
}

func TestIsValidDoesNotDelete(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)
	require.NoError(t, s.Put("k", "data"))

	require.True(t, s.IsValid("k", 0))

	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	require.False(t, s.IsValid("k", 0))
	require.Equal(t, 1, countFiles(t, s.dir), "IsValid must not remove entries")

	// A shorter explicit TTL also invalidates.
	s.now = time.Now
	require.False(t, s.IsValid("k", time.Nanosecond))
}

func TestStatsClassifiesEntries(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)

	require.NoError(t, s.Put("valid", "data"))

	old := entry{StoredAt: time.Now().Add(-25 * time.Hour).UTC(), Data: json.RawMessage(`"x"`)}
	blob, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "expired.json"), blob, 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "invalid.json"), []byte("oops"), 0o644))

	stats, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 1, stats.Valid)
	require.Equal(t, 1, stats.Expired)
	require.Equal(t, 1, stats.Invalid)
	require.Greater(t, stats.TotalBytes, int64(0))
}

func TestCleanupExpired(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)

	require.NoError(t, s.Put("fresh", "data"))

	old := entry{StoredAt: time.Now().Add(-25 * time.Hour).UTC(), Data: json.RawMessage(`"x"`)}
	blob, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "expired.json"), blob, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "invalid.json"), []byte("oops"), 0o644))

	removed, err := s.CleanupExpired()
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	require.Equal(t, 1, countFiles(t, s.dir))

	_, ok := s.Get("fresh")
	require.True(t, ok)
}

func TestClear(t *testing.T) {
	s := newTestStore(t, 24*time.Hour)

	require.NoError(t, s.Put("a", 1))
	require.NoError(t, s.Put("b", 2))

	require.NoError(t, s.Clear("a"))
	_, ok := s.Get("a")
	require.False(t, ok)
	_, ok = s.Get("b")
	require.True(t, ok)

	// Clearing an absent key is fine.
	require.NoError(t, s.Clear("a"))

	removed, err := s.ClearAll()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 0, countFiles(t, s.dir))
}

func TestSanitizeKey(t *testing.T) {
	tests := map[string]struct {
		key  string
		want string
	}{
		"safe key untouched":  {"peloton_2024-01-01", "peloton_2024-01-01"},
		"slashes dropped":     {"../../etc/passwd", "......etcpasswd"},
		"spaces dropped":      {"strava 2024", "strava2024"},
		"dots and dashes ok":  {"a.b-c_d", "a.b-c_d"},
		"unicode dropped":     {"stravaé_2024", "strava_2024"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, sanitizeKey(tc.key))
		})
	}
}

// Sequential date+source keys, the application's actual key space, must stay
// distinct after sanitization.
func TestSanitizeKeyNoCollisionsInAppKeySpace(t *testing.T) {
	seen := map[string]string{}
	for _, src := range []string{"peloton", "strava"} {
		for day := 1; day <= 28; day++ {
			key := sanitizeKey(src + "_" + time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02"))
			prev, dup := seen[key]
			require.False(t, dup, "keys %q and %q collide", prev, key)
			seen[key] = key
		}
	}
}
