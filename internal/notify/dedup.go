package notify

import (
	"strings"
	"sync"
	"time"

	"casewatch/internal/court"
)

// SweepKey builds the composite dedup key for one sweep alert: case identity,
// the hearing date, and the two fields that move when a listing changes.
func SweepKey(cino string, fields court.Fields) string {
	return strings.Join([]string{
		cino,
		fields.Get(court.FieldNextHearingDate),
		fields.Get("status"),
		fields.Get("coram"),
	}, "|")
}

// dedupCache is a bounded suppress-until map. Entries expire after the window
// and the map never grows past maxEntries; it is process-lifetime only, so a
// restart re-sends anything still current.
type dedupCache struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	window     time.Duration
	maxEntries int
}

func newDedupCache(window time.Duration, maxEntries int) *dedupCache {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 2000
	}
	return &dedupCache{
		entries:    map[string]time.Time{},
		window:     window,
		maxEntries: maxEntries,
	}
}

// seen reports whether key is currently suppressed; if not, it records the key.
func (c *dedupCache) seen(key string, now time.Time) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if until, ok := c.entries[key]; ok && now.Before(until) {
		return true
	}
	c.entries[key] = now.Add(c.window)
	if len(c.entries) > c.maxEntries {
		c.pruneLocked(now)
	}
	return false
}

func (c *dedupCache) pruneLocked(now time.Time) {
	for k, until := range c.entries {
		if !now.Before(until) {
			delete(c.entries, k)
		}
	}
	// Still over budget: drop the soonest-to-expire entries.
	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, until := range c.entries {
			if oldestKey == "" || until.Before(oldest) {
				oldestKey = k
				oldest = until
			}
		}
		delete(c.entries, oldestKey)
	}
}
