package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/star/gaiaviz/internal/metrics"
	"github.com/star/gaiaviz/internal/propagation"
)

// FrameConfig holds frame cache configuration.
type FrameConfig struct {
	MaxEntries    int           // Frame sets kept in memory (default: 32)
	TTL           time.Duration // Entries older than this are evicted (default: 1h)
	SweepInterval time.Duration // How often Start evicts expired entries (default: 1m)
}

func (c FrameConfig) withDefaults() FrameConfig {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 32
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

type frameEntry struct {
	frames     []*propagation.Frame
	storedAt   time.Time
	lastAccess time.Time
}

// FrameCache is an in-memory cache of propagated frame sets, keyed by
// FrameKey. Safe for concurrent use by multiple goroutines.
type FrameCache struct {
	mu      sync.RWMutex
	entries map[string]*frameEntry

	config FrameConfig
	logger *slog.Logger
	now    func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// FrameKey identifies one frame set: the dataset it came from, the motion
// model and the time steps.
func FrameKey(queryKey string, fetchedAt time.Time, model string, steps []float64) string {
	var b strings.Builder
	b.WriteString(queryKey)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(fetchedAt.UnixNano(), 10))
	b.WriteByte('|')
	b.WriteString(model)
	for _, s := range steps {
		b.WriteByte('|')
		b.WriteString(strconv.FormatFloat(s, 'g', -1, 64))
	}
	return b.String()
}

// NewFrameCache creates an empty frame cache.
func NewFrameCache(config FrameConfig, logger *slog.Logger) *FrameCache {
	config = config.withDefaults()
	logger.Info("frame cache initialized",
		"max_entries", config.MaxEntries,
		"ttl_seconds", config.TTL.Seconds(),
	)
	return &FrameCache{
		entries: make(map[string]*frameEntry),
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the cached frames for key.
func (c *FrameCache) Get(key string) ([]*propagation.Frame, bool) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && now.Sub(entry.storedAt) > c.config.TTL {
		ok = false
	}
	if ok {
		entry.lastAccess = now
	}
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
		metrics.IncFrameCacheHits()
		return entry.frames, true
	}

	c.misses.Add(1)
	metrics.IncFrameCacheMisses()
	return nil, false
}

// Put stores frames under key, evicting the least recently used entry when
// the cache is full. Cached frames must not be modified afterwards.
func (c *FrameCache) Put(key string, frames []*propagation.Frame) {
	now := c.now()
	var evicted int

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.lastAccess.Before(oldest) {
				oldestKey, oldest = k, e.lastAccess
			}
		}
		delete(c.entries, oldestKey)
		evicted = 1
	}
	c.entries[key] = &frameEntry{frames: frames, storedAt: now, lastAccess: now}
	c.mu.Unlock()

	if evicted > 0 {
		c.evictions.Add(int64(evicted))
		metrics.AddFrameCacheEvictions(evicted)
	}
	c.updateMetrics()
}

// EvictExpired removes entries older than the TTL and returns how many were
// removed.
func (c *FrameCache) EvictExpired() int {
	cutoff := c.now().Add(-c.config.TTL)
	var removed int

	c.mu.Lock()
	for k, e := range c.entries {
		if e.storedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddFrameCacheEvictions(removed)
		c.updateMetrics()
		c.logger.Debug("frame cache eviction", "entries_removed", removed)
	}
	return removed
}

// Start runs the eviction loop until ctx is cancelled.
func (c *FrameCache) Start(ctx context.Context) {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("frame cache sweeper stopped")
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}

// FrameStats holds frame cache statistics.
type FrameStats struct {
	Entries   int
	Frames    int
	SizeBytes int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// String formats the stats for log lines and the diag tool.
func (s FrameStats) String() string {
	return fmt.Sprintf("entries=%d frames=%d size=%dB hits=%d misses=%d evictions=%d",
		s.Entries, s.Frames, s.SizeBytes, s.Hits, s.Misses, s.Evictions)
}

// Stats returns current cache statistics.
func (c *FrameCache) Stats() FrameStats {
	c.mu.RLock()
	count := len(c.entries)
	var frames int
	for _, e := range c.entries {
		frames += len(e.frames)
	}
	c.mu.RUnlock()

	return FrameStats{
		Entries:   count,
		Frames:    frames,
		SizeBytes: c.estimateSizeBytes(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// estimateSizeBytes returns a rough estimate of the cache memory footprint.
func (c *FrameCache) estimateSizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	starSize := int64(unsafe.Sizeof(propagation.StarPosition{}))
	var total int64
	for k, e := range c.entries {
		total += int64(len(k)) + 64
		for _, f := range e.frames {
			if f == nil {
				continue
			}
			// TimeMyr(8) + slice header(24).
			total += 32 + int64(len(f.Stars))*starSize
		}
	}
	return total
}

func (c *FrameCache) updateMetrics() {
	c.mu.RLock()
	count := len(c.entries)
	c.mu.RUnlock()
	metrics.SetFrameCacheEntries(count)
}
