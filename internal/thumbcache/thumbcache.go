// Package thumbcache holds decoded preview thumbnails in a bounded LRU so a
// presentation layer can re-display images without re-decoding them. The
// cache is pure optimization: the scan engine never depends on a hit, and a
// memory-pressure monitor may clear it concurrently at any time.
package thumbcache

import (
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEntries is the default LRU capacity.
const DefaultEntries = 256

// sizeBuckets quantizes requested thumbnail sizes so near-identical requests
// share cache entries.
var sizeBuckets = []int{128, 256, 512, 1024}

// Bucket rounds a requested size up to its cache bucket.
func Bucket(size int) int {
	for _, b := range sizeBuckets {
		if size <= b {
			return b
		}
	}
	return sizeBuckets[len(sizeBuckets)-1]
}

// Cache is a bounded LRU of decoded thumbnails keyed by (path, size bucket).
// Safe for concurrent use.
type Cache struct {
	lru *lru.Cache[string, image.Image]
}

// New creates a cache holding at most entries thumbnails.
func New(entries int) (*Cache, error) {
	if entries <= 0 {
		entries = DefaultEntries
	}
	l, err := lru.New[string, image.Image](entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create thumbnail cache: %w", err)
	}
	return &Cache{lru: l}, nil
}

func key(path string, size int) string {
	return fmt.Sprintf("%s|%d", path, Bucket(size))
}

// Get returns the cached thumbnail for (path, size bucket), if present.
func (c *Cache) Get(path string, size int) (image.Image, bool) {
	return c.lru.Get(key(path, size))
}

// Add stores a decoded thumbnail, evicting the least recently used entry
// when full.
func (c *Cache) Add(path string, size int, img image.Image) {
	c.lru.Add(key(path, size), img)
}

// Len returns the current number of cached thumbnails.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops every cached thumbnail.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Monitor watches heap usage and purges the cache when it crosses a soft
// limit. It is explicitly constructed and owned by the application shell;
// the engine only ever sees the cache itself.
type Monitor struct {
	cache     *Cache
	softLimit uint64
	interval  time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewMonitor creates a monitor that purges cache when heap allocation
// exceeds softLimitBytes, checking at the given interval.
func NewMonitor(cache *Cache, softLimitBytes uint64, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		cache:     cache,
		softLimit: softLimitBytes,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

// Start launches the background check loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
}

// Check purges the cache if current heap allocation exceeds the soft limit.
// Exposed so callers can force a check on an explicit pressure signal.
func (m *Monitor) Check() {
	if m.softLimit == 0 {
		return
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapAlloc > m.softLimit {
		m.cache.Purge()
	}
}

// Stop terminates the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
}
