// Package cache holds decoded animations in memory under a byte budget,
// evicting the least-recently-used clip first.
package cache

import (
	"container/list"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/nixchirp/nixchirp/internal/assets"
)

// DefaultMaxMB is the cache budget used when a profile does not set one.
const DefaultMaxMB = 512

const mb = 1024 * 1024

type entry struct {
	key  string
	anim *assets.LoadedAnimation
	size int
}

// Cache is a memory-bounded LRU store of decoded clips keyed by asset path.
// It is owned by the consumer thread and is not safe for concurrent use.
type Cache struct {
	loader   assets.Loader
	log      zerolog.Logger
	maxBytes int64
	curBytes int64

	order   *list.List               // front = most recently used
	entries map[string]*list.Element // path -> element holding *entry

	// Preload bookkeeping. The budget is widened once while depth > 0 and
	// recomputed when the outermost EndPreload runs.
	preloadDepth   int
	preloadPrevMax int64
}

// New creates a cache with the given budget in megabytes.
func New(maxMB int, loader assets.Loader, log zerolog.Logger) *Cache {
	if maxMB <= 0 {
		maxMB = DefaultMaxMB
	}
	return &Cache{
		loader:   loader,
		log:      log,
		maxBytes: int64(maxMB) * mb,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns a cached clip, bumping its recency, or nil on a miss. It
// never loads.
func (c *Cache) Get(path string) *assets.LoadedAnimation {
	if el, ok := c.entries[path]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*entry).anim
	}
	return nil
}

// GetOrLoad returns a cached clip or decodes it via the loader, evicting
// least-recently-used entries until the new clip fits. An oversized clip in
// an otherwise empty cache is kept anyway (the budget is exceeded, not an
// error).
func (c *Cache) GetOrLoad(path string) (*assets.LoadedAnimation, error) {
	if anim := c.Get(path); anim != nil {
		return anim, nil
	}

	anim, err := c.loader.Load(path)
	if err != nil {
		return nil, err
	}
	size := anim.SizeBytes()

	for c.curBytes+int64(size) > c.maxBytes && c.order.Len() > 0 {
		c.evictLRU()
	}

	el := c.order.PushFront(&entry{key: path, anim: anim, size: size})
	c.entries[path] = el
	c.curBytes += int64(size)

	if int64(size) > c.maxBytes {
		c.log.Warn().Str("asset", filepath.Base(path)).
			Float64("size_mb", float64(size)/mb).
			Int64("budget_mb", c.maxBytes/mb).
			Msg("clip larger than cache budget, keeping anyway")
	}
	c.log.Info().Str("asset", filepath.Base(path)).
		Float64("size_mb", float64(size)/mb).
		Float64("cache_mb", c.CurrentMB()).
		Int("entries", c.order.Len()).
		Msg("cached clip")
	return anim, nil
}

// Evict removes one clip from the cache, if present.
func (c *Cache) Evict(path string) {
	if el, ok := c.entries[path]; ok {
		c.remove(el)
	}
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.curBytes = 0
}

// SetBudgetMB changes the byte budget and evicts down to it. Ignored while
// a preload is in flight so the widened window cannot be clobbered.
func (c *Cache) SetBudgetMB(maxMB int) {
	if maxMB <= 0 || c.preloadDepth > 0 {
		return
	}
	c.maxBytes = int64(maxMB) * mb
	for c.curBytes > c.maxBytes && c.order.Len() > 1 {
		c.evictLRU()
	}
}

// BudgetMB returns the current budget in megabytes.
func (c *Cache) BudgetMB() int { return int(c.maxBytes / mb) }

// CurrentMB returns the bytes held, in megabytes.
func (c *Cache) CurrentMB() float64 { return float64(c.curBytes) / mb }

// EntryCount returns the number of cached clips.
func (c *Cache) EntryCount() int { return c.order.Len() }

// BeginPreload widens the budget so a startup preload can force-load every
// configured clip without churn. Calls nest; only the first call records
// the budget to restore against.
func (c *Cache) BeginPreload() {
	if c.preloadDepth == 0 {
		c.preloadPrevMax = c.maxBytes
		c.maxBytes = int64(1) << 62
	}
	c.preloadDepth++
}

// EndPreload closes a preload window. When the outermost window closes the
// budget becomes max(previous budget, loaded size + 100MB) so everything
// just preloaded stays resident.
func (c *Cache) EndPreload() {
	if c.preloadDepth == 0 {
		return
	}
	c.preloadDepth--
	if c.preloadDepth > 0 {
		return
	}
	loadedMB := int64(c.CurrentMB())
	newMax := c.preloadPrevMax
	if widened := (loadedMB + 100) * mb; widened > newMax {
		newMax = widened
	}
	c.maxBytes = newMax
	c.log.Info().Float64("loaded_mb", c.CurrentMB()).
		Int64("budget_mb", c.maxBytes/mb).
		Msg("preload complete")
}

func (c *Cache) evictLRU() {
	el := c.order.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.log.Info().Str("asset", filepath.Base(e.key)).
		Float64("size_mb", float64(e.size)/mb).
		Msg("evicted clip")
	c.remove(el)
}

func (c *Cache) remove(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.key)
	c.curBytes -= int64(e.size)
}
