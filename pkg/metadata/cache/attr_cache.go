// Package cache provides the attribute cache sitting between the operation
// bridge and the WebHDFS transport.
//
// The cache keeps three kinds of entries per remote path:
//   - attributes from GETFILESTATUS or LISTSTATUS
//   - negative entries remembering that a path does not exist
//   - directory listings from LISTSTATUS
//
// Entries expire after a TTL and are dropped explicitly whenever the bridge
// changes the remote namespace. Invalidating a path also drops the listing of
// its parent, because the parent's listing embeds the child's attributes.
//
// Fills carry a Token taken before the remote read. A fill whose shard was
// invalidated after its token was taken is discarded, so a read that raced
// with a write cannot store what the server answered before the write.
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
)

// Config holds configuration for the attribute cache.
type Config struct {
	// TTL is how long attribute and listing entries remain valid.
	// Zero disables the cache entirely.
	TTL time.Duration

	// NegativeTTL is how long a "does not exist" entry remains valid.
	// Zero disables negative caching.
	NegativeTTL time.Duration

	// MaxEntries bounds the total number of entries (LRU eviction per shard).
	MaxEntries int

	// Shards is the number of independently locked partitions.
	Shards int
}

// DefaultConfig returns the cache configuration used by default: 30s for
// positive and negative entries.
func DefaultConfig() Config {
	return Config{
		TTL:         30 * time.Second,
		NegativeTTL: 30 * time.Second,
		MaxEntries:  100000,
		Shards:      32,
	}
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}

// AttrCache is a sharded TTL + LRU cache of remote attributes.
//
// Thread Safety:
// Each shard has its own mutex; operations on paths in different shards never
// contend. Counters are atomic. Returned *FileAttr values are shared and must
// be cloned before modification.
type AttrCache struct {
	shards      []*shard
	ttl         time.Duration
	negativeTTL time.Duration
	metrics     CacheMetrics

	// now is replaced in tests
	now func() time.Time

	// seq numbers invalidations; each shard records the last one it saw
	seq atomic.Uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Token is the invalidation sequence observed before a remote read.
type Token uint64

type entryKey struct {
	path    metadata.RemotePath
	listing bool
}

type cacheEntry struct {
	key      entryKey
	attr     *metadata.FileAttr // nil for negative entries
	negative bool
	children []metadata.DirEntry
	fetched  time.Time
	lruNode  *list.Element
}

type shard struct {
	mu          sync.Mutex
	entries     map[entryKey]*cacheEntry
	lruList     *list.List
	maxEntries  int
	invalidated uint64
}

// New creates an attribute cache. A nil metrics uses a no-op implementation.
func New(cfg Config, m CacheMetrics) *AttrCache {
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if m == nil {
		m = noopCacheMetrics{}
	}

	perShard := 0
	if cfg.MaxEntries > 0 {
		perShard = cfg.MaxEntries / cfg.Shards
		if perShard < 1 {
			perShard = 1
		}
	}

	c := &AttrCache{
		shards:      make([]*shard, cfg.Shards),
		ttl:         cfg.TTL,
		negativeTTL: cfg.NegativeTTL,
		metrics:     m,
		now:         time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			entries:    make(map[entryKey]*cacheEntry),
			lruList:    list.New(),
			maxEntries: perShard,
		}
	}

	if cfg.TTL <= 0 {
		logger.Info("Attribute cache disabled")
	} else {
		logger.Debug("Attribute cache enabled: ttl=%v negative_ttl=%v max_entries=%d shards=%d",
			cfg.TTL, cfg.NegativeTTL, cfg.MaxEntries, cfg.Shards)
	}

	return c
}

// Enabled reports whether the cache stores anything at all.
func (c *AttrCache) Enabled() bool {
	return c.ttl > 0
}

// Lookup returns the cached attributes of p.
//
// Results:
//   - (attr, true): positive hit
//   - (nil, true): negative hit, p is known not to exist
//   - (nil, false): miss or expired entry
func (c *AttrCache) Lookup(p metadata.RemotePath) (*metadata.FileAttr, bool) {
	if !c.Enabled() {
		return nil, false
	}

	s := c.shardFor(p)
	s.mu.Lock()
	entry := s.get(entryKey{path: p}, c.now(), c.ttl, c.negativeTTL)
	var (
		attr     *metadata.FileAttr
		negative bool
	)
	if entry != nil {
		attr = entry.attr
		negative = entry.negative
	}
	s.mu.Unlock()

	switch {
	case entry == nil:
		c.misses.Add(1)
		c.metrics.RecordMiss(KindAttr)
		return nil, false
	case negative:
		c.hits.Add(1)
		c.metrics.RecordHit(KindNegative)
		return nil, true
	default:
		c.hits.Add(1)
		c.metrics.RecordHit(KindAttr)
		return attr, true
	}
}

// Token returns the token to pass to Put, PutNegative or PutListing for a
// remote read that starts now.
func (c *AttrCache) Token() Token {
	return Token(c.seq.Load())
}

// Put stores the attributes of p, replacing any negative entry. The entry is
// discarded when p was invalidated after tok was taken.
func (c *AttrCache) Put(p metadata.RemotePath, attr *metadata.FileAttr, tok Token) {
	if !c.Enabled() || attr == nil {
		return
	}
	c.store(&cacheEntry{key: entryKey{path: p}, attr: attr}, tok)
}

// PutNegative remembers that p does not exist, unless p was invalidated
// after tok was taken.
func (c *AttrCache) PutNegative(p metadata.RemotePath, tok Token) {
	if !c.Enabled() || c.negativeTTL <= 0 {
		return
	}
	c.store(&cacheEntry{key: entryKey{path: p}, negative: true}, tok)
}

// Invalidate drops every entry for p and the listing of its parent.
func (c *AttrCache) Invalidate(p metadata.RemotePath) {
	if !c.Enabled() {
		return
	}

	seq := c.seq.Add(1)
	c.drop(entryKey{path: p}, seq)
	c.drop(entryKey{path: p, listing: true}, seq)
	if p != metadata.RootPath {
		c.drop(entryKey{path: metadata.Parent(p), listing: true}, seq)
	}

	c.metrics.RecordInvalidation(false)
	logger.Debug("Invalidated attribute cache entry: %s", p)
}

// InvalidateSubtree drops p, its parent's listing and every cached entry
// below p. Used after directory renames and recursive deletes.
func (c *AttrCache) InvalidateSubtree(p metadata.RemotePath) {
	if !c.Enabled() {
		return
	}

	c.Invalidate(p)

	seq := c.seq.Add(1)
	for _, s := range c.shards {
		s.mu.Lock()
		s.invalidated = max(s.invalidated, seq)
		for key, entry := range s.entries {
			if key.path != p && metadata.IsAncestor(p, key.path) {
				s.remove(entry)
			}
		}
		s.mu.Unlock()
	}

	c.metrics.RecordInvalidation(true)
	c.metrics.RecordEntries(c.Len())
	logger.Debug("Invalidated attribute cache subtree: %s", p)
}

// Clear removes all cached entries.
func (c *AttrCache) Clear() {
	seq := c.seq.Add(1)
	for _, s := range c.shards {
		s.mu.Lock()
		s.invalidated = max(s.invalidated, seq)
		s.entries = make(map[entryKey]*cacheEntry)
		s.lruList = list.New()
		s.mu.Unlock()
	}
	c.metrics.RecordEntries(0)
}

// Len returns the number of stored entries, expired ones included.
func (c *AttrCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Stats returns a snapshot of the cache counters.
func (c *AttrCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.Len(),
	}
}

func (c *AttrCache) shardFor(p metadata.RemotePath) *shard {
	if len(c.shards) == 1 {
		return c.shards[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(p))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *AttrCache) store(entry *cacheEntry, tok Token) {
	entry.fetched = c.now()

	s := c.shardFor(entry.key.path)
	s.mu.Lock()
	if s.invalidated > uint64(tok) {
		s.mu.Unlock()
		logger.Debug("Discarded attribute cache fill raced by invalidation: %s", entry.key.path)
		return
	}
	evicted := s.put(entry)
	s.mu.Unlock()

	for i := 0; i < evicted; i++ {
		c.evictions.Add(1)
		c.metrics.RecordEviction()
	}
}

// drop removes the entry for key and records invalidation seq on its shard.
func (c *AttrCache) drop(key entryKey, seq uint64) {
	s := c.shardFor(key.path)
	s.mu.Lock()
	s.invalidated = max(s.invalidated, seq)
	if entry, ok := s.entries[key]; ok {
		s.remove(entry)
	}
	s.mu.Unlock()
}

// get returns a live entry and marks it recently used. Expired entries are
// removed. Must be called with s.mu held.
func (s *shard) get(key entryKey, now time.Time, ttl, negativeTTL time.Duration) *cacheEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}

	limit := ttl
	if entry.negative {
		limit = negativeTTL
	}
	if now.Sub(entry.fetched) >= limit {
		s.remove(entry)
		return nil
	}

	s.lruList.MoveToFront(entry.lruNode)
	return entry
}

// put inserts or replaces an entry and returns how many entries were evicted.
// Must be called with s.mu held.
func (s *shard) put(entry *cacheEntry) int {
	if existing, ok := s.entries[entry.key]; ok {
		s.remove(existing)
	}

	evicted := 0
	for s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if !s.evictOldest() {
			break
		}
		evicted++
	}

	entry.lruNode = s.lruList.PushFront(entry)
	s.entries[entry.key] = entry
	return evicted
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *shard) evictOldest() bool {
	oldest := s.lruList.Back()
	if oldest == nil {
		return false
	}
	entry := oldest.Value.(*cacheEntry)
	s.remove(entry)
	logger.Debug("Evicted attribute cache entry: %s (listing=%v)", entry.key.path, entry.key.listing)
	return true
}

// remove deletes entry from both the map and the LRU list.
// Must be called with s.mu held.
func (s *shard) remove(entry *cacheEntry) {
	s.lruList.Remove(entry.lruNode)
	delete(s.entries, entry.key)
}
