package cache

import (
	"github.com/marmos91/webhdfsfs/pkg/metadata"
)

// LookupListing returns the cached children of directory dir.
//
// Listings avoid a LISTSTATUS round-trip when tools like ls or file browsers
// scan the same directory repeatedly. The returned slice is a copy; the
// attributes it points to are shared.
func (c *AttrCache) LookupListing(dir metadata.RemotePath) ([]metadata.DirEntry, bool) {
	if !c.Enabled() {
		return nil, false
	}

	s := c.shardFor(dir)
	s.mu.Lock()
	entry := s.get(entryKey{path: dir, listing: true}, c.now(), c.ttl, c.negativeTTL)
	var children []metadata.DirEntry
	if entry != nil {
		children = make([]metadata.DirEntry, len(entry.children))
		copy(children, entry.children)
	}
	s.mu.Unlock()

	if entry == nil {
		c.misses.Add(1)
		c.metrics.RecordMiss(KindListing)
		return nil, false
	}

	c.hits.Add(1)
	c.metrics.RecordHit(KindListing)
	return children, true
}

// PutListing stores the children of dir and the attributes of each child,
// so that a getattr following a readdir is served from the cache. As with
// Put, entries invalidated after tok was taken are skipped.
func (c *AttrCache) PutListing(dir metadata.RemotePath, children []metadata.DirEntry, tok Token) {
	if !c.Enabled() {
		return
	}

	stored := make([]metadata.DirEntry, len(children))
	copy(stored, children)

	for _, child := range stored {
		if child.Attr == nil {
			continue
		}
		p, err := metadata.Join(dir, child.Name)
		if err != nil {
			continue
		}
		c.Put(p, child.Attr, tok)
	}

	c.store(&cacheEntry{key: entryKey{path: dir, listing: true}, children: stored}, tok)
	c.metrics.RecordEntries(c.Len())
}
