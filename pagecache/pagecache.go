// Package pagecache wraps github.com/dgraph-io/ristretto/v2 as a bounded,
// cost-aware read-through cache of decoded column pages. It is purely a
// performance layer: every write to the table file is still durable and
// fsynced before this cache is ever consulted, so a cold or evicted
// cache changes nothing about correctness, only how often ColumnFile
// has to re-read and re-decode a page from disk.
package pagecache

import (
	"io"
	"log/slog"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/AkimT13/MetalDB/columnpage"
)

// Key identifies one cached page: the column index in the high 16 bits,
// the page ID in the low 16 bits. This mirrors the (pageID, slotIndex)
// packing of a SlotID, but serves an unrelated purpose — a cache key,
// not a stable external identifier.
type Key uint32

// MakeKey packs a column index and page ID into a cache key.
func MakeKey(col, pageID uint16) Key {
	return Key(uint32(col)<<16 | uint32(pageID))
}

// DefaultMaxCost is the default total byte budget for cached page
// images, used when New is called with maxCost <= 0.
const DefaultMaxCost = 32 << 20 // 32 MiB

// Cache is a bounded cache of decoded columnpage.Page images.
type Cache struct {
	inner *ristretto.Cache[uint32, *columnpage.Page]
	log   *slog.Logger
}

// New builds a Cache with the given total cost budget (roughly, total
// bytes of cached page images). maxCost <= 0 selects DefaultMaxCost.
func New(maxCost int64, log *slog.Logger) (*Cache, error) {
	if maxCost <= 0 {
		maxCost = DefaultMaxCost
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	inner, err := ristretto.NewCache(&ristretto.Config[uint32, *columnpage.Page]{
		NumCounters: maxCost / 128, // rough average cost per page, per ristretto's own sizing guidance
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{inner: inner, log: log}, nil
}

// pageCost estimates the in-memory footprint of a decoded page, for
// ristretto's cost-based eviction.
func pageCost(p *columnpage.Page) int64 {
	return int64(columnpage.HeaderSize + len(p.Values)*4 + len(p.Tombstone))
}

// Get returns a private copy of the cached page for key, if present.
func (c *Cache) Get(key Key) (*columnpage.Page, bool) {
	if c == nil {
		return nil, false
	}
	p, ok := c.inner.Get(uint32(key))
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Set stores a private copy of p under key, superseding any previous
// entry (e.g. after a flush that changed the page's contents). It waits
// for ristretto's write buffer to drain before returning, so an older
// image of the page still queued there can never land after this one;
// if ristretto drops or rejects the write, the key is simply absent.
func (c *Cache) Set(key Key, p *columnpage.Page) {
	if c == nil {
		return
	}
	c.inner.Set(uint32(key), p.Clone(), pageCost(p))
	c.inner.Wait()
}

// Wait blocks until every Set call issued so far has been applied.
// ristretto applies writes through an internal buffer; Set already waits
// for it before returning, so a Get after Set already observes the write
// without calling Wait.
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.inner.Wait()
}

// Invalidate drops any cached entry for key.
func (c *Cache) Invalidate(key Key) {
	if c == nil {
		return
	}
	c.inner.Del(uint32(key))
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.inner.Close()
}
