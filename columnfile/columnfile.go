// Package columnfile implements page-granular I/O and the per-column
// free-slot allocator: allocate-or-fetch a page with free space,
// read/write pages, allocate/delete slots, and keep the owning table's
// free-list head in sync.
package columnfile

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AkimT13/MetalDB/columnpage"
	"github.com/AkimT13/MetalDB/pagecache"
)

// MasterHost is the small interface ColumnFile borrows from its owning
// table's MasterPage, instead of importing masterpage directly and
// holding shared mutable ownership of it. *masterpage.MasterPage
// satisfies this interface directly.
type MasterHost interface {
	HeadPage(col uint16) uint16
	SetHeadPage(col uint16, pageID uint16)
	FlushMaster() error
}

// ColumnFile owns the on-disk pages for one column and the free-slot
// allocation protocol over them.
type ColumnFile struct {
	file     *os.File
	host     MasterHost
	colIdx   uint16
	pageSize uint16
	cache    *pagecache.Cache
	log      *slog.Logger
}

// Open opens (creating if necessary) the backing file for one column at
// path. host is the owning table's free-list head bookkeeping; cache may
// be nil to disable page caching.
func Open(path string, colIdx, pageSize uint16, host MasterHost, cache *pagecache.Cache, log *slog.Logger) (*ColumnFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("columnfile: open %s: %w", path, err)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ColumnFile{
		file:     f,
		host:     host,
		colIdx:   colIdx,
		pageSize: pageSize,
		cache:    cache,
		log:      log,
	}, nil
}

// Close closes the underlying file descriptor.
func (cf *ColumnFile) Close() error {
	return cf.file.Close()
}

func pageIDFromSlotID(id uint32) uint16  { return uint16(id >> 16) }
func slotIdxFromSlotID(id uint32) uint16 { return uint16(id & 0xFFFF) }
func makeSlotID(pageID, slotIdx uint16) uint32 {
	return uint32(pageID)<<16 | uint32(slotIdx)
}

// AllocSlot writes v into a free slot, appending a new page if the
// column currently has no page with space, and returns the slot's ID.
func (cf *ColumnFile) AllocSlot(v uint32) (uint32, error) {
	pageID, err := cf.allocateOrFetchPage()
	if err != nil {
		return 0, err
	}

	page, err := cf.loadPage(pageID)
	if err != nil {
		return 0, err
	}

	slot, ok := page.FindFreeSlot()
	if !ok {
		return 0, fmt.Errorf("columnfile: head page %d for column %d reported full on alloc", pageID, cf.colIdx)
	}

	page.WriteValue(slot, v)
	page.MarkUsed(slot)

	if page.Full() {
		cf.host.SetHeadPage(cf.colIdx, columnpage.NoFreePage)
		if err := cf.host.FlushMaster(); err != nil {
			return 0, err
		}
	}

	if err := cf.flushPage(page); err != nil {
		return 0, err
	}

	cf.log.Debug("alloc slot", "column", cf.colIdx, "page", pageID, "slot", slot)
	return makeSlotID(pageID, uint16(slot)), nil
}

// FetchSlot returns the value stored at id and ok=true, or ok=false if
// the slot index is out of range or the slot is currently free.
func (cf *ColumnFile) FetchSlot(id uint32) (uint32, bool, error) {
	pageID := pageIDFromSlotID(id)
	slotIdx := slotIdxFromSlotID(id)

	page, err := cf.loadPage(pageID)
	if err != nil {
		return 0, false, err
	}

	if int(slotIdx) >= int(page.Capacity) {
		return 0, false, nil
	}
	if !page.Tombstone[slotIdx] {
		return 0, false, nil
	}
	return page.ReadValue(int(slotIdx)), true, nil
}

// DeleteSlot tombstones id as free, re-exposing its page as the
// column's free-list head if the page was previously full. Deleting an
// already-free slot, or a slot index out of range, is a no-op.
func (cf *ColumnFile) DeleteSlot(id uint32) error {
	pageID := pageIDFromSlotID(id)
	slotIdx := slotIdxFromSlotID(id)

	page, err := cf.loadPage(pageID)
	if err != nil {
		return err
	}

	if int(slotIdx) >= int(page.Capacity) {
		return nil
	}

	wasFull := page.Full()
	if !page.Tombstone[slotIdx] {
		return nil
	}
	page.MarkDeleted(int(slotIdx))

	if wasFull {
		cf.host.SetHeadPage(cf.colIdx, pageID)
		if err := cf.host.FlushMaster(); err != nil {
			return err
		}
	}

	if err := cf.flushPage(page); err != nil {
		return err
	}

	cf.log.Debug("delete slot", "column", cf.colIdx, "page", pageID, "slot", slotIdx)
	return nil
}

// allocateOrFetchPage returns a pageID guaranteed to have a free slot,
// appending a new zero-initialized page at end-of-file and making it the
// column's head if none is currently recorded.
func (cf *ColumnFile) allocateOrFetchPage() (uint16, error) {
	pid := cf.host.HeadPage(cf.colIdx)
	if pid != columnpage.NoFreePage {
		return pid, nil
	}

	info, err := cf.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("columnfile: stat: %w", err)
	}
	newPageID := uint16(info.Size() / int64(cf.pageSize))

	capacity := columnpage.ComputeCapacity(cf.pageSize)
	page := columnpage.New(newPageID, capacity)

	if err := cf.flushPage(page); err != nil {
		return 0, err
	}

	cf.host.SetHeadPage(cf.colIdx, newPageID)
	if err := cf.host.FlushMaster(); err != nil {
		return 0, err
	}

	cf.log.Debug("appended page", "column", cf.colIdx, "page", newPageID, "capacity", capacity)
	return newPageID, nil
}

func (cf *ColumnFile) cacheKey(pageID uint16) pagecache.Key {
	return pagecache.MakeKey(cf.colIdx, pageID)
}

// loadPage reads pageID from the cache if present, otherwise from disk.
func (cf *ColumnFile) loadPage(pageID uint16) (*columnpage.Page, error) {
	if p, ok := cf.cache.Get(cf.cacheKey(pageID)); ok {
		return p, nil
	}

	offset := int64(pageID) * int64(cf.pageSize)
	buf := make([]byte, cf.pageSize)
	if _, err := cf.file.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("columnfile: read page %d: %w", pageID, err)
	}

	page, err := columnpage.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("columnfile: decode page %d: %w", pageID, err)
	}

	cf.cache.Set(cf.cacheKey(pageID), page)
	return page, nil
}

// flushPage writes page to disk at its pageID's offset, fsyncs, and
// refreshes the cache entry.
func (cf *ColumnFile) flushPage(page *columnpage.Page) error {
	buf, err := page.Encode(cf.pageSize)
	if err != nil {
		return fmt.Errorf("columnfile: encode page %d: %w", page.PageID, err)
	}

	offset := int64(page.PageID) * int64(cf.pageSize)
	if _, err := cf.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("columnfile: write page %d: %w", page.PageID, err)
	}
	if err := cf.file.Sync(); err != nil {
		return fmt.Errorf("columnfile: fsync page %d: %w", page.PageID, err)
	}

	cf.cache.Set(cf.cacheKey(page.PageID), page)
	return nil
}
