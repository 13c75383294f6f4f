// Package columnpage implements the in-memory image of one page of a
// column: a dense array of fixed-width values plus a parallel tombstone
// array, and the fixed-width on-disk encoding for that image.
package columnpage

import (
	"encoding/binary"
	"fmt"
)

// ValueSize is the on-disk width, in bytes, of a single column value.
const ValueSize = 4

// HeaderSize is the on-disk width of a page's header: four little-endian
// uint16 fields (pageID, capacity, count, nextFreePage).
const HeaderSize = 8

// NoFreePage is the sentinel "no next free page" value for NextFreePage.
// The field is reserved by the format but unused by the single-head
// free-list policy this engine implements (see columnfile.ColumnFile).
const NoFreePage uint16 = 0xFFFF

// Page is the in-memory image of one column page.
type Page struct {
	PageID       uint16
	Capacity     uint16
	Count        uint16
	NextFreePage uint16

	Values    []uint32
	Tombstone []bool
}

// ComputeCapacity derives the slot count a page of pageSize bytes can
// hold: (pageSize - HeaderSize) / (ValueSize + 1 tombstone byte), clamped
// to at least 0 and at most 0xFFFF.
func ComputeCapacity(pageSize uint16) uint16 {
	if pageSize < HeaderSize {
		return 0
	}
	usable := uint32(pageSize) - HeaderSize
	cap := usable / (ValueSize + 1)
	if cap > 0xFFFF {
		cap = 0xFFFF
	}
	return uint16(cap)
}

// New builds an empty page (count 0, every slot free) for the given
// pageID and capacity.
func New(pageID, capacity uint16) *Page {
	return &Page{
		PageID:       pageID,
		Capacity:     capacity,
		Count:        0,
		NextFreePage: NoFreePage,
		Values:       make([]uint32, capacity),
		Tombstone:    make([]bool, capacity),
	}
}

// FindFreeSlot returns the lowest-index free slot, or ok=false if the
// page is full. The lowest-index-first policy is required so that slot
// reuse after deletion is deterministic.
func (p *Page) FindFreeSlot() (index int, ok bool) {
	for i, used := range p.Tombstone {
		if !used {
			return i, true
		}
	}
	return 0, false
}

// MarkUsed flags slot i as occupied. It is a no-op if the slot is
// already used, and never changes Count in that case.
func (p *Page) MarkUsed(i int) {
	if i < 0 || i >= len(p.Tombstone) {
		return
	}
	if !p.Tombstone[i] {
		p.Tombstone[i] = true
		p.Count++
	}
}

// MarkDeleted flags slot i as free. It is a no-op if the slot is already
// free.
func (p *Page) MarkDeleted(i int) {
	if i < 0 || i >= len(p.Tombstone) {
		return
	}
	if p.Tombstone[i] {
		p.Tombstone[i] = false
		p.Count--
	}
}

// ReadValue returns the value stored at slot i, regardless of tombstone
// state; callers are expected to check the tombstone themselves.
func (p *Page) ReadValue(i int) uint32 {
	return p.Values[i]
}

// WriteValue stores v at slot i. It does not alter the tombstone or
// Count.
func (p *Page) WriteValue(i int, v uint32) {
	p.Values[i] = v
}

// Full reports whether every slot is currently used.
func (p *Page) Full() bool {
	return p.Count == p.Capacity
}

// Clone returns a deep copy of p, safe to hand to a cache that may be
// read concurrently with further mutation of the original.
func (p *Page) Clone() *Page {
	c := &Page{
		PageID:       p.PageID,
		Capacity:     p.Capacity,
		Count:        p.Count,
		NextFreePage: p.NextFreePage,
		Values:       make([]uint32, len(p.Values)),
		Tombstone:    make([]bool, len(p.Tombstone)),
	}
	copy(c.Values, p.Values)
	copy(c.Tombstone, p.Tombstone)
	return c
}

// Encode serializes p to exactly pageSize bytes: the 8-byte header, the
// capacity values (4 bytes each, little-endian), one tombstone byte per
// slot, and zero padding out to pageSize.
func (p *Page) Encode(pageSize uint16) ([]byte, error) {
	need := HeaderSize + int(p.Capacity)*ValueSize + int(p.Capacity)
	if need > int(pageSize) {
		return nil, fmt.Errorf("columnpage: page body (%d bytes) exceeds page size (%d)", need, pageSize)
	}

	buf := make([]byte, pageSize)
	binary.LittleEndian.PutUint16(buf[0:2], p.PageID)
	binary.LittleEndian.PutUint16(buf[2:4], p.Capacity)
	binary.LittleEndian.PutUint16(buf[4:6], p.Count)
	binary.LittleEndian.PutUint16(buf[6:8], p.NextFreePage)

	off := HeaderSize
	for _, v := range p.Values {
		binary.LittleEndian.PutUint32(buf[off:off+4], v)
		off += ValueSize
	}
	for _, used := range p.Tombstone {
		if used {
			buf[off] = 1
		}
		off++
	}
	return buf, nil
}

// Decode parses a page image previously produced by Encode. data must be
// at least HeaderSize bytes; the capacity field in the header determines
// how much of the remainder is consumed.
func Decode(data []byte) (*Page, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("columnpage: page image too short (%d bytes)", len(data))
	}

	p := &Page{
		PageID:       binary.LittleEndian.Uint16(data[0:2]),
		Capacity:     binary.LittleEndian.Uint16(data[2:4]),
		Count:        binary.LittleEndian.Uint16(data[4:6]),
		NextFreePage: binary.LittleEndian.Uint16(data[6:8]),
	}

	need := HeaderSize + int(p.Capacity)*ValueSize + int(p.Capacity)
	if len(data) < need {
		return nil, fmt.Errorf("columnpage: page image truncated: need %d bytes, have %d", need, len(data))
	}

	off := HeaderSize
	p.Values = make([]uint32, p.Capacity)
	for i := range p.Values {
		p.Values[i] = binary.LittleEndian.Uint32(data[off : off+4])
		off += ValueSize
	}

	p.Tombstone = make([]bool, p.Capacity)
	for i := range p.Tombstone {
		p.Tombstone[i] = data[off] != 0
		off++
	}

	return p, nil
}
