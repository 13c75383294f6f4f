// Package masterpage implements the fixed header that occupies the first
// page of a table's metadata file: the page size, column count, and one
// free-list head per column.
package masterpage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Magic identifies a MetalDB master page on disk ('M','D','P','B').
const Magic uint32 = 0x4D445042

// NoFreePage is the sentinel head value meaning "no page currently has
// free space for this column."
const NoFreePage uint16 = 0xFFFF

// MinPageSize is the smallest page size InitNew accepts; a page of this
// size holds one slot.
const MinPageSize = 16

// headerSize is magic(4) + pageSize(2) + numColumns(2).
const headerSize = 8

// ErrBadMagic is returned by Load when the file's magic number does not
// match Magic.
var ErrBadMagic = errors.New("masterpage: bad magic number")

// MasterPage is the in-memory image of page 0: the table's page size,
// column count, and per-column free-list heads. It owns the backing file
// descriptor for the lifetime of the table, and implements
// columnfile.MasterHost so ColumnFile instances can read and mutate the
// free-list head for their column without any other shared state.
type MasterPage struct {
	file *os.File

	PageSize    uint16
	NumColumns  uint16
	HeadPageIDs []uint16
}

// InitNew truncates file to exactly pageSize bytes, writes a fresh master
// page (every column's free-list head set to NoFreePage), and fsyncs it.
func InitNew(file *os.File, pageSize, numColumns uint16) (*MasterPage, error) {
	if pageSize < MinPageSize {
		return nil, fmt.Errorf("masterpage: page size %d below minimum %d", pageSize, MinPageSize)
	}
	if numColumns < 1 {
		return nil, fmt.Errorf("masterpage: numColumns must be >= 1, got %d", numColumns)
	}

	if err := file.Truncate(int64(pageSize)); err != nil {
		return nil, fmt.Errorf("masterpage: truncate: %w", err)
	}

	mp := &MasterPage{
		file:        file,
		PageSize:    pageSize,
		NumColumns:  numColumns,
		HeadPageIDs: make([]uint16, numColumns),
	}
	for i := range mp.HeadPageIDs {
		mp.HeadPageIDs[i] = NoFreePage
	}

	if err := mp.Flush(); err != nil {
		return nil, err
	}
	return mp, nil
}

// Load reads an existing master page from the start of file.
func Load(file *os.File) (*MasterPage, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("masterpage: seek: %w", err)
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(file, hdr[:]); err != nil {
		return nil, fmt.Errorf("masterpage: read header: %w", err)
	}

	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != Magic {
		return nil, ErrBadMagic
	}

	mp := &MasterPage{
		file:       file,
		PageSize:   binary.LittleEndian.Uint16(hdr[4:6]),
		NumColumns: binary.LittleEndian.Uint16(hdr[6:8]),
	}

	mp.HeadPageIDs = make([]uint16, mp.NumColumns)
	heads := make([]byte, int(mp.NumColumns)*2)
	if len(heads) > 0 {
		if _, err := io.ReadFull(file, heads); err != nil {
			return nil, fmt.Errorf("masterpage: read heads: %w", err)
		}
	}
	for i := range mp.HeadPageIDs {
		mp.HeadPageIDs[i] = binary.LittleEndian.Uint16(heads[i*2 : i*2+2])
	}

	return mp, nil
}

// Flush overwrites page 0 with the current in-memory fields and fsyncs.
func (mp *MasterPage) Flush() error {
	buf := make([]byte, headerSize+len(mp.HeadPageIDs)*2)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], mp.PageSize)
	binary.LittleEndian.PutUint16(buf[6:8], mp.NumColumns)
	for i, h := range mp.HeadPageIDs {
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:headerSize+i*2+2], h)
	}

	if _, err := mp.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("masterpage: write: %w", err)
	}
	if err := mp.file.Sync(); err != nil {
		return fmt.Errorf("masterpage: fsync: %w", err)
	}
	return nil
}

// HeadPage returns the free-list head page ID recorded for column col, or
// NoFreePage if no page is currently known to have space.
func (mp *MasterPage) HeadPage(col uint16) uint16 {
	return mp.HeadPageIDs[col]
}

// SetHeadPage records pageID as the free-list head for column col. It does
// not flush; callers that need durability call FlushMaster afterward.
func (mp *MasterPage) SetHeadPage(col uint16, pageID uint16) {
	mp.HeadPageIDs[col] = pageID
}

// FlushMaster satisfies columnfile.MasterHost.
func (mp *MasterPage) FlushMaster() error {
	return mp.Flush()
}

// Close closes the underlying file descriptor.
func (mp *MasterPage) Close() error {
	return mp.file.Close()
}
