// Package rowindex implements the row-index sidecar: an append-only log
// of row descriptors mapping rowID -> per-column slot IDs, with
// in-place tombstoning, that survives process restart.
package rowindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Magic identifies a row-index file on disk ('R','I','D','X').
const Magic uint32 = 0x52494458

// headerSize is magic(4) + numColumns(2) + reserved(2).
const headerSize = 8

// entryHeaderSize is status(1) + padding(3).
const entryHeaderSize = 4

// ErrBadMagic is returned by OpenOrCreate (via loadAll) when an existing index
// file's magic number does not match Magic.
var ErrBadMagic = errors.New("rowindex: bad magic number")

// ErrWrongArity is returned by AppendRow when the slot-ID vector's
// length does not equal the index's column count.
var ErrWrongArity = errors.New("rowindex: slot vector arity mismatch")

type entry struct {
	status uint8
	slots  []uint32
}

// RowIndex is the persistent rowID -> []SlotID mapping with tombstoning.
type RowIndex struct {
	file       *os.File
	numColumns uint16

	entries      []entry
	deletedCount uint32

	log *slog.Logger
}

// OpenOrCreate opens the row-index file at path, creating and
// initializing it if it does not already exist or is empty, then loads
// every entry into memory.
func OpenOrCreate(path string, numColumns uint16, log *slog.Logger) (*RowIndex, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("rowindex: open %s: %w", path, err)
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ri := &RowIndex{file: f, numColumns: numColumns, log: log}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("rowindex: stat: %w", err)
	}
	if info.Size() == 0 {
		if err := ri.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := ri.loadAll(); err != nil {
		f.Close()
		return nil, err
	}
	return ri, nil
}

func (ri *RowIndex) writeHeader() error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], ri.numColumns)
	// bytes [6:8] are reserved, left zero.

	if _, err := ri.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("rowindex: write header: %w", err)
	}
	if err := ri.file.Sync(); err != nil {
		return fmt.Errorf("rowindex: fsync header: %w", err)
	}
	return nil
}

// entrySize is the on-disk width of one row entry for the index's
// current column count.
func (ri *RowIndex) entrySize() int64 {
	return entryHeaderSize + int64(ri.numColumns)*4
}

// loadAll reads the header and every entry from disk. If the file's
// declared numColumns disagrees with what RowIndex was constructed
// with, the on-disk value wins: a caller that opens an existing index
// with the wrong column count should get the real shape back, not a
// silently truncated or zero-padded one.
func (ri *RowIndex) loadAll() error {
	ri.entries = nil
	ri.deletedCount = 0

	hdr := make([]byte, headerSize)
	if _, err := ri.file.ReadAt(hdr, 0); err != nil {
		return fmt.Errorf("rowindex: read header: %w", err)
	}

	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != Magic {
		return ErrBadMagic
	}
	fileNumColumns := binary.LittleEndian.Uint16(hdr[4:6])
	if fileNumColumns != ri.numColumns {
		ri.log.Warn("rowindex numColumns mismatch, adopting file's value",
			"argument", ri.numColumns, "file", fileNumColumns)
		ri.numColumns = fileNumColumns
	}

	info, err := ri.file.Stat()
	if err != nil {
		return fmt.Errorf("rowindex: stat: %w", err)
	}

	entrySize := ri.entrySize()
	pos := int64(headerSize)
	fileEnd := info.Size()
	buf := make([]byte, entrySize)

	for pos+entrySize <= fileEnd {
		if _, err := ri.file.ReadAt(buf, pos); err != nil {
			return fmt.Errorf("rowindex: read entry at %d: %w", pos, err)
		}

		e := entry{status: buf[0], slots: make([]uint32, ri.numColumns)}
		off := entryHeaderSize
		for c := range e.slots {
			e.slots[c] = binary.LittleEndian.Uint32(buf[off : off+4])
			off += 4
		}

		ri.entries = append(ri.entries, e)
		if e.status == 0 {
			ri.deletedCount++
		}
		pos += entrySize
	}
	return nil
}

// AppendRow appends a new live row descriptor for slotIDs and returns
// its rowID. len(slotIDs) must equal the index's column count.
func (ri *RowIndex) AppendRow(slotIDs []uint32) (uint32, error) {
	if len(slotIDs) != int(ri.numColumns) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrWrongArity, len(slotIDs), ri.numColumns)
	}

	rowID := uint32(len(ri.entries))
	e := entry{status: 1, slots: append([]uint32(nil), slotIDs...)}
	ri.entries = append(ri.entries, e)

	if err := ri.writeEntry(rowID, e); err != nil {
		return 0, err
	}

	ri.log.Debug("appended row", "rowID", rowID)
	return rowID, nil
}

// Fetch returns the slot IDs for rowID, or ok=false if rowID is out of
// range or the row is deleted.
func (ri *RowIndex) Fetch(rowID uint32) ([]uint32, bool) {
	if rowID >= uint32(len(ri.entries)) {
		return nil, false
	}
	e := ri.entries[rowID]
	if e.status == 0 {
		return nil, false
	}
	return e.slots, true
}

// MarkDeleted flips rowID's status to deleted and rewrites only that
// entry on disk. Out-of-range or already-deleted rows are a no-op.
func (ri *RowIndex) MarkDeleted(rowID uint32) error {
	if rowID >= uint32(len(ri.entries)) {
		return nil
	}
	if ri.entries[rowID].status == 0 {
		return nil
	}

	ri.entries[rowID].status = 0
	ri.deletedCount++

	if err := ri.writeEntry(rowID, ri.entries[rowID]); err != nil {
		return err
	}

	ri.log.Debug("marked row deleted", "rowID", rowID)
	return nil
}

// ForEachLive calls fn once per live row, in ascending rowID order.
func (ri *RowIndex) ForEachLive(fn func(rowID uint32, slots []uint32)) {
	for i, e := range ri.entries {
		if e.status == 1 {
			fn(uint32(i), e.slots)
		}
	}
}

// RowsRecorded returns the number of row entries ever appended,
// including deleted ones.
func (ri *RowIndex) RowsRecorded() uint32 { return uint32(len(ri.entries)) }

// LiveRows returns the number of currently-live rows.
func (ri *RowIndex) LiveRows() uint32 { return ri.RowsRecorded() - ri.deletedCount }

// NumColumns returns the index's (possibly file-adopted) column count.
func (ri *RowIndex) NumColumns() uint16 { return ri.numColumns }

func (ri *RowIndex) writeEntry(rowID uint32, e entry) error {
	buf := make([]byte, ri.entrySize())
	buf[0] = e.status
	off := entryHeaderSize
	for _, s := range e.slots {
		binary.LittleEndian.PutUint32(buf[off:off+4], s)
		off += 4
	}

	pos := int64(headerSize) + int64(rowID)*ri.entrySize()
	if _, err := ri.file.WriteAt(buf, pos); err != nil {
		return fmt.Errorf("rowindex: write entry %d: %w", rowID, err)
	}
	if err := ri.file.Sync(); err != nil {
		return fmt.Errorf("rowindex: fsync entry %d: %w", rowID, err)
	}
	return nil
}

// Close closes the underlying file descriptor.
func (ri *RowIndex) Close() error {
	return ri.file.Close()
}
