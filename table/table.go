// Package table binds the master page, column files, and row index into
// the public row-level CRUD and column-wise analytics surface.
package table

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/AkimT13/MetalDB/columnfile"
	"github.com/AkimT13/MetalDB/dataparallel"
	"github.com/AkimT13/MetalDB/masterpage"
	"github.com/AkimT13/MetalDB/pagecache"
	"github.com/AkimT13/MetalDB/rowindex"
)

// ErrWrongArity is returned by InsertRow when the value vector's length
// does not equal the table's column count.
var ErrWrongArity = errors.New("table: value vector arity mismatch")

// ErrColumnOutOfRange is returned by any per-column operation given a
// column index >= the table's column count.
var ErrColumnOutOfRange = errors.New("table: column index out of range")

// Table binds one table's master page, per-column files, and row index,
// and dispatches analytics between the sequential CPU path and the
// data-parallel backend.
type Table struct {
	path    string
	master  *masterpage.MasterPage
	columns []*columnfile.ColumnFile
	rows    *rowindex.RowIndex
	cache   *pagecache.Cache

	useGPU       bool
	gpuThreshold int
	backend      dataparallel.Backend
	log          *slog.Logger
}

func masterPath(path string) string        { return path + ".master" }
func columnPath(path string, c int) string { return fmt.Sprintf("%s.col%d", path, c) }
func rowIndexPath(path string) string      { return path + ".idx" }

// Create initializes a brand-new table at path with the given page size
// and column count, truncating any existing master, column and row-index
// files.
func Create(path string, pageSize, numColumns uint16, opts ...Option) (*Table, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	mf, err := os.OpenFile(masterPath(path), os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("table: open master: %w", err)
	}

	mp, err := masterpage.InitNew(mf, pageSize, numColumns)
	if err != nil {
		mf.Close()
		return nil, err
	}

	stale := []string{rowIndexPath(path)}
	for c := 0; c < int(numColumns); c++ {
		stale = append(stale, columnPath(path, c))
	}
	for _, p := range stale {
		if err := os.Truncate(p, 0); err != nil && !os.IsNotExist(err) {
			mf.Close()
			return nil, fmt.Errorf("table: truncate %s: %w", p, err)
		}
	}

	return build(path, mp, numColumns, o)
}

// Open opens an existing table at path, adopting its column count from
// the persisted master page.
func Open(path string, opts ...Option) (*Table, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	mf, err := os.OpenFile(masterPath(path), os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("table: open master: %w", err)
	}

	mp, err := masterpage.Load(mf)
	if err != nil {
		mf.Close()
		return nil, err
	}

	return build(path, mp, mp.NumColumns, o)
}

func build(path string, mp *masterpage.MasterPage, numColumns uint16, o *options) (*Table, error) {
	log := o.logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var cache *pagecache.Cache
	if o.pageCacheMax >= 0 {
		c, err := pagecache.New(o.pageCacheMax, log)
		if err != nil {
			mp.Close()
			return nil, fmt.Errorf("table: build page cache: %w", err)
		}
		cache = c
	}

	columns := make([]*columnfile.ColumnFile, 0, numColumns)
	for c := uint16(0); c < numColumns; c++ {
		cf, err := columnfile.Open(columnPath(path, int(c)), c, mp.PageSize, mp, cache, log)
		if err != nil {
			closeAll(mp, columns, nil, cache)
			return nil, err
		}
		columns = append(columns, cf)
	}

	rows, err := rowindex.OpenOrCreate(rowIndexPath(path), numColumns, log)
	if err != nil {
		closeAll(mp, columns, nil, cache)
		return nil, err
	}

	backend := o.backend
	if backend == nil {
		backend = dataparallel.NewWorkerBackend(0)
	}

	return &Table{
		path:         path,
		master:       mp,
		columns:      columns,
		rows:         rows,
		cache:        cache,
		useGPU:       o.useGPU,
		gpuThreshold: o.gpuThreshold,
		backend:      backend,
		log:          log,
	}, nil
}

func closeAll(mp *masterpage.MasterPage, columns []*columnfile.ColumnFile, rows *rowindex.RowIndex, cache *pagecache.Cache) {
	mp.Close()
	for _, cf := range columns {
		cf.Close()
	}
	if rows != nil {
		rows.Close()
	}
	cache.Close()
}

// NumColumns returns the table's column count.
func (t *Table) NumColumns() int { return len(t.columns) }

// Close releases every file descriptor and the page cache held by t.
func (t *Table) Close() error {
	var firstErr error
	for _, cf := range t.columns {
		if err := cf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := t.rows.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := t.master.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	t.cache.Close()
	return firstErr
}

func (t *Table) checkColumn(c int) error {
	if c < 0 || c >= len(t.columns) {
		return fmt.Errorf("%w: %d (have %d columns)", ErrColumnOutOfRange, c, len(t.columns))
	}
	return nil
}

// InsertRow allocates a slot in every column for values and appends the
// resulting slot vector to the row index, returning the new row's ID.
// A crash between the last column's allocSlot and the index append can
// leak at most one slot per column; it can never leave the index
// pointing at a missing slot, since the row only becomes visible once
// AppendRow durably records its full slot vector.
func (t *Table) InsertRow(values []uint32) (uint32, error) {
	if len(values) != len(t.columns) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrWrongArity, len(values), len(t.columns))
	}

	slots := make([]uint32, len(values))
	for c, v := range values {
		slot, err := t.columns[c].AllocSlot(v)
		if err != nil {
			return 0, fmt.Errorf("table: insert row: column %d: %w", c, err)
		}
		slots[c] = slot
	}

	rowID, err := t.rows.AppendRow(slots)
	if err != nil {
		return 0, err
	}

	t.log.Debug("inserted row", "rowID", rowID)
	return rowID, nil
}

// FetchRow returns the value for each column of rowID, or a nil entry
// per column if the row is absent or deleted.
func (t *Table) FetchRow(rowID uint32) ([]*uint32, error) {
	out := make([]*uint32, len(t.columns))

	slots, ok := t.rows.Fetch(rowID)
	if !ok {
		return out, nil
	}

	for c, slot := range slots {
		v, present, err := t.columns[c].FetchSlot(slot)
		if err != nil {
			return nil, fmt.Errorf("table: fetch row %d: column %d: %w", rowID, c, err)
		}
		if present {
			vv := v
			out[c] = &vv
		}
	}
	return out, nil
}

// DeleteRow tombstones every column slot belonging to rowID and marks
// the row descriptor deleted. Deleting an absent or already-deleted row
// is a no-op.
func (t *Table) DeleteRow(rowID uint32) error {
	slots, ok := t.rows.Fetch(rowID)
	if !ok {
		return nil
	}

	for c, slot := range slots {
		if err := t.columns[c].DeleteSlot(slot); err != nil {
			return fmt.Errorf("table: delete row %d: column %d: %w", rowID, c, err)
		}
	}

	if err := t.rows.MarkDeleted(rowID); err != nil {
		return err
	}
	t.log.Debug("deleted row", "rowID", rowID)
	return nil
}

// MaterializeColumn projects column c of every live row into a dense
// slice, skipping any slot that unexpectedly fetches as absent.
func (t *Table) MaterializeColumn(c int) ([]uint32, error) {
	values, _, err := t.MaterializeColumnWithRowIDs(c)
	return values, err
}

// MaterializeColumnWithRowIDs is MaterializeColumn plus an
// index-aligned slice of the originating row IDs.
func (t *Table) MaterializeColumnWithRowIDs(c int) (values []uint32, rowIDs []uint32, err error) {
	if err := t.checkColumn(c); err != nil {
		return nil, nil, err
	}

	var fetchErr error
	t.rows.ForEachLive(func(rowID uint32, slots []uint32) {
		if fetchErr != nil {
			return
		}
		v, present, err := t.columns[c].FetchSlot(slots[c])
		if err != nil {
			fetchErr = fmt.Errorf("table: materialize column %d: row %d: %w", c, rowID, err)
			return
		}
		if present {
			values = append(values, v)
			rowIDs = append(rowIDs, rowID)
		}
	})
	if fetchErr != nil {
		return nil, nil, fetchErr
	}
	return values, rowIDs, nil
}

// SumColumn accumulates MaterializeColumn(c) in a 64-bit accumulator and
// returns its low 32 bits. A sum that overflows 32 bits wraps rather
// than panicking.
func (t *Table) SumColumn(c int) (uint32, error) {
	values, err := t.MaterializeColumn(c)
	if err != nil {
		return 0, err
	}
	return uint32(dataparallel.SumCPU(values)), nil
}

// SumColumnHybrid behaves like SumColumn but dispatches the reduction to
// the data-parallel backend when useGPU is enabled, the backend is
// available, and the input is at least gpuThreshold values.
func (t *Table) SumColumnHybrid(c int) (uint32, error) {
	values, err := t.MaterializeColumn(c)
	if err != nil {
		return 0, err
	}

	if t.shouldDispatch(len(values)) {
		return uint32(t.backend.Sum(values)), nil
	}
	return uint32(dataparallel.SumCPU(values)), nil
}

// ScanEquals returns the row IDs of every live row whose column c value
// equals needle, in ascending rowID order, dispatching to the
// data-parallel backend under the same conditions as SumColumnHybrid.
func (t *Table) ScanEquals(c int, needle uint32) ([]uint32, error) {
	values, rowIDs, err := t.MaterializeColumnWithRowIDs(c)
	if err != nil {
		return nil, err
	}

	if t.shouldDispatch(len(values)) {
		return t.backend.ScanEquals(values, rowIDs, needle), nil
	}
	return dataparallel.ScanEqualsCPU(values, rowIDs, needle), nil
}

func (t *Table) shouldDispatch(n int) bool {
	return t.useGPU && n >= t.gpuThreshold && t.backend.IsAvailable()
}

// Stats summarizes the table's row-index bookkeeping.
type Stats struct {
	NumColumns   int
	RowsRecorded uint32
	LiveRows     uint32
	DeletedRows  uint32
}

// Stats returns a snapshot of the table's current bookkeeping.
func (t *Table) Stats() Stats {
	recorded := t.rows.RowsRecorded()
	live := t.rows.LiveRows()
	return Stats{
		NumColumns:   len(t.columns),
		RowsRecorded: recorded,
		LiveRows:     live,
		DeletedRows:  recorded - live,
	}
}

// String renders s as a short human-readable summary, e.g.
// "4 columns, 12,345 rows recorded (12,000 live, 345 deleted)".
func (s Stats) String() string {
	return fmt.Sprintf("%d columns, %s rows recorded (%s live, %s deleted)",
		s.NumColumns,
		humanize.Comma(int64(s.RowsRecorded)),
		humanize.Comma(int64(s.LiveRows)),
		humanize.Comma(int64(s.DeletedRows)),
	)
}
