package table

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkimT13/MetalDB/dataparallel"
)

func createTestTable(t *testing.T, numColumns uint16, opts ...Option) *Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t")
	tbl, err := Create(path, 64, numColumns, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestInsertFetchRoundTrip(t *testing.T) {
	tbl := createTestTable(t, 3)

	rowID, err := tbl.InsertRow([]uint32{10, 20, 30})
	require.NoError(t, err)

	got, err := tbl.FetchRow(rowID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, want := range []uint32{10, 20, 30} {
		require.NotNil(t, got[i])
		assert.Equal(t, want, *got[i])
	}
}

func TestInsertRowRejectsWrongArity(t *testing.T) {
	tbl := createTestTable(t, 2)

	_, err := tbl.InsertRow([]uint32{1})
	assert.ErrorIs(t, err, ErrWrongArity)
}

func TestFetchRowAbsentReturnsAllNil(t *testing.T) {
	tbl := createTestTable(t, 2)

	got, err := tbl.FetchRow(999)
	require.NoError(t, err)
	for _, v := range got {
		assert.Nil(t, v)
	}
}

func TestDeleteRowRemovesItFromFetchAndMaterialize(t *testing.T) {
	tbl := createTestTable(t, 2)

	r0, err := tbl.InsertRow([]uint32{1, 2})
	require.NoError(t, err)
	r1, err := tbl.InsertRow([]uint32{3, 4})
	require.NoError(t, err)

	require.NoError(t, tbl.DeleteRow(r0))

	got, err := tbl.FetchRow(r0)
	require.NoError(t, err)
	assert.Nil(t, got[0])

	values, rowIDs, err := tbl.MaterializeColumnWithRowIDs(0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3}, values)
	assert.Equal(t, []uint32{r1}, rowIDs)
}

func TestDeleteRowTwiceIsNoOp(t *testing.T) {
	tbl := createTestTable(t, 1)

	rowID, err := tbl.InsertRow([]uint32{1})
	require.NoError(t, err)

	require.NoError(t, tbl.DeleteRow(rowID))
	require.NoError(t, tbl.DeleteRow(rowID))

	stats := tbl.Stats()
	assert.EqualValues(t, 1, stats.RowsRecorded)
	assert.EqualValues(t, 0, stats.LiveRows)
}

func TestMaterializeColumnOutOfRange(t *testing.T) {
	tbl := createTestTable(t, 2)
	_, err := tbl.MaterializeColumn(5)
	assert.ErrorIs(t, err, ErrColumnOutOfRange)
}

func TestSumColumn(t *testing.T) {
	tbl := createTestTable(t, 1)

	for _, v := range []uint32{1, 2, 3, 4, 5} {
		_, err := tbl.InsertRow([]uint32{v})
		require.NoError(t, err)
	}

	sum, err := tbl.SumColumn(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(15), sum)
}

func TestScanEqualsFindsMatchingLiveRows(t *testing.T) {
	tbl := createTestTable(t, 1)

	var matching []uint32
	for i := 0; i < 20; i++ {
		v := uint32(i % 3)
		rowID, err := tbl.InsertRow([]uint32{v})
		require.NoError(t, err)
		if v == 1 {
			matching = append(matching, rowID)
		}
	}

	got, err := tbl.ScanEquals(0, 1)
	require.NoError(t, err)
	assert.Equal(t, matching, got)
}

func TestHybridDispatchMatchesCPUPath(t *testing.T) {
	// Force dispatch with a threshold of 1 so even a handful of rows
	// routes through the WorkerBackend, then verify it agrees exactly
	// with the sequential CPU path's output.
	hybrid := createTestTable(t, 1, WithGPU(true), WithGPUThreshold(1), WithBackend(dataparallel.NewWorkerBackend(4)))
	cpu := createTestTable(t, 1, WithGPU(false))

	for i := 0; i < 50; i++ {
		v := uint32(i % 7)
		_, err := hybrid.InsertRow([]uint32{v})
		require.NoError(t, err)
		_, err = cpu.InsertRow([]uint32{v})
		require.NoError(t, err)
	}

	hybridScan, err := hybrid.ScanEquals(0, 3)
	require.NoError(t, err)
	cpuScan, err := cpu.ScanEquals(0, 3)
	require.NoError(t, err)
	assert.Equal(t, cpuScan, hybridScan)

	hybridSum, err := hybrid.SumColumnHybrid(0)
	require.NoError(t, err)
	cpuSum, err := cpu.SumColumn(0)
	require.NoError(t, err)
	assert.Equal(t, cpuSum, hybridSum)
}

func TestWithGPUDisabledNeverDispatches(t *testing.T) {
	tbl := createTestTable(t, 1, WithGPU(false), WithGPUThreshold(0), WithBackend(dataparallel.NewWorkerBackend(2)))

	assert.False(t, tbl.shouldDispatch(1000))
}

func TestOpenAdoptsPersistedColumnCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t")

	created, err := Create(path, 64, 3)
	require.NoError(t, err)
	rowID, err := created.InsertRow([]uint32{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, created.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 3, reopened.NumColumns())

	got, err := reopened.FetchRow(rowID)
	require.NoError(t, err)
	require.NotNil(t, got[1])
	assert.Equal(t, uint32(2), *got[1])
}

func TestStatsString(t *testing.T) {
	tbl := createTestTable(t, 1)

	r0, err := tbl.InsertRow([]uint32{1})
	require.NoError(t, err)
	_, err = tbl.InsertRow([]uint32{2})
	require.NoError(t, err)
	require.NoError(t, tbl.DeleteRow(r0))

	s := tbl.Stats().String()
	assert.Contains(t, s, "1 columns")
	assert.Contains(t, s, "2")
	assert.Contains(t, s, "1")
}
