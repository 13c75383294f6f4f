package rowindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T, numColumns uint16) *RowIndex {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.idx")
	ri, err := OpenOrCreate(path, numColumns, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ri.Close() })
	return ri
}

func TestAppendRowAssignsSequentialRowIDs(t *testing.T) {
	ri := openTestIndex(t, 2)

	r0, err := ri.AppendRow([]uint32{1, 2})
	require.NoError(t, err)
	r1, err := ri.AppendRow([]uint32{3, 4})
	require.NoError(t, err)

	assert.Equal(t, uint32(0), r0)
	assert.Equal(t, uint32(1), r1)
}

func TestAppendRowRejectsWrongArity(t *testing.T) {
	ri := openTestIndex(t, 3)

	_, err := ri.AppendRow([]uint32{1, 2})
	assert.ErrorIs(t, err, ErrWrongArity)
}

func TestFetchReturnsFalseForOutOfRangeOrDeleted(t *testing.T) {
	ri := openTestIndex(t, 1)

	_, ok := ri.Fetch(0)
	assert.False(t, ok)

	rowID, err := ri.AppendRow([]uint32{10})
	require.NoError(t, err)

	require.NoError(t, ri.MarkDeleted(rowID))
	_, ok = ri.Fetch(rowID)
	assert.False(t, ok)
}

func TestMarkDeletedIsIdempotent(t *testing.T) {
	ri := openTestIndex(t, 1)

	rowID, err := ri.AppendRow([]uint32{10})
	require.NoError(t, err)

	require.NoError(t, ri.MarkDeleted(rowID))
	assert.EqualValues(t, 0, ri.LiveRows())

	require.NoError(t, ri.MarkDeleted(rowID))
	assert.EqualValues(t, 0, ri.LiveRows())
	assert.EqualValues(t, 1, ri.RowsRecorded())
}

func TestForEachLiveSkipsDeletedRows(t *testing.T) {
	ri := openTestIndex(t, 1)

	r0, _ := ri.AppendRow([]uint32{1})
	r1, _ := ri.AppendRow([]uint32{2})
	r2, _ := ri.AppendRow([]uint32{3})
	require.NoError(t, ri.MarkDeleted(r1))

	var seen []uint32
	ri.ForEachLive(func(rowID uint32, slots []uint32) {
		seen = append(seen, rowID)
	})

	assert.Equal(t, []uint32{r0, r2}, seen)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.idx")

	ri, err := OpenOrCreate(path, 2, nil)
	require.NoError(t, err)

	rowID, err := ri.AppendRow([]uint32{5, 6})
	require.NoError(t, err)
	require.NoError(t, ri.MarkDeleted(0))
	require.NoError(t, ri.Close())

	reopened, err := OpenOrCreate(path, 2, nil)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok := reopened.Fetch(rowID)
	assert.False(t, ok)
	assert.EqualValues(t, 1, reopened.RowsRecorded())
	assert.EqualValues(t, 0, reopened.LiveRows())
}

func TestOpenOrCreateRejectsBadMagicAndReleasesTheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.idx")

	require.NoError(t, os.WriteFile(path, make([]byte, headerSize), 0o666))

	_, err := OpenOrCreate(path, 1, nil)
	assert.ErrorIs(t, err, ErrBadMagic)

	// OpenOrCreate must close its file descriptor on this failure path;
	// removing the file right after (no dangling open handle holding it
	// open, e.g. on Windows) proves it did.
	assert.NoError(t, os.Remove(path))
}

func TestLoadAllAdoptsFileNumColumnsOnMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.idx")

	ri, err := OpenOrCreate(path, 3, nil)
	require.NoError(t, err)
	require.NoError(t, ri.Close())

	reopened, err := OpenOrCreate(path, 5, nil)
	require.NoError(t, err)
	defer reopened.Close()

	assert.EqualValues(t, 3, reopened.NumColumns())
}
