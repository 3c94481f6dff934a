package emu

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/INLOpen/emu/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createRATDataset(t *testing.T) (*Dataset, *RAT, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rat.emu")
	ds, err := Create(path, 32, 32, 1, core.PixelUint8, nil)
	require.NoError(t, err)
	band, err := ds.Band(1)
	require.NoError(t, err)
	return ds, band.DefaultRAT(), path
}

func reopenRAT(t *testing.T, path string) (*Dataset, *RAT) {
	t.Helper()
	ds, err := Open(path, nil)
	require.NoError(t, err)
	band, err := ds.Band(1)
	require.NoError(t, err)
	return ds, band.DefaultRAT()
}

// TestRATChunking writes 200000 consecutive integers into one column and
// verifies the chunk split at the 65536-row ceiling.
func TestRATChunking(t *testing.T) {
	ds, rat, path := createRATDataset(t)
	require.NoError(t, rat.CreateColumn("Value", RATInteger, UsageGeneric))
	require.NoError(t, rat.SetRowCount(200000))

	values := make([]int64, 200000)
	for i := range values {
		values[i] = int64(i)
	}
	require.NoError(t, rat.WriteIntColumn(0, 0, values))
	require.NoError(t, ds.Close())

	opened, openedRAT := reopenRAT(t, path)
	defer opened.Close()

	assert.Equal(t, uint64(200000), openedRAT.RowCount())
	col, err := openedRAT.Column(0)
	require.NoError(t, err)
	chunks := col.Chunks()
	require.Len(t, chunks, 4)
	wantStarts := []uint64{0, 65536, 131072, 196608}
	wantLengths := []uint64{65536, 65536, 65536, 3392}
	for i, chunk := range chunks {
		assert.Equal(t, wantStarts[i], chunk.StartRow, "chunk %d start", i)
		assert.Equal(t, wantLengths[i], chunk.Length, "chunk %d length", i)
		assert.Equal(t, chunk.Length*8, chunk.UncompressedSize, "chunk %d uncompressed size", i)
	}

	out := make([]int64, 10)
	require.NoError(t, openedRAT.ReadIntColumn(0, 100000, out))
	for i, v := range out {
		assert.Equal(t, int64(100000+i), v)
	}
}

func TestRATReadBeyondWrittenData(t *testing.T) {
	ds, rat, path := createRATDataset(t)
	require.NoError(t, rat.CreateColumn("Value", RATInteger, UsageGeneric))
	require.NoError(t, rat.SetRowCount(10))
	require.NoError(t, rat.WriteIntColumn(0, 0, []int64{1, 2, 3, 4, 5}))
	require.NoError(t, ds.Close())

	opened, openedRAT := reopenRAT(t, path)
	defer opened.Close()

	out := make([]int64, 10)
	require.NoError(t, openedRAT.ReadIntColumn(0, 0, out))
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 0, 0, 0, 0, 0}, out, "the unwritten tail is zero-filled")
}

func TestRATStringRoundTrip(t *testing.T) {
	ds, rat, path := createRATDataset(t)
	require.NoError(t, rat.CreateColumn("Name", RATString, UsageName))
	require.NoError(t, rat.SetRowCount(4))
	require.NoError(t, rat.WriteStringColumn(0, 0, []string{"water", "", "forest", "urban"}))
	require.NoError(t, ds.Close())

	opened, openedRAT := reopenRAT(t, path)
	defer opened.Close()

	out := make([]string, 6)
	require.NoError(t, openedRAT.ReadStringColumn(0, 0, out))
	assert.Equal(t, []string{"water", "", "forest", "urban", "", ""}, out)
}

func TestRATFloatRoundTripAndCoercion(t *testing.T) {
	ds, rat, path := createRATDataset(t)
	require.NoError(t, rat.CreateColumn("Height", RATReal, UsageGeneric))
	require.NoError(t, rat.CreateColumn("Count", RATInteger, UsagePixelCount))
	require.NoError(t, rat.SetRowCount(3))
	require.NoError(t, rat.WriteFloatColumn(0, 0, []float64{1.5, -2.25, 3.75}))
	// The integer column is written natively; coercion is checked on read.
	require.NoError(t, rat.WriteIntColumn(1, 0, []int64{10, 20, 30}))
	require.NoError(t, ds.Close())

	opened, openedRAT := reopenRAT(t, path)
	defer opened.Close()

	floats := make([]float64, 3)
	require.NoError(t, openedRAT.ReadFloatColumn(0, 0, floats))
	assert.Equal(t, []float64{1.5, -2.25, 3.75}, floats)

	// Reading the real column as integers truncates.
	ints := make([]int64, 3)
	require.NoError(t, openedRAT.ReadIntColumn(0, 0, ints))
	assert.Equal(t, []int64{1, -2, 3}, ints)

	// Reading the integer column as floats widens.
	require.NoError(t, openedRAT.ReadFloatColumn(1, 0, floats))
	assert.Equal(t, []float64{10, 20, 30}, floats)
}

func TestRATStringNumericMismatch(t *testing.T) {
	ds, rat, _ := createRATDataset(t)
	defer ds.Close()
	require.NoError(t, rat.CreateColumn("Name", RATString, UsageName))
	require.NoError(t, rat.SetRowCount(2))

	err := rat.WriteIntColumn(0, 0, []int64{1, 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotSupported))
}

func TestRATColumnOutOfRange(t *testing.T) {
	ds, rat, _ := createRATDataset(t)
	defer ds.Close()

	err := rat.WriteIntColumn(3, 0, []int64{1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestRATRowCountMonotonic(t *testing.T) {
	ds, rat, _ := createRATDataset(t)
	defer ds.Close()

	require.NoError(t, rat.SetRowCount(100))
	require.NoError(t, rat.SetRowCount(50))
	assert.Equal(t, uint64(100), rat.RowCount(), "the row count only grows")
}

func TestRATWriteClampedToRowCount(t *testing.T) {
	ds, rat, path := createRATDataset(t)
	require.NoError(t, rat.CreateColumn("Value", RATInteger, UsageGeneric))
	require.NoError(t, rat.SetRowCount(3))
	// Rows past the declared count are dropped; a write entirely beyond
	// the table is a no-op.
	require.NoError(t, rat.WriteIntColumn(0, 0, []int64{1, 2, 3, 4, 5}))
	require.NoError(t, rat.WriteIntColumn(0, 10, []int64{9}))
	require.NoError(t, ds.Close())

	opened, openedRAT := reopenRAT(t, path)
	defer opened.Close()
	col, err := openedRAT.Column(0)
	require.NoError(t, err)
	require.Len(t, col.Chunks(), 1)
	assert.Equal(t, uint64(3), col.Chunks()[0].Length)
}

func TestRATUsageInference(t *testing.T) {
	ds, rat, _ := createRATDataset(t)
	defer ds.Close()
	require.NoError(t, rat.CreateColumn("Histogram", RATInteger, UsagePixelCount))
	require.NoError(t, rat.CreateColumn("Red", RATInteger, UsageGeneric))
	require.NoError(t, rat.CreateColumn("Elevation", RATReal, UsageGeneric))

	assert.Equal(t, UsagePixelCount, rat.UsageOfColumn(0))
	assert.Equal(t, UsageRed, rat.UsageOfColumn(1), "usage is inferred from the name")
	assert.Equal(t, UsageGeneric, rat.UsageOfColumn(2))
	assert.Equal(t, 1, rat.ColumnOfUsage(UsageRed))
	assert.Equal(t, -1, rat.ColumnOfUsage(UsageAlpha))
}

func TestRATMutationRequiresWriteMode(t *testing.T) {
	ds, rat, path := createRATDataset(t)
	require.NoError(t, rat.CreateColumn("Value", RATInteger, UsageGeneric))
	require.NoError(t, rat.SetRowCount(2))
	require.NoError(t, rat.WriteIntColumn(0, 0, []int64{1, 2}))

	// Reads need read mode, writes need write mode.
	err := rat.ReadIntColumn(0, 0, make([]int64, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotSupported))
	require.NoError(t, ds.Close())

	opened, openedRAT := reopenRAT(t, path)
	defer opened.Close()
	err = openedRAT.WriteIntColumn(0, 0, []int64{3, 4})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotSupported))
	err = openedRAT.CreateColumn("Another", RATInteger, UsageGeneric)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotSupported))
}
