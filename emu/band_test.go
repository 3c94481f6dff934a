package emu

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/INLOpen/emu/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patternBlock fills a full 16-bit block so every pixel encodes its block
// and position, making misplaced rows visible after the round trip.
func patternBlock(blockSize, tileX, tileY int) []byte {
	buf := make([]byte, blockSize*blockSize*2)
	for row := 0; row < blockSize; row++ {
		for col := 0; col < blockSize; col++ {
			v := uint16(tileX*17 + tileY*29 + row*3 + col)
			binary.LittleEndian.PutUint16(buf[(row*blockSize+col)*2:], v)
		}
	}
	return buf
}

// TestPartialEdgeTiles writes a 700x700 16-bit raster with 512-pixel
// tiles: the right and bottom tiles are partial, so the body carries only
// the valid 188-pixel remainders and readers re-expand them.
func TestPartialEdgeTiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.emu")

	ds, err := Create(path, 700, 700, 1, core.PixelUint16, nil)
	require.NoError(t, err)
	band, err := ds.Band(1)
	require.NoError(t, err)
	assert.Equal(t, 2, band.BlocksAcross())
	assert.Equal(t, 2, band.BlocksDown())

	blocks := make(map[[2]int][]byte)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			block := patternBlock(512, x, y)
			blocks[[2]int{x, y}] = block
			require.NoError(t, band.WriteBlock(x, y, block))
		}
	}
	require.NoError(t, ds.Close())

	opened, err := Open(path, nil)
	require.NoError(t, err)
	defer opened.Close()

	// Declared uncompressed sizes cover only the valid rectangles.
	wantSizes := map[[2]int]uint64{
		{0, 0}: 512 * 512 * 2,
		{1, 0}: 188 * 512 * 2,
		{0, 1}: 512 * 188 * 2,
		{1, 1}: 188 * 188 * 2,
	}
	for xy, want := range wantSizes {
		loc, ok := opened.TileLocation(0, 1, xy[0], xy[1])
		require.True(t, ok, "tile %v missing from index", xy)
		assert.Equal(t, want, loc.UncompressedSize, "tile %v", xy)
	}

	openedBand, err := opened.Band(1)
	require.NoError(t, err)
	buf := make([]byte, 512*512*2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			require.NoError(t, openedBand.ReadBlock(x, y, buf))
			xValid, yValid, err := openedBand.ActualBlockSize(x, y)
			require.NoError(t, err)
			want := blocks[[2]int{x, y}]
			for row := 0; row < yValid; row++ {
				start := row * 512 * 2
				assert.Equal(t,
					want[start:start+xValid*2],
					buf[start:start+xValid*2],
					"tile %d,%d row %d", x, y, row)
			}
		}
	}
}

func TestWriteBlockValidatesBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "validate.emu")
	ds, err := Create(path, 64, 64, 1, core.PixelUint8, &CreateOptions{TileSize: 32})
	require.NoError(t, err)
	defer ds.Close()
	band, err := ds.Band(1)
	require.NoError(t, err)

	assert.Error(t, band.WriteBlock(0, 0, make([]byte, 10)), "short buffer")
	assert.Error(t, band.WriteBlock(5, 0, make([]byte, 32*32)), "column out of range")
	assert.Error(t, band.WriteBlock(0, -1, make([]byte, 32*32)), "negative row")
}

func TestReadRequiresReadonlyMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mode.emu")
	ds, err := Create(path, 32, 32, 1, core.PixelUint8, &CreateOptions{TileSize: 32})
	require.NoError(t, err)
	defer ds.Close()
	band, err := ds.Band(1)
	require.NoError(t, err)
	require.NoError(t, band.WriteBlock(0, 0, fillBlock(1, 32*32)))

	err = band.ReadBlock(0, 0, make([]byte, 32*32))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotSupported))
}

func TestFractionalNoDataRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodata.emu")
	ds, err := Create(path, 32, 32, 1, core.PixelUint8, nil)
	require.NoError(t, err)
	defer ds.Close()
	band, err := ds.Band(1)
	require.NoError(t, err)

	err = band.SetNoDataValue(1.5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotSupported))

	require.NoError(t, band.SetNoDataValue(3))
	nodata, ok := band.NoDataValue()
	assert.True(t, ok)
	assert.Equal(t, int64(3), nodata)

	require.NoError(t, band.DeleteNoDataValue())
	_, ok = band.NoDataValue()
	assert.False(t, ok)
}

func TestOverviewsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overviews.emu")
	ds, err := Create(path, 128, 128, 1, core.PixelUint8, &CreateOptions{TileSize: 64})
	require.NoError(t, err)
	band, err := ds.Band(1)
	require.NoError(t, err)

	require.NoError(t, band.CreateOverviewsFromFactors([]int{2, 4}))
	assert.Equal(t, 2, band.OverviewCount())

	// A second attempt to declare overviews is rejected.
	err = band.CreateOverviews([]OverviewSpec{{XSize: 8, YSize: 8}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotSupported))

	for level := 0; level <= 2; level++ {
		grid, err := band.levelBand(level)
		require.NoError(t, err)
		for y := 0; y < grid.BlocksDown(); y++ {
			for x := 0; x < grid.BlocksAcross(); x++ {
				require.NoError(t, grid.WriteBlock(x, y, fillBlock(byte(10*level+1), grid.fullBlockBytes())))
			}
		}
	}
	require.NoError(t, ds.Close())

	opened, err := Open(path, nil)
	require.NoError(t, err)
	defer opened.Close()
	openedBand, err := opened.Band(1)
	require.NoError(t, err)
	require.Equal(t, 2, openedBand.OverviewCount())

	specs := openedBand.Overviews()
	assert.Equal(t, OverviewSpec{XSize: 64, YSize: 64, BlockSize: 64}, specs[0])
	assert.Equal(t, OverviewSpec{XSize: 32, YSize: 32, BlockSize: 64}, specs[1])

	for level := 0; level <= 2; level++ {
		grid, err := openedBand.levelBand(level)
		require.NoError(t, err)
		buf := make([]byte, grid.fullBlockBytes())
		require.NoError(t, openedBand.ReadBlockLevel(level, 0, 0, buf))
		xValid, yValid, err := grid.ActualBlockSize(0, 0)
		require.NoError(t, err)
		for row := 0; row < yValid; row++ {
			for col := 0; col < xValid; col++ {
				require.Equal(t, byte(10*level+1), buf[row*grid.BlockSize()+col],
					"level %d pixel %d,%d", level, col, row)
			}
		}
	}
}

func TestSetStatisticsRejectedInInternalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.emu")
	ds, err := Create(path, 32, 32, 1, core.PixelUint8, nil)
	require.NoError(t, err)
	defer ds.Close()
	band, err := ds.Band(1)
	require.NoError(t, err)

	err = band.SetStatistics(0, 1, 0.5, 0.1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotSupported))

	// Statistics are also not retrievable until the file is reopened.
	_, _, _, _, err = band.Statistics()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotSupported))
}

func TestSetDefaultRATNotSupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rat.emu")
	ds, err := Create(path, 32, 32, 1, core.PixelUint8, nil)
	require.NoError(t, err)
	defer ds.Close()
	band, err := ds.Band(1)
	require.NoError(t, err)

	err = band.SetDefaultRAT(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotSupported))
}
