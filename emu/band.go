package emu

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/INLOpen/emu/compressors"
	"github.com/INLOpen/emu/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Band is a grid of fixed-size square tiles at one resolution level. The
// full-resolution band of each channel is level 0; overview sub-bands
// carry levels 1..N with their own dimensions and block size but share the
// parent's tile-index channel, codec and file lock.
type Band struct {
	ds    *Dataset
	band  int // 1-based band number
	level uint64

	pixelType core.PixelType
	xSize     int
	ySize     int
	blockSize int

	// owner is set on the level-0 band only; it routes tile writes into
	// the band's statistics accumulation.
	owner *RasterBand

	mu *sync.Mutex // shared with the owning dataset
}

func newBand(ds *Dataset, band int, level uint64, xSize, ySize, blockSize int) *Band {
	return &Band{
		ds:        ds,
		band:      band,
		level:     level,
		pixelType: ds.pixelType,
		xSize:     xSize,
		ySize:     ySize,
		blockSize: blockSize,
		mu:        ds.mu,
	}
}

func (b *Band) XSize() int                { return b.xSize }
func (b *Band) YSize() int                { return b.ySize }
func (b *Band) BlockSize() int            { return b.blockSize }
func (b *Band) Level() uint64             { return b.level }
func (b *Band) PixelType() core.PixelType { return b.pixelType }

// BlocksAcross returns the number of tile columns at this level.
func (b *Band) BlocksAcross() int {
	return (b.xSize + b.blockSize - 1) / b.blockSize
}

// BlocksDown returns the number of tile rows at this level.
func (b *Band) BlocksDown() int {
	return (b.ySize + b.blockSize - 1) / b.blockSize
}

// ActualBlockSize returns the valid pixel extent of the block at (x, y).
// Blocks on the right or bottom edge may cover less than a full block.
func (b *Band) ActualBlockSize(x, y int) (xValid, yValid int, err error) {
	if x < 0 || y < 0 || x >= b.BlocksAcross() || y >= b.BlocksDown() {
		return 0, 0, fmt.Errorf("block %d,%d out of range for level %d band %d", x, y, b.level, b.band)
	}
	xValid = b.xSize - x*b.blockSize
	if xValid > b.blockSize {
		xValid = b.blockSize
	}
	yValid = b.ySize - y*b.blockSize
	if yValid > b.blockSize {
		yValid = b.blockSize
	}
	return xValid, yValid, nil
}

// fullBlockBytes is the size of the caller-facing buffer for one block.
func (b *Band) fullBlockBytes() int {
	return b.blockSize * b.blockSize * b.pixelType.Size()
}

// WriteBlock appends one tile to the body and registers it in the tile
// index. data must hold a full block; edge tiles are repacked to their
// valid rectangle before compression so the body only carries real pixels.
func (b *Band) WriteBlock(x, y int, data []byte) error {
	ds := b.ds
	if err := ds.checkWritable(); err != nil {
		return err
	}
	if len(data) != b.fullBlockBytes() {
		return fmt.Errorf("block buffer is %d bytes, expected %d", len(data), b.fullBlockBytes())
	}
	xValid, yValid, err := b.ActualBlockSize(x, y)
	if err != nil {
		return err
	}

	var span trace.Span
	if ds.tracer != nil {
		_, span = ds.tracer.Start(context.Background(), "Band.WriteBlock")
		span.SetAttributes(
			attribute.Int64("emu.tile.level", int64(b.level)),
			attribute.Int("emu.tile.band", b.band),
			attribute.Int("emu.tile.x", x),
			attribute.Int("emu.tile.y", y),
		)
		defer span.End()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	offset, err := ds.tell()
	if err != nil {
		return err
	}
	if _, err := ds.fp.Write([]byte{byte(ds.compressor.Type())}); err != nil {
		return fmt.Errorf("failed to write compression type flag: %w", err)
	}

	ps := b.pixelType.Size()
	src := data
	if xValid != b.blockSize || yValid != b.blockSize {
		// Partial block. The caller hands over a full block so the valid
		// rectangle must be repacked with a tight row stride.
		tight := make([]byte, xValid*yValid*ps)
		srcIdx, dstIdx := 0, 0
		for row := 0; row < yValid; row++ {
			copy(tight[dstIdx:dstIdx+xValid*ps], src[srcIdx:srcIdx+xValid*ps])
			srcIdx += b.blockSize * ps
			dstIdx += xValid * ps
		}
		src = tight
	}

	if b.owner != nil {
		b.owner.accumulate(src, xValid*yValid)
	}

	compressed := core.BufferPool.Get()
	defer core.BufferPool.Put(compressed)
	if err := ds.compressor.CompressTo(compressed, src); err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return fmt.Errorf("failed to compress tile: %w", err)
	}
	if _, err := ds.fp.Write(compressed.Bytes()); err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return fmt.Errorf("failed to write tile payload: %w", err)
	}

	if span != nil {
		span.SetAttributes(
			attribute.Int64("emu.tile.offset", offset),
			attribute.Int("emu.tile.compressed_len_bytes", compressed.Len()),
			attribute.Int("emu.tile.uncompressed_len_bytes", len(src)),
		)
	}

	ds.tiles.set(
		TileKey{OvrLevel: b.level, Band: uint64(b.band), X: uint64(x), Y: uint64(y)},
		TileValue{Offset: uint64(offset), Size: uint64(compressed.Len()), UncompressedSize: uint64(len(src))},
	)
	return nil
}

// ReadBlock reads one tile into data, which must hold a full block. For a
// partial edge tile only the valid rectangle is filled; pixels outside it
// are left untouched.
func (b *Band) ReadBlock(x, y int, data []byte) error {
	ds := b.ds
	if ds.closed {
		return core.ErrClosed
	}
	if ds.access != AccessRead {
		return fmt.Errorf("reading is only supported in readonly mode: %w", core.ErrNotSupported)
	}
	if len(data) != b.fullBlockBytes() {
		return fmt.Errorf("block buffer is %d bytes, expected %d", len(data), b.fullBlockBytes())
	}
	xValid, yValid, err := b.ActualBlockSize(x, y)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := TileKey{OvrLevel: b.level, Band: uint64(b.band), X: uint64(x), Y: uint64(y)}
	val, ok := ds.tiles.get(key)
	if !ok {
		return fmt.Errorf("no index entry for block %d,%d at level %d band %d: %w", x, y, b.level, b.band, core.ErrNotFound)
	}

	if _, err := ds.fp.Seek(int64(val.Offset), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to tile at offset %d: %w", val.Offset, err)
	}
	var compression [1]byte
	if _, err := io.ReadFull(ds.fp, compression[:]); err != nil {
		return fmt.Errorf("failed to read compression type flag: %w", err)
	}
	codec, err := compressors.ForType(core.CompressionType(compression[0]))
	if err != nil {
		return fmt.Errorf("failed to decode tile: %w", err)
	}
	raw := make([]byte, val.Size)
	if _, err := io.ReadFull(ds.fp, raw); err != nil {
		return fmt.Errorf("failed to read tile payload: %w", err)
	}
	pixels, err := codec.Decompress(raw, int(val.UncompressedSize))
	if err != nil {
		return fmt.Errorf("failed to decompress tile: %w", err)
	}

	ps := b.pixelType.Size()
	if xValid != b.blockSize || yValid != b.blockSize {
		// Expand the tight payload back into the full block row by row.
		srcIdx, dstIdx := 0, 0
		for row := 0; row < yValid; row++ {
			copy(data[dstIdx:dstIdx+xValid*ps], pixels[srcIdx:srcIdx+xValid*ps])
			srcIdx += xValid * ps
			dstIdx += b.blockSize * ps
		}
	} else {
		copy(data, pixels)
	}
	return nil
}

// OverviewSpec declares one reduced-resolution level. A zero BlockSize
// inherits the parent band's block size.
type OverviewSpec struct {
	XSize     int
	YSize     int
	BlockSize int
}

// RasterBand is a full-resolution band: the level-0 tile grid plus
// nodata, statistics, metadata, the attribute table and the overview list.
type RasterBand struct {
	Band

	noDataSet bool
	noData    int64
	thematic  bool

	// Statistics run in one of two regimes: accumulate a histogram while
	// tiles stream through (internal), or carry values verbatim from a
	// source dataset (external). External mode disables the histogram.
	external   bool
	histogram  map[int64]uint64
	stats      bandStatistics
	mode       int64
	median     int64
	histoStats bool

	overviews []*Band
	rat       *RAT
	metadata  map[string]string
}

// bandStatistics are the four trailer statistics. NaN means unset.
type bandStatistics struct {
	min    float64
	max    float64
	mean   float64
	stdDev float64
}

func unsetStatistics() bandStatistics {
	nan := math.NaN()
	return bandStatistics{min: nan, max: nan, mean: nan, stdDev: nan}
}

func newRasterBand(ds *Dataset, band int, xSize, ySize, blockSize int) *RasterBand {
	rb := &RasterBand{
		Band:     *newBand(ds, band, 0, xSize, ySize, blockSize),
		stats:    unsetStatistics(),
		metadata: make(map[string]string),
	}
	rb.owner = rb
	rb.rat = newRAT(ds, rb.mu)
	return rb
}

// NoDataValue returns the band's nodata value and whether one is set. The
// stored value is reinterpreted in the band's numeric type by the caller.
func (rb *RasterBand) NoDataValue() (int64, bool) {
	return rb.noData, rb.noDataSet
}

// SetNoDataValue sets the nodata value from a float. Fractional values
// cannot be represented and are rejected.
func (rb *RasterBand) SetNoDataValue(value float64) error {
	if err := rb.ds.checkWritable(); err != nil {
		return err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value != math.Trunc(value) {
		return fmt.Errorf("fractional nodata %v cannot be stored: %w", value, core.ErrNotSupported)
	}
	rb.noData = int64(value)
	rb.noDataSet = true
	return nil
}

// SetNoDataValueInt64 sets the nodata value directly.
func (rb *RasterBand) SetNoDataValueInt64(value int64) error {
	if err := rb.ds.checkWritable(); err != nil {
		return err
	}
	rb.noData = value
	rb.noDataSet = true
	return nil
}

// DeleteNoDataValue clears the nodata value.
func (rb *RasterBand) DeleteNoDataValue() error {
	if err := rb.ds.checkWritable(); err != nil {
		return err
	}
	rb.noDataSet = false
	rb.noData = 0
	return nil
}

// Thematic reports whether the band holds categorical imagery.
func (rb *RasterBand) Thematic() bool { return rb.thematic }

// SetThematic marks the band as categorical or continuous.
func (rb *RasterBand) SetThematic(thematic bool) error {
	if err := rb.ds.checkWritable(); err != nil {
		return err
	}
	rb.thematic = thematic
	return nil
}

// Statistics returns min, max, mean and standard deviation. Values are NaN
// when unset. Statistics are only retrievable once the file is closed and
// reopened read-only.
func (rb *RasterBand) Statistics() (min, max, mean, stdDev float64, err error) {
	if rb.ds.access != AccessRead {
		return 0, 0, 0, 0, fmt.Errorf("statistics are only available in readonly mode: %w", core.ErrNotSupported)
	}
	return rb.stats.min, rb.stats.max, rb.stats.mean, rb.stats.stdDev, nil
}

// SetStatistics stores externally computed statistics verbatim. It is only
// valid on a band in external-statistics mode; a streaming writer computes
// its own and rejects the call.
func (rb *RasterBand) SetStatistics(min, max, mean, stdDev float64) error {
	if err := rb.ds.checkWritable(); err != nil {
		return err
	}
	if !rb.external {
		return fmt.Errorf("statistics are computed from the written pixels: %w", core.ErrNotSupported)
	}
	rb.stats = bandStatistics{min: min, max: max, mean: mean, stdDev: stdDev}
	rb.updateStatisticsMetadata()
	return nil
}

// setExternalStatistics switches the band to carried-across statistics and
// disables histogram accumulation. Used by the copy path.
func (rb *RasterBand) setExternalStatistics(min, max, mean, stdDev float64) {
	rb.external = true
	rb.histogram = nil
	rb.stats = bandStatistics{min: min, max: max, mean: mean, stdDev: stdDev}
	rb.updateStatisticsMetadata()
}

// OverviewCount returns the number of declared overview levels.
func (rb *RasterBand) OverviewCount() int { return len(rb.overviews) }

// Overview returns the overview sub-band at position i (0-based; the
// sub-band's level is i+1).
func (rb *RasterBand) Overview(i int) (*Band, error) {
	if i < 0 || i >= len(rb.overviews) {
		return nil, fmt.Errorf("overview %d of %d: %w", i, len(rb.overviews), core.ErrNotFound)
	}
	return rb.overviews[i], nil
}

// Overviews returns the declared overview pyramid as specs.
func (rb *RasterBand) Overviews() []OverviewSpec {
	specs := make([]OverviewSpec, len(rb.overviews))
	for i, ovr := range rb.overviews {
		specs[i] = OverviewSpec{XSize: ovr.xSize, YSize: ovr.ySize, BlockSize: ovr.blockSize}
	}
	return specs
}

// CreateOverviews declares the band's overview levels. Overviews are
// created once, before any overview tile is written; a second attempt is
// rejected.
func (rb *RasterBand) CreateOverviews(specs []OverviewSpec) error {
	if err := rb.ds.checkWritable(); err != nil {
		return err
	}
	if rb.overviews != nil {
		return fmt.Errorf("overviews cannot be updated once set: %w", core.ErrNotSupported)
	}
	rb.overviews = make([]*Band, len(specs))
	for i, spec := range specs {
		blockSize := spec.BlockSize
		if blockSize <= 0 {
			blockSize = rb.blockSize
		}
		rb.overviews[i] = newBand(rb.ds, rb.band, uint64(i+1), spec.XSize, spec.YSize, blockSize)
	}
	return nil
}

// CreateOverviewsFromFactors declares overviews from decimation factors,
// each level sized to the full resolution divided by its factor.
func (rb *RasterBand) CreateOverviewsFromFactors(factors []int) error {
	specs := make([]OverviewSpec, len(factors))
	for i, factor := range factors {
		if factor < 1 {
			return fmt.Errorf("overview factor %d is not positive", factor)
		}
		specs[i] = OverviewSpec{XSize: rb.xSize / factor, YSize: rb.ySize / factor, BlockSize: rb.blockSize}
	}
	return rb.CreateOverviews(specs)
}

// ReadBlockLevel reads one tile at the given level: 0 for the band itself,
// 1..N for overviews.
func (rb *RasterBand) ReadBlockLevel(level, x, y int, data []byte) error {
	grid, err := rb.levelBand(level)
	if err != nil {
		return err
	}
	return grid.ReadBlock(x, y, data)
}

func (rb *RasterBand) levelBand(level int) (*Band, error) {
	if level == 0 {
		return &rb.Band, nil
	}
	return rb.Overview(level - 1)
}

// DefaultRAT returns the band's raster attribute table.
func (rb *RasterBand) DefaultRAT() *RAT { return rb.rat }

// SetDefaultRAT replaces the band's attribute table. Replacing the table
// on an opened band is not supported; columns are built through the
// existing RAT instead.
func (rb *RasterBand) SetDefaultRAT(*RAT) error {
	return fmt.Errorf("setting a new default RAT: %w", core.ErrNotSupported)
}

// GetMetadataItem returns the named metadata item from the default
// domain, or "" if absent. Non-default domains hold nothing.
func (rb *RasterBand) GetMetadataItem(name, domain string) string {
	if domain != "" {
		return ""
	}
	return rb.metadata[name]
}

// SetMetadataItem sets one metadata item in the default domain.
func (rb *RasterBand) SetMetadataItem(name, value, domain string) error {
	if err := rb.ds.checkWritable(); err != nil {
		return err
	}
	if domain != "" {
		return fmt.Errorf("metadata domain %q: %w", domain, core.ErrNotSupported)
	}
	rb.metadata[name] = value
	return nil
}

// Metadata returns a copy of the band's default-domain metadata.
func (rb *RasterBand) Metadata() map[string]string {
	meta := make(map[string]string, len(rb.metadata))
	for k, v := range rb.metadata {
		meta[k] = v
	}
	return meta
}

// SetMetadata merges the mapping into the band's default-domain metadata.
func (rb *RasterBand) SetMetadata(meta map[string]string, domain string) error {
	if err := rb.ds.checkWritable(); err != nil {
		return err
	}
	if domain != "" {
		return fmt.Errorf("metadata domain %q: %w", domain, core.ErrNotSupported)
	}
	for k, v := range meta {
		rb.metadata[k] = v
	}
	return nil
}
