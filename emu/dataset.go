package emu

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/emu/compressors"
	"github.com/INLOpen/emu/core"
	"github.com/INLOpen/emu/sys"
	"go.opentelemetry.io/otel/trace"
)

// Access is the mode a dataset handle was opened with.
type Access int

const (
	// AccessRead is a handle to a closed file; only reads are allowed.
	AccessRead Access = iota
	// AccessUpdate is a handle that is still being written.
	AccessUpdate
)

// DefaultTileSize is the edge length of full-resolution tiles when the
// creation options leave it unset.
const DefaultTileSize = 512

// Dataset is one EMU file: a streamed body of compressed tile and RAT
// payloads plus the trailer that describes them. A dataset is either being
// written (created, tiles appended, closed exactly once) or open read-only
// on a finished file. All components of a dataset serialize file access
// through one shared mutex; a writer is appending to a single stream where
// the next payload must start at the current file offset.
type Dataset struct {
	mu *sync.Mutex
	fp sys.FileHandle

	filename string
	access   Access
	closed   bool

	pixelType      core.PixelType
	xSize          int
	ySize          int
	tileSize       uint32
	cloudOptimised bool

	bands []*RasterBand
	tiles *tileIndex

	geoTransform [6]float64
	projection   string
	metadata     map[string]string

	compressor core.Compressor
	// metaCompressor packs metadata blobs; always zlib, the container's
	// canonical codec, since the trailer stores no algorithm byte for
	// metadata sections.
	metaCompressor core.Compressor

	logger *slog.Logger
	tracer trace.Tracer
}

// CreateOptions configures Create. The zero value selects a 512-pixel tile
// size and zlib compression.
type CreateOptions struct {
	TileSize uint32
	// Compressor encodes tile and RAT payloads. Nil selects zlib at the
	// best-ratio setting.
	Compressor core.Compressor
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// Create makes a new streamed-mode file and returns a writable dataset.
// Width, height and band count may all be zero; such a file still closes
// into a parseable trailer.
func Create(filename string, xSize, ySize, bandCount int, pixelType core.PixelType, opts *CreateOptions) (*Dataset, error) {
	return create(filename, xSize, ySize, bandCount, pixelType, 0, opts)
}

func create(filename string, xSize, ySize, bandCount int, pixelType core.PixelType, flags uint32, opts *CreateOptions) (*Dataset, error) {
	if opts == nil {
		opts = &CreateOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if xSize < 0 || ySize < 0 || bandCount < 0 {
		return nil, fmt.Errorf("invalid raster dimensions %dx%dx%d", xSize, ySize, bandCount)
	}
	if !pixelType.Valid() {
		return nil, fmt.Errorf("pixel type %d: %w", pixelType, core.ErrNotSupported)
	}
	tileSize := opts.TileSize
	if tileSize == 0 {
		tileSize = DefaultTileSize
	}
	metaCompressor, err := compressors.ForType(core.CompressionZlib)
	if err != nil {
		return nil, err
	}
	compressor := opts.Compressor
	if compressor == nil {
		compressor = metaCompressor
	}

	fp, err := createTarget(filename, expectedFileSize(xSize, ySize, bandCount, pixelType))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filename, err)
	}
	if err := core.WriteFileHeader(fp, flags); err != nil {
		fp.Close()
		sys.Remove(filename)
		return nil, err
	}

	ds := &Dataset{
		mu:             &sync.Mutex{},
		fp:             fp,
		filename:       filename,
		access:         AccessUpdate,
		pixelType:      pixelType,
		xSize:          xSize,
		ySize:          ySize,
		tileSize:       tileSize,
		cloudOptimised: flags&core.FlagCloudOptimised != 0,
		tiles:          newTileIndex(),
		metadata:       make(map[string]string),
		compressor:     compressor,
		metaCompressor: metaCompressor,
		logger:         logger,
		tracer:         opts.Tracer,
	}
	if ds.cloudOptimised {
		ds.metadata[core.MetaCloudOptimised] = "YES"
	} else {
		ds.metadata[core.MetaCloudOptimised] = "NO"
	}
	ds.bands = make([]*RasterBand, bandCount)
	for i := range ds.bands {
		ds.bands[i] = newRasterBand(ds, i+1, xSize, ySize, int(tileSize))
	}
	return ds, nil
}

// expectedFileSize approximates the output size for multipart sizing. The
// factor of one half reflects a conservative average compression ratio.
func expectedFileSize(xSize, ySize, bandCount int, pixelType core.PixelType) int64 {
	return int64(xSize) * int64(ySize) * int64(bandCount) * int64(pixelType.Size()) / 2
}

// createTarget opens the output for writing. Object-store targets are
// routed through the host I/O layer's multipart hook with a part size
// derived from the expected output.
func createTarget(filename string, expectedSize int64) (sys.FileHandle, error) {
	if !sys.IsObjectStoreURI(filename) {
		return sys.Create(filename)
	}
	partSize, err := sys.MultipartChunkSize(expectedSize)
	if err != nil {
		return nil, err
	}
	return sys.CreateMultipart(filename, partSize)
}

func (ds *Dataset) RasterXSize() int          { return ds.xSize }
func (ds *Dataset) RasterYSize() int          { return ds.ySize }
func (ds *Dataset) RasterCount() int          { return len(ds.bands) }
func (ds *Dataset) PixelType() core.PixelType { return ds.pixelType }
func (ds *Dataset) TileSize() uint32          { return ds.tileSize }
func (ds *Dataset) CloudOptimised() bool      { return ds.cloudOptimised }
func (ds *Dataset) Filename() string          { return ds.filename }

// Band returns the 1-based band.
func (ds *Dataset) Band(n int) (*RasterBand, error) {
	if n < 1 || n > len(ds.bands) {
		return nil, fmt.Errorf("band %d of %d: %w", n, len(ds.bands), core.ErrNotFound)
	}
	return ds.bands[n-1], nil
}

// TileLocation returns the recorded body location of one tile: its byte
// offset, compressed size and uncompressed size.
func (ds *Dataset) TileLocation(level uint64, band, x, y int) (TileValue, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.tiles.get(TileKey{OvrLevel: level, Band: uint64(band), X: uint64(x), Y: uint64(y)})
}

// CopyBand adapts Band to the CopySource interface.
func (ds *Dataset) CopyBand(n int) (CopySourceBand, error) {
	return ds.Band(n)
}

// GeoTransform returns the 6-element affine transform.
func (ds *Dataset) GeoTransform() [6]float64 { return ds.geoTransform }

// SetGeoTransform sets the affine transform.
func (ds *Dataset) SetGeoTransform(transform [6]float64) error {
	if err := ds.checkWritable(); err != nil {
		return err
	}
	ds.geoTransform = transform
	return nil
}

// Projection returns the spatial reference as well-known text.
func (ds *Dataset) Projection() string { return ds.projection }

// SetProjection sets the spatial reference from well-known text.
func (ds *Dataset) SetProjection(wkt string) error {
	if err := ds.checkWritable(); err != nil {
		return err
	}
	ds.projection = wkt
	return nil
}

// GetMetadataItem returns the named dataset metadata item from the default
// domain, or "" if absent.
func (ds *Dataset) GetMetadataItem(name, domain string) string {
	if domain != "" {
		return ""
	}
	return ds.metadata[name]
}

// SetMetadataItem sets one dataset metadata item in the default domain.
func (ds *Dataset) SetMetadataItem(name, value, domain string) error {
	if err := ds.checkWritable(); err != nil {
		return err
	}
	if domain != "" {
		return fmt.Errorf("metadata domain %q: %w", domain, core.ErrNotSupported)
	}
	ds.metadata[name] = value
	return nil
}

// Metadata returns a copy of the dataset's default-domain metadata.
func (ds *Dataset) Metadata() map[string]string {
	meta := make(map[string]string, len(ds.metadata))
	for k, v := range ds.metadata {
		meta[k] = v
	}
	return meta
}

// SetMetadata merges the mapping into the dataset's default-domain
// metadata.
func (ds *Dataset) SetMetadata(meta map[string]string, domain string) error {
	if err := ds.checkWritable(); err != nil {
		return err
	}
	if domain != "" {
		return fmt.Errorf("metadata domain %q: %w", domain, core.ErrNotSupported)
	}
	for k, v := range meta {
		ds.metadata[k] = v
	}
	return nil
}

// checkWritable gates every mutating operation.
func (ds *Dataset) checkWritable() error {
	if ds.closed {
		return core.ErrClosed
	}
	if ds.access != AccessUpdate {
		return fmt.Errorf("dataset is open readonly: %w", core.ErrNotSupported)
	}
	return nil
}

// tell returns the current file position. The caller holds the lock.
func (ds *Dataset) tell() (int64, error) {
	pos, err := ds.fp.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("failed to query file position: %w", err)
	}
	return pos, nil
}

// Close finalizes the dataset. In write mode it emits the trailer and the
// trailing pointer; the transition is irreversible and further writes are
// rejected. Closing twice is a no-op.
func (ds *Dataset) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return nil
	}

	if ds.access == AccessUpdate {
		if err := ds.writeTrailer(); err != nil {
			ds.fp.Close()
			ds.closed = true
			return err
		}
		if err := ds.fp.Sync(); err != nil {
			ds.fp.Close()
			ds.closed = true
			return fmt.Errorf("failed to sync %s: %w", ds.filename, err)
		}
	}
	ds.closed = true
	if err := ds.fp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", ds.filename, err)
	}
	return nil
}

// abort closes and deletes a partially written file. Used when a copy is
// cancelled; no consistent file remains.
func (ds *Dataset) abort() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return
	}
	ds.closed = true
	ds.fp.Close()
	if err := sys.Remove(ds.filename); err != nil {
		ds.logger.Warn("Failed to remove partial file during abort.", "path", ds.filename, "error", err)
	}
}
