package emu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/INLOpen/emu/compressors"
	"github.com/INLOpen/emu/core"
	"github.com/INLOpen/emu/sys"
	"go.opentelemetry.io/otel/trace"
)

// OpenOptions configures Open.
type OpenOptions struct {
	// Update requests a writable handle. Existing files can never be
	// updated; setting it fails with ErrNotSupported before the file is
	// touched.
	Update bool
	Logger *slog.Logger
	Tracer trace.Tracer
}

// Open opens a finished file read-only. The handle stays open for the
// lifetime of the dataset; tiles and RAT chunks are fetched on demand
// with one seek each, everything else comes from the trailer.
func Open(filename string, opts *OpenOptions) (ds *Dataset, err error) {
	if opts == nil {
		opts = &OpenOptions{}
	}
	if opts.Update {
		return nil, fmt.Errorf("updating an existing file: %w", core.ErrNotSupported)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !strings.EqualFold(extension(filename), "emu") {
		return nil, &core.FormatError{Path: filename, Reason: "extension is not .emu"}
	}

	fp, err := sys.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer func() {
		if err != nil {
			fp.Close()
		}
	}()

	header, err := core.ReadFileHeader(fp)
	if err != nil {
		return nil, &core.FormatError{Path: filename, Reason: err.Error()}
	}

	stat, err := fp.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", filename, err)
	}
	fileSize := stat.Size()
	minSize := int64(core.HeaderSize + len(core.TrailerMagic) + core.TrailerPointerSize)
	if fileSize < minSize {
		return nil, &core.FormatError{Path: filename, Reason: fmt.Sprintf("file is %d bytes, too small to hold a trailer", fileSize)}
	}

	var pointer [core.TrailerPointerSize]byte
	if _, err := fp.ReadAt(pointer[:], fileSize-core.TrailerPointerSize); err != nil {
		return nil, fmt.Errorf("failed to read trailer pointer from %s: %w", filename, err)
	}
	trailerStart := int64(binary.LittleEndian.Uint64(pointer[:]))
	if trailerStart < int64(core.HeaderSize) || trailerStart > fileSize-core.TrailerPointerSize-int64(len(core.TrailerMagic)) {
		return nil, &core.FormatError{Path: filename, Reason: fmt.Sprintf("trailer pointer %d outside file of %d bytes", trailerStart, fileSize)}
	}

	raw := make([]byte, fileSize-core.TrailerPointerSize-trailerStart)
	if _, err := fp.ReadAt(raw, trailerStart); err != nil {
		return nil, fmt.Errorf("failed to read trailer from %s: %w", filename, err)
	}

	metaCompressor, err := compressors.ForType(core.CompressionZlib)
	if err != nil {
		return nil, err
	}

	ds = &Dataset{
		mu:             &sync.Mutex{},
		fp:             fp,
		filename:       filename,
		access:         AccessRead,
		cloudOptimised: header.CloudOptimised(),
		tiles:          newTileIndex(),
		compressor:     metaCompressor,
		metaCompressor: metaCompressor,
		logger:         logger,
		tracer:         opts.Tracer,
	}
	if err := ds.readTrailer(raw); err != nil {
		return nil, err
	}
	logger.Debug("Opened dataset",
		"path", filename,
		"size", fmt.Sprintf("%dx%dx%d", ds.xSize, ds.ySize, len(ds.bands)),
		"pixel_type", ds.pixelType.String(),
		"tiles", ds.tiles.count(),
		"cloud_optimised", ds.cloudOptimised)
	return ds, nil
}

func extension(filename string) string {
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		return filename[i+1:]
	}
	return ""
}

// trailerReader parses trailer fields with a sticky error so the call
// sites read as the layout does.
type trailerReader struct {
	r   *bytes.Reader
	err error
}

func (tr *trailerReader) u8() uint8 {
	if tr.err != nil {
		return 0
	}
	b, err := tr.r.ReadByte()
	if err != nil {
		tr.err = err
	}
	return b
}

func (tr *trailerReader) take(n int) []byte {
	if tr.err != nil {
		return nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(tr.r, buf); err != nil {
		tr.err = err
		return nil
	}
	return buf
}

func (tr *trailerReader) u16() uint16 {
	b := tr.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (tr *trailerReader) u32() uint32 {
	b := tr.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (tr *trailerReader) u64() uint64 {
	b := tr.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (tr *trailerReader) i64() int64 {
	return int64(tr.u64())
}

func (tr *trailerReader) f64() float64 {
	return math.Float64frombits(tr.u64())
}

func (tr *trailerReader) cstr() string {
	if tr.err != nil {
		return ""
	}
	var sb strings.Builder
	for {
		b, err := tr.r.ReadByte()
		if err != nil {
			tr.err = err
			return ""
		}
		if b == 0 {
			return sb.String()
		}
		sb.WriteByte(b)
	}
}

// readTrailer rebuilds the dataset from the trailer bytes, excluding the
// trailing pointer.
func (ds *Dataset) readTrailer(raw []byte) error {
	tr := &trailerReader{r: bytes.NewReader(raw)}

	if magic := tr.take(len(core.TrailerMagic)); !bytes.Equal(magic, []byte(core.TrailerMagic)) {
		return &core.FormatError{Path: ds.filename, Reason: "trailer marker missing at declared offset"}
	}

	pixelType := core.PixelType(tr.u64())
	bandCount := tr.u64()
	ds.xSize = int(tr.u64())
	ds.ySize = int(tr.u64())
	ds.tileSize = tr.u32()
	if tr.err == nil && !pixelType.Valid() {
		return &core.FormatError{Path: ds.filename, Reason: fmt.Sprintf("unknown pixel type %d", pixelType)}
	}
	ds.pixelType = pixelType

	if tr.err == nil && bandCount > uint64(len(raw)) {
		// A plausible band count cannot exceed the trailer byte count.
		return &core.FormatError{Path: ds.filename, Reason: fmt.Sprintf("band count %d inconsistent with trailer size", bandCount)}
	}
	ds.bands = make([]*RasterBand, 0, bandCount)
	for i := 0; i < int(bandCount) && tr.err == nil; i++ {
		band := newRasterBand(ds, i+1, ds.xSize, ds.ySize, int(ds.tileSize))
		ds.readBandTrailer(tr, band)
		ds.bands = append(ds.bands, band)
	}

	for i := range ds.geoTransform {
		ds.geoTransform[i] = tr.f64()
	}
	wktLen := tr.u64()
	wkt := tr.take(int(wktLen))
	if tr.err == nil && len(wkt) > 0 {
		ds.projection = string(bytes.TrimRight(wkt, "\x00"))
	}

	meta, err := ds.readMetadataBlob(tr)
	if err != nil {
		return err
	}
	ds.metadata = meta
	if ds.cloudOptimised {
		ds.metadata[core.MetaCloudOptimised] = "YES"
	} else {
		ds.metadata[core.MetaCloudOptimised] = "NO"
	}

	tileCount := tr.u64()
	if tr.err == nil && tileCount > uint64(len(raw)) {
		return &core.FormatError{Path: ds.filename, Reason: fmt.Sprintf("tile count %d inconsistent with trailer size", tileCount)}
	}
	for i := uint64(0); i < tileCount && tr.err == nil; i++ {
		var val TileValue
		var key TileKey
		val.Offset = tr.u64()
		val.Size = tr.u64()
		val.UncompressedSize = tr.u64()
		key.OvrLevel = tr.u64()
		key.Band = tr.u64()
		key.X = tr.u64()
		key.Y = tr.u64()
		ds.tiles.set(key, val)
	}

	if tr.err != nil {
		return &core.FormatError{Path: ds.filename, Reason: fmt.Sprintf("trailer truncated: %v", tr.err)}
	}
	return nil
}

func (ds *Dataset) readBandTrailer(tr *trailerReader, band *RasterBand) {
	band.noDataSet = tr.u8() != 0
	band.noData = tr.i64()
	band.stats.min = tr.f64()
	band.stats.max = tr.f64()
	band.stats.mean = tr.f64()
	band.stats.stdDev = tr.f64()
	// Statistics came from the trailer whether they were histogram-derived
	// or carried across; the histogram never runs on a read handle.
	band.external = true

	ovrCount := tr.u32()
	for i := 0; i < int(ovrCount) && tr.err == nil; i++ {
		xSize := tr.u64()
		ySize := tr.u64()
		blockSize := tr.u16()
		band.overviews = append(band.overviews, newBand(ds, band.band, uint64(i+1), int(xSize), int(ySize), int(blockSize)))
	}

	rat := band.rat
	rat.rowCount = tr.u64()
	colCount := tr.u64()
	for i := uint64(0); i < colCount && tr.err == nil; i++ {
		col := &RATColumn{
			Type: RATFieldType(tr.u64()),
			Name: tr.cstr(),
		}
		chunkCount := tr.u64()
		for c := uint64(0); c < chunkCount && tr.err == nil; c++ {
			col.chunks = append(col.chunks, RATChunk{
				StartRow:         tr.u64(),
				Length:           tr.u64(),
				Offset:           tr.u64(),
				CompressedSize:   tr.u64(),
				UncompressedSize: tr.u64(),
			})
		}
		rat.cols = append(rat.cols, col)
	}

	meta, err := ds.readMetadataBlob(tr)
	if err != nil {
		tr.err = fmt.Errorf("band %d metadata: %w", band.band, err)
		return
	}
	band.metadata = meta
	band.updateStatisticsMetadata()
	band.thematic = band.metadata[metaLayerType] == "thematic"
}

func (ds *Dataset) readMetadataBlob(tr *trailerReader) (map[string]string, error) {
	uncompressedSize := tr.u64()
	if tr.err != nil || uncompressedSize == 0 {
		return make(map[string]string), nil
	}
	compressedSize := tr.u64()
	payload := tr.take(int(compressedSize))
	if tr.err != nil {
		return make(map[string]string), nil
	}
	return core.UnpackMetadata(ds.metaCompressor, payload, uncompressedSize)
}
