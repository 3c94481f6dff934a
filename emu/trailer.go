package emu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/INLOpen/emu/core"
)

// writeTrailer emits the self-describing footer and the trailing pointer.
// Called with the dataset lock held, write mode only. Field order is the
// read contract: pixel type, shape, per-band descriptors (nodata,
// statistics, overviews, RAT index, metadata), geo-transform, WKT, dataset
// metadata, tile index, trailer-start pointer.
func (ds *Dataset) writeTrailer() error {
	for _, band := range ds.bands {
		band.prepareForClose()
		band.rat.sortChunks()
	}

	trailerStart, err := ds.tell()
	if err != nil {
		return err
	}

	buf := core.BufferPool.Get()
	defer core.BufferPool.Put(buf)
	// binary.Write to a bytes.Buffer cannot fail; errors surface on the
	// single file write below.
	buf.WriteString(core.TrailerMagic)
	binary.Write(buf, binary.LittleEndian, uint64(ds.pixelType))
	binary.Write(buf, binary.LittleEndian, uint64(len(ds.bands)))
	binary.Write(buf, binary.LittleEndian, uint64(ds.xSize))
	binary.Write(buf, binary.LittleEndian, uint64(ds.ySize))
	binary.Write(buf, binary.LittleEndian, ds.tileSize)

	for _, band := range ds.bands {
		if err := ds.writeBandTrailer(buf, band); err != nil {
			return err
		}
	}

	for _, v := range ds.geoTransform {
		binary.Write(buf, binary.LittleEndian, math.Float64bits(v))
	}
	wkt := append([]byte(ds.projection), 0)
	binary.Write(buf, binary.LittleEndian, uint64(len(wkt)))
	buf.Write(wkt)

	if err := ds.writeMetadataBlob(buf, ds.metadata); err != nil {
		return err
	}

	binary.Write(buf, binary.LittleEndian, uint64(ds.tiles.count()))
	for key, val := range ds.tiles.entries {
		binary.Write(buf, binary.LittleEndian, val.Offset)
		binary.Write(buf, binary.LittleEndian, val.Size)
		binary.Write(buf, binary.LittleEndian, val.UncompressedSize)
		binary.Write(buf, binary.LittleEndian, key.OvrLevel)
		binary.Write(buf, binary.LittleEndian, key.Band)
		binary.Write(buf, binary.LittleEndian, key.X)
		binary.Write(buf, binary.LittleEndian, key.Y)
	}

	binary.Write(buf, binary.LittleEndian, uint64(trailerStart))

	ds.logger.Debug("Writing trailer",
		"path", ds.filename,
		"trailer_start", trailerStart,
		"trailer_len", buf.Len(),
		"tiles", ds.tiles.count())
	if _, err := ds.fp.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write trailer: %w", err)
	}
	return nil
}

func (ds *Dataset) writeBandTrailer(buf *bytes.Buffer, band *RasterBand) error {
	var noDataSet uint8
	if band.noDataSet {
		noDataSet = 1
	}
	buf.WriteByte(noDataSet)
	binary.Write(buf, binary.LittleEndian, band.noData)
	binary.Write(buf, binary.LittleEndian, math.Float64bits(band.stats.min))
	binary.Write(buf, binary.LittleEndian, math.Float64bits(band.stats.max))
	binary.Write(buf, binary.LittleEndian, math.Float64bits(band.stats.mean))
	binary.Write(buf, binary.LittleEndian, math.Float64bits(band.stats.stdDev))

	binary.Write(buf, binary.LittleEndian, uint32(len(band.overviews)))
	for _, ovr := range band.overviews {
		binary.Write(buf, binary.LittleEndian, uint64(ovr.xSize))
		binary.Write(buf, binary.LittleEndian, uint64(ovr.ySize))
		binary.Write(buf, binary.LittleEndian, uint16(ovr.blockSize))
	}

	rat := band.rat
	binary.Write(buf, binary.LittleEndian, rat.rowCount)
	binary.Write(buf, binary.LittleEndian, uint64(len(rat.cols)))
	for _, col := range rat.cols {
		binary.Write(buf, binary.LittleEndian, uint64(col.Type))
		buf.WriteString(col.Name)
		buf.WriteByte(0)
		binary.Write(buf, binary.LittleEndian, uint64(len(col.chunks)))
		for _, chunk := range col.chunks {
			binary.Write(buf, binary.LittleEndian, chunk.StartRow)
			binary.Write(buf, binary.LittleEndian, chunk.Length)
			binary.Write(buf, binary.LittleEndian, chunk.Offset)
			binary.Write(buf, binary.LittleEndian, chunk.CompressedSize)
			binary.Write(buf, binary.LittleEndian, chunk.UncompressedSize)
		}
	}

	return ds.writeMetadataBlob(buf, band.metadata)
}

// writeMetadataBlob emits a metadata mapping as uncompressed size, then,
// when nonzero, compressed size and compressed bytes.
func (ds *Dataset) writeMetadataBlob(buf *bytes.Buffer, meta map[string]string) error {
	payload, uncompressedSize, err := core.PackMetadata(ds.metaCompressor, meta)
	if err != nil {
		return err
	}
	binary.Write(buf, binary.LittleEndian, uncompressedSize)
	if uncompressedSize == 0 {
		return nil
	}
	binary.Write(buf, binary.LittleEndian, uint64(len(payload)))
	buf.Write(payload)
	return nil
}
