package emu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/INLOpen/emu/compressors"
	"github.com/INLOpen/emu/core"
)

// RATFieldType is a RAT column's value type. The numeric codes are stored
// raw in the trailer.
type RATFieldType uint64

const (
	RATInteger RATFieldType = 0
	RATReal    RATFieldType = 1
	RATString  RATFieldType = 2
)

func (t RATFieldType) String() string {
	switch t {
	case RATInteger:
		return "integer"
	case RATReal:
		return "real"
	case RATString:
		return "string"
	default:
		return "unknown"
	}
}

// RATFieldUsage describes what a column is for. Usage is not stored; it is
// inferred from the column name on read.
type RATFieldUsage int

const (
	UsageGeneric RATFieldUsage = iota
	UsagePixelCount
	UsageName
	UsageRed
	UsageGreen
	UsageBlue
	UsageAlpha
)

// usageNames is the fixed column-name table usage inference matches
// against.
var usageNames = map[string]RATFieldUsage{
	"Histogram": UsagePixelCount,
	"Name":      UsageName,
	"Red":       UsageRed,
	"Green":     UsageGreen,
	"Blue":      UsageBlue,
	"Alpha":     UsageAlpha,
}

func usageColumnName(usage RATFieldUsage) string {
	for name, u := range usageNames {
		if u == usage {
			return name
		}
	}
	return ""
}

// MaxRATChunkRows is the maximum uncompressed chunk length in rows. Writes
// longer than this are split into consecutive chunks.
const MaxRATChunkRows = 65536

// RATChunk records one contiguous row range of a column, stored as one
// compressed payload in the body.
type RATChunk struct {
	StartRow         uint64
	Length           uint64
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
}

// RATColumn is one typed column of the attribute table.
type RATColumn struct {
	Name   string
	Type   RATFieldType
	chunks []RATChunk
}

// Chunks returns a copy of the column's chunk list.
func (c *RATColumn) Chunks() []RATChunk {
	return append([]RATChunk(nil), c.chunks...)
}

// RAT is a per-band columnar raster attribute table with chunked
// compressed storage. It shares the owning dataset's file handle and lock.
type RAT struct {
	ds       *Dataset
	mu       *sync.Mutex
	cols     []*RATColumn
	rowCount uint64
}

func newRAT(ds *Dataset, mu *sync.Mutex) *RAT {
	return &RAT{ds: ds, mu: mu}
}

// ColumnCount returns the number of declared columns.
func (r *RAT) ColumnCount() int { return len(r.cols) }

// Column returns the column at index i.
func (r *RAT) Column(i int) (*RATColumn, error) {
	if i < 0 || i >= len(r.cols) {
		return nil, fmt.Errorf("column %d of %d: %w", i, len(r.cols), core.ErrNotFound)
	}
	return r.cols[i], nil
}

// UsageOfColumn infers a column's usage from its name.
func (r *RAT) UsageOfColumn(i int) RATFieldUsage {
	if i < 0 || i >= len(r.cols) {
		return UsageGeneric
	}
	if usage, ok := usageNames[r.cols[i].Name]; ok {
		return usage
	}
	return UsageGeneric
}

// ColumnOfUsage returns the index of the first column matching the usage,
// or -1 when none does.
func (r *RAT) ColumnOfUsage(usage RATFieldUsage) int {
	name := usageColumnName(usage)
	for i, col := range r.cols {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// RowCount returns the declared number of rows.
func (r *RAT) RowCount() uint64 { return r.rowCount }

// SetRowCount grows the table to count rows. The row count only ever
// increases; a smaller count is ignored.
func (r *RAT) SetRowCount(count uint64) error {
	if err := r.ds.checkWritable(); err != nil {
		return err
	}
	if count > r.rowCount {
		r.rowCount = count
	}
	return nil
}

// CreateColumn declares a new column. Columns are declared before use and
// start empty. The usage argument is advisory; on read, usage is inferred
// from the name.
func (r *RAT) CreateColumn(name string, fieldType RATFieldType, usage RATFieldUsage) error {
	if err := r.ds.checkWritable(); err != nil {
		return err
	}
	if fieldType > RATString {
		return fmt.Errorf("column type %d: %w", fieldType, core.ErrNotSupported)
	}
	_ = usage
	r.cols = append(r.cols, &RATColumn{Name: name, Type: fieldType})
	return nil
}

// clampRange limits [startRow, startRow+length) to the declared row count.
func (r *RAT) clampRange(startRow uint64, length int) int {
	if startRow >= r.rowCount {
		return 0
	}
	if startRow+uint64(length) > r.rowCount {
		return int(r.rowCount - startRow)
	}
	return length
}

// writeChunks appends the encoded rows as one or more compressed chunks.
// encode serializes rows [i, j) of the caller's buffer.
func (r *RAT) writeChunks(col *RATColumn, startRow uint64, rows int, encode func(i, j int) []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds := r.ds
	for done := 0; done < rows; {
		segment := rows - done
		if segment > MaxRATChunkRows {
			segment = MaxRATChunkRows
		}
		raw := encode(done, done+segment)

		offset, err := ds.tell()
		if err != nil {
			return err
		}
		if _, err := ds.fp.Write([]byte{byte(ds.compressor.Type())}); err != nil {
			return fmt.Errorf("failed to write compression type flag: %w", err)
		}
		compressed := core.BufferPool.Get()
		if err := ds.compressor.CompressTo(compressed, raw); err != nil {
			core.BufferPool.Put(compressed)
			return fmt.Errorf("failed to compress RAT chunk: %w", err)
		}
		if _, err := ds.fp.Write(compressed.Bytes()); err != nil {
			core.BufferPool.Put(compressed)
			return fmt.Errorf("failed to write RAT chunk: %w", err)
		}
		col.chunks = append(col.chunks, RATChunk{
			StartRow:         startRow + uint64(done),
			Length:           uint64(segment),
			Offset:           uint64(offset),
			CompressedSize:   uint64(compressed.Len()),
			UncompressedSize: uint64(len(raw)),
		})
		core.BufferPool.Put(compressed)
		done += segment
	}
	return nil
}

// readColumn streams the decompressed chunks overlapping
// [startRow, startRow+rows) through deliver. deliver receives the raw
// chunk bytes and the overlap's position: dst is the row offset in the
// caller's buffer, src the row offset within the chunk, n the row count.
func (r *RAT) readColumn(col *RATColumn, startRow uint64, rows int, deliver func(raw []byte, dst, src, n int) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ds := r.ds
	end := startRow + uint64(rows)
	for _, chunk := range col.chunks {
		if chunk.StartRow+chunk.Length <= startRow {
			continue
		}
		if chunk.StartRow >= end {
			break
		}
		if _, err := ds.fp.Seek(int64(chunk.Offset), io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to RAT chunk at offset %d: %w", chunk.Offset, err)
		}
		var compression [1]byte
		if _, err := io.ReadFull(ds.fp, compression[:]); err != nil {
			return fmt.Errorf("failed to read compression type flag: %w", err)
		}
		codec, err := compressors.ForType(core.CompressionType(compression[0]))
		if err != nil {
			return fmt.Errorf("failed to decode RAT chunk: %w", err)
		}
		payload := make([]byte, chunk.CompressedSize)
		if _, err := io.ReadFull(ds.fp, payload); err != nil {
			return fmt.Errorf("failed to read RAT chunk: %w", err)
		}
		raw, err := codec.Decompress(payload, int(chunk.UncompressedSize))
		if err != nil {
			return fmt.Errorf("failed to decompress RAT chunk: %w", err)
		}

		first := startRow
		if chunk.StartRow > first {
			first = chunk.StartRow
		}
		last := end
		if chunk.StartRow+chunk.Length < last {
			last = chunk.StartRow + chunk.Length
		}
		if err := deliver(raw, int(first-startRow), int(first-chunk.StartRow), int(last-first)); err != nil {
			return err
		}
	}
	return nil
}

func (r *RAT) writableColumn(i int) (*RATColumn, error) {
	if err := r.ds.checkWritable(); err != nil {
		return nil, err
	}
	return r.Column(i)
}

func (r *RAT) readableColumn(i int) (*RATColumn, error) {
	if r.ds.closed {
		return nil, core.ErrClosed
	}
	if r.ds.access != AccessRead {
		return nil, fmt.Errorf("RAT reads are only supported in readonly mode: %w", core.ErrNotSupported)
	}
	return r.Column(i)
}

// WriteIntColumn writes values starting at startRow. Integer values are
// widened to 64-bit signed on disk. Writing to a real column converts the
// values; writing to a string column fails.
func (r *RAT) WriteIntColumn(i int, startRow uint64, values []int64) error {
	col, err := r.writableColumn(i)
	if err != nil {
		return err
	}
	switch col.Type {
	case RATInteger:
	case RATReal:
		converted := make([]float64, len(values))
		for n, v := range values {
			converted[n] = float64(v)
		}
		return r.WriteFloatColumn(i, startRow, converted)
	default:
		return fmt.Errorf("column %q is %s, expected a numeric column: %w", col.Name, col.Type, core.ErrNotSupported)
	}
	rows := r.clampRange(startRow, len(values))
	if rows == 0 {
		return nil
	}
	return r.writeChunks(col, startRow, rows, func(i, j int) []byte {
		raw := make([]byte, 0, (j-i)*8)
		for _, v := range values[i:j] {
			raw = binary.LittleEndian.AppendUint64(raw, uint64(v))
		}
		return raw
	})
}

// WriteFloatColumn writes real values starting at startRow. Writing to an
// integer column converts the values; writing to a string column fails.
func (r *RAT) WriteFloatColumn(i int, startRow uint64, values []float64) error {
	col, err := r.writableColumn(i)
	if err != nil {
		return err
	}
	switch col.Type {
	case RATReal:
	case RATInteger:
		converted := make([]int64, len(values))
		for n, v := range values {
			converted[n] = int64(v)
		}
		return r.WriteIntColumn(i, startRow, converted)
	default:
		return fmt.Errorf("column %q is %s, expected a numeric column: %w", col.Name, col.Type, core.ErrNotSupported)
	}
	rows := r.clampRange(startRow, len(values))
	if rows == 0 {
		return nil
	}
	return r.writeChunks(col, startRow, rows, func(i, j int) []byte {
		raw := make([]byte, 0, (j-i)*8)
		for _, v := range values[i:j] {
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(v))
		}
		return raw
	})
}

// WriteStringColumn writes string values starting at startRow. Strings are
// serialized as concatenated null-terminated bytes in row order.
func (r *RAT) WriteStringColumn(i int, startRow uint64, values []string) error {
	col, err := r.writableColumn(i)
	if err != nil {
		return err
	}
	if col.Type != RATString {
		return fmt.Errorf("column %q is %s, expected string: %w", col.Name, col.Type, core.ErrNotSupported)
	}
	rows := r.clampRange(startRow, len(values))
	if rows == 0 {
		return nil
	}
	return r.writeChunks(col, startRow, rows, func(i, j int) []byte {
		var raw bytes.Buffer
		for _, v := range values[i:j] {
			raw.WriteString(v)
			raw.WriteByte(0)
		}
		return raw.Bytes()
	})
}

// ReadIntColumn fills out with rows starting at startRow. Rows beyond the
// written data are zero. Reading a real column converts the values.
func (r *RAT) ReadIntColumn(i int, startRow uint64, out []int64) error {
	col, err := r.readableColumn(i)
	if err != nil {
		return err
	}
	switch col.Type {
	case RATInteger:
	case RATReal:
		converted := make([]float64, len(out))
		if err := r.ReadFloatColumn(i, startRow, converted); err != nil {
			return err
		}
		for n, v := range converted {
			out[n] = int64(v)
		}
		return nil
	default:
		return fmt.Errorf("column %q is %s, expected a numeric column: %w", col.Name, col.Type, core.ErrNotSupported)
	}
	for n := range out {
		out[n] = 0
	}
	return r.readColumn(col, startRow, len(out), func(raw []byte, dst, src, n int) error {
		if len(raw) < (src+n)*8 {
			return fmt.Errorf("RAT chunk is %d bytes, expected at least %d: %w", len(raw), (src+n)*8, core.ErrCorrupted)
		}
		for k := 0; k < n; k++ {
			out[dst+k] = int64(binary.LittleEndian.Uint64(raw[(src+k)*8:]))
		}
		return nil
	})
}

// ReadFloatColumn fills out with rows starting at startRow. Rows beyond
// the written data are zero. Reading an integer column converts the
// values.
func (r *RAT) ReadFloatColumn(i int, startRow uint64, out []float64) error {
	col, err := r.readableColumn(i)
	if err != nil {
		return err
	}
	switch col.Type {
	case RATReal:
	case RATInteger:
		converted := make([]int64, len(out))
		if err := r.ReadIntColumn(i, startRow, converted); err != nil {
			return err
		}
		for n, v := range converted {
			out[n] = float64(v)
		}
		return nil
	default:
		return fmt.Errorf("column %q is %s, expected a numeric column: %w", col.Name, col.Type, core.ErrNotSupported)
	}
	for n := range out {
		out[n] = 0
	}
	return r.readColumn(col, startRow, len(out), func(raw []byte, dst, src, n int) error {
		if len(raw) < (src+n)*8 {
			return fmt.Errorf("RAT chunk is %d bytes, expected at least %d: %w", len(raw), (src+n)*8, core.ErrCorrupted)
		}
		for k := 0; k < n; k++ {
			out[dst+k] = math.Float64frombits(binary.LittleEndian.Uint64(raw[(src+k)*8:]))
		}
		return nil
	})
}

// ReadStringColumn fills out with rows starting at startRow. Rows beyond
// the written data are empty strings.
func (r *RAT) ReadStringColumn(i int, startRow uint64, out []string) error {
	col, err := r.readableColumn(i)
	if err != nil {
		return err
	}
	if col.Type != RATString {
		return fmt.Errorf("column %q is %s, expected string: %w", col.Name, col.Type, core.ErrNotSupported)
	}
	for n := range out {
		out[n] = ""
	}
	return r.readColumn(col, startRow, len(out), func(raw []byte, dst, src, n int) error {
		rows := bytes.Split(raw, []byte{0})
		if len(rows) < src+n {
			return fmt.Errorf("RAT string chunk holds %d rows, expected at least %d: %w", len(rows), src+n, core.ErrCorrupted)
		}
		for k := 0; k < n; k++ {
			out[dst+k] = string(rows[src+k])
		}
		return nil
	})
}

// sortChunks orders every column's chunk list by start row before the
// trailer is emitted.
func (r *RAT) sortChunks() {
	for _, col := range r.cols {
		sort.Slice(col.chunks, func(i, j int) bool {
			return col.chunks[i].StartRow < col.chunks[j].StartRow
		})
	}
}
