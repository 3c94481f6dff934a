package core

import (
	"bytes"
)

// CompressionType identifies the compression algorithm used for a payload.
// The value is stored on disk as a single byte in front of every tile and
// RAT chunk so a reader knows how to decompress it.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionZlib   CompressionType = 1
	CompressionSnappy CompressionType = 2
	CompressionLZ4    CompressionType = 3
	CompressionZSTD   CompressionType = 4
)

// Compressor defines the interface for compression and decompression algorithms.
type Compressor interface {
	// Compress compresses the input data.
	Compress(data []byte) ([]byte, error)
	// CompressTo compresses src into dst, reusing dst's storage.
	CompressTo(dst *bytes.Buffer, src []byte) error
	// Decompress decompresses data. The caller supplies the expected
	// uncompressed size; a mismatch is reported as a decode failure.
	Decompress(data []byte, uncompressedSize int) ([]byte, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// PixelType identifies the numeric type of a band's pixels. The values
// follow the GDAL data-type enumeration so they can be stored raw in the
// trailer. The container treats the type as opaque apart from the
// byte-size arithmetic used when packing tiles.
type PixelType uint64

const (
	PixelUnknown PixelType = 0
	PixelUint8   PixelType = 1
	PixelUint16  PixelType = 2
	PixelInt16   PixelType = 3
	PixelUint32  PixelType = 4
	PixelInt32   PixelType = 5
	PixelFloat32 PixelType = 6
	PixelFloat64 PixelType = 7
	PixelUint64  PixelType = 12
	PixelInt64   PixelType = 13
	PixelInt8    PixelType = 14
)

// Size returns the width of one pixel in bytes, or 0 for an unknown type.
func (pt PixelType) Size() int {
	switch pt {
	case PixelUint8, PixelInt8:
		return 1
	case PixelUint16, PixelInt16:
		return 2
	case PixelUint32, PixelInt32, PixelFloat32:
		return 4
	case PixelUint64, PixelInt64, PixelFloat64:
		return 8
	default:
		return 0
	}
}

// Valid reports whether pt is one of the supported pixel types.
func (pt PixelType) Valid() bool {
	return pt.Size() != 0
}

func (pt PixelType) String() string {
	switch pt {
	case PixelUint8:
		return "Byte"
	case PixelInt8:
		return "Int8"
	case PixelUint16:
		return "UInt16"
	case PixelInt16:
		return "Int16"
	case PixelUint32:
		return "UInt32"
	case PixelInt32:
		return "Int32"
	case PixelUint64:
		return "UInt64"
	case PixelInt64:
		return "Int64"
	case PixelFloat32:
		return "Float32"
	case PixelFloat64:
		return "Float64"
	default:
		return "Unknown"
	}
}
