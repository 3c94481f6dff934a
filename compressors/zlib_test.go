package compressors

import (
	"bytes"
	"testing"

	"github.com/INLOpen/emu/core"
)

func TestZlibCompressor(t *testing.T) {
	compressor := NewZlibCompressor()

	if compressor.Type() != core.CompressionZlib {
		t.Errorf("ZlibCompressor.Type() got = %v, want %v", compressor.Type(), core.CompressionZlib)
	}

	testCases := []struct {
		name string
		data []byte
	}{
		{
			name: "simple string",
			data: []byte("hello world, this is a test of the zlib compressor"),
		},
		{
			name: "repetitive data",
			data: bytes.Repeat([]byte{7}, 512*512),
		},
		{
			name: "empty data",
			data: []byte{},
		},
		{
			name: "random data (less compressible)",
			data: []byte("82f7b5a3e1d9c0f4b8a6d2c1e0f3a9b8d7c6e5f4a3b2c1d0e9f8a7b6c5d4e3f2"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			compressed, err := compressor.Compress(tc.data)
			if err != nil {
				t.Fatalf("Compress() returned an unexpected error: %v", err)
			}

			decompressed, err := compressor.Decompress(compressed, len(tc.data))
			if err != nil {
				t.Fatalf("Decompress() returned an unexpected error: %v", err)
			}
			if !bytes.Equal(tc.data, decompressed) {
				t.Errorf("Decompressed data does not match original data")
			}

			var compressedBuf bytes.Buffer
			if err := compressor.CompressTo(&compressedBuf, tc.data); err != nil {
				t.Fatalf("CompressTo() returned an unexpected error: %v", err)
			}
			decompressedFromTo, err := compressor.Decompress(compressedBuf.Bytes(), len(tc.data))
			if err != nil {
				t.Fatalf("Decompress() after CompressTo() returned an unexpected error: %v", err)
			}
			if !bytes.Equal(tc.data, decompressedFromTo) {
				t.Errorf("Decompressed data from CompressTo does not match original data")
			}

			if tc.name == "repetitive data" && len(compressed) >= len(tc.data) {
				t.Errorf("zlib did not shrink repetitive data: original %d, compressed %d", len(tc.data), len(compressed))
			}
		})
	}
}

func TestZlibDecompressSizeMismatch(t *testing.T) {
	compressor := NewZlibCompressor()
	compressed, err := compressor.Compress([]byte("twelve bytes"))
	if err != nil {
		t.Fatalf("Compress() returned an unexpected error: %v", err)
	}

	if _, err := compressor.Decompress(compressed, 100); err == nil {
		t.Error("Decompress() with an oversized expectation should fail")
	}
	if _, err := compressor.Decompress(compressed, 5); err == nil {
		t.Error("Decompress() with an undersized expectation should fail")
	}
}

func TestZlibDecompressGarbage(t *testing.T) {
	compressor := NewZlibCompressor()
	if _, err := compressor.Decompress([]byte("this is not a zlib stream"), 10); err == nil {
		t.Error("Decompress() should fail on a corrupt stream")
	}
}
