package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/INLOpen/emu/core"
	"github.com/klauspost/compress/zlib"
)

// ZlibCompressor implements the Compressor interface using zlib DEFLATE at
// the best-ratio setting. This is the container's default on-disk codec.
type ZlibCompressor struct {
	writerPool sync.Pool
}

var _ core.Compressor = (*ZlibCompressor)(nil)

func NewZlibCompressor() *ZlibCompressor {
	return &ZlibCompressor{
		writerPool: sync.Pool{
			New: func() interface{} {
				// The writer is reset onto the real destination before use.
				w, err := zlib.NewWriterLevel(io.Discard, zlib.BestCompression)
				if err != nil {
					// BestCompression is a valid level; this cannot happen.
					return nil
				}
				return w
			},
		},
	}
}

func (c *ZlibCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressTo compresses src into dst using a pooled zlib writer.
func (c *ZlibCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	w, ok := c.writerPool.Get().(*zlib.Writer)
	if !ok || w == nil {
		return fmt.Errorf("failed to obtain zlib writer from pool")
	}
	defer c.writerPool.Put(w)

	w.Reset(dst)
	if _, err := w.Write(src); err != nil {
		return fmt.Errorf("zlib compress write error: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("zlib compress close error: %w", err)
	}
	return nil
}

func (c *ZlibCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib decompress error: %w", err)
	}
	defer r.Close()

	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("zlib payload shorter than expected %d bytes: %w", uncompressedSize, err)
	}
	// The caller-supplied length is trusted; trailing data means it lied.
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n != 0 {
		return nil, fmt.Errorf("zlib payload longer than expected %d bytes", uncompressedSize)
	}
	return out, nil
}

func (c *ZlibCompressor) Type() core.CompressionType {
	return core.CompressionZlib
}
