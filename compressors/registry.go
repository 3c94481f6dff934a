package compressors

import (
	"fmt"
	"sync"

	"github.com/INLOpen/emu/core"
)

var (
	registryOnce sync.Once
	registry     map[core.CompressionType]core.Compressor
	registryErr  error
)

func buildRegistry() {
	zstdC, err := NewZstdCompressor()
	if err != nil {
		registryErr = err
		return
	}
	registry = map[core.CompressionType]core.Compressor{
		core.CompressionNone:   NewNoCompressionCompressor(),
		core.CompressionZlib:   NewZlibCompressor(),
		core.CompressionSnappy: NewSnappyCompressor(),
		core.CompressionLZ4:    NewLz4Compressor(),
		core.CompressionZSTD:   zstdC,
	}
}

// ForType returns the shared Compressor for an on-disk compression byte.
// An unregistered value is a decode failure.
func ForType(t core.CompressionType) (core.Compressor, error) {
	registryOnce.Do(buildRegistry)
	if registryErr != nil {
		return nil, registryErr
	}
	c, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("unknown compression type %d", byte(t))
	}
	return c, nil
}
