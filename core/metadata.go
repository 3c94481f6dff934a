package core

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Reserved metadata keys. These never travel in the compressed metadata
// payload; they are reconstructed from the trailer's typed fields on read.
const (
	MetaStatisticsMinimum = "STATISTICS_MINIMUM"
	MetaStatisticsMaximum = "STATISTICS_MAXIMUM"
	MetaStatisticsMean    = "STATISTICS_MEAN"
	MetaStatisticsStdDev  = "STATISTICS_STDDEV"
	MetaCloudOptimised    = "CLOUD_OPTIMISED"
)

var reservedMetadataKeys = map[string]struct{}{
	MetaStatisticsMinimum: {},
	MetaStatisticsMaximum: {},
	MetaStatisticsMean:    {},
	MetaStatisticsStdDev:  {},
	MetaCloudOptimised:    {},
}

// IsReservedMetadataKey reports whether key is one of the reserved keys.
func IsReservedMetadataKey(key string) bool {
	_, ok := reservedMetadataKeys[key]
	return ok
}

// PackMetadata serializes a name=value mapping into one compressed payload.
// Reserved keys are dropped. Each surviving entry is written as
// "key=value\x00" and the whole blob carries one extra terminating NUL.
// If no entries survive the filter both return values are empty; the
// caller records an input size of zero and readers treat that as
// "no metadata". Keys are emitted in sorted order so output is stable.
func PackMetadata(c Compressor, meta map[string]string) (payload []byte, uncompressedSize uint64, err error) {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if IsReservedMetadataKey(k) {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, 0, nil
	}
	sort.Strings(keys)

	raw := BufferPool.Get()
	defer BufferPool.Put(raw)
	for _, k := range keys {
		raw.WriteString(k)
		raw.WriteByte('=')
		raw.WriteString(meta[k])
		raw.WriteByte(0)
	}
	raw.WriteByte(0)

	payload, err = c.Compress(raw.Bytes())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to compress metadata: %w", err)
	}
	// Compress may alias the input for the identity algorithm.
	payload = append([]byte(nil), payload...)
	return payload, uint64(raw.Len()), nil
}

// UnpackMetadata reverses PackMetadata. Tokens without an '=' are ignored.
func UnpackMetadata(c Compressor, payload []byte, uncompressedSize uint64) (map[string]string, error) {
	meta := make(map[string]string)
	if uncompressedSize == 0 {
		return meta, nil
	}
	raw, err := c.Decompress(payload, int(uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress metadata: %w", err)
	}
	for _, token := range bytes.Split(raw, []byte{0}) {
		if len(token) == 0 {
			continue
		}
		name, value, found := strings.Cut(string(token), "=")
		if !found {
			continue
		}
		meta[name] = value
	}
	return meta, nil
}
