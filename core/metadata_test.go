package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identityCompressor stands in for the compressors package, which cannot
// be imported here without a cycle.
type identityCompressor struct{}

func (identityCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

func (identityCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	_, err := dst.Write(src)
	return err
}

func (identityCompressor) Decompress(data []byte, uncompressedSize int) ([]byte, error) {
	return data[:uncompressedSize], nil
}

func (identityCompressor) Type() CompressionType { return CompressionNone }

func TestPackMetadataFiltersReservedKeys(t *testing.T) {
	payload, uncompressedSize, err := PackMetadata(identityCompressor{}, map[string]string{
		"FOO":                "bar",
		MetaStatisticsMinimum: "99",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("FOO=bar\x00\x00"), payload, "reserved keys must not reach the payload")
	assert.Equal(t, uint64(len(payload)), uncompressedSize)
}

func TestPackMetadataEmptyAfterFilter(t *testing.T) {
	payload, uncompressedSize, err := PackMetadata(identityCompressor{}, map[string]string{
		MetaStatisticsMean:   "1.0",
		MetaStatisticsStdDev: "2.0",
		MetaCloudOptimised:   "YES",
	})
	require.NoError(t, err)
	assert.Empty(t, payload)
	assert.Zero(t, uncompressedSize, "caller records input-size zero for no metadata")
}

func TestPackMetadataSortedAndRoundTrip(t *testing.T) {
	in := map[string]string{
		"B":     "2",
		"A":     "1",
		"EMPTY": "",
	}
	payload, uncompressedSize, err := PackMetadata(identityCompressor{}, in)
	require.NoError(t, err)
	assert.Equal(t, []byte("A=1\x00B=2\x00EMPTY=\x00\x00"), payload)

	out, err := UnpackMetadata(identityCompressor{}, payload, uncompressedSize)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnpackMetadataIgnoresTokensWithoutEquals(t *testing.T) {
	raw := []byte("A=1\x00garbage\x00B=2\x00\x00")
	out, err := UnpackMetadata(identityCompressor{}, raw, uint64(len(raw)))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, out)
}

func TestUnpackMetadataZeroSize(t *testing.T) {
	out, err := UnpackMetadata(identityCompressor{}, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestIsReservedMetadataKey(t *testing.T) {
	for _, key := range []string{
		MetaStatisticsMinimum, MetaStatisticsMaximum, MetaStatisticsMean,
		MetaStatisticsStdDev, MetaCloudOptimised,
	} {
		if !IsReservedMetadataKey(key) {
			t.Errorf("IsReservedMetadataKey(%q) = false, want true", key)
		}
	}
	if IsReservedMetadataKey("STATISTICS_MODE") {
		t.Error("STATISTICS_MODE is not reserved")
	}
}
