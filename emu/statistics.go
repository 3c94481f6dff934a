package emu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/INLOpen/emu/core"
)

// Metadata items derived from the histogram alongside the four trailer
// statistics. These are not reserved keys, so they travel in the band's
// compressed metadata blob.
const (
	metaStatisticsMode   = "STATISTICS_MODE"
	metaStatisticsMedian = "STATISTICS_MEDIAN"
	metaLayerType        = "LAYER_TYPE"
)

// histogramPixelType reports whether the band accumulates a histogram
// while writing: integer types up to 16 bits wide only. Wider and floating
// types leave statistics unset.
func histogramPixelType(pt core.PixelType) bool {
	switch pt {
	case core.PixelUint8, core.PixelInt8, core.PixelUint16, core.PixelInt16:
		return true
	default:
		return false
	}
}

// accumulate counts the n pixels of a tight tile buffer into the band's
// histogram. Called with the dataset lock held, full-resolution level only.
func (rb *RasterBand) accumulate(pixels []byte, n int) {
	if rb.external || !histogramPixelType(rb.pixelType) {
		return
	}
	if rb.histogram == nil {
		rb.histogram = make(map[int64]uint64)
	}
	for i := 0; i < n; i++ {
		var v int64
		switch rb.pixelType {
		case core.PixelUint8:
			v = int64(pixels[i])
		case core.PixelInt8:
			v = int64(int8(pixels[i]))
		case core.PixelUint16:
			v = int64(binary.LittleEndian.Uint16(pixels[i*2:]))
		case core.PixelInt16:
			v = int64(int16(binary.LittleEndian.Uint16(pixels[i*2:])))
		}
		if rb.noDataSet && v == rb.noData {
			continue
		}
		rb.histogram[v]++
	}
}

// deriveStatistics folds the histogram into min, max, mean, standard
// deviation, mode and median. The histogram is an ordered mapping keyed by
// pixel value; median and mode iteration walks keys in ascending order.
func (rb *RasterBand) deriveStatistics() {
	if rb.external || len(rb.histogram) == 0 {
		return
	}
	keys := make([]int64, 0, len(rb.histogram))
	for k := range rb.histogram {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var total, modeCount uint64
	var sum float64
	mode := keys[0]
	for _, k := range keys {
		c := rb.histogram[k]
		total += c
		sum += float64(k) * float64(c)
		if c > modeCount {
			modeCount = c
			mode = k
		}
	}
	mean := sum / float64(total)

	var variance float64
	median := keys[len(keys)-1]
	var cumulative uint64
	medianFound := false
	for _, k := range keys {
		c := rb.histogram[k]
		diff := float64(k) - mean
		variance += float64(c) * diff * diff
		if !medianFound {
			cumulative += c
			if float64(cumulative) > float64(total)/2 {
				median = k
				medianFound = true
			}
		}
	}
	variance /= float64(total)

	rb.stats = bandStatistics{
		min:    float64(keys[0]),
		max:    float64(keys[len(keys)-1]),
		mean:   mean,
		stdDev: math.Sqrt(variance),
	}
	rb.mode = mode
	rb.median = median
	rb.histoStats = true
}

// updateStatisticsMetadata mirrors the typed statistics into the band's
// metadata mapping. The reserved keys among them are filtered out of the
// serialized blob and reconstructed from the typed trailer fields on read.
func (rb *RasterBand) updateStatisticsMetadata() {
	rb.metadata[core.MetaStatisticsMinimum] = fmt.Sprintf("%f", rb.stats.min)
	rb.metadata[core.MetaStatisticsMaximum] = fmt.Sprintf("%f", rb.stats.max)
	rb.metadata[core.MetaStatisticsMean] = fmt.Sprintf("%f", rb.stats.mean)
	rb.metadata[core.MetaStatisticsStdDev] = fmt.Sprintf("%f", rb.stats.stdDev)
	if rb.histoStats {
		rb.metadata[metaStatisticsMode] = strconv.FormatInt(rb.mode, 10)
		rb.metadata[metaStatisticsMedian] = strconv.FormatInt(rb.median, 10)
	}
}

// prepareForClose derives final statistics and freshens the metadata
// items that describe the band before the trailer is assembled.
func (rb *RasterBand) prepareForClose() {
	rb.deriveStatistics()
	rb.updateStatisticsMetadata()
	if rb.thematic {
		rb.metadata[metaLayerType] = "thematic"
	} else {
		rb.metadata[metaLayerType] = "athematic"
	}
}
