package emu

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/INLOpen/emu/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ProgressFunc reports copy progress as a fraction in [0, 1]. Returning
// false cancels the copy; the partially built destination is deleted.
type ProgressFunc func(complete float64) bool

// CopySource is the dataset a cloud-optimised copy reads from. An open
// EMU dataset satisfies it, as can any host-library dataset wrapper.
type CopySource interface {
	RasterXSize() int
	RasterYSize() int
	RasterCount() int
	PixelType() core.PixelType
	TileSize() uint32
	GeoTransform() [6]float64
	Projection() string
	Metadata() map[string]string
	CopyBand(n int) (CopySourceBand, error)
}

// CopySourceBand is one source band with its overview pyramid.
type CopySourceBand interface {
	NoDataValue() (int64, bool)
	Statistics() (min, max, mean, stdDev float64, err error)
	Metadata() map[string]string
	Thematic() bool
	Overviews() []OverviewSpec
	ReadBlockLevel(level, x, y int, data []byte) error
}

// CopyOptions configures CreateCopy.
type CopyOptions struct {
	// Compressor encodes the destination payloads. Nil selects zlib.
	Compressor core.Compressor
	Progress   ProgressFunc
	Logger     *slog.Logger
	Tracer     trace.Tracer
}

// CreateCopy produces a cloud-optimised file from a source dataset. Every
// band's overview pyramid is pre-declared from the source's sizes and
// block sizes, then tiles are copied coarsest level first and the full
// resolution last, so a reader streaming the file from the start sees
// coarse renderings early. Metadata is carried across after the tiles.
// The returned dataset is reopened read-only on the finished file.
//
// The strict flag is accepted for interface compatibility and unused.
func CreateCopy(filename string, src CopySource, strict bool, opts *CopyOptions) (*Dataset, error) {
	_ = strict
	if opts == nil {
		opts = &CopyOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var span trace.Span
	if opts.Tracer != nil {
		_, span = opts.Tracer.Start(context.Background(), "emu.CreateCopy")
		span.SetAttributes(attribute.String("emu.copy.target", filename))
		defer span.End()
	}
	fail := func(err error) (*Dataset, error) {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	ds, err := create(filename, src.RasterXSize(), src.RasterYSize(), src.RasterCount(), src.PixelType(), core.FlagCloudOptimised, &CreateOptions{
		TileSize:   src.TileSize(),
		Compressor: opts.Compressor,
		Logger:     logger,
		Tracer:     opts.Tracer,
	})
	if err != nil {
		return fail(err)
	}

	if err := ds.SetGeoTransform(src.GeoTransform()); err != nil {
		return fail(err)
	}
	if err := ds.SetProjection(src.Projection()); err != nil {
		return fail(err)
	}

	// Pre-declare every band's pyramid and carry nodata and statistics
	// across; the statistics regime switches to external so the write
	// path does not accumulate its own histogram.
	maxLevels := 0
	totalTiles := 0
	srcBands := make([]CopySourceBand, src.RasterCount())
	for n := 1; n <= src.RasterCount(); n++ {
		sb, err := src.CopyBand(n)
		if err != nil {
			ds.abort()
			return fail(err)
		}
		srcBands[n-1] = sb
		db, err := ds.Band(n)
		if err != nil {
			ds.abort()
			return fail(err)
		}
		if err := db.CreateOverviews(sb.Overviews()); err != nil {
			ds.abort()
			return fail(err)
		}
		if nodata, ok := sb.NoDataValue(); ok {
			if err := db.SetNoDataValueInt64(nodata); err != nil {
				ds.abort()
				return fail(err)
			}
		}
		if err := db.SetThematic(sb.Thematic()); err != nil {
			ds.abort()
			return fail(err)
		}
		min, max, mean, stdDev, err := sb.Statistics()
		if err != nil {
			nan := math.NaN()
			min, max, mean, stdDev = nan, nan, nan, nan
		}
		db.setExternalStatistics(min, max, mean, stdDev)

		if c := db.OverviewCount(); c > maxLevels {
			maxLevels = c
		}
		totalTiles += db.BlocksAcross() * db.BlocksDown()
		for _, ovr := range db.overviews {
			totalTiles += ovr.BlocksAcross() * ovr.BlocksDown()
		}
	}

	// Coarsest overviews first, full resolution last.
	copied := 0
	for level := maxLevels; level >= 0; level-- {
		for n := 1; n <= src.RasterCount(); n++ {
			db := ds.bands[n-1]
			if level > db.OverviewCount() {
				continue
			}
			grid, err := db.levelBand(level)
			if err != nil {
				ds.abort()
				return fail(err)
			}
			buf := make([]byte, grid.fullBlockBytes())
			for y := 0; y < grid.BlocksDown(); y++ {
				for x := 0; x < grid.BlocksAcross(); x++ {
					if err := srcBands[n-1].ReadBlockLevel(level, x, y, buf); err != nil {
						ds.abort()
						return fail(fmt.Errorf("failed to read source block %d,%d at level %d band %d: %w", x, y, level, n, err))
					}
					if err := grid.WriteBlock(x, y, buf); err != nil {
						ds.abort()
						return fail(err)
					}
					copied++
					if opts.Progress != nil && !opts.Progress(float64(copied)/float64(totalTiles)) {
						logger.Warn("Copy cancelled by progress callback.", "path", filename, "copied", copied, "total", totalTiles)
						ds.abort()
						return fail(core.ErrCancelled)
					}
				}
			}
		}
	}

	// Metadata travels last, once all pixels are on disk.
	for n := 1; n <= src.RasterCount(); n++ {
		if err := ds.bands[n-1].SetMetadata(srcBands[n-1].Metadata(), ""); err != nil {
			ds.abort()
			return fail(err)
		}
	}
	if err := ds.SetMetadata(src.Metadata(), ""); err != nil {
		ds.abort()
		return fail(err)
	}

	if err := ds.Close(); err != nil {
		return fail(err)
	}
	if span != nil {
		span.SetAttributes(attribute.Int("emu.copy.tiles", copied))
	}
	return Open(filename, &OpenOptions{Logger: logger, Tracer: opts.Tracer})
}
