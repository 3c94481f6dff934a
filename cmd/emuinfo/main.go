// emuinfo dumps the trailer of an EMU container: dataset shape, per-band
// statistics, overview pyramid, RAT columns and the tile count.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/INLOpen/emu/emu"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-v] file.emu\n", os.Args[0])
		os.Exit(2)
	}
	filename := flag.Arg(0)

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ds, err := emu.Open(filename, &emu.OpenOptions{Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "emuinfo: %v\n", err)
		os.Exit(1)
	}
	defer ds.Close()

	fmt.Printf("Driver: %s (%s)\n", emu.DriverName, emu.DriverLongName)
	fmt.Printf("Size: %d x %d x %d\n", ds.RasterXSize(), ds.RasterYSize(), ds.RasterCount())
	fmt.Printf("Pixel type: %s\n", ds.PixelType())
	fmt.Printf("Tile size: %d\n", ds.TileSize())
	fmt.Printf("Cloud optimised: %v\n", ds.CloudOptimised())
	if wkt := ds.Projection(); wkt != "" {
		fmt.Printf("Projection: %s\n", wkt)
	}
	gt := ds.GeoTransform()
	fmt.Printf("Geo transform: %v\n", gt)
	for name, value := range ds.Metadata() {
		fmt.Printf("Metadata: %s=%s\n", name, value)
	}

	tiles := 0
	for n := 1; n <= ds.RasterCount(); n++ {
		band, err := ds.Band(n)
		if err != nil {
			fmt.Fprintf(os.Stderr, "emuinfo: %v\n", err)
			os.Exit(1)
		}
		for level := 0; level <= band.OverviewCount(); level++ {
			grid := &band.Band
			if level > 0 {
				grid, _ = band.Overview(level - 1)
			}
			for y := 0; y < grid.BlocksDown(); y++ {
				for x := 0; x < grid.BlocksAcross(); x++ {
					if _, ok := ds.TileLocation(uint64(level), n, x, y); ok {
						tiles++
					}
				}
			}
		}
		fmt.Printf("Band %d:\n", n)
		if nodata, ok := band.NoDataValue(); ok {
			fmt.Printf("  NoData: %d\n", nodata)
		}
		min, max, mean, stdDev, err := band.Statistics()
		if err == nil {
			fmt.Printf("  Statistics: min=%g max=%g mean=%g stddev=%g\n", min, max, mean, stdDev)
		}
		fmt.Printf("  Thematic: %v\n", band.Thematic())
		for i, ovr := range band.Overviews() {
			fmt.Printf("  Overview %d: %d x %d, block %d\n", i+1, ovr.XSize, ovr.YSize, ovr.BlockSize)
		}
		rat := band.DefaultRAT()
		if rat.ColumnCount() > 0 {
			fmt.Printf("  RAT: %d rows\n", rat.RowCount())
			for i := 0; i < rat.ColumnCount(); i++ {
				col, _ := rat.Column(i)
				fmt.Printf("    Column %d: %s (%s), %d chunks\n", i, col.Name, col.Type, len(col.Chunks()))
			}
		}
	}
	fmt.Printf("Tiles: %d\n", tiles)
}
