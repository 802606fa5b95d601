package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"github.com/paulmach/orb"
	"github.com/schollz/progressbar/v3"

	"github.com/akhenakh/mogtiles/mog"
)

type prefetchCmd struct {
	collectionFlags
	bbox      string
	zooms     string
	outputDir string
}

func (c *prefetchCmd) Name() string     { return "prefetch" }
func (c *prefetchCmd) Synopsis() string { return "download every tile of a bounding box" }
func (c *prefetchCmd) Usage() string {
	return "mogprobe prefetch -bbox <minLon,minLat,maxLon,maxLat> -zooms <a-b> -o <dir>\n"
}
func (c *prefetchCmd) SetFlags(f *flag.FlagSet) {
	c.collectionFlags.SetFlags(f)
	f.StringVar(&c.bbox, "bbox", "", "Bounding box, minLon,minLat,maxLon,maxLat")
	f.StringVar(&c.zooms, "zooms", "", "Zoom range, a-b")
	f.StringVar(&c.outputDir, "o", "tiles", "Output directory, tiles are written as z/x/y.jpg")
}

func (c *prefetchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	bound, err := parseBBox(c.bbox)
	if err != nil {
		log.Println(err)
		return subcommands.ExitUsageError
	}
	zooms, err := parseZoomRange(c.zooms)
	if err != nil {
		log.Println(err)
		return subcommands.ExitUsageError
	}
	client, err := c.client()
	if err != nil {
		log.Println(err)
		return subcommands.ExitUsageError
	}

	total := 0
	for z := zooms.Min; z <= zooms.Max; z++ {
		total += len(mog.TilesInBound(bound, z))
	}
	bar := progressbar.NewOptions(total, progressbar.OptionShowIts(), progressbar.OptionShowCount())

	written, err := writeTiles(ctx, client, bound, zooms, c.outputDir, func() { bar.Add(1) })
	bar.Finish()
	fmt.Println()
	if err != nil {
		log.Println(err)
		return subcommands.ExitFailure
	}
	fmt.Printf("%d of %d tiles available\n", written, total)
	return subcommands.ExitSuccess
}

// writeTiles stores every available tile of bound as dir/z/x/y.jpg and
// returns how many were written. It stops when ctx is cancelled.
func writeTiles(ctx context.Context, client *mog.Client, bound orb.Bound, zooms mog.ZoomRange, dir string, progress func()) (int, error) {
	written := 0
	for coords, data := range client.GetTiles(ctx, bound, zooms) {
		path := filepath.Join(dir, strconv.Itoa(coords.Zoom), strconv.Itoa(coords.X), strconv.Itoa(coords.Y)+".jpg")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, err
		}
		written++
		progress()
	}
	if err := ctx.Err(); err != nil {
		return written, fmt.Errorf("prefetch interrupted after %d tiles: %w", written, err)
	}
	return written, nil
}

// parseBBox parses minLon,minLat,maxLon,maxLat. minLon may exceed maxLon
// for boxes crossing the antimeridian.
func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("invalid bbox %q, want minLon,minLat,maxLon,maxLat", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bbox %q: %w", s, err)
		}
		v[i] = f
	}
	if v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("invalid bbox %q: minLat is above maxLat", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
