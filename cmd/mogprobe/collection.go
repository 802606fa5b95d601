package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/akhenakh/mogtiles/mog"
)

// collectionFlags are the flags shared by every command to locate containers.
type collectionFlags struct {
	worldURL       string
	worldMaxZoom   int
	regionTemplate string
	regionZooms    string
	timeout        time.Duration
	verbose        bool
}

func (c *collectionFlags) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.worldURL, "world", "http://localhost:9000/mogs/world.tiff", "World container URL")
	f.IntVar(&c.worldMaxZoom, "world-max-zoom", 5, "Deepest zoom served by the world container")
	f.StringVar(&c.regionTemplate, "region", "http://localhost:9000/mogs/{z}/{x}/{y}.tiff", "Region container URL template, empty to disable")
	f.StringVar(&c.regionZooms, "region-zooms", "6-12", "Zoom range served by region containers")
	f.DurationVar(&c.timeout, "timeout", mog.DefaultReadTimeout, "HTTP read timeout")
	f.BoolVar(&c.verbose, "v", false, "Log fetch diagnostics")
}

func (c *collectionFlags) client() (*mog.Client, error) {
	zooms, err := parseZoomRange(c.regionZooms)
	if err != nil {
		return nil, err
	}
	collection, err := mog.NewCollection(c.worldURL, c.worldMaxZoom, c.regionTemplate, zooms)
	if err != nil {
		return nil, err
	}

	var w io.Writer = io.Discard
	if c.verbose {
		w = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	source := mog.NewHTTPSource(mog.DefaultConnectTimeout, c.timeout, mog.WithSourceLogger(logger))
	return mog.NewClient(collection, source, mog.WithLogger(logger))
}

// parseZoomRange parses "a-b" or a single zoom "a".
func parseZoomRange(s string) (mog.ZoomRange, error) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	minZoom, err := strconv.Atoi(lo)
	if err != nil {
		return mog.ZoomRange{}, fmt.Errorf("invalid zoom range %q", s)
	}
	maxZoom, err := strconv.Atoi(hi)
	if err != nil || maxZoom < minZoom {
		return mog.ZoomRange{}, fmt.Errorf("invalid zoom range %q", s)
	}
	return mog.ZoomRange{Min: minZoom, Max: maxZoom}, nil
}
