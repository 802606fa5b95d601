package mog

import (
	"fmt"
	"strconv"
	"strings"
)

// Source maps a zoom range to the containers serving it. PathTemplate may
// use {x}, {y} and {z}, replaced by the container's anchor tile, which is the
// requested tile rescaled to Zooms.Min.
type Source struct {
	Zooms        ZoomRange
	PathTemplate string
}

// Collection resolves tiles to the container holding them.
type Collection struct {
	sources []Source
}

// NewCollection returns the usual two-source layout: one world-wide
// container for zooms 0 to worldMaxZoom and per-region containers following
// regionTemplate for regionZooms.
func NewCollection(worldURL string, worldMaxZoom int, regionTemplate string, regionZooms ZoomRange) (*Collection, error) {
	sources := []Source{{Zooms: ZoomRange{Min: 0, Max: worldMaxZoom}, PathTemplate: worldURL}}
	if regionTemplate != "" {
		sources = append(sources, Source{Zooms: regionZooms, PathTemplate: regionTemplate})
	}
	return NewCollectionFromSources(sources...)
}

// NewCollectionFromSources validates that no two sources share a zoom level.
func NewCollectionFromSources(sources ...Source) (*Collection, error) {
	for i, s := range sources {
		if s.Zooms.Min < 0 || s.Zooms.Max > MaxZoom || s.Zooms.Min > s.Zooms.Max {
			return nil, fmt.Errorf("source %d: invalid zoom range %s", i, s.Zooms)
		}
		if s.PathTemplate == "" {
			return nil, fmt.Errorf("source %d: empty path template", i)
		}
		for j := 0; j < i; j++ {
			o := sources[j].Zooms
			if s.Zooms.Min <= o.Max && o.Min <= s.Zooms.Max {
				return nil, fmt.Errorf("sources %d and %d overlap: %s and %s", j, i, o, s.Zooms)
			}
		}
	}
	return &Collection{sources: sources}, nil
}

// Sources returns the configured sources.
func (c *Collection) Sources() []Source {
	return c.sources
}

// Covers reports whether a source serves zoom.
func (c *Collection) Covers(zoom int) bool {
	_, ok := c.source(zoom)
	return ok
}

func (c *Collection) source(zoom int) (Source, bool) {
	for _, s := range c.sources {
		if s.Zooms.Contains(zoom) {
			return s, true
		}
	}
	return Source{}, false
}

// MogBoundsForTile returns the anchor tile of the container holding t.
// It panics when no source covers t.Zoom; check Covers first.
func (c *Collection) MogBoundsForTile(t TileCoordinates) TileCoordinates {
	s, ok := c.source(t.Zoom)
	if !ok {
		panic(fmt.Sprintf("mog: no source covers zoom %d", t.Zoom))
	}
	return t.OriginAtZoom(s.Zooms.Min)
}

// MogURL returns the location of the container anchored at bounds.
func (c *Collection) MogURL(bounds TileCoordinates) string {
	s, ok := c.source(bounds.Zoom)
	if !ok {
		panic(fmt.Sprintf("mog: no source covers zoom %d", bounds.Zoom))
	}
	return strings.NewReplacer(
		"{x}", strconv.Itoa(bounds.X),
		"{y}", strconv.Itoa(bounds.Y),
		"{z}", strconv.Itoa(bounds.Zoom),
	).Replace(s.PathTemplate)
}
