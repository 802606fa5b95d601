package mog

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level a TileCoordinates can address.
const MaxZoom = 30

const webMercatorLatLimit = 85.05112877980659

// TileCoordinates identifies one tile of the power-of-two web tile pyramid.
// The same type is used for pixel coordinates, where Zoom is the pixel zoom.
type TileCoordinates struct {
	X    int
	Y    int
	Zoom int
}

// NewTileCoordinates returns the tile (x, y) at zoom.
func NewTileCoordinates(x, y, zoom int) TileCoordinates {
	return TileCoordinates{X: x, Y: y, Zoom: zoom}
}

// FromLatLng returns the tile containing the point at the given zoom.
func FromLatLng(lat, lng float64, zoom int) TileCoordinates {
	lat = math.Max(-webMercatorLatLimit, math.Min(webMercatorLatLimit, lat))
	n := math.Exp2(float64(zoom))
	x := n * (lng + 180) / 360
	latRad := lat * math.Pi / 180
	y := n * (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2

	maxTile := int(n) - 1
	return TileCoordinates{
		X:    clamp(int(x), 0, maxTile),
		Y:    clamp(int(y), 0, maxTile),
		Zoom: zoom,
	}
}

// FromMaptile converts an orb tile.
func FromMaptile(t maptile.Tile) TileCoordinates {
	return TileCoordinates{X: int(t.X), Y: int(t.Y), Zoom: int(t.Z)}
}

// Maptile converts the coordinates to an orb tile.
func (c TileCoordinates) Maptile() maptile.Tile {
	return maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Zoom))
}

// Valid reports whether the coordinates address an existing tile.
func (c TileCoordinates) Valid() bool {
	if c.Zoom < 0 || c.Zoom > MaxZoom {
		return false
	}
	n := 1 << c.Zoom
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// OriginAtZoom rescales the coordinates to target. Zooming in returns the
// top-left descendant, zooming out the ancestor.
func (c TileCoordinates) OriginAtZoom(target int) TileCoordinates {
	switch {
	case target > c.Zoom:
		d := target - c.Zoom
		return TileCoordinates{X: c.X << d, Y: c.Y << d, Zoom: target}
	case target < c.Zoom:
		d := c.Zoom - target
		return TileCoordinates{X: c.X >> d, Y: c.Y >> d, Zoom: target}
	}
	return c
}

// PixelOrigin returns the global pixel coordinates of the tile's top-left
// corner, for tiles of size pixels a side.
func (c TileCoordinates) PixelOrigin(size int) (x, y int) {
	return c.X * size, c.Y * size
}

// FromPixel returns the tile at zoom holding the global pixel (px, py).
func FromPixel(px, py, size, zoom int) TileCoordinates {
	return TileCoordinates{X: px / size, Y: py / size, Zoom: zoom}
}

// Bound returns the geographic extent of the tile.
func (c TileCoordinates) Bound() orb.Bound {
	return c.Maptile().Bound()
}

func (c TileCoordinates) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Zoom, c.X, c.Y)
}

// TilesInBound returns every tile at zoom intersecting b, row by row.
// Bounds whose Min.X is greater than Max.X cross the antimeridian.
func TilesInBound(b orb.Bound, zoom int) []TileCoordinates {
	var boxes []orb.Bound
	if b.Min.X() > b.Max.X() {
		boxes = []orb.Bound{
			{Min: orb.Point{-180, b.Min.Y()}, Max: b.Max},
			{Min: b.Min, Max: orb.Point{180, b.Max.Y()}},
		}
	} else {
		boxes = []orb.Bound{b}
	}

	var tiles []TileCoordinates
	for _, box := range boxes {
		minLng := math.Max(-180, box.Min.X())
		maxLng := math.Min(180-1e-8, box.Max.X())
		// north-west corner has the smallest tile indices
		nw := FromLatLng(box.Max.Y(), minLng, zoom)
		se := FromLatLng(box.Min.Y(), maxLng, zoom)
		for y := nw.Y; y <= se.Y; y++ {
			for x := nw.X; x <= se.X; x++ {
				tiles = append(tiles, TileCoordinates{X: x, Y: y, Zoom: zoom})
			}
		}
	}
	return tiles
}

// ZoomRange is an inclusive range of zoom levels.
type ZoomRange struct {
	Min int
	Max int
}

// Contains reports whether zoom lies inside the range.
func (r ZoomRange) Contains(zoom int) bool {
	return zoom >= r.Min && zoom <= r.Max
}

func (r ZoomRange) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
