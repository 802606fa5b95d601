package mog

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
)

func TestFromLatLng(t *testing.T) {
	testCases := []struct {
		name     string
		lat, lng float64
		zoom     int
		want     TileCoordinates
	}{
		{name: "Null island at zoom 0", lat: 0, lng: 0, zoom: 0, want: NewTileCoordinates(0, 0, 0)},
		{name: "Null island at zoom 1", lat: 0, lng: 0, zoom: 1, want: NewTileCoordinates(1, 1, 1)},
		{name: "Paris", lat: 48.8566, lng: 2.3522, zoom: 10, want: NewTileCoordinates(518, 352, 10)},
		{name: "North of mercator limit is clamped", lat: 89.9, lng: -180, zoom: 3, want: NewTileCoordinates(0, 0, 3)},
		{name: "South of mercator limit is clamped", lat: -89.9, lng: 179.9, zoom: 3, want: NewTileCoordinates(7, 7, 3)},
		{name: "Antimeridian east edge stays in grid", lat: 0, lng: 180, zoom: 2, want: NewTileCoordinates(3, 2, 2)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := FromLatLng(tc.lat, tc.lng, tc.zoom)
			if got != tc.want {
				t.Errorf("FromLatLng(%f, %f, %d)\n got: %s\nwant: %s", tc.lat, tc.lng, tc.zoom, got, tc.want)
			}
		})
	}
}

func TestMaptileRoundTrip(t *testing.T) {
	for _, c := range []TileCoordinates{
		NewTileCoordinates(0, 0, 0),
		NewTileCoordinates(518, 352, 10),
		NewTileCoordinates(1<<20-1, 12345, 20),
	} {
		if got := FromMaptile(c.Maptile()); got != c {
			t.Errorf("FromMaptile(%s.Maptile()) = %s", c, got)
		}
	}
}

func TestValid(t *testing.T) {
	testCases := []struct {
		c    TileCoordinates
		want bool
	}{
		{NewTileCoordinates(0, 0, 0), true},
		{NewTileCoordinates(1, 0, 0), false},
		{NewTileCoordinates(31, 31, 5), true},
		{NewTileCoordinates(32, 0, 5), false},
		{NewTileCoordinates(-1, 0, 5), false},
		{NewTileCoordinates(0, 0, -1), false},
		{NewTileCoordinates(0, 0, MaxZoom+1), false},
	}
	for _, tc := range testCases {
		if got := tc.c.Valid(); got != tc.want {
			t.Errorf("%s.Valid() = %v, want %v", tc.c, got, tc.want)
		}
	}
}

func TestOriginAtZoom(t *testing.T) {
	c := NewTileCoordinates(5, 9, 4)
	testCases := []struct {
		target int
		want   TileCoordinates
	}{
		{4, c},
		{6, NewTileCoordinates(20, 36, 6)},
		{2, NewTileCoordinates(1, 2, 2)},
		{0, NewTileCoordinates(0, 0, 0)},
	}
	for _, tc := range testCases {
		if got := c.OriginAtZoom(tc.target); got != tc.want {
			t.Errorf("%s.OriginAtZoom(%d) = %s, want %s", c, tc.target, got, tc.want)
		}
	}
}

func TestOriginAtZoomRoundTrip(t *testing.T) {
	for _, c := range []TileCoordinates{
		NewTileCoordinates(0, 0, 0),
		NewTileCoordinates(5, 9, 4),
		NewTileCoordinates(518, 352, 10),
	} {
		for z := c.Zoom; z <= c.Zoom+8; z++ {
			if got := c.OriginAtZoom(z).OriginAtZoom(c.Zoom); got != c {
				t.Errorf("%s.OriginAtZoom(%d).OriginAtZoom(%d) = %s", c, z, c.Zoom, got)
			}
		}
	}
}

func TestPixel(t *testing.T) {
	c := NewTileCoordinates(5, 9, 4)
	x, y := c.PixelOrigin(256)
	if x != 1280 || y != 2304 {
		t.Errorf("PixelOrigin(256) = (%d, %d), want (1280, 2304)", x, y)
	}
	if got := FromPixel(x+255, y+255, 256, 4); got != c {
		t.Errorf("FromPixel() = %s, want %s", got, c)
	}
	if got := FromPixel(x+256, y, 256, 4); got != NewTileCoordinates(6, 9, 4) {
		t.Errorf("FromPixel() on the next tile = %s", got)
	}
}

func TestBound(t *testing.T) {
	b := NewTileCoordinates(0, 0, 0).Bound()
	const epsilon = 1e-6
	if math.Abs(b.Min.X()+180) > epsilon || math.Abs(b.Max.X()-180) > epsilon {
		t.Errorf("unexpected longitude span: %v", b)
	}
	if math.Abs(b.Max.Y()-webMercatorLatLimit) > 1e-4 || math.Abs(b.Min.Y()+webMercatorLatLimit) > 1e-4 {
		t.Errorf("unexpected latitude span: %v", b)
	}
}

func TestTilesInBound(t *testing.T) {
	testCases := []struct {
		name  string
		bound orb.Bound
		zoom  int
		want  []TileCoordinates
	}{
		{
			name:  "Box around null island",
			bound: orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}},
			zoom:  1,
			want: []TileCoordinates{
				NewTileCoordinates(0, 0, 1), NewTileCoordinates(1, 0, 1),
				NewTileCoordinates(0, 1, 1), NewTileCoordinates(1, 1, 1),
			},
		},
		{
			name:  "Single tile",
			bound: NewTileCoordinates(518, 352, 10).Bound().Pad(-1e-6),
			zoom:  10,
			want:  []TileCoordinates{NewTileCoordinates(518, 352, 10)},
		},
		{
			name:  "Crossing the antimeridian",
			bound: orb.Bound{Min: orb.Point{170, -1}, Max: orb.Point{-170, 1}},
			zoom:  2,
			want: []TileCoordinates{
				NewTileCoordinates(0, 1, 2), NewTileCoordinates(0, 2, 2),
				NewTileCoordinates(3, 1, 2), NewTileCoordinates(3, 2, 2),
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := TilesInBound(tc.bound, tc.zoom)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("TilesInBound() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestZoomRange(t *testing.T) {
	r := ZoomRange{Min: 6, Max: 12}
	for zoom, want := range map[int]bool{5: false, 6: true, 9: true, 12: true, 13: false} {
		if got := r.Contains(zoom); got != want {
			t.Errorf("%s.Contains(%d) = %v, want %v", r, zoom, got, want)
		}
	}
	if r.String() != "6-12" {
		t.Errorf("String() = %q", r.String())
	}
}
