package mog

import (
	"fmt"
	"io"
)

// Image is one resolution level of a container: a grid of equally sized
// compressed tiles anchored at Origin.
type Image struct {
	TileWidth   int
	TileHeight  int
	ImageWidth  int
	ImageHeight int
	Compression int

	// Origin is the top-left tile of the grid, at this level's zoom.
	Origin TileCoordinates

	TileOffsets []int64
	ByteCounts  []int64

	// SharedHeader holds the JPEG tables common to every tile of the level.
	SharedHeader []byte
}

// Zoom returns the zoom level served by the image.
func (img *Image) Zoom() int {
	return img.Origin.Zoom
}

// TilesAcross returns the number of tile columns.
func (img *Image) TilesAcross() int {
	return (img.ImageWidth + img.TileWidth - 1) / img.TileWidth
}

// TilesDown returns the number of tile rows.
func (img *Image) TilesDown() int {
	return (img.ImageHeight + img.TileHeight - 1) / img.TileHeight
}

// Contains reports whether the tile at c is part of this level's grid.
func (img *Image) Contains(c TileCoordinates) bool {
	if c.Zoom != img.Zoom() {
		return false
	}
	dx, dy := c.X-img.Origin.X, c.Y-img.Origin.Y
	return dx >= 0 && dx < img.TilesAcross() && dy >= 0 && dy < img.TilesDown()
}

// TileMetadata resolves c to the byte range of its compressed data.
// It returns false when c is outside the grid or the tile holds no data.
func (img *Image) TileMetadata(c TileCoordinates) (TileMetadata, bool) {
	if !img.Contains(c) {
		return TileMetadata{}, false
	}
	idx := (c.Y-img.Origin.Y)*img.TilesAcross() + (c.X - img.Origin.X)
	offset, count := img.TileOffsets[idx], img.ByteCounts[idx]
	if count <= 0 {
		return TileMetadata{}, false
	}
	return TileMetadata{
		Coordinates:  c,
		Width:        img.TileWidth,
		Height:       img.TileHeight,
		Compression:  img.Compression,
		SharedHeader: img.SharedHeader,
		ByteRange:    ByteRange{From: offset, To: offset + count - 1},
	}, true
}

// newImages builds one Image per directory. The first directory is the
// highest resolution; the last one sits at the anchor's zoom.
func newImages(dirs []directory, anchor TileCoordinates) ([]*Image, error) {
	images := make([]*Image, 0, len(dirs))
	topZoom := anchor.Zoom + len(dirs) - 1
	for i, d := range dirs {
		img, err := newImage(d, anchor.OriginAtZoom(topZoom-i))
		if err != nil {
			return nil, fmt.Errorf("level %d (IFD at offset %d): %w", i, d.offset, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func newImage(d directory, origin TileCoordinates) (*Image, error) {
	img := &Image{Origin: origin, Compression: CompressionNone}

	dims := []struct {
		tag Tag
		dst *int
	}{
		{ImageWidth, &img.ImageWidth},
		{ImageLength, &img.ImageHeight},
		{TileWidth, &img.TileWidth},
		{TileLength, &img.TileHeight},
	}
	for _, dim := range dims {
		v, ok := d.getUint(dim.tag)
		if !ok || v == 0 {
			return nil, fmt.Errorf("%w: missing or invalid tag: %s", ErrMalformed, dim.tag)
		}
		*dim.dst = int(v)
	}

	if c, ok := d.getUint(Compression); ok {
		img.Compression = int(c)
	}

	var ok bool
	if img.TileOffsets, ok = d.getInt64Slice(TileOffsets); !ok {
		return nil, fmt.Errorf("%w: missing or invalid tag: %s", ErrMalformed, TileOffsets)
	}
	if img.ByteCounts, ok = d.getInt64Slice(TileByteCounts); !ok {
		return nil, fmt.Errorf("%w: missing or invalid tag: %s", ErrMalformed, TileByteCounts)
	}

	tiles := img.TilesAcross() * img.TilesDown()
	if len(img.TileOffsets) != tiles || len(img.ByteCounts) != tiles {
		return nil, fmt.Errorf("%w: %dx%d tile grid but %d offsets and %d byte counts",
			ErrMalformed, img.TilesAcross(), img.TilesDown(), len(img.TileOffsets), len(img.ByteCounts))
	}

	if tables, ok := d.getBytes(JPEGTables); ok {
		img.SharedHeader = tables
	}
	return img, nil
}

// Mog is one parsed container: its levels ordered from highest to lowest
// resolution. A Mog is immutable once built.
type Mog struct {
	URL    string
	Anchor TileCoordinates
	Images []*Image
}

// Image returns the level serving zoom.
func (m *Mog) Image(zoom int) (*Image, bool) {
	for _, img := range m.Images {
		if img.Zoom() == zoom {
			return img, true
		}
	}
	return nil, false
}

// ZoomRange returns the zoom levels the container serves.
func (m *Mog) ZoomRange() ZoomRange {
	return ZoomRange{Min: m.Images[len(m.Images)-1].Zoom(), Max: m.Images[0].Zoom()}
}

// TileMetadata resolves c against the level at c.Zoom.
func (m *Mog) TileMetadata(c TileCoordinates) (TileMetadata, bool) {
	img, ok := m.Image(c.Zoom)
	if !ok {
		return TileMetadata{}, false
	}
	return img.TileMetadata(c)
}

// ParseMog reads the header of one container from r, a stream positioned
// at the container's first byte. anchor is the tile the container covers at
// its lowest zoom.
func ParseMog(r io.Reader, url string, anchor TileCoordinates) (*Mog, error) {
	mog, _, err := parseMog(newSeekableReader(r, 0), url, anchor)
	return mog, err
}

func parseMog(r *seekableReader, url string, anchor TileCoordinates) (*Mog, int64, error) {
	dirs, err := readDirectories(r)
	if err != nil {
		return nil, r.BytesRead(), err
	}
	if len(dirs) == 0 {
		return nil, r.BytesRead(), fmt.Errorf("%w: no color image directories", ErrMalformed)
	}
	images, err := newImages(dirs, anchor)
	if err != nil {
		return nil, r.BytesRead(), err
	}
	return &Mog{URL: url, Anchor: anchor, Images: images}, r.BytesRead(), nil
}
