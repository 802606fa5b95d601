package mog

import "fmt"

// ByteRange is an inclusive range of byte offsets.
type ByteRange struct {
	From int64
	To   int64
}

// Len returns the number of bytes covered.
func (r ByteRange) Len() int64 {
	return r.To - r.From + 1
}

// Header returns the value of an HTTP Range header selecting r.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.From, r.To)
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d-%d]", r.From, r.To)
}

// TileMetadata locates one tile's compressed bytes inside a container.
type TileMetadata struct {
	Coordinates  TileCoordinates
	Width        int
	Height       int
	Compression  int
	SharedHeader []byte
	ByteRange    ByteRange
}

// Tile is the raw data of one tile as read from its container.
type Tile struct {
	Metadata TileMetadata
	Raw      []byte
}

// Image returns a standalone image for the tile. JPEG tiles are rebuilt
// around the level's shared tables; other payloads are returned as read.
func (t *Tile) Image() []byte {
	if t.Metadata.Compression != CompressionJPEG {
		return t.Raw
	}
	return reconstructJPEG(t.Metadata.Width, t.Metadata.Height, t.Metadata.SharedHeader, t.Raw)
}

// FetchRequest is one HTTP range request covering the ordered tiles.
type FetchRequest struct {
	URL       string
	ByteRange ByteRange
	Tiles     []TileMetadata
}
