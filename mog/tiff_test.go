package mog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var testTables = []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x04, 0x01, 0x02, 0xFF, 0xD9}

// pyramid returns a three level container, 1024, 512 and 256 pixels wide,
// with two mask directories the parser must skip.
func pyramid(bo binary.ByteOrder) []byte {
	grid := func(n int, base uint32) ([]uint32, []uint32) {
		offsets, counts := make([]uint32, n), make([]uint32, n)
		for i := range offsets {
			offsets[i] = base + uint32(i)*100
			counts[i] = 90
		}
		return offsets, counts
	}
	o0, c0 := grid(16, 1000)
	c0[15] = 0
	o1, c1 := grid(4, 3000)
	o2, c2 := grid(1, 4000)
	mo, mc := grid(16, 5000)

	return testContainer{
		bo: bo,
		levels: []testLevel{
			{width: 1024, height: 1024, tileWidth: 256, tileHeight: 256, photometric: PhotometricYCbCr, offsets: o0, counts: c0, tables: testTables},
			{width: 1024, height: 1024, tileWidth: 256, tileHeight: 256, photometric: PhotometricMask, offsets: mo, counts: mc},
			{width: 512, height: 512, tileWidth: 256, tileHeight: 256, photometric: PhotometricYCbCr, offsets: o1, counts: c1, tables: testTables},
			{width: 512, height: 512, tileWidth: 256, tileHeight: 256, photometric: PhotometricYCbCr, subfileType: 1 | subfileTypeMask, offsets: mo[:4], counts: mc[:4]},
			{width: 256, height: 256, tileWidth: 256, tileHeight: 256, photometric: PhotometricRGB, offsets: o2, counts: c2},
		},
	}.bytes()
}

type levelSummary struct {
	Origin      TileCoordinates
	Across      int
	Down        int
	Compression int
	Tables      []byte
}

func summarize(m *Mog) []levelSummary {
	var res []levelSummary
	for _, img := range m.Images {
		res = append(res, levelSummary{
			Origin:      img.Origin,
			Across:      img.TilesAcross(),
			Down:        img.TilesDown(),
			Compression: img.Compression,
			Tables:      img.SharedHeader,
		})
	}
	return res
}

func TestParseMog(t *testing.T) {
	anchor := NewTileCoordinates(1, 2, 3)
	want := []levelSummary{
		{Origin: NewTileCoordinates(4, 8, 5), Across: 4, Down: 4, Compression: CompressionJPEG, Tables: testTables},
		{Origin: NewTileCoordinates(2, 4, 4), Across: 2, Down: 2, Compression: CompressionJPEG, Tables: testTables},
		{Origin: NewTileCoordinates(1, 2, 3), Across: 1, Down: 1, Compression: CompressionNone},
	}

	for _, bo := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(bo.String(), func(t *testing.T) {
			m, err := ParseMog(bytes.NewReader(pyramid(bo)), "https://example.com/3/1/2.tiff", anchor)
			if err != nil {
				t.Fatalf("ParseMog failed: %v", err)
			}
			if diff := cmp.Diff(want, summarize(m)); diff != "" {
				t.Errorf("levels mismatch (-want +got):\n%s", diff)
			}
			if got := m.ZoomRange(); got != (ZoomRange{Min: 3, Max: 5}) {
				t.Errorf("ZoomRange() = %s, want 3-5", got)
			}
		})
	}
}

func TestMogTileMetadata(t *testing.T) {
	m, err := ParseMog(bytes.NewReader(pyramid(binary.LittleEndian)), "u", NewTileCoordinates(1, 2, 3))
	if err != nil {
		t.Fatalf("ParseMog failed: %v", err)
	}

	testCases := []struct {
		name   string
		c      TileCoordinates
		want   ByteRange
		wantOK bool
	}{
		{name: "Grid origin", c: NewTileCoordinates(4, 8, 5), want: ByteRange{1000, 1089}, wantOK: true},
		{name: "Second row second column", c: NewTileCoordinates(5, 9, 5), want: ByteRange{1500, 1589}, wantOK: true},
		{name: "Middle level", c: NewTileCoordinates(3, 5, 4), want: ByteRange{3300, 3389}, wantOK: true},
		{name: "Anchor level", c: NewTileCoordinates(1, 2, 3), want: ByteRange{4000, 4089}, wantOK: true},
		{name: "Empty tile", c: NewTileCoordinates(7, 11, 5), wantOK: false},
		{name: "Right of the grid", c: NewTileCoordinates(8, 8, 5), wantOK: false},
		{name: "Above the grid", c: NewTileCoordinates(4, 7, 5), wantOK: false},
		{name: "Zoom not in container", c: NewTileCoordinates(8, 16, 6), wantOK: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			md, ok := m.TileMetadata(tc.c)
			if ok != tc.wantOK {
				t.Fatalf("TileMetadata(%s) ok = %v, want %v", tc.c, ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if md.ByteRange != tc.want {
				t.Errorf("TileMetadata(%s) range = %s, want %s", tc.c, md.ByteRange, tc.want)
			}
			if md.Coordinates != tc.c || md.Width != 256 || md.Height != 256 {
				t.Errorf("unexpected metadata %+v", md)
			}
		})
	}
}

func TestParseMogErrors(t *testing.T) {
	valid := pyramid(binary.LittleEndian)

	badOrder := bytes.Clone(valid)
	copy(badOrder, "XX")

	badMagic := bytes.Clone(valid)
	binary.LittleEndian.PutUint16(badMagic[2:], 43)

	// point the last directory back at the first one
	loop := testContainer{levels: []testLevel{{
		width: 256, height: 256, tileWidth: 256, tileHeight: 256,
		photometric: PhotometricRGB, offsets: []uint32{500}, counts: []uint32{10},
	}}}.bytes()
	n := int(binary.LittleEndian.Uint16(loop[8:]))
	binary.LittleEndian.PutUint32(loop[8+2+12*n:], 8)

	// claim a TileOffsets array of 1 GiB
	oversized := bytes.Clone(valid)
	for i := 0; i < int(binary.LittleEndian.Uint16(oversized[8:])); i++ {
		entry := oversized[10+12*i:]
		if Tag(binary.LittleEndian.Uint16(entry)) == TileOffsets {
			binary.LittleEndian.PutUint32(entry[4:], 1<<28)
		}
	}

	testCases := []struct {
		name          string
		data          []byte
		wantMalformed bool
	}{
		{name: "Invalid byte order", data: badOrder, wantMalformed: true},
		{name: "Oversized field value", data: oversized, wantMalformed: true},
		{name: "Invalid magic", data: badMagic, wantMalformed: true},
		{name: "IFD loop", data: loop, wantMalformed: true},
		{
			name: "Offset count does not match grid",
			data: testContainer{levels: []testLevel{{
				width: 512, height: 512, tileWidth: 256, tileHeight: 256,
				photometric: PhotometricRGB, offsets: []uint32{1, 2, 3}, counts: []uint32{1, 1, 1},
			}}}.bytes(),
			wantMalformed: true,
		},
		{
			name: "Missing tile width",
			data: testContainer{levels: []testLevel{{
				width: 256, height: 256, tileHeight: 256, omitTileWidth: true,
				photometric: PhotometricRGB, offsets: []uint32{1}, counts: []uint32{1},
			}}}.bytes(),
			wantMalformed: true,
		},
		{
			name: "Only mask directories",
			data: testContainer{levels: []testLevel{{
				width: 256, height: 256, tileWidth: 256, tileHeight: 256,
				photometric: PhotometricMask, offsets: []uint32{1}, counts: []uint32{1},
			}}}.bytes(),
			wantMalformed: true,
		},
		{name: "Truncated header", data: valid[:6]},
		{name: "Truncated directory", data: valid[:40]},
		{name: "Empty", data: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMog(bytes.NewReader(tc.data), "u", NewTileCoordinates(0, 0, 0))
			if err == nil {
				t.Fatalf("ParseMog() expected an error, but got none")
			}
			if got := errors.Is(err, ErrMalformed); got != tc.wantMalformed {
				t.Errorf("errors.Is(%v, ErrMalformed) = %v, want %v", err, got, tc.wantMalformed)
			}
		})
	}
}

func TestReadDirectoryRestoresPosition(t *testing.T) {
	data := pyramid(binary.BigEndian)
	r := newSeekableReader(bytes.NewReader(data), 0)
	bo, first, err := readHeader(r)
	if err != nil {
		t.Fatalf("readHeader failed: %v", err)
	}

	dir, next, err := readDirectory(r, bo, first)
	if err != nil {
		t.Fatalf("readDirectory failed: %v", err)
	}
	n := int64(len(dir.tags)) + 1 // the DOUBLE entry is not kept
	if want := first + 2 + 12*n + 4; r.Position() != want {
		t.Errorf("Position() = %d, want %d", r.Position(), want)
	}
	if next != r.Position() {
		t.Errorf("next IFD = %d, want %d", next, r.Position())
	}

	if got, ok := dir.getBytes(JPEGTables); !ok || !bytes.Equal(got, testTables) {
		t.Errorf("JPEGTables = %v, want %v", got, testTables)
	}
	if got := dir.tags[Tag(305)].asciiData; got != "test" {
		t.Errorf("Software = %q, want %q", got, "test")
	}
	if _, ok := dir.tags[Tag(33550)]; ok {
		t.Errorf("unsupported field type was decoded")
	}
}

func TestTagString(t *testing.T) {
	if got := TileOffsets.String(); got != "TileOffsets" {
		t.Errorf("TileOffsets.String() = %q", got)
	}
	if got := Tag(42).String(); got != "42" {
		t.Errorf("Tag(42).String() = %q", got)
	}
}
