package mog

import "bytes"

var (
	markerSOI = []byte{0xFF, 0xD8}
	markerEOI = []byte{0xFF, 0xD9}
)

// jfifHeader returns an APP0/JFIF segment carrying the tile dimensions in
// its density fields (units 0, aspect ratio only).
func jfifHeader(width, height int) []byte {
	return []byte{
		0xFF, 0xE0, // APP0
		0x00, 0x10, // segment length
		'J', 'F', 'I', 'F', 0x00,
		0x01, 0x01, // version 1.01
		0x00, // units
		byte(width >> 8), byte(width),
		byte(height >> 8), byte(height),
		0x00, 0x00, // no thumbnail
	}
}

// reconstructJPEG assembles SOI, a JFIF header, the shared tables and the
// tile's entropy coded segment into one decodable JPEG stream.
func reconstructJPEG(width, height int, tables, payload []byte) []byte {
	tables = bytes.TrimPrefix(tables, markerSOI)
	tables = bytes.TrimSuffix(tables, markerEOI)
	payload = bytes.TrimPrefix(payload, markerSOI)
	payload = bytes.TrimSuffix(payload, markerEOI)

	var buf bytes.Buffer
	buf.Grow(2 + 18 + len(tables) + len(payload) + 2)
	buf.Write(markerSOI)
	buf.Write(jfifHeader(width, height))
	buf.Write(tables)
	buf.Write(payload)
	buf.Write(markerEOI)
	return buf.Bytes()
}
