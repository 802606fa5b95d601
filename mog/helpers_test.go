package mog

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"
)

// testLevel describes one IFD written by testContainer.
type testLevel struct {
	width, height         int
	tileWidth, tileHeight int
	photometric           uint16
	subfileType           uint32
	offsets, counts       []uint32
	tables                []byte
	omitTileWidth         bool
}

// testContainer lays out a TIFF: header at 0, IFDs from ifdAt, out of line
// values right after the IFDs, tile data at the offsets given in tiles.
type testContainer struct {
	bo     binary.ByteOrder
	ifdAt  int64
	levels []testLevel
	tiles  map[int64][]byte
}

type testEntry struct {
	tag   Tag
	ft    fieldType
	count uint32
	value []byte
}

func (c testContainer) entries(l testLevel) []testEntry {
	bo := c.bo
	short := func(tag Tag, v uint16) testEntry {
		b := make([]byte, 2)
		bo.PutUint16(b, v)
		return testEntry{tag, SHORT, 1, b}
	}
	longs := func(tag Tag, vs ...uint32) testEntry {
		b := make([]byte, 4*len(vs))
		for i, v := range vs {
			bo.PutUint32(b[i*4:], v)
		}
		return testEntry{tag, LONG, uint32(len(vs)), b}
	}

	compression := uint16(CompressionNone)
	if l.tables != nil {
		compression = CompressionJPEG
	}
	es := []testEntry{
		longs(NewSubfileType, l.subfileType),
		longs(ImageWidth, uint32(l.width)),
		longs(ImageLength, uint32(l.height)),
		short(Compression, compression),
		short(PhotometricInterpretation, l.photometric),
		// Software, and a DOUBLE triple the parser skips
		{Tag(305), ASCII, 5, []byte("test\x00")},
		{Tag(33550), fieldType(12), 3, make([]byte, 24)},
	}
	if !l.omitTileWidth {
		es = append(es, short(TileWidth, uint16(l.tileWidth)))
	}
	es = append(es,
		short(TileLength, uint16(l.tileHeight)),
		longs(TileOffsets, l.offsets...),
		longs(TileByteCounts, l.counts...),
	)
	if l.tables != nil {
		es = append(es, testEntry{JPEGTables, UNDEFINED, uint32(len(l.tables)), l.tables})
	}
	sort.Slice(es, func(i, j int) bool { return es[i].tag < es[j].tag })
	return es
}

func (c testContainer) bytes() []byte {
	bo := c.bo
	if bo == nil {
		bo = binary.LittleEndian
		c.bo = bo
	}
	ifdAt := c.ifdAt
	if ifdAt == 0 {
		ifdAt = 8
	}

	out := make([]byte, ifdAt)
	if bo == binary.LittleEndian {
		copy(out, "II")
	} else {
		copy(out, "MM")
	}
	bo.PutUint16(out[2:], tiffIdentifier)
	bo.PutUint32(out[4:], uint32(ifdAt))

	all := make([][]testEntry, len(c.levels))
	valuesAt := ifdAt
	for i, l := range c.levels {
		all[i] = c.entries(l)
		valuesAt += int64(2 + 12*len(all[i]) + 4)
	}

	var values []byte
	pos := ifdAt
	for i, es := range all {
		ifd := make([]byte, 2+12*len(es)+4)
		bo.PutUint16(ifd, uint16(len(es)))
		for j, e := range es {
			entry := ifd[2+12*j:]
			bo.PutUint16(entry[0:], uint16(e.tag))
			bo.PutUint16(entry[2:], uint16(e.ft))
			bo.PutUint32(entry[4:], e.count)
			if len(e.value) <= 4 {
				copy(entry[8:12], e.value)
			} else {
				bo.PutUint32(entry[8:], uint32(valuesAt)+uint32(len(values)))
				values = append(values, e.value...)
			}
		}
		pos += int64(len(ifd))
		if i < len(all)-1 {
			bo.PutUint32(ifd[len(ifd)-4:], uint32(pos))
		}
		out = append(out, ifd...)
	}
	out = append(out, values...)

	for off, data := range c.tiles {
		if end := off + int64(len(data)); end > int64(len(out)) {
			out = append(out, make([]byte, end-int64(len(out)))...)
		}
		copy(out[off:], data)
	}
	return out
}

// singleTileContainer is one level at zoom 5 with a single 256px tile
// stored at [100-149].
func singleTileContainer(tables, tile []byte) []byte {
	return testContainer{
		ifdAt: 200,
		levels: []testLevel{{
			width: 256, height: 256, tileWidth: 256, tileHeight: 256,
			photometric: PhotometricYCbCr,
			offsets:     []uint32{100}, counts: []uint32{50},
			tables: tables,
		}},
		tiles: map[int64][]byte{100: tile},
	}.bytes()
}

// encodeJPEG encodes a solid tile of the given color.
func encodeJPEG(t *testing.T, size int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}
	return buf.Bytes()
}

// splitJPEG splits a baseline JPEG into its table segments (DQT, DHT)
// wrapped in SOI/EOI, and the remaining frame and scan data behind an SOI,
// the way tiled TIFFs store them.
func splitJPEG(t *testing.T, data []byte) (tables, payload []byte) {
	t.Helper()
	if !bytes.HasPrefix(data, markerSOI) {
		t.Fatalf("not a JPEG")
	}
	tables = append(tables, markerSOI...)
	payload = append(payload, markerSOI...)
	for i := 2; i < len(data); {
		if data[i] != 0xFF {
			t.Fatalf("expected marker at %d", i)
		}
		marker := data[i+1]
		if marker == 0xDA {
			payload = append(payload, data[i:]...)
			break
		}
		n := int(binary.BigEndian.Uint16(data[i+2:]))
		seg := data[i : i+2+n]
		switch marker {
		case 0xDB, 0xC4:
			tables = append(tables, seg...)
		default:
			payload = append(payload, seg...)
		}
		i += 2 + n
	}
	tables = append(tables, markerEOI...)
	return tables, payload
}

// containerServer serves named containers with range support and counts
// requests per path, split into header (no Range) and range fetches.
type containerServer struct {
	*httptest.Server

	mu     sync.Mutex
	full   map[string]int
	ranges map[string][]string
	files  map[string][]byte
	delay  time.Duration
}

func newContainerServer(t *testing.T, files map[string][]byte) *containerServer {
	t.Helper()
	s := &containerServer{
		full:   make(map[string]int),
		ranges: make(map[string][]string),
		files:  files,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if rng := r.Header.Get("Range"); rng != "" {
			s.ranges[r.URL.Path] = append(s.ranges[r.URL.Path], rng)
		} else {
			s.full[r.URL.Path]++
		}
		data, ok := s.files[r.URL.Path]
		delay := s.delay
		s.mu.Unlock()

		time.Sleep(delay)
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, r.URL.Path, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *containerServer) fullRequests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full[path]
}

func (s *containerServer) rangeRequests(path string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges[path]...)
}

// requests returns how many requests of any kind reached the server.
func (s *containerServer) requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.full {
		n += c
	}
	for _, r := range s.ranges {
		n += len(r)
	}
	return n
}
