package mog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed is wrapped by every structural parse failure of a container.
var ErrMalformed = errors.New("malformed container")

const (
	tiffIdentifier = 42

	// maxDirectories bounds the IFD chain so a cyclic chain cannot loop forever.
	maxDirectories = 64

	// maxValueBytes bounds a single out of line field value.
	maxValueBytes = 64 << 20
)

// Tag is a TIFF field tag.
type Tag uint16

const (
	NewSubfileType            Tag = 254
	ImageWidth                Tag = 256
	ImageLength               Tag = 257
	BitsPerSample             Tag = 258
	Compression               Tag = 259
	PhotometricInterpretation Tag = 262
	SamplesPerPixel           Tag = 277
	PlanarConfiguration       Tag = 284
	TileWidth                 Tag = 322
	TileLength                Tag = 323
	TileOffsets               Tag = 324
	TileByteCounts            Tag = 325
	JPEGTables                Tag = 347
)

var tagToLabel = map[Tag]string{
	NewSubfileType:            "NewSubfileType",
	ImageWidth:                "ImageWidth",
	ImageLength:               "ImageLength",
	BitsPerSample:             "BitsPerSample",
	Compression:               "Compression",
	PhotometricInterpretation: "PhotometricInterpretation",
	SamplesPerPixel:           "SamplesPerPixel",
	PlanarConfiguration:       "PlanarConfiguration",
	TileWidth:                 "TileWidth",
	TileLength:                "TileLength",
	TileOffsets:               "TileOffsets",
	TileByteCounts:            "TileByteCounts",
	JPEGTables:                "JPEGTables",
}

func (t Tag) String() string {
	v, ok := tagToLabel[t]
	if !ok {
		return fmt.Sprintf("%d", t)
	}
	return v
}

const (
	CompressionNone = 1
	CompressionJPEG = 7

	PhotometricRGB   = 2
	PhotometricMask  = 4
	PhotometricYCbCr = 6

	subfileTypeMask = 4
)

type fieldType uint16

const (
	BYTE      fieldType = 1
	ASCII     fieldType = 2
	SHORT     fieldType = 3
	LONG      fieldType = 4
	RATIONAL  fieldType = 5
	UNDEFINED fieldType = 7
)

var fieldTypeToLabel = map[fieldType]string{
	BYTE:      "BYTE",
	ASCII:     "ASCII",
	SHORT:     "SHORT",
	LONG:      "LONG",
	RATIONAL:  "RATIONAL",
	UNDEFINED: "UNDEFINED",
}

func (f fieldType) String() string {
	v, ok := fieldTypeToLabel[f]
	if !ok {
		return fmt.Sprintf("unrecognized field type %d", uint16(f))
	}
	return v
}

// bytes returns the size of one value of the type, 0 when the type is not consumed.
func (f fieldType) bytes() uint32 {
	switch f {
	case BYTE, ASCII, UNDEFINED:
		return 1
	case SHORT:
		return 2
	case LONG:
		return 4
	case RATIONAL:
		return 8
	}
	return 0
}

// Rational is a TIFF RATIONAL value.
type Rational struct {
	Num, Den uint32
}

// tagData is the decoded value of one field. fType says which slice is set.
type tagData struct {
	fType        fieldType
	byteData     []uint8 // BYTE and UNDEFINED
	asciiData    string
	shortData    []uint16
	longData     []uint32
	rationalData []Rational
}

// Tags holds the decoded fields of one image file directory.
type Tags map[Tag]tagData

// directory is one parsed image file directory.
type directory struct {
	offset int64
	tags   Tags
}

// readDirectories parses the header and the whole IFD chain of a container.
// Only directories holding color imagery are returned, in file order.
func readDirectories(r *seekableReader) ([]directory, error) {
	bo, firstIFD, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	var dirs []directory
	seen := make(map[int64]struct{})
	for offset := firstIFD; offset != 0; {
		if _, ok := seen[offset]; ok {
			return nil, fmt.Errorf("%w: IFD chain loops back to offset %d", ErrMalformed, offset)
		}
		if len(seen) >= maxDirectories {
			return nil, fmt.Errorf("%w: more than %d IFDs", ErrMalformed, maxDirectories)
		}
		seen[offset] = struct{}{}

		dir, next, err := readDirectory(r, bo, offset)
		if err != nil {
			return nil, fmt.Errorf("reading IFD at offset %d: %w", offset, err)
		}
		if dir.isColor() {
			dirs = append(dirs, dir)
		}
		offset = next
	}
	return dirs, nil
}

// readHeader validates the byte order marker and magic number and returns
// the offset of the first directory.
func readHeader(r *seekableReader) (binary.ByteOrder, int64, error) {
	var marker [2]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, 0, err
	}

	var bo binary.ByteOrder
	switch string(marker[:]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, 0, fmt.Errorf("%w: invalid byte order %q", ErrMalformed, marker[:])
	}

	var identifier uint16
	if err := binary.Read(r, bo, &identifier); err != nil {
		return nil, 0, err
	}
	if identifier != tiffIdentifier {
		return nil, 0, fmt.Errorf("%w: invalid tiff identifier %d", ErrMalformed, identifier)
	}

	var offset uint32
	if err := binary.Read(r, bo, &offset); err != nil {
		return nil, 0, err
	}
	return bo, int64(offset), nil
}

func readDirectory(r *seekableReader, bo binary.ByteOrder, offset int64) (directory, int64, error) {
	dir := directory{offset: offset, tags: make(Tags)}
	if err := r.Seek(offset); err != nil {
		return dir, 0, err
	}

	var numEntries uint16
	if err := binary.Read(r, bo, &numEntries); err != nil {
		return dir, 0, err
	}

	block := make([]byte, 12*int(numEntries))
	if _, err := io.ReadFull(r, block); err != nil {
		return dir, 0, fmt.Errorf("failed to read IFD block: %w", err)
	}

	var next uint32
	if err := binary.Read(r, bo, &next); err != nil {
		return dir, 0, err
	}

	// values stored out of line are read at their offset and the position
	// restored, so the caller sees the reader right after this directory
	r.Mark()
	for i := 0; i < int(numEntries); i++ {
		entry := block[i*12 : (i+1)*12]
		tag := Tag(bo.Uint16(entry[0:2]))
		ft := fieldType(bo.Uint16(entry[2:4]))
		count := bo.Uint32(entry[4:8])
		if ft.bytes() == 0 {
			continue
		}

		size := int64(ft.bytes()) * int64(count)
		if size > maxValueBytes {
			return dir, 0, fmt.Errorf("%w: tag %s value of %d bytes", ErrMalformed, tag, size)
		}
		var raw []byte
		if size <= 4 {
			raw = entry[8 : 8+size]
		} else {
			raw = make([]byte, size)
			if err := r.Seek(int64(bo.Uint32(entry[8:12]))); err != nil {
				return dir, 0, fmt.Errorf("reading value of tag %s: %w", tag, err)
			}
			if _, err := io.ReadFull(r, raw); err != nil {
				return dir, 0, fmt.Errorf("reading value of tag %s: %w", tag, err)
			}
			r.Reset()
		}

		td, err := decodeValue(ft, count, raw, bo)
		if err != nil {
			return dir, 0, err
		}
		dir.tags[tag] = td
	}
	r.Reset()

	return dir, int64(next), nil
}

func decodeValue(ft fieldType, count uint32, raw []byte, bo binary.ByteOrder) (tagData, error) {
	t := tagData{fType: ft}
	reader := bytes.NewReader(raw)
	switch ft {
	case BYTE, UNDEFINED:
		t.byteData = append([]byte(nil), raw...)
	case ASCII:
		t.asciiData = string(bytes.TrimRight(raw, "\x00"))
	case SHORT:
		t.shortData = make([]uint16, count)
		if err := binary.Read(reader, bo, t.shortData); err != nil {
			return t, err
		}
	case LONG:
		t.longData = make([]uint32, count)
		if err := binary.Read(reader, bo, t.longData); err != nil {
			return t, err
		}
	case RATIONAL:
		t.rationalData = make([]Rational, count)
		if err := binary.Read(reader, bo, t.rationalData); err != nil {
			return t, err
		}
	default:
		return t, fmt.Errorf("unsupported type for value reading: %s", ft)
	}
	return t, nil
}

// isColor reports whether the directory holds RGB imagery rather than a mask.
func (d directory) isColor() bool {
	if st, ok := d.getUint(NewSubfileType); ok && st&subfileTypeMask != 0 {
		return false
	}
	p, ok := d.getUint(PhotometricInterpretation)
	return ok && (p == PhotometricRGB || p == PhotometricYCbCr)
}

func (d directory) getUint(tag Tag) (uint64, bool) {
	t, ok := d.tags[tag]
	if !ok {
		return 0, false
	}
	if t.fType == SHORT && len(t.shortData) > 0 {
		return uint64(t.shortData[0]), true
	}
	if t.fType == LONG && len(t.longData) > 0 {
		return uint64(t.longData[0]), true
	}
	if t.fType == BYTE && len(t.byteData) > 0 {
		return uint64(t.byteData[0]), true
	}
	return 0, false
}

func (d directory) getInt64Slice(tag Tag) ([]int64, bool) {
	t, ok := d.tags[tag]
	if !ok {
		return nil, false
	}
	switch t.fType {
	case LONG:
		res := make([]int64, len(t.longData))
		for i, v := range t.longData {
			res[i] = int64(v)
		}
		return res, true
	case SHORT:
		res := make([]int64, len(t.shortData))
		for i, v := range t.shortData {
			res[i] = int64(v)
		}
		return res, true
	}
	return nil, false
}

func (d directory) getBytes(tag Tag) ([]byte, bool) {
	t, ok := d.tags[tag]
	if !ok || (t.fType != UNDEFINED && t.fType != BYTE) {
		return nil, false
	}
	return t.byteData, true
}
