package mog

import (
	"io"
	"log/slog"
)

// tileReader walks one fetched range, handing out each tile's bytes. The
// stream can only move forward.
type tileReader struct {
	r      io.Reader
	pos    int64
	logger *slog.Logger

	prev *Tile
}

func newTileReader(r io.Reader, start int64, logger *slog.Logger) *tileReader {
	return &tileReader{r: r, pos: start, logger: logger}
}

// next reads the tile described by md. It returns false when the tile
// cannot be read; the stream is unusable after a false return unless md
// was merely behind the current position.
func (tr *tileReader) next(md TileMetadata) (*Tile, bool) {
	rng := md.ByteRange
	if rng.From < tr.pos {
		if tr.prev != nil && tr.prev.Metadata.ByteRange == rng {
			return &Tile{Metadata: md, Raw: tr.prev.Raw}, true
		}
		tr.logger.Error("tile starts before stream position",
			"tile", md.Coordinates.String(), "range", rng.String(), "position", tr.pos)
		return nil, false
	}

	if skip := rng.From - tr.pos; skip > 0 {
		n, err := io.CopyN(io.Discard, tr.r, skip)
		tr.pos += n
		if err != nil {
			tr.logger.Warn("stream ended before tile",
				"tile", md.Coordinates.String(), "range", rng.String(), "position", tr.pos, "error", err)
			return nil, false
		}
	}

	buf := make([]byte, rng.Len())
	n, err := io.ReadFull(tr.r, buf)
	tr.pos += int64(n)
	if err != nil {
		if n == 0 {
			tr.logger.Warn("no data for tile", "tile", md.Coordinates.String(), "range", rng.String(), "error", err)
			return nil, false
		}
		tr.logger.Warn("truncated tile read",
			"tile", md.Coordinates.String(), "range", rng.String(), "want", len(buf), "got", n)
		buf = buf[:n]
	}

	t := &Tile{Metadata: md, Raw: buf}
	tr.prev = t
	return t, true
}

// readTiles reads every tile of req from r, which must start at the first
// byte of req.ByteRange, calling yield for each tile read. It stops early
// when yield returns false.
func readTiles(r io.Reader, req FetchRequest, logger *slog.Logger, yield func(*Tile) bool) {
	tr := newTileReader(r, req.ByteRange.From, logger)
	for _, md := range req.Tiles {
		t, ok := tr.next(md)
		if !ok {
			if md.ByteRange.From < tr.pos {
				continue
			}
			return
		}
		if !yield(t) {
			return
		}
	}
}
