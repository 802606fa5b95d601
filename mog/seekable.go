package mog

import (
	"fmt"
	"io"
)

// fillChunk is the most fill reads from the stream at once.
const fillChunk = 1 << 20

// seekableReader turns a forward-only stream into one that can be
// repositioned. Every byte pulled from the stream is kept, so seeking back
// costs nothing; seeking past the highest byte read pulls more from the stream.
type seekableReader struct {
	r    io.Reader
	buf  []byte
	base int64 // stream position of buf[0]
	pos  int64
	mark int64
	eof  bool
}

func newSeekableReader(r io.Reader, base int64) *seekableReader {
	return &seekableReader{r: r, base: base, pos: base, mark: base}
}

// Read implements io.Reader from the current position.
func (s *seekableReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.fill(s.pos + int64(len(p))); err != nil && s.pos >= s.end() {
		return 0, err
	}
	n := copy(p, s.buf[s.pos-s.base:])
	s.pos += int64(n)
	return n, nil
}

// Seek moves to the absolute stream position off. Positions beyond the
// buffered bytes are reached by reading the stream; an io.EOF is returned
// if the stream ends first.
func (s *seekableReader) Seek(off int64) error {
	if off < s.base {
		panic(fmt.Sprintf("mog: seek to %d before buffer start %d", off, s.base))
	}
	if err := s.fill(off); err != nil {
		return err
	}
	s.pos = off
	return nil
}

// Mark remembers the current position for a later Reset.
func (s *seekableReader) Mark() {
	s.mark = s.pos
}

// Reset returns to the last marked position.
func (s *seekableReader) Reset() {
	s.pos = s.mark
}

// Position returns the current absolute stream position.
func (s *seekableReader) Position() int64 {
	return s.pos
}

// BytesRead returns how many bytes were pulled from the underlying stream.
func (s *seekableReader) BytesRead() int64 {
	return int64(len(s.buf))
}

func (s *seekableReader) end() int64 {
	return s.base + int64(len(s.buf))
}

// fill reads from the stream until at least upTo bytes are buffered.
func (s *seekableReader) fill(upTo int64) error {
	for s.end() < upTo {
		if s.eof {
			return io.EOF
		}
		chunk := make([]byte, min(max(upTo-s.end(), 4096), fillChunk))
		n, err := s.r.Read(chunk)
		s.buf = append(s.buf, chunk[:n]...)
		if err == io.EOF {
			s.eof = true
		} else if err != nil {
			return err
		}
	}
	return nil
}
