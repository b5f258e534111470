package ingest

// streaming.go holds the readers placed in front of the CSV decoder so that
// spreadsheet exports can be consumed in a single pass with constant memory:
//
//   - bomReader drops a leading UTF-8 byte order mark (Excel on Windows)
//   - utf8Sanitizer replaces invalid UTF-8 bytes with '?'
//   - CountingReader exposes how many bytes have been consumed
//
// Use wrapSource to apply them in the right order.

import (
	"io"
	"sync/atomic"
	"unicode/utf8"
)

// utf8Sanitizer replaces invalid UTF-8 bytes on the fly. A multi-byte
// sequence split across two reads is carried over to the next call.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := 0
	if len(s.pending) > 0 {
		offset = copy(p, s.pending)
		s.pending = s.pending[:0]
	}

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}

	if asciiOnly(p[:n]) {
		return n, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

func asciiOnly(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// sanitize rewrites data in place and returns the number of bytes to hand
// out. Replacement uses a single '?' byte so the output never grows.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	if utf8.Valid(data) {
		if !atEOF {
			if tail := partialTail(data); tail > 0 {
				s.pending = append(s.pending, data[len(data)-tail:]...)
				return len(data) - tail
			}
		}
		return len(data)
	}

	w := 0
	for r := 0; r < len(data); {
		if !atEOF && !utf8.FullRune(data[r:]) && sequenceLen(data[r]) > 1 {
			s.pending = append(s.pending, data[r:]...)
			return w
		}
		ch, size := utf8.DecodeRune(data[r:])
		if ch == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			r++
			continue
		}
		copy(data[w:], data[r:r+size])
		w += size
		r += size
	}
	return w
}

// partialTail reports how many trailing bytes start an unfinished sequence.
func partialTail(data []byte) int {
	for i := 1; i <= 3 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b >= 0xC0 {
			if i < sequenceLen(b) {
				return i
			}
			return 0
		}
		if b&0xC0 != 0x80 {
			return 0
		}
	}
	return 0
}

func sequenceLen(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b < 0xC0:
		return 0
	case b < 0xE0:
		return 2
	case b < 0xF0:
		return 3
	default:
		return 4
	}
}

// bomReader strips a UTF-8 byte order mark from the start of the stream.
type bomReader struct {
	r       io.Reader
	checked bool
	head    []byte
}

func newBOMReader(r io.Reader) *bomReader {
	return &bomReader{r: r}
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		buf := make([]byte, 3)
		n, err := io.ReadFull(b.r, buf)
		switch {
		case n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF:
		case n > 0:
			b.head = buf[:n]
		}
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return 0, err
		}
		if err != nil && len(b.head) == 0 {
			return 0, io.EOF
		}
	}

	if len(b.head) > 0 {
		n := copy(p, b.head)
		b.head = b.head[n:]
		return n, nil
	}
	return b.r.Read(p)
}

// CountingReader tracks consumed bytes. BytesRead is safe to call from a
// goroutine other than the one reading.
type CountingReader struct {
	r     io.Reader
	n     atomic.Int64
	total int64
}

// NewCountingReader wraps r. total is the expected size, or 0 if unknown.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{r: r, total: total}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (c *CountingReader) BytesRead() int64 { return c.n.Load() }

// Percent returns read progress in the range 0-100, or 0 when the total
// size is unknown.
func (c *CountingReader) Percent() int {
	if c.total <= 0 {
		return 0
	}
	p := int(c.n.Load() * 100 / c.total)
	if p > 100 {
		p = 100
	}
	return p
}

// wrapSource strips the BOM before sanitizing so the mark is never seen as
// three invalid bytes.
func wrapSource(r io.Reader) io.Reader {
	return newUTF8Sanitizer(newBOMReader(r))
}
