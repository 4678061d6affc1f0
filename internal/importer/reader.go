package importer

// reader.go cleans CSV input before it reaches encoding/csv.
//
// Spreadsheet exports often start with a UTF-8 byte order mark and sometimes
// contain bytes that are not valid UTF-8. Both are handled while streaming:
// the BOM is dropped and each invalid byte becomes '?', so memory stays
// bounded by the read buffer.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM returns a reader positioned after a leading UTF-8 BOM, if any.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?'. A multi-byte rune
// split across two reads is held back until its remaining bytes arrive.
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

	off := copy(p, s.pending)
	s.pending = s.pending[:0]

	m, err := s.r.Read(p[off:])
	n := off + m
	if n == 0 {
		return 0, err
	}
	return s.clean(p[:n], err != nil), err
}

// clean rewrites data in place and returns the number of bytes to deliver.
func (s *utf8Sanitizer) clean(data []byte, atEOF bool) int {
	w := 0
	for r := 0; r < len(data); {
		if data[r] < utf8.RuneSelf {
			data[w] = data[r]
			w++
			r++
			continue
		}
		if !atEOF && !utf8.FullRune(data[r:]) {
			s.pending = append(s.pending, data[r:]...)
			break
		}
		ru, size := utf8.DecodeRune(data[r:])
		if ru == utf8.RuneError && size == 1 {
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

// wrapCSV applies BOM removal and UTF-8 sanitizing, in that order.
func wrapCSV(r io.Reader) io.Reader {
	return newUTF8Sanitizer(skipBOM(r))
}
