// Package ingest streams untrusted CSV sources into typed row records.
//
// Sources arrive from external registries (UN/LOCODE releases, dangerous-goods
// code lists) and routinely carry a UTF-8 BOM, broken encodings, and header
// variants. The readers here normalize the byte stream; RowReader handles
// header aliasing and cell cleanup. The row sequence is forward-only and
// consumed exactly once.
package ingest

import (
	"io"
	"unicode/utf8"
)

// bomReader strips a leading UTF-8 BOM (0xEF 0xBB 0xBF), commonly added by
// Windows tools that exported the source file.
type bomReader struct {
	r       io.Reader
	checked bool
	held    []byte
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		var buf [3]byte
		n, err := io.ReadFull(b.r, buf[:])
		if n > 0 && !(n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF) {
			b.held = append(b.held, buf[:n]...)
		}
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
	}
	if len(b.held) > 0 {
		n := copy(p, b.held)
		b.held = b.held[n:]
		return n, nil
	}
	return b.r.Read(p)
}

// utf8Reader replaces invalid UTF-8 bytes with '?' on the fly, so a stray
// Latin-1 byte corrupts one cell instead of aborting the whole stream.
// Incomplete multi-byte sequences at a read boundary are carried over to the
// next read.
type utf8Reader struct {
	r       io.Reader
	pending []byte
	eof     bool
}

func (u *utf8Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	off := copy(p, u.pending)
	u.pending = u.pending[:0]

	var err error
	n := off
	if !u.eof {
		var m int
		m, err = u.r.Read(p[off:])
		n += m
		if err == io.EOF {
			u.eof = true
			if n > 0 {
				err = nil
			}
		}
	} else if n == 0 {
		return 0, io.EOF
	}

	if n == 0 {
		return 0, err
	}

	data := p[:n]
	if allASCII(data) {
		return n, err
	}

	// Hold back a trailing partial rune unless the stream is finished.
	if !u.eof {
		if t := partialRuneSuffix(data); t > 0 {
			u.pending = append(u.pending, data[len(data)-t:]...)
			data = data[:len(data)-t]
		}
	}

	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			data[i] = '?'
			i++
			continue
		}
		i += size
	}

	return len(data), err
}

func allASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// partialRuneSuffix returns how many trailing bytes form the start of an
// incomplete multi-byte sequence, 0 if the buffer ends on a rune boundary.
func partialRuneSuffix(data []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(data); i++ {
		b := data[len(data)-i]
		if b < 0x80 {
			return 0 // ASCII, boundary is clean
		}
		if b >= 0xC0 {
			// Lead byte: incomplete if the sequence needs more bytes than we have.
			if expected := runeWidth(b); expected > i {
				return i
			}
			return 0
		}
		// Continuation byte, keep scanning backwards.
	}
	return 0
}

func runeWidth(lead byte) int {
	switch {
	case lead < 0xC0:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	default:
		return 4
	}
}

// WrapReader prepares a raw upload stream for CSV parsing: the BOM is
// stripped first, then invalid UTF-8 is sanitized.
func WrapReader(r io.Reader) io.Reader {
	return &utf8Reader{r: &bomReader{r: r}}
}
