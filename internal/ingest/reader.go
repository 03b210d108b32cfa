package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrBadRow marks a row whose structure could not be read (for example a
// quoting error). The stream remains usable; callers treat the row as absent
// data rather than a fatal condition.
var ErrBadRow = errors.New("unreadable row")

// HeaderIndex maps canonical column names (lower-cased) to their position in
// the CSV header.
type HeaderIndex map[string]int

// RowReader is a forward-only reader over one CSV source. It resolves header
// aliases once, then yields raw rows until io.EOF. It is not restartable.
type RowReader struct {
	cr   *csv.Reader
	idx  HeaderIndex
	line int
}

// NewRowReader reads the header row and resolves aliases case-insensitively.
// aliases maps lower-cased alternate spellings to the canonical column name
// ("iso" -> "country"). Returns an error only when the stream yields no
// header at all.
func NewRowReader(r io.Reader, aliases map[string]string) (*RowReader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(CleanCell(h))
		if canonical, ok := aliases[key]; ok {
			key = canonical
		}
		if _, taken := idx[key]; !taken {
			idx[key] = i
		}
	}

	return &RowReader{cr: cr, idx: idx, line: 1}, nil
}

// Next returns the next data row and its 1-based line number.
// Empty rows are skipped. A structurally unreadable row is reported as
// ErrBadRow with the stream still usable; io.EOF ends the sequence.
func (rr *RowReader) Next() ([]string, int, error) {
	for {
		row, err := rr.cr.Read()
		rr.line++
		if err != nil {
			if err == io.EOF {
				return nil, rr.line, io.EOF
			}
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, rr.line, fmt.Errorf("line %d: %w", rr.line, ErrBadRow)
			}
			return nil, rr.line, err
		}
		if isEmptyRow(row) {
			continue
		}
		return row, rr.line, nil
	}
}

// Get returns the cleaned cell for a canonical column name, "" when the
// column is absent from the header or the row is short. Missing optional
// columns therefore read as empty rather than failing.
func (rr *RowReader) Get(row []string, column string) string {
	pos, ok := rr.idx[column]
	if !ok || pos >= len(row) {
		return ""
	}
	return CleanCell(row[pos])
}

// HasColumn reports whether the header carried the canonical column.
func (rr *RowReader) HasColumn(column string) bool {
	_, ok := rr.idx[column]
	return ok
}

// CleanCell removes common CSV artifacts from a cell value: surrounding
// whitespace, Excel formula prefixes (="..."), and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 3 && strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	} else {
		s = strings.TrimPrefix(s, "=")
	}
	return strings.Trim(s, `"'`)
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
