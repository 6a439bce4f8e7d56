// Package sheets stores serialized values in a spreadsheet, one row per key.
//
// A row is laid out as [key, chunkCount, chunk1, ..., chunkN]. Values are
// split into chunks because a single cell holds at most 50000 characters.
package sheets

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize stays below the per-cell character limit.
const DefaultChunkSize = 45000

var ErrMalformedRow = errors.New("sheets: malformed row")

// EncodeRow builds the cells for key holding data.
func EncodeRow(key string, data []byte, chunkSize int) []any {
	chunks := Chunk(string(data), chunkSize)
	row := make([]any, 0, len(chunks)+2)
	row = append(row, key, strconv.Itoa(len(chunks)))
	for _, c := range chunks {
		row = append(row, c)
	}
	return row
}

// DecodeRow reassembles the value stored in row.
func DecodeRow(row []any) ([]byte, error) {
	if len(row) < 2 {
		return nil, fmt.Errorf("%w: %d cells", ErrMalformedRow, len(row))
	}
	n, err := strconv.Atoi(cell(row[1]))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: chunk count %q", ErrMalformedRow, cell(row[1]))
	}
	if len(row) < n+2 {
		return nil, fmt.Errorf("%w: want %d chunks, have %d", ErrMalformedRow, n, len(row)-2)
	}
	var b strings.Builder
	for _, c := range row[2 : n+2] {
		b.WriteString(fmt.Sprint(c))
	}
	return []byte(b.String()), nil
}

// FindRow returns the zero-based index of the row whose first cell is key,
// or -1.
func FindRow(values [][]any, key string) int {
	for i, row := range values {
		if len(row) > 0 && cell(row[0]) == key {
			return i
		}
	}
	return -1
}

// Chunk splits s into pieces of at most size bytes without cutting a UTF-8
// sequence in half.
func Chunk(s string, size int) []string {
	if size < utf8.UTFMax {
		size = utf8.UTFMax
	}
	var out []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func cell(v any) string {
	return strings.TrimSpace(fmt.Sprint(v))
}
