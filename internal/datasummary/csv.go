package datasummary

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readCSV counts rows and keeps the first previewRows of them. The first
// record is the header; empty cells and cells missing from short rows are
// null, rows with more fields than the header are rejected.
func readCSV(r io.Reader, opts readOptions) (*Summary, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoColumns
	}
	if err != nil {
		return nil, errors.Wrap(err, "parse header")
	}
	sum := &Summary{Kind: KindCSV, Columns: MangleColumns(header)}
	width := len(sum.Columns)

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "parse row")
		}
		if len(rec) > width {
			line, _ := cr.FieldPos(0)
			return nil, errors.Newf("expected %d fields in line %d, saw %d", width, line, len(rec))
		}
		if len(sum.Preview) < opts.previewRows {
			row := make([]Cell, width)
			for j := range row {
				if j < len(rec) && rec[j] != "" {
					row[j] = Cell{Value: clip(rec[j], opts.maxCellWidth)}
				} else {
					row[j] = Cell{Null: true}
				}
			}
			sum.Preview = append(sum.Preview, row)
		}
		sum.Rows++
	}
	return sum, nil
}

// MangleColumns makes header names unique: blanks become "Unnamed: i" and
// repeats get ".1", ".2" suffixes.
func MangleColumns(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, name := range header {
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, dup := seen[name]; dup {
			base := name
			for {
				n++
				name = fmt.Sprintf("%s.%d", base, n)
				if _, taken := seen[name]; !taken {
					break
				}
			}
			seen[base] = n
		}
		seen[name] = 0
		out[i] = name
	}
	return out
}
