package dataprep

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"

	"github.com/stellarlinkco/mixdata/internal/datasummary"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrNoColumns is returned for a CSV file without a header line.
var ErrNoColumns = errors.New("no columns to parse from file")

type columnKind int

const (
	kindEmpty columnKind = iota
	kindInt
	kindFloat
	kindBool
	kindString
)

// skipBOM drops a leading UTF-8 byte order mark.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// inferSchema scans every row and picks the narrowest type each column
// fits: int64, then float64, then bool, then string. Columns with no
// values at all become float64 so they read back as NaN. Field names are
// the header after datasummary.MangleColumns, so the CSV and Parquet
// summaries list the same columns.
func inferSchema(r io.Reader) (*arrow.Schema, error) {
	cr := csv.NewReader(skipBOM(r))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoColumns
	}
	if err != nil {
		return nil, errors.Wrap(err, "parse header")
	}
	names := datasummary.MangleColumns(header)
	kinds := make([]columnKind, len(names))

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "parse row")
		}
		if err := checkWidth(cr, rec, len(names)); err != nil {
			return nil, err
		}
		for j, v := range rec {
			kinds[j] = widen(kinds[j], v)
		}
	}

	fields := make([]arrow.Field, len(names))
	for j, name := range names {
		fields[j] = arrow.Field{Name: name, Type: kinds[j].arrowType(), Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

// checkWidth rejects a row with more fields than the header.
func checkWidth(cr *csv.Reader, rec []string, width int) error {
	if len(rec) <= width {
		return nil
	}
	line, _ := cr.FieldPos(0)
	return errors.Newf("expected %d fields in line %d, saw %d", width, line, len(rec))
}

// padRows re-encodes the CSV in r with every row widened to width fields.
// Cells missing from short rows are written empty and read back as null.
func padRows(r io.Reader, width int) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(copyPadded(pw, r, width))
	}()
	return pr
}

func copyPadded(w io.Writer, r io.Reader, width int) error {
	cr := csv.NewReader(skipBOM(r))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cw := csv.NewWriter(w)
	row := make([]string, width)

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "parse row")
		}
		if err := checkWidth(cr, rec, width); err != nil {
			return err
		}
		n := copy(row, rec)
		clear(row[n:])

		// A lone empty field would be written as a blank line, which
		// readers skip.
		if width == 1 && row[0] == "" {
			cw.Flush()
			if _, err := io.WriteString(w, "\"\"\n"); err != nil {
				return err
			}
			continue
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func widen(k columnKind, v string) columnKind {
	if v == "" || k == kindString {
		return k
	}
	if k <= kindInt {
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			return kindInt
		}
	}
	if k <= kindFloat {
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return kindFloat
		}
	}
	if k == kindEmpty || k == kindBool {
		if isBool(v) {
			return kindBool
		}
	}
	return kindString
}

func isBool(v string) bool {
	switch v {
	case "true", "True", "TRUE", "false", "False", "FALSE":
		return true
	}
	return false
}

func (k columnKind) arrowType() arrow.DataType {
	switch k {
	case kindInt:
		return arrow.PrimitiveTypes.Int64
	case kindFloat, kindEmpty:
		return arrow.PrimitiveTypes.Float64
	case kindBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}
