package datasummary

import (
	"context"
	"io"
	"regexp"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/cockroachdb/errors"
)

// Columns pandas adds when a frame with a non-default index is written.
var pandasIndexColumn = regexp.MustCompile(`^__index_level_\d+__$`)

func readParquet(ctx context.Context, r parquet.ReaderAtSeeker, opts readOptions) (*Summary, error) {
	pr, err := file.NewParquetReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open parquet")
	}
	defer pr.Close()

	batch := int64(opts.previewRows)
	if batch <= 0 {
		batch = 1
	}
	fr, err := pqarrow.NewFileReader(pr, pqarrow.ArrowReadProperties{BatchSize: batch}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Wrap(err, "read parquet metadata")
	}
	schema, err := fr.Schema()
	if err != nil {
		return nil, errors.Wrap(err, "read parquet schema")
	}

	var visible []int
	sum := &Summary{Kind: KindParquet, Rows: int(pr.NumRows())}
	for i, field := range schema.Fields() {
		if pandasIndexColumn.MatchString(field.Name) {
			continue
		}
		visible = append(visible, i)
		sum.Columns = append(sum.Columns, field.Name)
	}
	if opts.previewRows == 0 || len(visible) == 0 || sum.Rows == 0 {
		return sum, nil
	}

	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "read parquet rows")
	}
	defer rr.Release()

	for len(sum.Preview) < opts.previewRows && rr.Next() {
		rec := rr.Record()
		for i := 0; i < int(rec.NumRows()) && len(sum.Preview) < opts.previewRows; i++ {
			row := make([]Cell, len(visible))
			for j, idx := range visible {
				col := rec.Column(idx)
				if col.IsNull(i) {
					row[j] = Cell{Null: true}
					continue
				}
				row[j] = Cell{Value: clip(col.ValueStr(i), opts.maxCellWidth)}
			}
			sum.Preview = append(sum.Preview, row)
		}
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "read parquet rows")
	}
	return sum, nil
}
