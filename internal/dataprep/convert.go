// Package dataprep converts the sample CSV table into Parquet so both tool
// host operations have a file to read.
package dataprep

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/cockroachdb/errors"
)

const (
	DefaultSource      = "sample.csv"
	DefaultDestination = "sample.parquet"
	defaultChunkSize   = 64 * 1024
)

type Options struct {
	// Compression defaults to Snappy.
	Compression *compress.Compression
	// ChunkSize is the number of CSV rows per written batch.
	ChunkSize int
	Logger    *slog.Logger
}

// Result describes a written Parquet file.
type Result struct {
	Source      string
	Destination string
	Rows        int64
	Columns     []string
}

// Convert reads the CSV file at src and writes its rows to dst as Parquet,
// one column per CSV column in the same order, with no index column.
func Convert(ctx context.Context, src, dst string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	codec := compress.Codecs.Snappy
	if opts.Compression != nil {
		codec = *opts.Compression
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, errors.Wrap(err, "open csv")
	}
	defer in.Close()

	schema, err := inferSchema(in)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", src)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "rewind csv")
	}

	rows := padRows(in, len(schema.Fields()))
	defer rows.Close()

	rdr := arrowcsv.NewReader(rows, schema,
		arrowcsv.WithHeader(true),
		arrowcsv.WithChunk(chunk),
		arrowcsv.WithNullReader(true, ""),
		arrowcsv.WithAllocator(memory.DefaultAllocator),
	)
	defer rdr.Release()

	// Written beside dst and renamed into place once complete.
	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, "create parquet")
	}
	committed := false
	defer func() {
		if !committed {
			_ = out.Close()
			_ = os.Remove(out.Name())
		}
	}()

	props := parquet.NewWriterProperties(parquet.WithCompression(codec))
	w, err := pqarrow.NewFileWriter(schema, out, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, errors.Wrap(err, "create parquet writer")
	}

	res := &Result{Source: src, Destination: dst}
	for rdr.Next() {
		if err := ctx.Err(); err != nil {
			_ = w.Close()
			return nil, err
		}
		rec := rdr.Record()
		if err := w.Write(rec); err != nil {
			_ = w.Close()
			return nil, errors.Wrap(err, "write parquet")
		}
		res.Rows += rec.NumRows()
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		_ = w.Close()
		return nil, errors.Wrapf(err, "read %s", src)
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "close parquet")
	}
	// The writer closes its sink; a second close only reports os.ErrClosed.
	if err := out.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return nil, errors.Wrap(err, "close parquet")
	}
	if err := os.Rename(out.Name(), dst); err != nil {
		return nil, errors.Wrap(err, "replace parquet")
	}
	committed = true

	for _, f := range schema.Fields() {
		res.Columns = append(res.Columns, f.Name)
	}
	logger.Info("converted csv to parquet", "src", src, "dst", dst, "rows", res.Rows, "columns", len(res.Columns))
	return res, nil
}
