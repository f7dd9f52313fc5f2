package datasummary

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

var (
	ErrFileNotFound   = errors.New("file not found in data directory")
	ErrOutsideDataDir = errors.New("path escapes the data directory")
	ErrNoColumns      = errors.New("no columns to parse from file")
)

type Options struct {
	PreviewRows  int
	MaxCellWidth int
	Logger       *slog.Logger
}

type readOptions struct {
	previewRows  int
	maxCellWidth int
}

// Summarizer reads files from one data directory fixed at construction.
// It holds no mutable state and is safe for concurrent use.
type Summarizer struct {
	dir    string
	opts   readOptions
	logger *slog.Logger
}

func NewSummarizer(dir string, opts Options) *Summarizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		dir:    dir,
		opts:   readOptions{previewRows: opts.PreviewRows, maxCellWidth: opts.MaxCellWidth},
		logger: logger,
	}
}

// Summarize reads filename, relative to the data directory, as kind.
// Names that are absolute or climb out of the directory fail with
// ErrOutsideDataDir; os.Root also refuses symlinks that leave it.
func (s *Summarizer) Summarize(ctx context.Context, kind Kind, filename string) (*Summary, error) {
	if !filepath.IsLocal(filename) {
		return nil, errors.Wrapf(ErrOutsideDataDir, "%q", filename)
	}

	root, err := os.OpenRoot(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrFileNotFound, "data directory %s", s.dir)
		}
		return nil, errors.Wrap(err, "open data directory")
	}
	defer root.Close()

	f, err := root.Open(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(ErrFileNotFound, "%q", filename)
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.Newf("%s is a directory", filename)
	}

	var sum *Summary
	switch kind {
	case KindCSV:
		sum, err = readCSV(f, s.opts)
	case KindParquet:
		sum, err = readParquet(ctx, f, s.opts)
	default:
		err = errors.Newf("unsupported file kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	sum.Filename = filename
	return sum, nil
}

// Describe is Summarize with failures folded into the returned text, so
// callers always get something to show the model.
func (s *Summarizer) Describe(ctx context.Context, kind Kind, filename string) string {
	sum, err := s.Summarize(ctx, kind, filename)
	switch {
	case err == nil:
		s.logger.Info("summarized file", "kind", kind, "file", filename, "rows", sum.Rows, "columns", len(sum.Columns))
		return sum.String()
	case errors.Is(err, ErrOutsideDataDir):
		s.logger.Warn("rejected path outside data directory", "kind", kind, "file", filename)
		return NotFoundMessage(filename)
	case errors.Is(err, ErrFileNotFound):
		s.logger.Info("file not found", "kind", kind, "file", filename)
		return NotFoundMessage(filename)
	default:
		s.logger.Warn("summary failed", "kind", kind, "file", filename, "err", err)
		return ReadErrorMessage(kind, filename, err)
	}
}
