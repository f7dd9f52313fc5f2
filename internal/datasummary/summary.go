// Package datasummary reads tabular files from a fixed data directory and
// renders the short text summaries the tool host hands back to the model.
package datasummary

import (
	"fmt"
	"strings"
)

// Kind names the file format being summarized.
type Kind string

const (
	KindCSV     Kind = "CSV"
	KindParquet Kind = "Parquet"
)

// Cell is one preview value. Null cells render as NaN.
type Cell struct {
	Value string
	Null  bool
}

// Summary is the result of reading one file. It is built fresh per call.
type Summary struct {
	Kind     Kind
	Filename string
	Rows     int
	Columns  []string
	Preview  [][]Cell
}

// String renders the summary text, e.g.
//
//	CSV file 'sample.csv' has 5 rows and 2 columns.
//	Columns: id, value
//	First rows:
//	   id  value
//	0   1     10
func (s *Summary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s file '%s' has %d rows and %d columns.\n", s.Kind, s.Filename, s.Rows, len(s.Columns))
	fmt.Fprintf(&sb, "Columns: %s\n", strings.Join(s.Columns, ", "))
	sb.WriteString("First rows:\n")
	sb.WriteString(renderFrame(s.Columns, s.Preview))
	return sb.String()
}

// NotFoundMessage is the in-band text for a file that is not in the data directory.
func NotFoundMessage(filename string) string {
	return fmt.Sprintf("File '%s' not found in data directory.", filename)
}

// ReadErrorMessage is the in-band text for a file that exists but could not be read.
func ReadErrorMessage(kind Kind, filename string, cause error) string {
	return fmt.Sprintf("Error reading %s file '%s': %v", kind, filename, cause)
}
