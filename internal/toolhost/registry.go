package toolhost

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/stellarlinkco/mixdata/internal/datasummary"
)

const (
	SummarizeCSV     = "summarize_csv_file"
	SummarizeParquet = "summarize_parquet_file"
)

// FileArgs is the argument object both operations accept. The advertised
// input schema is derived from this type.
type FileArgs struct {
	Filename string `json:"filename" jsonschema:"name of the file inside the data directory such as sample.csv"`
}

// Handler produces the text handed back to the model. Failures to read the
// file are part of the text, not errors.
type Handler func(ctx context.Context, args FileArgs) string

// Operation is a named capability exposed by the tool host.
type Operation struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Handler     Handler

	resolved *jsonschema.Resolved
}

// Invoke validates raw arguments against the operation schema, then runs
// the handler. Only argument mismatches produce an error.
func (o *Operation) Invoke(ctx context.Context, raw json.RawMessage) (string, error) {
	instance := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &instance); err != nil {
			return "", errors.Wrapf(err, "decode %s arguments", o.Name)
		}
	}
	if err := o.resolved.Validate(instance); err != nil {
		return "", errors.Wrapf(err, "invalid %s arguments", o.Name)
	}
	var args FileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", errors.Wrapf(err, "decode %s arguments", o.Name)
	}
	return o.Handler(ctx, args), nil
}

// Registry is the fixed, ordered set of operations a host serves.
type Registry struct {
	ops    []*Operation
	byName map[string]*Operation
}

// NewRegistry builds the CSV and Parquet summary operations over s.
func NewRegistry(s *datasummary.Summarizer) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Operation)}
	defs := []struct {
		name string
		desc string
		kind datasummary.Kind
	}{
		{SummarizeCSV, "Summarize a CSV file from the data directory. Reports the number of rows and columns, the column names and the first rows.", datasummary.KindCSV},
		{SummarizeParquet, "Summarize a Parquet file from the data directory. Reports the number of rows and columns, the column names and the first rows.", datasummary.KindParquet},
	}
	for _, d := range defs {
		kind := d.kind
		err := r.Register(d.name, d.desc, func(ctx context.Context, args FileArgs) string {
			return s.Describe(ctx, kind, args.Filename)
		})
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(name, description string, h Handler) error {
	if name == "" || h == nil {
		return errors.New("operation needs a name and a handler")
	}
	if _, dup := r.byName[name]; dup {
		return errors.Newf("operation %q already registered", name)
	}
	schema, err := jsonschema.For[FileArgs](nil)
	if err != nil {
		return errors.Wrapf(err, "schema for %s", name)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return errors.Wrapf(err, "resolve schema for %s", name)
	}
	op := &Operation{
		Name:        name,
		Description: description,
		Schema:      schema,
		Handler:     h,
		resolved:    resolved,
	}
	r.ops = append(r.ops, op)
	r.byName[name] = op
	return nil
}

func (r *Registry) Operations() []*Operation {
	return append([]*Operation(nil), r.ops...)
}

func (r *Registry) Lookup(name string) (*Operation, bool) {
	op, ok := r.byName[name]
	return op, ok
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.ops))
	for i, op := range r.ops {
		names[i] = op.Name
	}
	return names
}
