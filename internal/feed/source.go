package feed

import "context"

// Record is one CSV row of a feed. Keys are immutable and ascend in the order
// a source returns records.
type Record interface {
	Key() string
	Row() []string
}

// RecordSource pages records out of the catalog. GetBatch returns the records
// whose key is greater than cursor, at most batchSize of them, and an empty
// slice once nothing is left. A batchSize of -1 asks for everything at once.
type RecordSource interface {
	Header() []string
	GetBatch(ctx context.Context, batchNumber, batchSize int, cursor string) ([]Record, error)
}

// Row is a ready-made Record.
type Row struct {
	ID     string
	Values []string
}

func (r Row) Key() string   { return r.ID }
func (r Row) Row() []string { return r.Values }

// StaticSource serves a fixed list of rows sorted by ID.
type StaticSource struct {
	Columns []string
	Rows    []Row
}

func (s *StaticSource) Header() []string {
	return s.Columns
}

func (s *StaticSource) GetBatch(ctx context.Context, batchNumber, batchSize int, cursor string) ([]Record, error) {
	var out []Record
	for _, r := range s.Rows {
		if cursor != "" && r.ID <= cursor {
			continue
		}
		out = append(out, r)
		if batchSize > 0 && len(out) == batchSize {
			break
		}
	}
	return out, nil
}
