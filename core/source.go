package core

import "context"

// TableSource supplies the rows of a base table to scan execution. Sources
// are black-box collaborators: the engine only asks for batches and, where
// available, a size estimate for static planning.
type TableSource interface {
	Schema() Schema
	Scan(ctx context.Context) ([]Batch, error)
}

// MemTable is an in-memory table source, used by tests and the demo CLI.
type MemTable struct {
	schema  Schema
	batches []Batch
}

// NewMemTable builds an in-memory source from rows, splitting them into
// batches of batchSize (0 means a single batch).
func NewMemTable(schema Schema, rows []Row, batchSize int) *MemTable {
	if batchSize <= 0 {
		batchSize = len(rows)
	}
	t := &MemTable{schema: schema}
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		t.batches = append(t.batches, Batch{Rows: rows[start:end]})
	}
	if len(t.batches) == 0 {
		t.batches = []Batch{{}}
	}
	return t
}

// Schema implements TableSource.
func (t *MemTable) Schema() Schema { return t.schema }

// Scan implements TableSource.
func (t *MemTable) Scan(ctx context.Context) ([]Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.batches, nil
}
