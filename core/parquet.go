package core

import (
	"context"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

const parquetBatchSize = 1024

// ParquetTable reads a local parquet file as a table source.
type ParquetTable struct {
	path   string
	schema Schema
	size   int64
}

// NewParquetTable opens the file once to derive the schema and file size,
// then closes it; Scan re-opens per call so the source carries no open
// handles between queries.
func NewParquetTable(path string) (*ParquetTable, error) {
	file, osFile, err := openParquet(path)
	if err != nil {
		return nil, err
	}
	defer osFile.Close()

	schema := make(Schema, 0, len(file.Schema().Fields()))
	for _, field := range file.Schema().Fields() {
		dt, err := dataTypeOf(field.Type().Kind())
		if err != nil {
			return nil, errors.Wrapf(err, "column %q in %s", field.Name(), path)
		}
		schema = append(schema, Column{Name: field.Name(), Type: dt})
	}

	return &ParquetTable{path: path, schema: schema, size: file.Size()}, nil
}

// Schema implements TableSource.
func (t *ParquetTable) Schema() Schema { return t.schema }

// SizeInBytes returns the on-disk file size, usable as a static estimate.
func (t *ParquetTable) SizeInBytes() int64 { return t.size }

// Scan implements TableSource.
func (t *ParquetTable) Scan(ctx context.Context) ([]Batch, error) {
	file, osFile, err := openParquet(t.path)
	if err != nil {
		return nil, err
	}
	defer osFile.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var batches []Batch
	current := make([]Row, 0, parquetBatchSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record := make(map[string]interface{})
		if err := reader.Read(&record); err != nil {
			break // io.EOF ends the file
		}
		row := make(Row, len(t.schema))
		for i, col := range t.schema {
			row[i] = normalizeParquetValue(record[col.Name])
		}
		current = append(current, row)
		if len(current) == parquetBatchSize {
			batches = append(batches, Batch{Rows: current})
			current = make([]Row, 0, parquetBatchSize)
		}
	}
	if len(current) > 0 {
		batches = append(batches, Batch{Rows: current})
	}
	if len(batches) == 0 {
		batches = []Batch{{}}
	}
	return batches, nil
}

func openParquet(path string) (*parquet.File, *os.File, error) {
	osFile, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening parquet file %s", path)
	}
	stat, err := osFile.Stat()
	if err != nil {
		osFile.Close()
		return nil, nil, errors.Wrapf(err, "stating parquet file %s", path)
	}
	file, err := parquet.OpenFile(osFile, stat.Size())
	if err != nil {
		osFile.Close()
		return nil, nil, errors.Wrapf(err, "reading parquet footer of %s", path)
	}
	return file, osFile, nil
}

func dataTypeOf(kind parquet.Kind) (DataType, error) {
	switch kind {
	case parquet.Boolean:
		return TypeBool, nil
	case parquet.Int32, parquet.Int64:
		return TypeInt64, nil
	case parquet.Float, parquet.Double:
		return TypeFloat64, nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return TypeString, nil
	default:
		return "", errors.Errorf("unsupported parquet kind %v", kind)
	}
}

func normalizeParquetValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return Normalize(v)
}
