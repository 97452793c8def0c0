package core

import (
	"bytes"
	"encoding/gob"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Statistics are exact measurements taken from a materialized stage output.
type Statistics struct {
	RowCount    int64
	SizeInBytes int64
}

// nullValue stands in for nil inside encoded rows; gob cannot encode a nil
// interface value directly.
type nullValue struct{}

func init() {
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
	gob.Register(nullValue{})
}

// StageOutput is the materialized result of one stage: every shuffle
// partition gob-encoded and snappy-compressed. Outputs are immutable once
// built; concurrent readers decode independent copies. SizeInBytes reflects
// the compressed payload, matching what a shuffle write would occupy.
type StageOutput struct {
	schema     Schema
	partitions [][]byte
	stats      Statistics
}

// MaterializeOutput encodes the given partitions into an immutable output.
func MaterializeOutput(schema Schema, partitions [][]Row) (*StageOutput, error) {
	out := &StageOutput{
		schema:     schema,
		partitions: make([][]byte, len(partitions)),
	}
	for i, part := range partitions {
		encoded, err := encodePartition(part)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding partition %d", i)
		}
		out.partitions[i] = encoded
		out.stats.RowCount += int64(len(part))
		out.stats.SizeInBytes += int64(len(encoded))
	}
	return out, nil
}

// Schema returns the schema the rows were materialized with.
func (o *StageOutput) Schema() Schema { return o.schema }

// NumPartitions returns the number of shuffle partitions.
func (o *StageOutput) NumPartitions() int { return len(o.partitions) }

// Statistics returns the exact row count and compressed byte size.
func (o *StageOutput) Statistics() Statistics { return o.stats }

// Partition decodes and returns the rows of one partition.
func (o *StageOutput) Partition(i int) ([]Row, error) {
	if i < 0 || i >= len(o.partitions) {
		return nil, errors.Errorf("partition %d out of range [0,%d)", i, len(o.partitions))
	}
	rows, err := decodePartition(o.partitions[i])
	if err != nil {
		return nil, errors.Wrapf(err, "decoding partition %d", i)
	}
	return rows, nil
}

// AllRows decodes every partition in order and concatenates the rows. Used
// for broadcast relations and for delivering the root stage's result.
func (o *StageOutput) AllRows() ([]Row, error) {
	rows := make([]Row, 0, o.stats.RowCount)
	for i := range o.partitions {
		part, err := o.Partition(i)
		if err != nil {
			return nil, err
		}
		rows = append(rows, part...)
	}
	return rows, nil
}

func encodePartition(rows []Row) ([]byte, error) {
	encodable := make([]Row, len(rows))
	for i, row := range rows {
		out := make(Row, len(row))
		for j, v := range row {
			if v == nil {
				out[j] = nullValue{}
			} else {
				out[j] = Normalize(v)
			}
		}
		encodable[i] = out
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(encodable); err != nil {
		return nil, err
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

func decodePartition(data []byte) ([]Row, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, err
	}
	var rows []Row
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		for j, v := range row {
			if _, ok := v.(nullValue); ok {
				row[j] = nil
			}
		}
	}
	return rows, nil
}
