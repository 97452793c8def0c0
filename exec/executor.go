// Package exec runs physical plans against registered tables. Execution is
// partition-at-a-time: every operator consumes and produces a resultSet, a
// schema plus one row slice per partition, and stage boundaries materialize
// the final resultSet into a compressed core.StageOutput.
package exec

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"adaptdb/catalog"
	"adaptdb/core"
	"adaptdb/plan"
)

// Executor evaluates plan trees. It is safe for concurrent use; all mutable
// state lives in per-call values.
type Executor struct {
	catalog *catalog.Catalog
	log     *zap.Logger
}

// NewExecutor creates an executor over the given catalog.
func NewExecutor(cat *catalog.Catalog, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{catalog: cat, log: log}
}

// resultSet is the in-flight representation of an operator's output.
type resultSet struct {
	schema core.Schema
	parts  [][]core.Row
}

func (r *resultSet) numRows() int {
	n := 0
	for _, p := range r.parts {
		n += len(p)
	}
	return n
}

func (r *resultSet) allRows() []core.Row {
	rows := make([]core.Row, 0, r.numRows())
	for _, p := range r.parts {
		rows = append(rows, p...)
	}
	return rows
}

// ExecuteStage runs a stage's plan and materializes the output laid out
// according to the stage's declared partitioning.
func (e *Executor) ExecuteStage(ctx context.Context, st *plan.Stage) (*core.StageOutput, error) {
	rs, err := e.run(ctx, st.Plan())
	if err != nil {
		return nil, err
	}
	parts, err := repartition(rs, st.OutputPartitioning())
	if err != nil {
		return nil, err
	}
	out, err := core.MaterializeOutput(rs.schema, parts)
	if err != nil {
		return nil, err
	}
	e.log.Debug("stage materialized",
		zap.Int("stage", st.ID()),
		zap.Int("partitions", out.NumPartitions()),
		zap.Int64("rows", out.Statistics().RowCount),
		zap.Int64("bytes", out.Statistics().SizeInBytes))
	return out, nil
}

// ExecutePlan runs a plan that still contains inline Exchange operators,
// without any stage boundaries. This is the non-adaptive path.
func (e *Executor) ExecutePlan(ctx context.Context, p plan.Node) (*core.StageOutput, error) {
	rs, err := e.run(ctx, p)
	if err != nil {
		return nil, err
	}
	return core.MaterializeOutput(rs.schema, rs.parts)
}

func (e *Executor) run(ctx context.Context, n plan.Node) (*resultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch op := n.(type) {
	case *plan.Scan:
		return e.runScan(ctx, op)
	case *plan.Filter:
		return e.runFilter(ctx, op)
	case *plan.Project:
		return e.runProject(ctx, op)
	case *plan.Exchange:
		return e.runExchange(ctx, op)
	case plan.StageInput:
		return stageResult(op.ReferencedStage())
	case *plan.SortMergeJoin:
		return e.runSortMergeJoin(ctx, op)
	case *plan.BroadcastHashJoin:
		return e.runBroadcastHashJoin(ctx, op)
	default:
		return nil, errors.Errorf("exec: unsupported operator %s", n.Kind())
	}
}

func (e *Executor) runScan(ctx context.Context, op *plan.Scan) (*resultSet, error) {
	table, err := e.catalog.Table(op.Table)
	if err != nil {
		return nil, err
	}
	batches, err := table.Source.Scan(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning table %q", op.Table)
	}
	parts := make([][]core.Row, len(batches))
	for i, b := range batches {
		parts[i] = b.Rows
	}
	if len(parts) == 0 {
		parts = [][]core.Row{nil}
	}
	return &resultSet{schema: table.Schema(), parts: parts}, nil
}

func (e *Executor) runFilter(ctx context.Context, op *plan.Filter) (*resultSet, error) {
	in, err := e.run(ctx, op.Input)
	if err != nil {
		return nil, err
	}
	col := in.schema.ColumnIndex(op.Pred.Column)
	if col < 0 {
		return nil, errors.Errorf("exec: filter column %q not in schema", op.Pred.Column)
	}
	parts := make([][]core.Row, len(in.parts))
	for i, part := range in.parts {
		sel := roaring.New()
		for row := range part {
			ok, err := evalPredicate(op.Pred, part[row][col])
			if err != nil {
				return nil, err
			}
			if ok {
				sel.Add(uint32(row))
			}
		}
		kept := make([]core.Row, 0, sel.GetCardinality())
		it := sel.Iterator()
		for it.HasNext() {
			kept = append(kept, part[it.Next()])
		}
		parts[i] = kept
	}
	return &resultSet{schema: in.schema, parts: parts}, nil
}

// evalPredicate applies SQL comparison semantics: any comparison against a
// null value is not satisfied.
func evalPredicate(pred plan.Predicate, v interface{}) (bool, error) {
	if v == nil || pred.Value == nil {
		return false, nil
	}
	c, err := core.CompareValues(v, pred.Value)
	if err != nil {
		return false, errors.Wrapf(err, "evaluating %s", pred)
	}
	switch pred.Op {
	case plan.OpEq:
		return c == 0, nil
	case plan.OpNe:
		return c != 0, nil
	case plan.OpLt:
		return c < 0, nil
	case plan.OpLe:
		return c <= 0, nil
	case plan.OpGt:
		return c > 0, nil
	case plan.OpGe:
		return c >= 0, nil
	default:
		return false, errors.Errorf("exec: unknown comparison operator %q", pred.Op)
	}
}

func (e *Executor) runProject(ctx context.Context, op *plan.Project) (*resultSet, error) {
	in, err := e.run(ctx, op.Input)
	if err != nil {
		return nil, err
	}
	schema, err := in.schema.Project(op.Columns)
	if err != nil {
		return nil, err
	}
	idx, err := columnIndexes(in.schema, op.Columns)
	if err != nil {
		return nil, err
	}
	parts := make([][]core.Row, len(in.parts))
	for i, part := range in.parts {
		out := make([]core.Row, len(part))
		for r, row := range part {
			projected := make(core.Row, len(idx))
			for c, src := range idx {
				projected[c] = row[src]
			}
			out[r] = projected
		}
		parts[i] = out
	}
	return &resultSet{schema: schema, parts: parts}, nil
}

func (e *Executor) runExchange(ctx context.Context, op *plan.Exchange) (*resultSet, error) {
	in, err := e.run(ctx, op.Input)
	if err != nil {
		return nil, err
	}
	parts, err := repartition(in, op.Partitioning)
	if err != nil {
		return nil, err
	}
	return &resultSet{schema: in.schema, parts: parts}, nil
}

func stageResult(st *plan.Stage) (*resultSet, error) {
	out, err := st.Output()
	if err != nil {
		return nil, err
	}
	parts := make([][]core.Row, out.NumPartitions())
	for i := range parts {
		rows, err := out.Partition(i)
		if err != nil {
			return nil, err
		}
		parts[i] = rows
	}
	return &resultSet{schema: out.Schema(), parts: parts}, nil
}

// repartition redistributes a resultSet's rows into the layout a stage or
// Exchange declares.
func repartition(in *resultSet, p plan.Partitioning) ([][]core.Row, error) {
	switch target := p.(type) {
	case plan.SinglePartition:
		return [][]core.Row{in.allRows()}, nil
	case plan.HashPartitioning:
		if target.Partitions < 1 {
			return nil, errors.Errorf("exec: hash partitioning with %d partitions", target.Partitions)
		}
		keyIdx, err := columnIndexes(in.schema, target.Keys)
		if err != nil {
			return nil, err
		}
		parts := make([][]core.Row, target.Partitions)
		for _, part := range in.parts {
			for _, row := range part {
				h, err := core.HashKey(row, keyIdx)
				if err != nil {
					return nil, err
				}
				slot := int(h % uint64(target.Partitions))
				parts[slot] = append(parts[slot], row)
			}
		}
		return parts, nil
	default:
		return nil, errors.Errorf("exec: cannot repartition to %s", p)
	}
}

func columnIndexes(schema core.Schema, names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		col := schema.ColumnIndex(name)
		if col < 0 {
			return nil, errors.Errorf("exec: column %q not in schema", name)
		}
		idx[i] = col
	}
	return idx, nil
}
