package exec

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"adaptdb/core"
	"adaptdb/plan"
)

// runSortMergeJoin joins two co-partitioned inputs partition pair by
// partition pair. Both sides must have the same partition count; the
// planner's shuffle insertion guarantees that.
func (e *Executor) runSortMergeJoin(ctx context.Context, op *plan.SortMergeJoin) (*resultSet, error) {
	left, err := e.run(ctx, op.Left)
	if err != nil {
		return nil, err
	}
	right, err := e.run(ctx, op.Right)
	if err != nil {
		return nil, err
	}
	if len(left.parts) != len(right.parts) {
		return nil, errors.Errorf("exec: sort-merge join over %d vs %d partitions",
			len(left.parts), len(right.parts))
	}
	lIdx, err := columnIndexes(left.schema, op.LeftKeys)
	if err != nil {
		return nil, err
	}
	rIdx, err := columnIndexes(right.schema, op.RightKeys)
	if err != nil {
		return nil, err
	}
	parts := make([][]core.Row, len(left.parts))
	for i := range left.parts {
		joined, err := mergeJoinPartition(left.parts[i], right.parts[i], lIdx, rIdx,
			op.Type, len(right.schema))
		if err != nil {
			return nil, err
		}
		parts[i] = joined
	}
	return &resultSet{schema: op.Schema(), parts: parts}, nil
}

func mergeJoinPartition(left, right []core.Row, lIdx, rIdx []int, jt plan.JoinType, rightWidth int) ([]core.Row, error) {
	l, err := sortedByKeys(left, lIdx)
	if err != nil {
		return nil, err
	}
	r, err := sortedByKeys(right, rIdx)
	if err != nil {
		return nil, err
	}

	var out []core.Row
	i, j := 0, 0
	for i < len(l) && j < len(r) {
		// Null join keys never match anything.
		if hasNullKey(l[i], lIdx) {
			if jt == plan.LeftOuterJoin {
				out = append(out, concatRows(l[i], nullRow(rightWidth)))
			}
			i++
			continue
		}
		if hasNullKey(r[j], rIdx) {
			j++
			continue
		}
		c, err := core.CompareKeys(l[i], r[j], lIdx, rIdx)
		if err != nil {
			return nil, err
		}
		switch {
		case c < 0:
			if jt == plan.LeftOuterJoin {
				out = append(out, concatRows(l[i], nullRow(rightWidth)))
			}
			i++
		case c > 0:
			j++
		default:
			// Gather the group of right rows sharing this key value, then
			// cross it with every matching left row.
			groupEnd := j + 1
			for groupEnd < len(r) {
				same, err := core.CompareKeys(r[j], r[groupEnd], rIdx, rIdx)
				if err != nil {
					return nil, err
				}
				if same != 0 {
					break
				}
				groupEnd++
			}
			for i < len(l) {
				if hasNullKey(l[i], lIdx) {
					break
				}
				match, err := core.CompareKeys(l[i], r[j], lIdx, rIdx)
				if err != nil {
					return nil, err
				}
				if match != 0 {
					break
				}
				for k := j; k < groupEnd; k++ {
					out = append(out, concatRows(l[i], r[k]))
				}
				i++
			}
			j = groupEnd
		}
	}
	if jt == plan.LeftOuterJoin {
		for ; i < len(l); i++ {
			out = append(out, concatRows(l[i], nullRow(rightWidth)))
		}
	}
	return out, nil
}

// runBroadcastHashJoin collects the whole build side, hashes it on the
// build keys and probes it with each streamed partition independently. The
// output keeps the streamed side's partition count.
func (e *Executor) runBroadcastHashJoin(ctx context.Context, op *plan.BroadcastHashJoin) (*resultSet, error) {
	if op.Type == plan.LeftOuterJoin && op.BuildSide == plan.LeftSide {
		// Preserving unmatched build rows needs match state shared across
		// streamed partitions, which broadcast execution does not keep.
		return nil, errors.New("exec: left outer join cannot build on the left side")
	}
	left, err := e.run(ctx, op.Left)
	if err != nil {
		return nil, err
	}
	right, err := e.run(ctx, op.Right)
	if err != nil {
		return nil, err
	}

	streamed, build := left, right
	streamKeys, buildKeys := op.LeftKeys, op.RightKeys
	if op.BuildSide == plan.LeftSide {
		streamed, build = right, left
		streamKeys, buildKeys = op.RightKeys, op.LeftKeys
	}
	streamIdx, err := columnIndexes(streamed.schema, streamKeys)
	if err != nil {
		return nil, err
	}
	buildIdx, err := columnIndexes(build.schema, buildKeys)
	if err != nil {
		return nil, err
	}

	table := make(map[string][]core.Row)
	for _, row := range build.allRows() {
		if hasNullKey(row, buildIdx) {
			continue
		}
		key, err := core.KeyOf(row, buildIdx)
		if err != nil {
			return nil, err
		}
		table[key] = append(table[key], row)
	}

	buildWidth := len(build.schema)
	parts := make([][]core.Row, len(streamed.parts))
	for i, part := range streamed.parts {
		var out []core.Row
		for _, row := range part {
			var matches []core.Row
			if !hasNullKey(row, streamIdx) {
				key, err := core.KeyOf(row, streamIdx)
				if err != nil {
					return nil, err
				}
				matches = table[key]
			}
			switch {
			case len(matches) > 0:
				for _, m := range matches {
					out = append(out, joinedRow(op.BuildSide, row, m))
				}
			case op.Type == plan.LeftOuterJoin:
				out = append(out, concatRows(row, nullRow(buildWidth)))
			}
		}
		parts[i] = out
	}
	return &resultSet{schema: op.Schema(), parts: parts}, nil
}

// joinedRow emits columns in left-then-right order regardless of which side
// was built.
func joinedRow(buildSide plan.Side, streamed, build core.Row) core.Row {
	if buildSide == plan.LeftSide {
		return concatRows(build, streamed)
	}
	return concatRows(streamed, build)
}

// sortedByKeys returns a stably sorted copy; the input partition belongs to
// a shared stage output and must stay untouched.
func sortedByKeys(rows []core.Row, keyIdx []int) ([]core.Row, error) {
	sorted := make([]core.Row, len(rows))
	copy(sorted, rows)
	var sortErr error
	sort.SliceStable(sorted, func(i, j int) bool {
		c, err := core.CompareKeys(sorted[i], sorted[j], keyIdx, keyIdx)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return sorted, nil
}

func hasNullKey(row core.Row, keyIdx []int) bool {
	for _, i := range keyIdx {
		if row[i] == nil {
			return true
		}
	}
	return false
}

func concatRows(a, b core.Row) core.Row {
	out := make(core.Row, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func nullRow(width int) core.Row {
	return make(core.Row, width)
}
