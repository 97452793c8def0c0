// Package plan models physical query plans as immutable trees over a closed
// set of operators. Rewrites never mutate a node in place: they rebuild the
// spine of the tree and share every untouched subtree, so a scheduler can
// keep reading a stage's plan while a rewrite for an ancestor is computed.
package plan

import (
	"fmt"
	"strings"

	"adaptdb/core"
)

// Kind tags each operator variant. The set is closed; dispatch is by
// exhaustive switch over Kind or by type switch over Node.
type Kind int

const (
	KindScan Kind = iota
	KindFilter
	KindProject
	KindExchange
	KindSortMergeJoin
	KindBroadcastHashJoin
	KindQueryStageInput
	KindReusedQueryStage
)

func (k Kind) String() string {
	switch k {
	case KindScan:
		return "Scan"
	case KindFilter:
		return "Filter"
	case KindProject:
		return "Project"
	case KindExchange:
		return "Exchange"
	case KindSortMergeJoin:
		return "SortMergeJoin"
	case KindBroadcastHashJoin:
		return "BroadcastHashJoin"
	case KindQueryStageInput:
		return "QueryStageInput"
	case KindReusedQueryStage:
		return "ReusedQueryStage"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Node is one physical operator. Implementations are value-like: treat
// every node and its attribute slices as immutable after construction.
type Node interface {
	Kind() Kind
	Children() []Node
	Schema() core.Schema
	// OutputPartitioning describes how this operator's output is laid out.
	OutputPartitioning() Partitioning
	// RequiredChildDistributions has one entry per child.
	RequiredChildDistributions() []Distribution
	// WithChildren returns a copy of the node with the given children; the
	// receiver is untouched. len(children) must match len(Children()).
	WithChildren(children []Node) Node
}

// JoinType enumerates the supported join semantics.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftOuterJoin
)

func (t JoinType) String() string {
	switch t {
	case InnerJoin:
		return "INNER"
	case LeftOuterJoin:
		return "LEFT"
	default:
		return fmt.Sprintf("JoinType(%d)", int(t))
	}
}

// Side names one input of a binary join.
type Side int

const (
	LeftSide Side = iota
	RightSide
)

func (s Side) String() string {
	if s == LeftSide {
		return "left"
	}
	return "right"
}

// CompareOp is a predicate comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// Predicate is a single column-versus-literal comparison.
type Predicate struct {
	Column string
	Op     CompareOp
	Value  interface{}
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %v", p.Column, p.Op, p.Value)
}

// Scan reads a named base table.
type Scan struct {
	Table       string
	TableSchema core.Schema
}

// NewScan builds a scan over the given table.
func NewScan(table string, schema core.Schema) *Scan {
	return &Scan{Table: table, TableSchema: schema}
}

func (s *Scan) Kind() Kind                                { return KindScan }
func (s *Scan) Children() []Node                          { return nil }
func (s *Scan) Schema() core.Schema                       { return s.TableSchema }
func (s *Scan) OutputPartitioning() Partitioning          { return UnknownPartitioning{} }
func (s *Scan) RequiredChildDistributions() []Distribution { return nil }
func (s *Scan) WithChildren(children []Node) Node {
	out := *s
	return &out
}

// Filter keeps the input rows matching Pred.
type Filter struct {
	Input Node
	Pred  Predicate
}

func (f *Filter) Kind() Kind              { return KindFilter }
func (f *Filter) Children() []Node        { return []Node{f.Input} }
func (f *Filter) Schema() core.Schema     { return f.Input.Schema() }
func (f *Filter) OutputPartitioning() Partitioning { return f.Input.OutputPartitioning() }
func (f *Filter) RequiredChildDistributions() []Distribution {
	return []Distribution{UnspecifiedDistribution{}}
}
func (f *Filter) WithChildren(children []Node) Node {
	out := *f
	out.Input = children[0]
	return &out
}

// Project narrows the input to the named columns, in order.
type Project struct {
	Input   Node
	Columns []string
}

func (p *Project) Kind() Kind       { return KindProject }
func (p *Project) Children() []Node { return []Node{p.Input} }
func (p *Project) Schema() core.Schema {
	schema, err := p.Input.Schema().Project(p.Columns)
	if err != nil {
		// Column resolution failures surface as planning errors before
		// execution; Schema stays total for traversal code.
		return nil
	}
	return schema
}
func (p *Project) OutputPartitioning() Partitioning { return p.Input.OutputPartitioning() }
func (p *Project) RequiredChildDistributions() []Distribution {
	return []Distribution{UnspecifiedDistribution{}}
}
func (p *Project) WithChildren(children []Node) Node {
	out := *p
	out.Input = children[0]
	return &out
}

// Exchange redistributes its input according to Partitioning. Every
// Exchange is a stage boundary under adaptive execution.
type Exchange struct {
	Input        Node
	Partitioning Partitioning
}

func (e *Exchange) Kind() Kind                       { return KindExchange }
func (e *Exchange) Children() []Node                 { return []Node{e.Input} }
func (e *Exchange) Schema() core.Schema              { return e.Input.Schema() }
func (e *Exchange) OutputPartitioning() Partitioning { return e.Partitioning }
func (e *Exchange) RequiredChildDistributions() []Distribution {
	return []Distribution{UnspecifiedDistribution{}}
}
func (e *Exchange) WithChildren(children []Node) Node {
	out := *e
	out.Input = children[0]
	return &out
}

// SortMergeJoin joins two co-partitioned inputs by sorting each partition
// pair on the join keys and merging.
type SortMergeJoin struct {
	Left      Node
	Right     Node
	LeftKeys  []string
	RightKeys []string
	Type      JoinType
}

func (j *SortMergeJoin) Kind() Kind          { return KindSortMergeJoin }
func (j *SortMergeJoin) Children() []Node    { return []Node{j.Left, j.Right} }
func (j *SortMergeJoin) Schema() core.Schema { return j.Left.Schema().Concat(j.Right.Schema()) }
func (j *SortMergeJoin) OutputPartitioning() Partitioning {
	// Equal join keys end up in the same partition on both sides, so the
	// output remains clustered on either side's keys.
	return PartitioningCollection{j.Left.OutputPartitioning(), j.Right.OutputPartitioning()}
}
func (j *SortMergeJoin) RequiredChildDistributions() []Distribution {
	return []Distribution{
		ClusteredDistribution{Keys: j.LeftKeys},
		ClusteredDistribution{Keys: j.RightKeys},
	}
}
func (j *SortMergeJoin) WithChildren(children []Node) Node {
	out := *j
	out.Left = children[0]
	out.Right = children[1]
	return &out
}

func (j *SortMergeJoin) String() string {
	return fmt.Sprintf("SortMergeJoin[%s] %s = %s", j.Type,
		strings.Join(j.LeftKeys, ", "), strings.Join(j.RightKeys, ", "))
}

// BroadcastHashJoin builds a hash table from the full BuildSide relation and
// probes it with each partition of the other (streamed) side. The streamed
// side's layout passes through untouched.
type BroadcastHashJoin struct {
	Left      Node
	Right     Node
	LeftKeys  []string
	RightKeys []string
	Type      JoinType
	BuildSide Side
}

func (j *BroadcastHashJoin) Kind() Kind          { return KindBroadcastHashJoin }
func (j *BroadcastHashJoin) Children() []Node    { return []Node{j.Left, j.Right} }
func (j *BroadcastHashJoin) Schema() core.Schema { return j.Left.Schema().Concat(j.Right.Schema()) }

// Streamed returns the non-build input.
func (j *BroadcastHashJoin) Streamed() Node {
	if j.BuildSide == LeftSide {
		return j.Right
	}
	return j.Left
}

// Build returns the broadcast input.
func (j *BroadcastHashJoin) Build() Node {
	if j.BuildSide == LeftSide {
		return j.Left
	}
	return j.Right
}

func (j *BroadcastHashJoin) OutputPartitioning() Partitioning {
	return j.Streamed().OutputPartitioning()
}
func (j *BroadcastHashJoin) RequiredChildDistributions() []Distribution {
	if j.BuildSide == LeftSide {
		return []Distribution{BroadcastDistribution{}, UnspecifiedDistribution{}}
	}
	return []Distribution{UnspecifiedDistribution{}, BroadcastDistribution{}}
}
func (j *BroadcastHashJoin) WithChildren(children []Node) Node {
	out := *j
	out.Left = children[0]
	out.Right = children[1]
	return &out
}

func (j *BroadcastHashJoin) String() string {
	return fmt.Sprintf("BroadcastHashJoin[%s, build=%s] %s = %s", j.Type, j.BuildSide,
		strings.Join(j.LeftKeys, ", "), strings.Join(j.RightKeys, ", "))
}

// StageInput is implemented by the two leaf variants that substitute a
// materialized stage's output into a parent plan.
type StageInput interface {
	Node
	ReferencedStage() *Stage
}

// QueryStageInput is the leaf that replaces an Exchange after partitioning:
// it streams the referenced stage's materialized output, preserving the
// original Exchange's output partitioning contract.
type QueryStageInput struct {
	Ref *Stage
}

func (q *QueryStageInput) Kind() Kind                       { return KindQueryStageInput }
func (q *QueryStageInput) Children() []Node                 { return nil }
func (q *QueryStageInput) Schema() core.Schema              { return q.Ref.PlanSchema() }
func (q *QueryStageInput) OutputPartitioning() Partitioning { return q.Ref.OutputPartitioning() }
func (q *QueryStageInput) RequiredChildDistributions() []Distribution { return nil }
func (q *QueryStageInput) WithChildren(children []Node) Node {
	out := *q
	return &out
}
func (q *QueryStageInput) ReferencedStage() *Stage { return q.Ref }

// ReusedQueryStage references a stage that was created for a different
// Exchange occurrence with an identical signature. It never triggers
// materialization itself.
type ReusedQueryStage struct {
	Ref *Stage
}

func (r *ReusedQueryStage) Kind() Kind                       { return KindReusedQueryStage }
func (r *ReusedQueryStage) Children() []Node                 { return nil }
func (r *ReusedQueryStage) Schema() core.Schema              { return r.Ref.PlanSchema() }
func (r *ReusedQueryStage) OutputPartitioning() Partitioning { return r.Ref.OutputPartitioning() }
func (r *ReusedQueryStage) RequiredChildDistributions() []Distribution { return nil }
func (r *ReusedQueryStage) WithChildren(children []Node) Node {
	out := *r
	return &out
}
func (r *ReusedQueryStage) ReferencedStage() *Stage { return r.Ref }
