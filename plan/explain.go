package plan

import (
	"fmt"
	"strings"

	"github.com/xlab/treeprint"
)

// Explain renders the plan tree, descending into referenced stage plans.
// Reused stages are rendered once and referenced by ID afterwards.
func Explain(n Node) string {
	tree := treeprint.New()
	tree.SetValue("plan")
	explainInto(tree, n, make(map[int]bool))
	return tree.String()
}

// ExplainStage renders a stage header followed by its child plan.
func ExplainStage(st *Stage) string {
	tree := treeprint.New()
	tree.SetValue(stageLabel(st))
	explainInto(tree, st.Plan(), map[int]bool{st.ID(): true})
	return tree.String()
}

func explainInto(tree treeprint.Tree, n Node, seen map[int]bool) {
	branch := tree.AddBranch(nodeLabel(n))
	if in, ok := n.(StageInput); ok {
		st := in.ReferencedStage()
		if !seen[st.ID()] {
			seen[st.ID()] = true
			sub := branch.AddBranch(stageLabel(st))
			explainInto(sub, st.Plan(), seen)
		}
		return
	}
	for _, c := range n.Children() {
		explainInto(branch, c, seen)
	}
}

func nodeLabel(n Node) string {
	switch v := n.(type) {
	case *Scan:
		return fmt.Sprintf("Scan %s", v.Table)
	case *Filter:
		return fmt.Sprintf("Filter [%s]", v.Pred)
	case *Project:
		return fmt.Sprintf("Project [%s]", strings.Join(v.Columns, ", "))
	case *Exchange:
		return fmt.Sprintf("Exchange %s", v.Partitioning)
	case *SortMergeJoin:
		return v.String()
	case *BroadcastHashJoin:
		return v.String()
	case *QueryStageInput:
		return fmt.Sprintf("QueryStageInput(stage=%d%s)", v.Ref.ID(), statsSuffix(v.Ref))
	case *ReusedQueryStage:
		return fmt.Sprintf("ReusedQueryStage(stage=%d%s)", v.Ref.ID(), statsSuffix(v.Ref))
	default:
		return n.Kind().String()
	}
}

func stageLabel(st *Stage) string {
	return fmt.Sprintf("Stage %d [%s] %s", st.ID(), st.State(), st.OutputPartitioning())
}

func statsSuffix(st *Stage) string {
	stats, ok := st.Statistics()
	if !ok {
		return ""
	}
	return fmt.Sprintf(", rows=%d, bytes=%d", stats.RowCount, stats.SizeInBytes)
}
