// Package engine ties planning, scheduling and execution together behind a
// single Execute call.
package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adaptdb/catalog"
	"adaptdb/core"
	"adaptdb/exec"
	"adaptdb/plan"
	"adaptdb/planner"
	"adaptdb/scheduler"
)

// Engine executes physical plans against a catalog.
type Engine struct {
	cfg     Config
	catalog *catalog.Catalog
	log     *zap.Logger
}

// New validates the config and creates an engine.
func New(cfg Config, cat *catalog.Catalog, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, catalog: cat, log: log}, nil
}

// Catalog returns the engine's table catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Result is the outcome of one executed query.
type Result struct {
	Schema core.Schema
	Rows   []core.Row

	// RootStage is the final stage of an adaptive run; nil when adaptive
	// execution was off.
	RootStage *plan.Stage
	finalPlan plan.Node
}

// FinalPlan returns the plan that actually ran, after all adaptive
// rewrites.
func (r *Result) FinalPlan() plan.Node { return r.finalPlan }

// OperatorCount counts operators of the given kind in the executed plan,
// descending into referenced stage plans. A shared stage counts once.
func (r *Result) OperatorCount(kind plan.Kind) int {
	return plan.CountDAG(r.finalPlan, kind)
}

// Explain renders the executed plan, including stage boundaries and, for
// completed stages, their measured output sizes.
func (r *Result) Explain() string {
	if r.RootStage != nil {
		return plan.ExplainStage(r.RootStage)
	}
	return plan.Explain(r.finalPlan)
}

// Execute plans and runs p, returning the fully collected result rows.
func (e *Engine) Execute(ctx context.Context, p plan.Node) (*Result, error) {
	queryID := uuid.NewString()
	log := e.log.With(zap.String("query_id", queryID))
	log.Info("executing query", zap.String("root", p.Kind().String()))

	prepared := planner.ApplyAutoBroadcast(p, e.cfg.AutoBroadcastJoinThreshold, e.catalog, log)
	prepared, err := planner.EnsureRequirements(prepared, e.cfg.ShufflePartitions)
	if err != nil {
		return nil, err
	}

	if !e.cfg.AdaptiveExecutionEnabled {
		return e.executeDirect(ctx, prepared, log)
	}
	return e.executeAdaptive(ctx, prepared, log)
}

func (e *Engine) executeAdaptive(ctx context.Context, p plan.Node, log *zap.Logger) (*Result, error) {
	reuse := planner.NewReuseContext(log)
	partitioner := planner.NewPartitioner(reuse, log)
	partitioned, _, err := partitioner.Partition(p)
	if err != nil {
		return nil, err
	}
	root := reuse.AllocateStage(partitioned, plan.SinglePartition{})

	rewriter := planner.NewJoinRewriter(e.cfg.AdaptiveBroadcastJoinThreshold, partitioner, log)
	sched := scheduler.New(exec.NewExecutor(e.catalog, log), rewriter, log)
	out, err := sched.Run(ctx, root)
	if err != nil {
		return nil, err
	}
	rows, err := out.AllRows()
	if err != nil {
		return nil, err
	}
	log.Info("query completed",
		zap.Int("stages", len(scheduler.CollectStages(root))),
		zap.Int64("rows", out.Statistics().RowCount))
	return &Result{
		Schema:    out.Schema(),
		Rows:      rows,
		RootStage: root,
		finalPlan: root.Plan(),
	}, nil
}

func (e *Engine) executeDirect(ctx context.Context, p plan.Node, log *zap.Logger) (*Result, error) {
	executor := exec.NewExecutor(e.catalog, log)
	out, err := executor.ExecutePlan(ctx, p)
	if err != nil {
		return nil, err
	}
	rows, err := out.AllRows()
	if err != nil {
		return nil, err
	}
	log.Info("query completed", zap.Int64("rows", out.Statistics().RowCount))
	return &Result{Schema: out.Schema(), Rows: rows, finalPlan: p}, nil
}
