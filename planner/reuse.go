package planner

import (
	"go.uber.org/zap"

	"adaptdb/plan"
)

// ReuseContext detects semantically identical Exchanges within a single
// query so the shared subtree materializes once. It is query-scoped state:
// create one per query execution and never share it across queries. All
// writes happen during the partitioner's single-threaded traversal, so no
// locking is needed.
type ReuseContext struct {
	buckets     map[uint64][]reuseEntry
	nextStageID int
	log         *zap.Logger
}

type reuseEntry struct {
	exchange *plan.Exchange
	stage    *plan.Stage
}

// NewReuseContext creates an empty context for one query.
func NewReuseContext(log *zap.Logger) *ReuseContext {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReuseContext{
		buckets: make(map[uint64][]reuseEntry),
		log:     log,
	}
}

// StageFor resolves an Exchange to a stage input. A signature hit confirmed
// by full structural equality returns a ReusedQueryStage over the existing
// stage; otherwise a new stage is created, registered under the signature
// and returned behind an ordinary QueryStageInput. A hash collision whose
// equality check fails is treated as a distinct Exchange, never an error.
func (rc *ReuseContext) StageFor(ex *plan.Exchange) (plan.Node, *plan.Stage, bool) {
	sig := plan.ExchangeSignature(ex)
	bucket := rc.buckets[sig.Hash]
	for _, entry := range bucket {
		if plan.ExchangeEqual(entry.exchange, ex) {
			rc.log.Debug("reusing exchange stage",
				zap.Uint64("signature", sig.Hash),
				zap.Int("stage", entry.stage.ID()))
			return &plan.ReusedQueryStage{Ref: entry.stage}, entry.stage, true
		}
	}
	if len(bucket) > 0 {
		rc.log.Debug("exchange signature collision, creating distinct stage",
			zap.Uint64("signature", sig.Hash))
	}

	stage := rc.AllocateStage(ex.Input, ex.Partitioning)
	rc.buckets[sig.Hash] = append(bucket, reuseEntry{exchange: ex, stage: stage})
	return &plan.QueryStageInput{Ref: stage}, stage, false
}

// AllocateStage creates a stage with the next sequential ID without
// registering it for reuse. The partitioner uses StageFor for Exchange
// stages; the result stage is allocated directly.
func (rc *ReuseContext) AllocateStage(p plan.Node, partitioning plan.Partitioning) *plan.Stage {
	stage := plan.NewStage(rc.nextStageID, p, partitioning)
	rc.nextStageID++
	return stage
}
