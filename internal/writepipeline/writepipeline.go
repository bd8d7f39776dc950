// Package writepipeline implements the write pipeline (C10, spec.md
// 4.9) and its state machine (spec.md 4.12 "Write"): a thin wrapper
// around a module's Store that applies the per-operation store/bulk
// deadlines of spec.md 5 and translates Store's result into the
// Embedding/ModuleInserted/Indexed-or-IndexPending/Failed vocabulary
// callers (and tests) can assert against directly, plus a BulkStore
// that polls for cancellation between items instead of running one
// unbounded loop (spec.md 5 "long operations must poll it between
// items and stop cleanly").
//
// The strict embed → module-insert → cmi-index → invalidate → return-id
// sequence itself already lives in internal/module.BaseModule.Store,
// since that is where the state genuinely is (one module instance, one
// adapter, one cache) — this package does not re-implement or duplicate
// that sequence, only bounds it with the pipeline's deadlines and
// names its terminal states. Grounded on the teacher's bounded-batch
// worker loop in internal/worker/pool.go (deadline context wrapping a
// per-item call, checked for cancellation between items).
package writepipeline

import (
	"context"
	"time"

	"github.com/4xguy/federated-memory-sub003/internal/core"
	"github.com/4xguy/federated-memory-sub003/internal/module"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// DefaultStoreDeadline is spec.md 5's per-operation soft deadline for a
// single store.
const DefaultStoreDeadline = 5 * time.Second

// DefaultBulkDeadline is spec.md 5's soft deadline for a bulk write.
const DefaultBulkDeadline = 60 * time.Second

// WriteState names the terminal states of spec.md 4.12's write state
// machine this pipeline can observe. The transient pre-terminal states
// named in the spec (Embedding, ModuleInserted) happen entirely inside
// BaseModule.Store's single call and are not separately observable from
// outside it; what this pipeline reports is always one of the three
// outcomes a caller actually needs to branch on.
type WriteState string

const (
	StateIndexed      WriteState = "indexed"
	StateIndexPending WriteState = "index_pending"
	StateFailed       WriteState = "failed"
)

// WriteOutcome is the result of one pipeline write.
type WriteOutcome struct {
	ID    string
	State WriteState
	Err   error
}

// Indexed reports whether the write fully completed, including its CMI
// index (spec.md 7: "store returns an id on success and on IndexPending
// (with indexed=false)" — only StateIndexed counts as indexed=true).
func (o WriteOutcome) Indexed() bool { return o.State == StateIndexed }

// Pipeline applies spec.md 4.9/4.12/5 on top of a module.Module's Store.
type Pipeline struct {
	storeDeadline time.Duration
	bulkDeadline  time.Duration
}

// New builds a Pipeline; a zero deadline falls back to the package default.
func New(storeDeadline, bulkDeadline time.Duration) *Pipeline {
	if storeDeadline <= 0 {
		storeDeadline = DefaultStoreDeadline
	}
	if bulkDeadline <= 0 {
		bulkDeadline = DefaultBulkDeadline
	}
	return &Pipeline{storeDeadline: storeDeadline, bulkDeadline: bulkDeadline}
}

// Store runs a single write under the store deadline and classifies the
// result into spec.md 4.12's terminal write states.
func (p *Pipeline) Store(ctx context.Context, mod module.Module, userID, content string, metadata models.Metadata) WriteOutcome {
	storeCtx, cancel := context.WithTimeout(ctx, p.storeDeadline)
	defer cancel()

	id, err := mod.Store(storeCtx, userID, content, metadata)
	switch {
	case err == nil:
		return WriteOutcome{ID: id, State: StateIndexed}
	case id == "":
		// Embedding or the module-side insert itself failed: spec.md
		// 4.12's "Embedding -> Failed" / "ModuleInsert -> Failed", no
		// partial row to report.
		return WriteOutcome{State: StateFailed, Err: err}
	case core.KindOf(err) == core.KindReconcile:
		// The module row persists; only the CMI index step failed.
		// spec.md 4.12's "ModuleInserted -> IndexPending", enqueued for
		// reconciliation (internal/reconcile picks these up by scanning
		// for module rows the CMI has no matching entry for).
		return WriteOutcome{ID: id, State: StateIndexPending, Err: err}
	default:
		return WriteOutcome{ID: id, State: StateFailed, Err: err}
	}
}

// BulkItem is one write in a BulkStore batch.
type BulkItem struct {
	UserID   string
	Content  string
	Metadata models.Metadata
}

// BulkResult pairs a BulkItem's position in the batch with its outcome.
type BulkResult struct {
	Index   int
	Outcome WriteOutcome
}

// BulkStore writes items to mod under a single bulk deadline, checking
// for cancellation between each item and returning whatever completed
// so far the moment the deadline or an external cancellation fires
// (spec.md 5: "must poll it between items and stop cleanly"). A partial
// return is not an error; the caller sees exactly how many of len(items)
// completed via len(result).
func (p *Pipeline) BulkStore(ctx context.Context, mod module.Module, items []BulkItem) []BulkResult {
	bulkCtx, cancel := context.WithTimeout(ctx, p.bulkDeadline)
	defer cancel()

	results := make([]BulkResult, 0, len(items))
	for i, item := range items {
		select {
		case <-bulkCtx.Done():
			return results
		default:
		}
		results = append(results, BulkResult{
			Index:   i,
			Outcome: p.Store(bulkCtx, mod, item.UserID, item.Content, item.Metadata),
		})
	}
	return results
}
