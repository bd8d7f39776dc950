// Package reconcile implements the background reconciliation worker of
// spec.md 7: a ticker-driven pass over every registered module's rows
// and the CMI's rows for that module, repairing the two discrepancy
// classes the write/delete state machines (spec.md 4.12) can leave
// behind: a CMI row whose module row is gone (delete the CMI row) and a
// module row the CMI has no entry for (re-index it). Grounded on the
// ticker-per-goroutine shape of internal/supervisor.Supervisor and the
// buffered-queue/WaitGroup/Close pattern of the teacher's
// ObservationStore cleanup worker (internal/db/gorm/observation_store.go),
// adapted from "drain a queue of per-project cleanup requests" to "walk
// every registered module on a fixed period".
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/4xguy/federated-memory-sub003/internal/cmi"
	"github.com/4xguy/federated-memory-sub003/internal/core"
	"github.com/4xguy/federated-memory-sub003/internal/module"
	"github.com/4xguy/federated-memory-sub003/internal/vectorstore"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// DefaultPeriod is spec.md 7's default reconciliation interval.
const DefaultPeriod = 15 * time.Minute

// DefaultPageSize and DefaultMaxPagesPerCycle bound how much of one
// module's table a single cycle scans (spec.md 7: "per-user work is
// bounded per cycle to bound tail latency"). Every cycle restarts its
// scan from the beginning, so only the first pageSize*maxPagesPerCycle
// rows of a module's table are checked for case (b); rows past that
// window are not re-indexed by any cycle. Repairs beyond
// maxRepairsPerCycle within the window wait for later cycles.
const (
	DefaultPageSize         = 200
	DefaultMaxPagesPerCycle = 5
	DefaultMaxRepairsPerCycle = 200
)

// CMI is the subset of *cmi.Store the worker needs.
type CMI interface {
	HasRow(ctx context.Context, moduleID, remoteID string) (bool, error)
	DeleteIndex(ctx context.Context, moduleID, remoteID string) error
	OrphansForModule(ctx context.Context, moduleID string, existingIDs map[string]bool, limit int) ([]cmi.Entry, error)
}

// Registry is the subset of *registry.Registry the worker needs:
// enumerate modules, look up live instances.
type Registry interface {
	All() []models.ModuleDescriptor
	Get(id string) (module.Module, bool)
}

// Source is the optional capability a module.Module implementation can
// provide to support case-(b) repair: enumerate its own rows and
// re-index one of them. *module.BaseModule satisfies this; the worker
// upgrades a looked-up module.Module to Source with a type assertion
// rather than widening the core Module contract (spec.md 4.3) with a
// reconciliation-only method, the same optional-interface pattern as
// io.ReaderFrom.
type Source interface {
	ListPage(ctx context.Context, cursor string, limit int) ([]vectorstore.Row, string, error)
	Reindex(ctx context.Context, userID, id string) error
}

// Worker runs reconciliation on a fixed period.
type Worker struct {
	reg Registry
	cmi CMI

	period            time.Duration
	pageSize          int
	maxPagesPerCycle  int
	maxRepairsPerCycle int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Worker. A zero period falls back to DefaultPeriod.
func New(reg Registry, cmiStore CMI, period time.Duration) *Worker {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Worker{
		reg: reg, cmi: cmiStore, period: period,
		pageSize:           DefaultPageSize,
		maxPagesPerCycle:   DefaultMaxPagesPerCycle,
		maxRepairsPerCycle: DefaultMaxRepairsPerCycle,
		stopCh:             make(chan struct{}),
	}
}

// Start launches the background ticker goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Close signals the ticker goroutine to stop and waits for any in-flight
// cycle to finish before returning.
func (w *Worker) Close() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single reconciliation cycle over every registered
// module, exported so tests and an operator "reconcile now" command
// (cmd/enginectl) can force a pass without waiting for the ticker.
func (w *Worker) RunOnce(ctx context.Context) {
	for _, d := range w.reg.All() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.reconcileModule(ctx, d.ID)
	}
}

func (w *Worker) reconcileModule(ctx context.Context, moduleID string) {
	mod, ok := w.reg.Get(moduleID)
	if !ok {
		return
	}
	src, ok := mod.(Source)
	if !ok {
		log.Debug().Str("module", moduleID).Msg("reconcile: module does not support row enumeration, skipping")
		return
	}

	existingIDs, rowsByID := w.scanModuleRows(ctx, src)
	w.reindexOrphanModuleRows(ctx, moduleID, src, rowsByID)
	w.deleteOrphanCMIRows(ctx, moduleID, mod, existingIDs)
}

// scanModuleRows walks up to maxPagesPerCycle pages of src's table.
func (w *Worker) scanModuleRows(ctx context.Context, src Source) (map[string]bool, map[string]vectorstore.Row) {
	existingIDs := make(map[string]bool)
	rowsByID := make(map[string]vectorstore.Row)

	cursor := ""
	for page := 0; page < w.maxPagesPerCycle; page++ {
		rows, next, err := src.ListPage(ctx, cursor, w.pageSize)
		if err != nil {
			log.Warn().Err(err).Msg("reconcile: list page failed")
			return existingIDs, rowsByID
		}
		for _, r := range rows {
			existingIDs[r.ID] = true
			rowsByID[r.ID] = r
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return existingIDs, rowsByID
}

// reindexOrphanModuleRows implements spec.md 7 case (b): a module row
// with no matching CMI entry gets re-indexed.
func (w *Worker) reindexOrphanModuleRows(ctx context.Context, moduleID string, src Source, rowsByID map[string]vectorstore.Row) {
	repaired := 0
	for id, row := range rowsByID {
		if repaired >= w.maxRepairsPerCycle {
			return
		}
		has, err := w.cmi.HasRow(ctx, moduleID, id)
		if err != nil {
			log.Warn().Err(err).Str("module", moduleID).Str("id", id).Msg("reconcile: check cmi row failed")
			continue
		}
		if has {
			continue
		}
		if err := src.Reindex(ctx, row.UserID, id); err != nil {
			log.Warn().Err(err).Str("module", moduleID).Str("id", id).Msg("reconcile: reindex failed")
			continue
		}
		repaired++
		log.Info().Str("module", moduleID).Str("id", id).Msg("reconcile: reindexed orphan module row")
	}
}

// deleteOrphanCMIRows implements spec.md 7 case (a): a CMI row whose
// module row no longer exists gets deleted. OrphansForModule's
// existingIDs is only a bounded-page snapshot, so a candidate it
// surfaces might still exist beyond the scanned window; each candidate
// is re-verified with a direct Get before deletion so a partial scan
// can only delay a repair, never cause a wrong delete.
func (w *Worker) deleteOrphanCMIRows(ctx context.Context, moduleID string, mod module.Module, existingIDs map[string]bool) {
	candidates, err := w.cmi.OrphansForModule(ctx, moduleID, existingIDs, w.maxRepairsPerCycle)
	if err != nil {
		log.Warn().Err(err).Str("module", moduleID).Msg("reconcile: scan cmi orphans failed")
		return
	}
	for _, c := range candidates {
		_, err := mod.Get(ctx, c.UserID, c.RemoteMemoryID)
		if err == nil {
			continue // row exists after all; the page scan just hadn't reached it yet
		}
		if !core.IsNotFound(err) {
			log.Warn().Err(err).Str("module", moduleID).Str("id", c.RemoteMemoryID).Msg("reconcile: verify orphan candidate failed")
			continue
		}
		if err := w.cmi.DeleteIndex(ctx, moduleID, c.RemoteMemoryID); err != nil {
			log.Warn().Err(err).Str("module", moduleID).Str("id", c.RemoteMemoryID).Msg("reconcile: delete cmi orphan failed")
			continue
		}
		log.Info().Str("module", moduleID).Str("id", c.RemoteMemoryID).Msg("reconcile: deleted orphan cmi row")
	}
}
