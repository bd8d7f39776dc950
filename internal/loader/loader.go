// Package loader implements the module loader (C5, spec.md 3.1/4):
// dependency-ordered initialization, controlled unload/reload, and
// best-effort event broadcast across the modules the registry tracks.
// Grounded on the teacher's worker startup sequencing in cmd's main
// wiring (explicit construct-then-Initialize order) generalised into a
// proper dependency graph, since the teacher itself has only one
// long-running worker and no module graph to order.
package loader

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/4xguy/federated-memory-sub003/internal/module"
	"github.com/4xguy/federated-memory-sub003/internal/registry"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// Candidate is one module awaiting load: its instance, descriptor and
// declared dependencies (spec.md 3.1 ModuleDescriptor.Requires/Optional).
type Candidate struct {
	Instance module.Module
	Descr    models.ModuleDescriptor
}

// Loader sequences module initialization by dependency order and keeps
// enough bookkeeping to refuse an unload that would orphan a live
// dependent.
type Loader struct {
	reg     *registry.Registry
	loaded  map[string]bool
	dependents map[string][]string // moduleID -> ids that Require it
}

// New builds a Loader bound to reg.
func New(reg *registry.Registry) *Loader {
	return &Loader{reg: reg, loaded: make(map[string]bool), dependents: make(map[string][]string)}
}

// LoadAll topologically sorts candidates by Requires and initializes
// each in order, registering it with the registry as it succeeds. A
// module whose Requires lists an id not present among candidates, or
// that participates in a dependency cycle, is skipped with a logged
// reason rather than aborting the whole batch (spec.md 4.5 "partial
// startup is acceptable; a broken module should not block the rest").
func (l *Loader) LoadAll(ctx context.Context, candidates []Candidate) error {
	order, skipped := topoSort(candidates)
	for id, reason := range skipped {
		log.Warn().Str("module", id).Str("reason", reason).Msg("module load skipped")
	}

	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.Descr.ID] = c
	}

	for _, id := range order {
		c := byID[id]
		if err := l.loadOne(ctx, c); err != nil {
			log.Error().Err(err).Str("module", id).Msg("module failed to initialize, continuing with remaining modules")
			continue
		}
	}
	return nil
}

func (l *Loader) loadOne(ctx context.Context, c Candidate) error {
	if err := c.Instance.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize %s: %w", c.Descr.ID, err)
	}
	c.Descr.IsActive = true
	if err := l.reg.Register(c.Instance, c.Descr); err != nil {
		return fmt.Errorf("register %s: %w", c.Descr.ID, err)
	}
	l.loaded[c.Descr.ID] = true
	for _, dep := range c.Descr.Requires {
		l.dependents[dep] = append(l.dependents[dep], c.Descr.ID)
	}
	l.reg.SetState(c.Descr.ID, models.StateActive)
	return nil
}

// LoadOne initializes and loads a single candidate outside the
// batch path (e.g. hot-adding a module after startup). Dependencies are
// assumed to already be loaded; callers needing dependency ordering for
// a single addition should go through LoadAll with the full candidate set.
func (l *Loader) LoadOne(ctx context.Context, c Candidate) error {
	for _, dep := range c.Descr.Requires {
		if !l.loaded[dep] {
			return fmt.Errorf("loader: %s requires %s, which is not loaded", c.Descr.ID, dep)
		}
	}
	return l.loadOne(ctx, c)
}

// Unload shuts a module down and removes it from the registry, refusing
// if any other loaded module still declares it as a required dependency
// (spec.md 4.5 "unload refuses while live dependents exist").
func (l *Loader) Unload(ctx context.Context, id string) error {
	if deps := l.dependents[id]; len(deps) > 0 {
		live := make([]string, 0, len(deps))
		for _, d := range deps {
			if l.loaded[d] {
				live = append(live, d)
			}
		}
		if len(live) > 0 {
			sort.Strings(live)
			return fmt.Errorf("loader: cannot unload %s: still required by %v", id, live)
		}
	}

	inst, ok := l.reg.Get(id)
	if !ok {
		return fmt.Errorf("loader: unknown module %s", id)
	}
	l.reg.SetState(id, models.StateShuttingDown)
	if err := inst.Shutdown(ctx); err != nil {
		l.reg.SetState(id, models.StateFailed)
		return fmt.Errorf("shutdown %s: %w", id, err)
	}
	l.reg.Unregister(id)
	delete(l.loaded, id)
	delete(l.dependents, id)
	return nil
}

// Reload unloads and re-loads a module with (possibly) a new instance
// and descriptor. Like Unload, it fails and leaves the module loaded
// while another loaded module still requires it.
func (l *Loader) Reload(ctx context.Context, c Candidate) error {
	if l.loaded[c.Descr.ID] {
		if err := l.Unload(ctx, c.Descr.ID); err != nil {
			return err
		}
	}
	return l.LoadOne(ctx, c)
}

// Broadcast fans an event out to every loaded module, best-effort.
func (l *Loader) Broadcast(ctx context.Context, name string, payload any) {
	l.reg.Broadcast(ctx, name, payload)
}

// topoSort orders candidates by Requires using Kahn's algorithm. Ties
// are broken lexicographically by id for deterministic output. Modules
// whose Requires references an unknown id, or that sit in a cycle, are
// reported in skipped with a reason instead of appearing in the order.
func topoSort(candidates []Candidate) (order []string, skipped map[string]string) {
	skipped = make(map[string]string)
	indegree := make(map[string]int, len(candidates))
	adj := make(map[string][]string, len(candidates))
	known := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		known[c.Descr.ID] = true
		indegree[c.Descr.ID] = 0
	}
	for _, c := range candidates {
		for _, dep := range c.Descr.Requires {
			if !known[dep] {
				skipped[c.Descr.ID] = fmt.Sprintf("requires unknown module %q", dep)
				continue
			}
			adj[dep] = append(adj[dep], c.Descr.ID)
			indegree[c.Descr.ID]++
		}
	}

	var ready []string
	for id := range indegree {
		if _, bad := skipped[id]; bad {
			continue
		}
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := append([]string(nil), adj[id]...)
		sort.Strings(next)
		for _, dep := range next {
			if _, bad := skipped[dep]; bad {
				continue
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	for id := range known {
		if _, bad := skipped[id]; bad {
			continue
		}
		found := false
		for _, o := range order {
			if o == id {
				found = true
				break
			}
		}
		if !found {
			skipped[id] = "part of a dependency cycle"
		}
	}
	return order, skipped
}
