// Package registry implements the module registry (C4, spec.md 3.1/4):
// a thread-safe directory of every module instance currently loaded,
// keyed by module id. Grounded on the RWMutex-guarded lookup-by-key
// shape of internal/embedding/model.go's ModelRegistry, generalised from
// embedding models to memory modules and carrying lifecycle state
// alongside the looked-up instance.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/4xguy/federated-memory-sub003/internal/module"
	"github.com/4xguy/federated-memory-sub003/pkg/models"
)

// entry pairs a live module instance with its registry bookkeeping.
type entry struct {
	instance module.Module
	descr    models.ModuleDescriptor
	health   models.ModuleHealth
	state    models.ModuleLifecycleState
}

// Registry is the process-wide directory of loaded modules. Reads
// (Get/ListActive/ListByType) are far more frequent than writes
// (Register/Unregister/UpdateConfig), so it is guarded by an RWMutex
// rather than a plain Mutex (spec.md 5 "registry guarded by RWMutex,
// reader-heavy").
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a module instance under its descriptor's id, stamping
// spec.md 6's type defaults onto its configuration the first time it is
// seen. Registering an id that already exists replaces the previous
// entry (used by the loader's reload path).
func (r *Registry) Register(instance module.Module, descr models.ModuleDescriptor) error {
	if descr.ID == "" {
		return fmt.Errorf("registry: module descriptor must have a non-empty id")
	}
	if descr.ID != instance.ID() {
		return fmt.Errorf("registry: descriptor id %q does not match instance id %q", descr.ID, instance.ID())
	}

	defaults := models.ModuleTypeDefaults(descr.Type)
	if descr.Configuration.MaxMemorySize == 0 {
		descr.Configuration.MaxMemorySize = defaults.MaxMemorySize
	}
	if descr.Configuration.RetentionDays == 0 {
		descr.Configuration.RetentionDays = defaults.RetentionDays
	}
	if descr.Configuration.SearchLimit == 0 {
		descr.Configuration.SearchLimit = defaults.SearchLimit
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[descr.ID] = &entry{
		instance: instance,
		descr:    descr,
		state:    models.StateInitialising,
		health:   models.ModuleHealth{Status: models.HealthHealthy},
	}
	log.Info().Str("module", descr.ID).Str("type", string(descr.Type)).Msg("module registered")
	return nil
}

// Unregister removes a module from the registry. It does not call
// Shutdown on the instance; the loader owns that lifecycle step so it
// can refuse to unload a module with live dependents first.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	log.Info().Str("module", id).Msg("module unregistered")
}

// Get returns the live module instance for id, or (nil, false) if unknown.
func (r *Registry) Get(id string) (module.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.instance, true
}

// Descriptor returns the registry's stored descriptor for id.
func (r *Registry) Descriptor(id string) (models.ModuleDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return models.ModuleDescriptor{}, false
	}
	return e.descr, true
}

// ListActive returns the ids of every module whose descriptor is marked
// active, whatever its lifecycle state or health; the orchestrator drops
// unhealthy ones before search fan-out.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.descr.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ListByType returns the ids of every registered module of the given type.
func (r *Registry) ListByType(t models.ModuleType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, e := range r.entries {
		if e.descr.Type == t {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// All returns every registered module's descriptor, ordered by id.
func (r *Registry) All() []models.ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ModuleDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.descr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateConfig applies patch to a module's stored configuration and
// notifies the live instance via OnConfigUpdate (spec.md 4.3's
// config-update hook).
func (r *Registry) UpdateConfig(id string, patch models.ModuleConfig) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: unknown module %q", id)
	}
	e.descr.Configuration = patch
	instance := e.instance
	r.mu.Unlock()

	instance.OnConfigUpdate(patch)
	return nil
}

// SetState records a module's lifecycle state (spec.md 4.12).
func (r *Registry) SetState(id string, state models.ModuleLifecycleState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.state = state
	}
}

// State returns a module's current lifecycle state.
func (r *Registry) State(id string) (models.ModuleLifecycleState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return e.state, true
}

// SetHealth records a module's latest health snapshot (written by the
// supervisor) and derives the matching lifecycle state transition.
func (r *Registry) SetHealth(id string, health models.ModuleHealth) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.health = health
	switch health.Status {
	case models.HealthUnhealthy:
		e.state = models.StateActiveUnhealthy
	case models.HealthDegraded:
		e.state = models.StateActiveDegraded
	default:
		if e.state == models.StateActiveUnhealthy || e.state == models.StateActiveDegraded || e.state == models.StateInitialising {
			e.state = models.StateActive
		}
	}
}

// Health returns a module's latest recorded health snapshot.
func (r *Registry) Health(id string) (models.ModuleHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return models.ModuleHealth{}, false
	}
	return e.health, true
}

// Broadcast fans an event out to every registered module's OnEvent hook,
// best-effort: one module's panic-free handler error does not stop
// delivery to the rest. Delivery goes to every currently registered
// module; the loader's Broadcast calls this directly.
func (r *Registry) Broadcast(ctx context.Context, name string, payload any) {
	r.mu.RLock()
	instances := make([]module.Module, 0, len(r.entries))
	for _, e := range r.entries {
		instances = append(instances, e.instance)
	}
	r.mu.RUnlock()

	for _, inst := range instances {
		inst.OnEvent(ctx, name, payload)
	}
}
