package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Sentinel errors for registry operations.
var (
	// ErrAdapterExists indicates a register call with an already-taken name.
	ErrAdapterExists = errors.New("adapter already registered")

	// ErrAdapterNotFound indicates a lookup for an unknown adapter name.
	ErrAdapterNotFound = errors.New("adapter not found")
)

// Registration is the stored record for one registered adapter.
type Registration struct {
	Adapter         Adapter
	Config          map[string]any
	RegisteredAt    time.Time
	LastHealthCheck *Health
}

// Resolver looks up an adapter by name. The scheduler receives a Resolver
// rather than the full registry so it cannot mutate registrations.
type Resolver func(name string) (Adapter, bool)

// Registry stores adapter instances indexed by name and, through a reverse
// index, by supported action. Reads take a shared lock; register and
// unregister hold the exclusive lock and update both indices atomically.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Registration
	byAction map[string]map[string]struct{}
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*Registration),
		byAction: make(map[string]map[string]struct{}),
	}
}

// Register initializes the adapter and stores it. Fails on name collision;
// a failed Initialize leaves the registry unchanged.
func (r *Registry) Register(ctx context.Context, a Adapter, config map[string]any) error {
	name := a.Name()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrAdapterExists, name)
	}

	if err := a.Initialize(ctx, config); err != nil {
		return fmt.Errorf("initialize adapter %s: %w", name, err)
	}

	r.byName[name] = &Registration{
		Adapter:      a,
		Config:       config,
		RegisteredAt: time.Now(),
	}
	for _, action := range a.SupportedActions() {
		set, ok := r.byAction[action]
		if !ok {
			set = make(map[string]struct{})
			r.byAction[action] = set
		}
		set[name] = struct{}{}
	}

	slog.Info("Adapter registered", "adapter", name, "version", a.Version(),
		"actions", len(a.SupportedActions()))
	return nil
}

// Unregister removes an adapter and its action index entries.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAdapterNotFound, name)
	}

	delete(r.byName, name)
	for _, action := range reg.Adapter.SupportedActions() {
		if set, ok := r.byAction[action]; ok {
			delete(set, name)
			if len(set) == 0 {
				delete(r.byAction, action)
			}
		}
	}

	slog.Info("Adapter unregistered", "adapter", name)
	return nil
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, name)
	}
	return reg.Adapter, nil
}

// GetForAction returns every adapter that declared the action.
func (r *Registry) GetForAction(action string) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names, ok := r.byAction[action]
	if !ok {
		return nil
	}
	out := make([]Adapter, 0, len(names))
	for name := range names {
		out = append(out, r.byName[name].Adapter)
	}
	return out
}

// Supports reports whether the named adapter declared the action.
func (r *Registry) Supports(name, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.byAction[action]
	if !ok {
		return false
	}
	_, ok = set[name]
	return ok
}

// List returns the registration records keyed by adapter name.
func (r *Registry) List() map[string]*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Registration, len(r.byName))
	for name, reg := range r.byName {
		out[name] = reg
	}
	return out
}

// Size returns the number of registered adapters.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// HealthCheckAll runs health checks on every adapter and records the
// result on each registration.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]Health {
	r.mu.RLock()
	adapters := make(map[string]Adapter, len(r.byName))
	for name, reg := range r.byName {
		adapters[name] = reg.Adapter
	}
	r.mu.RUnlock()

	results := make(map[string]Health, len(adapters))
	for name, a := range adapters {
		started := time.Now()
		health := a.HealthCheck(ctx)
		if health.LatencyMS == 0 {
			health.LatencyMS = time.Since(started).Milliseconds()
		}
		if health.CheckedAt.IsZero() {
			health.CheckedAt = time.Now()
		}
		results[name] = health
	}

	r.mu.Lock()
	for name, health := range results {
		if reg, ok := r.byName[name]; ok {
			h := health
			reg.LastHealthCheck = &h
		}
	}
	r.mu.Unlock()

	return results
}

// ShutdownAll shuts every adapter down and clears the registry. Individual
// shutdown failures are logged and do not stop the pass.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, reg := range r.byName {
		if err := reg.Adapter.Shutdown(ctx); err != nil {
			slog.Error("Adapter shutdown failed", "adapter", name, "error", err)
		}
	}
	r.byName = make(map[string]*Registration)
	r.byAction = make(map[string]map[string]struct{})
}

// CreateResolver returns a read-only name → adapter lookup for the
// scheduler.
func (r *Registry) CreateResolver() Resolver {
	return func(name string) (Adapter, bool) {
		a, err := r.Get(name)
		if err != nil {
			return nil, false
		}
		return a, true
	}
}
