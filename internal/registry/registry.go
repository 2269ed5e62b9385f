// Package registry is the catalog of model adapters. It owns each adapter's
// rolling reliability score and health flag; the planner reads candidates,
// the engine reports outcomes.
package registry

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"masterchain.app/orchestrator/internal/adapter"
	"masterchain.app/orchestrator/internal/model"
)

// entry holds one adapter plus its mutable counters. Reliability and health
// are per-adapter atomics so concurrent steps never serialize on a registry
// lock while reporting outcomes.
type entry struct {
	adapter     adapter.Adapter
	reliability atomic.Uint64 // float64 bits
	healthy     atomic.Bool
}

type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	alpha   float64
}

// New creates a registry with the given EMA smoothing factor for
// reliability updates.
func New(alpha float64) *Registry {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.2
	}
	return &Registry{
		entries: make(map[string]*entry),
		alpha:   alpha,
	}
}

// Register adds an adapter, seeding reliability and health from its
// descriptor. Registering an existing name replaces the previous entry.
func (r *Registry) Register(a adapter.Adapter) {
	d := a.Descriptor()
	e := &entry{adapter: a}
	e.reliability.Store(math.Float64bits(d.Reliability))
	e.healthy.Store(d.Healthy)

	r.mu.Lock()
	r.entries[d.Name] = e
	r.mu.Unlock()
}

// Get returns the adapter by name.
func (r *Registry) Get(name string) (adapter.Adapter, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
	return e.adapter, nil
}

// Descriptor returns the current view of one adapter, including the live
// reliability score and health flag.
func (r *Registry) Descriptor(name string) (model.ModelDescriptor, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return model.ModelDescriptor{}, fmt.Errorf("unknown adapter %q", name)
	}
	return r.describe(e), nil
}

// Candidates returns the healthy adapters offering the capability, sorted by
// reliability descending, then cost ascending. The first is the planner's
// primary choice, the next two its fallbacks.
func (r *Registry) Candidates(cap model.Capability) []model.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.ModelDescriptor
	for _, e := range r.entries {
		if !e.healthy.Load() {
			continue
		}
		d := r.describe(e)
		if d.Supports(cap) {
			out = append(out, d)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Reliability != out[j].Reliability {
			return out[i].Reliability > out[j].Reliability
		}
		if out[i].CostPerSecond != out[j].CostPerSecond {
			return out[i].CostPerSecond < out[j].CostPerSecond
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Observe folds one invocation outcome into the adapter's reliability EMA.
// Lock-free on the hot path: a CAS loop over the float bits.
func (r *Registry) Observe(name string, ok bool) {
	r.mu.RLock()
	e, found := r.entries[name]
	r.mu.RUnlock()
	if !found {
		return
	}

	sample := 0.0
	if ok {
		sample = 1.0
	}
	for {
		oldBits := e.reliability.Load()
		old := math.Float64frombits(oldBits)
		next := (1-r.alpha)*old + r.alpha*sample
		if e.reliability.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return
		}
	}
}

// SetHealthy flips an adapter's availability.
func (r *Registry) SetHealthy(name string, healthy bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		e.healthy.Store(healthy)
	}
}

// Names returns all registered adapter names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) describe(e *entry) model.ModelDescriptor {
	d := e.adapter.Descriptor()
	d.Reliability = math.Float64frombits(e.reliability.Load())
	d.Healthy = e.healthy.Load()
	return d
}
