package display

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Prober checks whether a backend can run on this host and builds it.
type Prober interface {
	Name() string
	Priority() int
	Probe(ctx context.Context) (Backend, error)
}

type probeFunc struct {
	name     string
	priority int
	fn       func(ctx context.Context) (Backend, error)
}

func (p *probeFunc) Name() string  { return p.name }
func (p *probeFunc) Priority() int { return p.priority }
func (p *probeFunc) Probe(ctx context.Context) (Backend, error) {
	return p.fn(ctx)
}

// NewProber adapts a function into a Prober.
func NewProber(name string, priority int, fn func(ctx context.Context) (Backend, error)) Prober {
	return &probeFunc{name: name, priority: priority, fn: fn}
}

// Registry holds the probers a Dispatcher chooses from.
type Registry struct {
	mu      sync.RWMutex
	probers map[string]Prober
}

// NewRegistry creates an empty prober registry
func NewRegistry() *Registry {
	return &Registry{
		probers: make(map[string]Prober),
	}
}

// Register adds a prober to the registry
func (r *Registry) Register(p Prober) error {
	if p == nil {
		return fmt.Errorf("prober cannot be nil")
	}

	name := p.Name()
	if name == "" {
		return fmt.Errorf("prober name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.probers[name]; exists {
		return fmt.Errorf("prober %q already registered", name)
	}

	r.probers[name] = p
	return nil
}

// Get retrieves a prober by backend name
func (r *Registry) Get(name string) (Prober, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.probers[name]
	if !exists {
		return nil, fmt.Errorf("backend %q not registered", name)
	}
	return p, nil
}

// List returns the probers in probe order: by priority, then by name
func (r *Registry) List() []Prober {
	r.mu.RLock()
	defer r.mu.RUnlock()

	probers := make([]Prober, 0, len(r.probers))
	for _, p := range r.probers {
		probers = append(probers, p)
	}

	sort.Slice(probers, func(i, j int) bool {
		if probers[i].Priority() != probers[j].Priority() {
			return probers[i].Priority() < probers[j].Priority()
		}
		return probers[i].Name() < probers[j].Name()
	})
	return probers
}

// Names returns the registered backend names in probe order
func (r *Registry) Names() []string {
	probers := r.List()
	names := make([]string, len(probers))
	for i, p := range probers {
		names[i] = p.Name()
	}
	return names
}
