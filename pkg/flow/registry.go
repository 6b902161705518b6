// Package flow provides the top-level execution entry points: named,
// cacheable, optionally streaming wrappers around a root op graph, plus the
// registry and expression language used to build graphs declaratively.
package flow

import (
	"sync"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/memory"
	"github.com/loomworks/loom/pkg/op"
)

// Factory instantiates a registered op from keyword arguments.
type Factory func(args map[string]any) (op.Op, error)

// Registry holds every component addressable by name: op factories, built
// flows, and backend clients. It is constructed once at startup and passed
// down explicitly; there is no process-wide instance.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	flows     map[string]*Flow
	providers map[string]llm.Provider
	embedders map[string]memory.Embedder
	stores    map[string]memory.VectorStore
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		flows:     make(map[string]*Flow),
		providers: make(map[string]llm.Provider),
		embedders: make(map[string]memory.Embedder),
		stores:    make(map[string]memory.VectorStore),
	}
}

// RegisterOp binds an op factory to a name usable in expressions.
func (r *Registry) RegisterOp(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Op instantiates a registered op with the given keyword arguments.
func (r *Registry) Op(name string, args map[string]any) (op.Op, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "op %q is not registered", name)
	}
	return f(args)
}

// RegisterFlow makes a built flow addressable by name.
func (r *Registry) RegisterFlow(f *Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[f.Name()] = f
}

// Flow returns a registered flow.
func (r *Registry) Flow(name string) (*Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[name]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "flow %q is not registered", name)
	}
	return f, nil
}

// Flows returns every registered flow.
func (r *Registry) Flows() []*Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Flow, 0, len(r.flows))
	for _, f := range r.flows {
		out = append(out, f)
	}
	return out
}

// RegisterProvider binds an LLM backend to a name.
func (r *Registry) RegisterProvider(name string, p llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Provider returns a registered LLM backend.
func (r *Registry) Provider(name string) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "llm provider %q is not registered", name)
	}
	return p, nil
}

// RegisterEmbedder binds an embedding backend to a name.
func (r *Registry) RegisterEmbedder(name string, e memory.Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[name] = e
}

// Embedder returns a registered embedding backend.
func (r *Registry) Embedder(name string) (memory.Embedder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.embedders[name]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "embedder %q is not registered", name)
	}
	return e, nil
}

// RegisterStore binds a vector store to a name.
func (r *Registry) RegisterStore(name string, s memory.VectorStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[name] = s
}

// Store returns a registered vector store.
func (r *Registry) Store(name string) (memory.VectorStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[name]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "vector store %q is not registered", name)
	}
	return s, nil
}
