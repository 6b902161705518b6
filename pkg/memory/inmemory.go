package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/loomworks/loom/pkg/errors"
)

type storedNode struct {
	node   *Node
	vector []float32
}

// InMemory is a process-local vector store with exact cosine search. It
// backs tests and small single-process deployments.
type InMemory struct {
	mu          sync.RWMutex
	collections map[string]map[string]storedNode
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{collections: make(map[string]map[string]storedNode)}
}

func (m *InMemory) collection(name string) (map[string]storedNode, error) {
	col, ok := m.collections[name]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "collection %q does not exist", name)
	}
	return col, nil
}

func (m *InMemory) ListCollections(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *InMemory) CreateCollection(_ context.Context, name string, _ uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		m.collections[name] = make(map[string]storedNode)
	}
	return nil
}

func (m *InMemory) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		return errors.Newf(errors.CodeNotFound, "collection %q does not exist", name)
	}
	delete(m.collections, name)
	return nil
}

func (m *InMemory) CopyCollection(_ context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	from, ok := m.collections[src]
	if !ok {
		return errors.Newf(errors.CodeNotFound, "collection %q does not exist", src)
	}
	to := make(map[string]storedNode, len(from))
	for id, s := range from {
		copied := *s.node
		to[id] = storedNode{node: &copied, vector: append([]float32(nil), s.vector...)}
	}
	m.collections[dst] = to
	return nil
}

func (m *InMemory) Insert(_ context.Context, collection string, node *Node, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, err := m.collection(collection)
	if err != nil {
		return err
	}
	col[node.ID] = storedNode{node: node, vector: vector}
	return nil
}

func (m *InMemory) Update(ctx context.Context, collection string, node *Node, vector []float32) error {
	return m.Insert(ctx, collection, node, vector)
}

func (m *InMemory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, err := m.collection(collection)
	if err != nil {
		return err
	}
	if _, ok := col[id]; !ok {
		return errors.Newf(errors.CodeNotFound, "node %q not in collection %q", id, collection)
	}
	delete(col, id)
	return nil
}

func (m *InMemory) Get(_ context.Context, collection, id string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	s, ok := col[id]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "node %q not in collection %q", id, collection)
	}
	return s.node, nil
}

func (m *InMemory) List(_ context.Context, collection string, filter *Filter) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(col))
	for _, s := range col {
		if filter.Evaluate(s.node) {
			out = append(out, s.node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) Search(_ context.Context, collection string, vector []float32, topK int, filter *Filter) ([]ScoredNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	col, err := m.collection(collection)
	if err != nil {
		return nil, err
	}

	hits := make([]ScoredNode, 0, len(col))
	for _, s := range col {
		if !filter.Evaluate(s.node) {
			continue
		}
		hits = append(hits, ScoredNode{Node: s.node, Score: cosine(vector, s.vector)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
