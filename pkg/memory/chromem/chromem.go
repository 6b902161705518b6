// Package chromem implements the memory.VectorStore contract over the
// embedded chromem-go database. Filters are applied after search; chromem's
// where clauses only cover flat string metadata.
package chromem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/memory"
)

type entry struct {
	node   *memory.Node
	vector []float32
}

// Store keeps vectors in chromem and a shadow node index alongside it, since
// chromem has no listing or copy primitives of its own.
type Store struct {
	mu    sync.RWMutex
	db    *chromem.DB
	cols  map[string]*chromem.Collection
	index map[string]map[string]entry
}

// New creates an empty embedded store.
func New() *Store {
	return &Store{
		db:    chromem.NewDB(),
		cols:  make(map[string]*chromem.Collection),
		index: make(map[string]map[string]entry),
	}
}

func (s *Store) collection(name string) (*chromem.Collection, map[string]entry, error) {
	col, ok := s.cols[name]
	if !ok {
		return nil, nil, errors.Newf(errors.CodeNotFound, "collection %q does not exist", name)
	}
	return col, s.index[name], nil
}

func (s *Store) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.cols))
	for name := range s.cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) CreateCollection(_ context.Context, name string, _ uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cols[name]; ok {
		return nil
	}
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return errors.Newf(errors.CodeBackendFailure, "chromem: create collection %s: %v", name, err)
	}
	s.cols[name] = col
	s.index[name] = make(map[string]entry)
	return nil
}

func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cols[name]; !ok {
		return errors.Newf(errors.CodeNotFound, "collection %q does not exist", name)
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return errors.Newf(errors.CodeBackendFailure, "chromem: delete collection %s: %v", name, err)
	}
	delete(s.cols, name)
	delete(s.index, name)
	return nil
}

func (s *Store) CopyCollection(ctx context.Context, src, dst string) error {
	s.mu.RLock()
	_, from, err := s.collection(src)
	if err != nil {
		s.mu.RUnlock()
		return err
	}
	entries := make([]entry, 0, len(from))
	for _, e := range from {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	if err := s.CreateCollection(ctx, dst, 0); err != nil {
		return err
	}
	for _, e := range entries {
		copied := *e.node
		if err := s.Insert(ctx, dst, &copied, e.vector); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, collection string, node *memory.Node, vector []float32) error {
	raw, err := json.Marshal(node)
	if err != nil {
		return errors.Newf(errors.CodeInternal, "encode node %s: %v", node.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	col, idx, err := s.collection(collection)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        node.ID,
		Content:   string(raw),
		Embedding: vector,
		Metadata:  map[string]string{"type": string(node.Type)},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return errors.Newf(errors.CodeBackendFailure, "chromem: add document: %v", err)
	}
	idx[node.ID] = entry{node: node, vector: vector}
	return nil
}

func (s *Store) Update(ctx context.Context, collection string, node *memory.Node, vector []float32) error {
	return s.Insert(ctx, collection, node, vector)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, idx, err := s.collection(collection)
	if err != nil {
		return err
	}
	if _, ok := idx[id]; !ok {
		return errors.Newf(errors.CodeNotFound, "node %q not in collection %q", id, collection)
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return errors.Newf(errors.CodeBackendFailure, "chromem: delete document: %v", err)
	}
	delete(idx, id)
	return nil
}

func (s *Store) Get(_ context.Context, collection, id string) (*memory.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, idx, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	e, ok := idx[id]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "node %q not in collection %q", id, collection)
	}
	return e.node, nil
}

func (s *Store) List(_ context.Context, collection string, filter *memory.Filter) ([]*memory.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, idx, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	out := make([]*memory.Node, 0, len(idx))
	for _, e := range idx {
		if filter.Evaluate(e.node) {
			out = append(out, e.node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int, filter *memory.Filter) ([]memory.ScoredNode, error) {
	s.mu.RLock()
	col, idx, err := s.collection(collection)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	count := len(idx)
	s.mu.RUnlock()

	if count == 0 {
		return nil, nil
	}
	// chromem rejects nResults above the document count, so over-fetch is
	// capped there; the filter then narrows below topK if it must.
	n := count
	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, errors.Newf(errors.CodeBackendFailure, "chromem: query: %v", err)
	}

	hits := make([]memory.ScoredNode, 0, len(results))
	for _, r := range results {
		var node memory.Node
		if err := json.Unmarshal([]byte(r.Content), &node); err != nil {
			return nil, errors.Newf(errors.CodeInternal, "decode node payload: %v", err)
		}
		if !filter.Evaluate(&node) {
			continue
		}
		hits = append(hits, memory.ScoredNode{Node: &node, Score: r.Similarity})
		if topK > 0 && len(hits) == topK {
			break
		}
	}
	return hits, nil
}
