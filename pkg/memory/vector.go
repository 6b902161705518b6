package memory

import "context"

// ScoredNode is a search hit: the stored node plus its similarity score.
type ScoredNode struct {
	Node  *Node   `json:"node"`
	Score float32 `json:"score"`
}

// VectorStore is the contract every vector backend satisfies: collection
// lifecycle, node CRUD by id, and filtered similarity search.
type VectorStore interface {
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	DeleteCollection(ctx context.Context, name string) error
	CopyCollection(ctx context.Context, src, dst string) error

	Insert(ctx context.Context, collection string, node *Node, vector []float32) error
	Update(ctx context.Context, collection string, node *Node, vector []float32) error
	Delete(ctx context.Context, collection, id string) error
	Get(ctx context.Context, collection, id string) (*Node, error)
	List(ctx context.Context, collection string, filter *Filter) ([]*Node, error)

	Search(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]ScoredNode, error)
}

// Condition constrains one node field. Exactly one of Match, In, or Range
// is set. Field names address Node fields ("type", "author", "source_id")
// or metadata keys.
type Condition struct {
	Field string   `json:"field"`
	Match any      `json:"match,omitempty"`
	In    []any    `json:"in,omitempty"`
	Range *RangeOp `json:"range,omitempty"`
}

// RangeOp bounds a numeric field. Nil bounds are open.
type RangeOp struct {
	GTE *float64 `json:"gte,omitempty"`
	GT  *float64 `json:"gt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
	LT  *float64 `json:"lt,omitempty"`
}

// Filter combines conditions: every Must condition must hold, and at least
// one Should condition when any are present.
type Filter struct {
	Must   []Condition `json:"must,omitempty"`
	Should []Condition `json:"should,omitempty"`
}

// MatchType is shorthand for a single type-tag equality filter.
func MatchType(typ NodeType) *Filter {
	return &Filter{Must: []Condition{{Field: "type", Match: string(typ)}}}
}

// Evaluate reports whether the node satisfies the filter. Backends without
// native filtering apply it after search.
func (f *Filter) Evaluate(n *Node) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.evaluate(n) {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}
	for _, c := range f.Should {
		if c.evaluate(n) {
			return true
		}
	}
	return false
}

func (c Condition) evaluate(n *Node) bool {
	v, ok := fieldValue(n, c.Field)
	if !ok {
		return false
	}
	switch {
	case c.Match != nil:
		return looseEqual(v, c.Match)
	case len(c.In) > 0:
		for _, cand := range c.In {
			if looseEqual(v, cand) {
				return true
			}
		}
		return false
	case c.Range != nil:
		num, ok := asFloat(v)
		if !ok {
			return false
		}
		r := c.Range
		if r.GTE != nil && num < *r.GTE {
			return false
		}
		if r.GT != nil && num <= *r.GT {
			return false
		}
		if r.LTE != nil && num > *r.LTE {
			return false
		}
		if r.LT != nil && num >= *r.LT {
			return false
		}
		return true
	}
	return false
}

func fieldValue(n *Node, field string) (any, bool) {
	switch field {
	case "id":
		return n.ID, true
	case "type":
		return string(n.Type), true
	case "author":
		return n.Author, true
	case "source_id":
		return n.SourceID, true
	case "score":
		return n.Score, true
	default:
		v, ok := n.Metadata[field]
		return v, ok
	}
}

// looseEqual compares across the numeric types JSON decoding produces.
func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
