package memory

import (
	"context"

	"github.com/loomworks/loom/pkg/resilience"
)

// Embedder converts texts into vectors. Implementations accept any batch
// size; wrap with Batched to enforce a backend limit and add retry.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Batched splits embedding requests into backend-sized batches and retries
// each batch under the given policy.
type Batched struct {
	inner        Embedder
	maxBatchSize int
	policy       resilience.Policy
}

// NewBatched wraps an embedder. A maxBatchSize below 1 defaults to 32.
func NewBatched(inner Embedder, maxBatchSize int, policy resilience.Policy) *Batched {
	if maxBatchSize < 1 {
		maxBatchSize = 32
	}
	return &Batched{inner: inner, maxBatchSize: maxBatchSize, policy: policy}
}

// Embed embeds texts in order, batch by batch.
func (b *Batched) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.maxBatchSize {
		end := start + b.maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		vecs, err := resilience.DoValue(ctx, b.policy, func() ([][]float32, error) {
			return b.inner.Embed(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}
