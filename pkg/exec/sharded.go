package exec

import "context"

// ShardFn processes one shard of a larger input. The shared value is placed
// once and handed to every shard by reference, so large read-only state is
// not serialized per item.
type ShardFn[T, R any] func(ctx context.Context, shard []T, shared any) (R, error)

// Sharded fans a collection out over a fixed number of workers for
// data-parallel work. Items are assigned round-robin; results are collected
// as each shard completes, not in index order.
type Sharded struct {
	Workers int
	pool    *Pool
}

// NewSharded creates a sharded executor with the given worker count.
func NewSharded(workers int) *Sharded {
	if workers < 1 {
		workers = 1
	}
	return &Sharded{Workers: workers, pool: NewPool(workers)}
}

// MapShards splits items round-robin into one shard per worker, runs fn on
// each shard concurrently, and returns the shard results in completion order.
func MapShards[T, R any](ctx context.Context, s *Sharded, items []T, shared any, fn ShardFn[T, R]) []Result {
	if len(items) == 0 {
		return nil
	}

	n := s.Workers
	if n > len(items) {
		n = len(items)
	}
	shards := make([][]T, n)
	for i, item := range items {
		w := i % n
		shards[w] = append(shards[w], item)
	}

	tasks := make([]*Task, 0, n)
	for _, shard := range shards {
		shard := shard
		tasks = append(tasks, s.pool.Submit(ctx, func(ctx context.Context) (any, error) {
			return fn(ctx, shard, shared)
		}))
	}
	return JoinAll(ctx, tasks)
}
