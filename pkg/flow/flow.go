package flow

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/loom/pkg/cache"
	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/exec"
	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/op"
	"github.com/loomworks/loom/pkg/telemetry"
)

var tracer = otel.Tracer("loom/flow")

// Flow is a named entry point around a root op graph. The root is built
// lazily on first use so flows can be declared before every factory they
// reference is registered.
type Flow struct {
	name       string
	expression string
	reg        *Registry

	buildOnce sync.Once
	root      op.Op
	buildErr  error

	store     *cache.Cache
	streaming bool
}

// Option configures a Flow at construction time.
type Option func(*Flow)

// WithCache enables whole-call response caching through the given store.
func WithCache(store *cache.Cache) Option {
	return func(f *Flow) { f.store = store }
}

// WithStreaming marks the flow as chunk-producing. Streaming calls bypass
// the response cache.
func WithStreaming() Option {
	return func(f *Flow) { f.streaming = true }
}

// New creates a flow with a pre-built root op.
func New(name string, root op.Op, opts ...Option) *Flow {
	f := &Flow{name: name, root: root}
	f.buildOnce.Do(func() {})
	for _, o := range opts {
		o(f)
	}
	return f
}

// FromExpression creates a flow whose root is parsed from a composition
// expression against the registry on first call.
func FromExpression(name, expression string, reg *Registry, opts ...Option) *Flow {
	f := &Flow{name: name, expression: expression, reg: reg}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Name returns the flow's registered name.
func (f *Flow) Name() string { return f.name }

// Streaming reports whether the flow produces chunk output.
func (f *Flow) Streaming() bool { return f.streaming }

// Root returns the root op, building it from the expression if needed.
func (f *Flow) Root() (op.Op, error) {
	f.buildOnce.Do(func() {
		f.root, f.buildErr = Parse(f.expression, f.reg)
	})
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return f.root, nil
}

// Mode returns the execution mode of the root graph.
func (f *Flow) Mode() (op.Mode, error) {
	root, err := f.Root()
	if err != nil {
		return op.ModeSync, err
	}
	return root.Mode(), nil
}

// Call runs the flow synchronously and returns the finished response. The
// root graph must be synchronous. When a cache is attached and the flow is
// not streaming, identical keyword arguments return the stored response
// without executing the graph.
func (f *Flow) Call(ctx context.Context, kwargs map[string]any) (*core.Response, error) {
	root, err := f.Root()
	if err != nil {
		return nil, err
	}
	if root.Mode() != op.ModeSync {
		return nil, errors.Newf(errors.CodeConfiguration,
			"flow %q has async ops; use CallAsync", f.name)
	}

	ctx, span := tracer.Start(ctx, "flow.call",
		trace.WithAttributes(telemetry.FlowAttributes(f.name, f.streaming, false)...))
	defer span.End()

	key, cacheable := f.cacheKey(kwargs)
	if cacheable {
		var cached core.Response
		hit, err := f.store.GetJSON(ctx, key, &cached)
		if err != nil {
			slog.WarnContext(ctx, "flow cache read failed", "flow", f.name, "error", err)
		} else if hit {
			span.SetAttributes(attribute.Bool(telemetry.AttrFlowCached, true))
			slog.DebugContext(ctx, "flow cache hit", "flow", f.name)
			return &cached, nil
		}
	}

	resp, err := f.run(ctx, root, kwargs, nil)
	if err != nil {
		return nil, err
	}
	if cacheable && resp.Success {
		if err := f.store.PutJSON(ctx, key, resp); err != nil {
			slog.WarnContext(ctx, "flow cache write failed", "flow", f.name, "error", err)
		}
	}
	return resp, nil
}

// CallAsync runs the flow on a background goroutine and returns a task that
// resolves to the response. The root graph must be asynchronous.
func (f *Flow) CallAsync(ctx context.Context, kwargs map[string]any) (*exec.Task, error) {
	root, err := f.Root()
	if err != nil {
		return nil, err
	}
	if root.Mode() != op.ModeAsync {
		return nil, errors.Newf(errors.CodeConfiguration,
			"flow %q is synchronous; use Call", f.name)
	}

	return exec.Go(func() (any, error) {
		ctx, span := tracer.Start(ctx, "flow.call_async",
			trace.WithAttributes(telemetry.FlowAttributes(f.name, f.streaming, false)...))
		defer span.End()
		return f.run(ctx, root, kwargs, nil)
	}), nil
}

// Stream runs the flow on a background goroutine and returns a channel of
// chunks. The channel always ends with a terminal chunk: Done on success,
// Err on failure. Streaming calls never consult the cache.
func (f *Flow) Stream(ctx context.Context, kwargs map[string]any) (<-chan llm.StreamChunk, error) {
	root, err := f.Root()
	if err != nil {
		return nil, err
	}
	if !f.streaming {
		return nil, errors.Newf(errors.CodeConfiguration,
			"flow %q is not declared streaming", f.name)
	}

	out := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(out)
		ctx, span := tracer.Start(ctx, "flow.stream",
			trace.WithAttributes(telemetry.FlowAttributes(f.name, f.streaming, false)...))
		defer span.End()

		resp, err := f.run(ctx, root, kwargs, out)
		if err != nil {
			out <- llm.StreamChunk{Err: err, Done: true}
			return
		}
		final := llm.StreamChunk{Done: true}
		if s, ok := resp.Answer.(string); ok {
			final.Answer = s
		}
		out <- final
	}()
	return out, nil
}

func (f *Flow) run(ctx context.Context, root op.Op, kwargs map[string]any, stream chan llm.StreamChunk) (*core.Response, error) {
	c := core.New()
	c.Stream = stream
	if err := op.Run(ctx, root, c, kwargs); err != nil {
		return nil, err
	}
	if c.Response.Answer == nil {
		if v, ok := c.Lookup(root.Spec().OutputKey()); ok {
			c.Response.Answer = v
		}
	}
	return c.Response, nil
}

// cacheKey returns the response-cache key for kwargs, and whether caching
// applies to this call.
func (f *Flow) cacheKey(kwargs map[string]any) (string, bool) {
	if f.store == nil || f.streaming {
		return "", false
	}
	params := map[string]any{"flow": f.name}
	for k, v := range kwargs {
		params[k] = v
	}
	return cache.Key(params), true
}
