package op

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/loom/pkg/cache"
	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/telemetry"
)

var tracer = otel.Tracer("loom/op")

// Run executes an op against the context with the full call protocol:
// override merging, result caching, the retry loop around the
// before/execute/after hooks, and failure degradation.
//
// On exhaustion the error is re-raised when the op is configured to raise;
// otherwise a failure string is written into the canonical output key so an
// agent loop sees a tool response instead of a crashed graph.
func Run(ctx context.Context, o Op, c *core.Context, overrides map[string]any) error {
	if c == nil {
		c = core.New()
	}
	c.Merge(overrides)
	opts := o.Options()

	cacheKey, cached, err := lookupCached(ctx, o, c)
	if err != nil {
		return err
	}
	if cached != nil {
		c.Set(o.Spec().OutputKey(), *cached)
		applyAfter(o, c)
		return nil
	}

	attempts := opts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := runOnce(ctx, o, c, attempt)
		if err == nil {
			storeCached(ctx, o, c, cacheKey)
			return nil
		}
		lastErr = err
		slog.WarnContext(ctx, "op attempt failed",
			slog.String("op", o.Name()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
	}

	if opts.RaiseOnError {
		return lastErr
	}
	c.Set(o.Spec().OutputKey(), fmt.Sprintf("tool %s failed: %v", o.Name(), lastErr))
	applyAfter(o, c)
	return nil
}

// runOnce performs one attempt: before hook, execute, after hook.
func runOnce(ctx context.Context, o Op, c *core.Context, attempt int) error {
	ctx, span := tracer.Start(ctx, "Op.Execute",
		trace.WithAttributes(
			attribute.String(telemetry.AttrOpName, o.Name()),
			attribute.String(telemetry.AttrOpMode, o.Mode().String()),
			attribute.Int(telemetry.AttrOpAttempt, attempt),
		),
	)
	defer span.End()

	if err := applyBefore(o, c); err != nil {
		span.RecordError(err)
		return err
	}
	if err := o.Execute(ctx, c); err != nil {
		span.RecordError(err)
		return err
	}
	applyAfter(o, c)
	return nil
}

// applyBefore remaps declared inputs and validates required parameters.
func applyBefore(o Op, c *core.Context) error {
	opts := o.Options()
	for param, src := range opts.InputMap {
		if v, ok := c.Lookup(src); ok {
			c.Set(param, v)
		}
	}
	for _, f := range o.Spec().Params {
		if f.Required && !c.Has(f.Name) {
			return errors.Newf(errors.CodeMissingInput,
				"op %s requires input %q", o.Name(), f.Name)
		}
	}
	return nil
}

// applyAfter remaps outputs and optionally promotes the canonical output
// into the response answer.
func applyAfter(o Op, c *core.Context) {
	opts := o.Options()
	for from, to := range opts.OutputMap {
		if v, ok := c.Lookup(from); ok {
			c.Set(to, v)
		}
	}
	if opts.CopyToAnswer {
		if v, ok := c.Lookup(o.Spec().OutputKey()); ok {
			c.Response.Answer = v
		}
	}
}

// lookupCached returns the cache key for this call and, on a hit, the
// previously computed canonical output.
func lookupCached(ctx context.Context, o Op, c *core.Context) (string, *any, error) {
	opts := o.Options()
	if opts.Cache == nil || len(opts.CacheKeys) == 0 {
		return "", nil, nil
	}
	params := map[string]any{"op": o.Name()}
	for _, k := range opts.CacheKeys {
		if v, ok := c.Lookup(k); ok {
			params[k] = v
		}
	}
	key := cache.Key(params)
	var value any
	ok, err := opts.Cache.GetJSON(ctx, key, &value)
	if err != nil {
		return key, nil, err
	}
	if !ok {
		return key, nil, nil
	}
	return key, &value, nil
}

func storeCached(ctx context.Context, o Op, c *core.Context, key string) {
	opts := o.Options()
	if opts.Cache == nil || key == "" {
		return
	}
	v, ok := c.Lookup(o.Spec().OutputKey())
	if !ok {
		return
	}
	if err := opts.Cache.PutJSON(ctx, key, v); err != nil {
		slog.WarnContext(ctx, "op cache write failed",
			slog.String("op", o.Name()),
			slog.String("error", err.Error()),
		)
	}
}
