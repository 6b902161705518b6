package op

import "github.com/loomworks/loom/pkg/cache"

// Base carries the immutable identity and mutable configuration shared by
// all op implementations. Embed it by value so Clone of the outer op copies
// the configuration.
type Base struct {
	spec ToolSpec
	mode Mode
	opts Options
}

// Option configures a Base at construction time.
type Option func(*Base)

// NewBase creates the embedded core of an op.
func NewBase(spec ToolSpec, mode Mode, opts ...Option) Base {
	b := Base{spec: spec, mode: mode, opts: Options{MaxRetries: 1}}
	for _, opt := range opts {
		opt(&b)
	}
	if b.opts.MaxRetries < 1 {
		b.opts.MaxRetries = 1
	}
	return b
}

// WithRetries sets the attempt count (>= 1).
func WithRetries(n int) Option {
	return func(b *Base) { b.opts.MaxRetries = n }
}

// WithRaiseOnError re-raises the final error to the parent instead of
// degrading to a failure string output.
func WithRaiseOnError() Option {
	return func(b *Base) { b.opts.RaiseOnError = true }
}

// WithInputMap renames context keys to declared parameter names.
func WithInputMap(m map[string]string) Option {
	return func(b *Base) { b.opts.InputMap = m }
}

// WithOutputMap copies produced keys to additional destinations.
func WithOutputMap(m map[string]string) Option {
	return func(b *Base) { b.opts.OutputMap = m }
}

// WithCopyToAnswer copies the canonical output into the response answer.
func WithCopyToAnswer() Option {
	return func(b *Base) { b.opts.CopyToAnswer = true }
}

// WithCache enables result caching keyed on the named context keys.
func WithCache(c *cache.Cache, keys ...string) Option {
	return func(b *Base) {
		b.opts.Cache = c
		b.opts.CacheKeys = keys
	}
}

// Name returns the op name.
func (b *Base) Name() string { return b.spec.Name }

// Spec returns the declared contract.
func (b *Base) Spec() ToolSpec { return b.spec }

// Mode returns the execution mode.
func (b *Base) Mode() Mode { return b.mode }

// Options returns the mutable execution configuration.
func (b *Base) Options() *Options { return &b.opts }

// OutputKey returns the canonical output key of this op.
func (b *Base) OutputKey() string { return b.spec.OutputKey() }
