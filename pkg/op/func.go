package op

import (
	"context"

	"github.com/loomworks/loom/pkg/core"
)

// Func adapts a plain function into an Op. A non-nil return value is
// written to the canonical output key.
type Func struct {
	Base
	fn func(ctx context.Context, c *core.Context) (any, error)
}

// NewFunc creates a function-backed op.
func NewFunc(spec ToolSpec, mode Mode, fn func(ctx context.Context, c *core.Context) (any, error), opts ...Option) *Func {
	return &Func{Base: NewBase(spec, mode, opts...), fn: fn}
}

// Execute runs the wrapped function.
func (f *Func) Execute(ctx context.Context, c *core.Context) error {
	v, err := f.fn(ctx, c)
	if err != nil {
		return err
	}
	if v != nil {
		c.Set(f.OutputKey(), v)
	}
	return nil
}

// Clone returns an independent instance sharing the function.
func (f *Func) Clone() Op {
	clone := *f
	return &clone
}
