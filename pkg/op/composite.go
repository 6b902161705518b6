package op

import (
	"context"
	"log/slog"

	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/exec"
)

// defaultPoolSize bounds sync parallel fan-out when no executor is set.
const defaultPoolSize = 8

// Sequential runs its sub-ops strictly in order against the same Context,
// propagating mutations forward and failing fast on the first unhandled error.
type Sequential struct {
	Base
	ops []Op
}

// NewSequential composes ops into an ordered chain. All sub-ops must share
// one execution mode.
func NewSequential(name string, ops ...Op) (*Sequential, error) {
	mode, err := commonMode(ops)
	if err != nil {
		return nil, err
	}
	spec := ToolSpec{Name: name, Description: "sequential chain"}
	if n := len(ops); n > 0 {
		spec.Results = ops[n-1].Spec().Results
		if len(spec.Results) == 0 {
			spec.Results = []Field{{Name: ops[n-1].Spec().OutputKey(), Type: "string"}}
		}
	}
	return &Sequential{Base: NewBase(spec, mode), ops: ops}, nil
}

// Ops returns the sub-operations in order.
func (s *Sequential) Ops() []Op { return s.ops }

// Execute runs each sub-op in order via the full call protocol.
func (s *Sequential) Execute(ctx context.Context, c *core.Context) error {
	for _, sub := range s.ops {
		if err := Run(ctx, sub, c, nil); err != nil {
			return err
		}
	}
	return nil
}

// Clone clones every sub-op.
func (s *Sequential) Clone() Op {
	clone := *s
	clone.ops = cloneAll(s.ops)
	return &clone
}

// Parallel fans its sub-ops out as independent concurrent tasks against a
// shared Context and awaits all completions. A failing branch is logged and
// recorded without preventing the other branches from completing.
type Parallel struct {
	Base
	ops []Op
}

// NewParallel composes ops into a concurrent group. All sub-ops must share
// one execution mode.
func NewParallel(name string, ops ...Op) (*Parallel, error) {
	mode, err := commonMode(ops)
	if err != nil {
		return nil, err
	}
	spec := ToolSpec{Name: name, Description: "parallel group"}
	return &Parallel{Base: NewBase(spec, mode), ops: ops}, nil
}

// Ops returns the sub-operations.
func (p *Parallel) Ops() []Op { return p.ops }

// Execute submits every branch to the mode-selected executor and joins all
// of them. Each branch runs a clone, since an op instance is not safe to
// run twice concurrently; all clones share the parent Context.
func (p *Parallel) Execute(ctx context.Context, c *core.Context) error {
	executor := p.Options().Executor
	if executor == nil {
		if p.Mode() == ModeAsync {
			executor = exec.NewAsync()
		} else {
			executor = exec.NewPool(defaultPoolSize)
		}
	}

	tasks := make([]*exec.Task, 0, len(p.ops))
	names := make([]string, 0, len(p.ops))
	for _, sub := range p.ops {
		branch := sub.Clone()
		names = append(names, branch.Name())
		tasks = append(tasks, executor.Submit(ctx, func(ctx context.Context) (any, error) {
			return nil, Run(ctx, branch, c, nil)
		}))
	}

	var failed []string
	for _, r := range exec.JoinAll(ctx, tasks) {
		if r.Err != nil {
			name := names[r.Index]
			failed = append(failed, name)
			slog.WarnContext(ctx, "parallel branch failed",
				slog.String("group", p.Name()),
				slog.String("branch", name),
				slog.String("error", r.Err.Error()),
			)
		}
	}
	if len(failed) > 0 {
		c.Response.Metadata["failed_branches"] = failed
	}
	return nil
}

// Clone clones every branch.
func (p *Parallel) Clone() Op {
	clone := *p
	clone.ops = cloneAll(p.ops)
	return &clone
}

// Then appends next to a sequential chain. If first is already a Sequential
// it is extended rather than nested; a Sequential next is spliced in flat.
// Mode mismatch fails here, at construction.
func Then(first Op, next ...Op) (Op, error) {
	ops := []Op{first}
	if seq, ok := first.(*Sequential); ok {
		ops = append([]Op(nil), seq.ops...)
	}
	for _, n := range next {
		if seq, ok := n.(*Sequential); ok {
			ops = append(ops, seq.ops...)
			continue
		}
		ops = append(ops, n)
	}
	return NewSequential(chainName(first), ops...)
}

// FanOut appends next to a parallel group, flattening nested parallel
// groups. Mode mismatch fails here, at construction.
func FanOut(first Op, next ...Op) (Op, error) {
	ops := []Op{first}
	if par, ok := first.(*Parallel); ok {
		ops = append([]Op(nil), par.ops...)
	}
	for _, n := range next {
		if par, ok := n.(*Parallel); ok {
			ops = append(ops, par.ops...)
			continue
		}
		ops = append(ops, n)
	}
	return NewParallel(groupName(first), ops...)
}

func chainName(first Op) string {
	if seq, ok := first.(*Sequential); ok {
		return seq.Name()
	}
	return first.Name() + "_chain"
}

func groupName(first Op) string {
	if par, ok := first.(*Parallel); ok {
		return par.Name()
	}
	return first.Name() + "_group"
}

// commonMode returns the shared mode of ops, rejecting mixed compositions.
func commonMode(ops []Op) (Mode, error) {
	if len(ops) == 0 {
		return ModeSync, errors.New(errors.CodeConfiguration, "composite needs at least one op", nil)
	}
	mode := ops[0].Mode()
	for _, o := range ops[1:] {
		if o.Mode() != mode {
			return mode, errors.Newf(errors.CodeConfiguration,
				"cannot compose %s op %q into a %s graph", o.Mode(), o.Name(), mode)
		}
	}
	return mode, nil
}

func cloneAll(ops []Op) []Op {
	out := make([]Op, len(ops))
	for i, o := range ops {
		out[i] = o.Clone()
	}
	return out
}
