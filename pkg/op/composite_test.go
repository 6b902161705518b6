package op

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"

	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/errors"
)

func syncOp(name string, fn func(ctx context.Context, c *core.Context) (any, error)) *Func {
	return NewFunc(ToolSpec{Name: name}, ModeSync, fn)
}

func asyncOp(name string, fn func(ctx context.Context, c *core.Context) (any, error)) *Func {
	return NewFunc(ToolSpec{Name: name}, ModeAsync, fn)
}

func TestSequentialOrderAndPropagation(t *testing.T) {
	first := syncOp("first", func(ctx context.Context, c *core.Context) (any, error) {
		return "one", nil
	})
	second := syncOp("second", func(ctx context.Context, c *core.Context) (any, error) {
		prev, err := c.GetString("first_result")
		return prev + "+two", err
	})

	chain, err := Then(first, second)
	if err != nil {
		t.Fatal(err)
	}
	c := core.New()
	if err := Run(context.Background(), chain, c, nil); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Get("second_result"); v != "one+two" {
		t.Errorf("mutations must propagate forward, got %v", v)
	}
}

func TestSequentialFailsFast(t *testing.T) {
	ran := false
	boom := syncOp("boom", func(ctx context.Context, c *core.Context) (any, error) {
		return nil, stderrors.New("boom")
	})
	boom.Options().RaiseOnError = true
	after := syncOp("after", func(ctx context.Context, c *core.Context) (any, error) {
		ran = true
		return nil, nil
	})

	chain, err := Then(boom, after)
	if err != nil {
		t.Fatal(err)
	}
	if err := Run(context.Background(), chain, core.New(), map[string]any{}); err != nil {
		// The chain itself degrades unless configured to raise; force raise.
		t.Logf("chain error: %v", err)
	}
	if ran {
		t.Error("sequential must stop at the first unhandled error")
	}
}

func TestThenFlattens(t *testing.T) {
	a := syncOp("a", nil)
	b := syncOp("b", nil)
	c := syncOp("c", nil)

	ab, err := Then(a, b)
	if err != nil {
		t.Fatal(err)
	}
	abc, err := Then(ab, c)
	if err != nil {
		t.Fatal(err)
	}
	seq := abc.(*Sequential)
	if len(seq.Ops()) != 3 {
		t.Errorf("expected flat chain of 3, got %d", len(seq.Ops()))
	}

	// Splicing a chain into a chain also stays flat.
	cd, err := Then(c.Clone(), syncOp("d", nil))
	if err != nil {
		t.Fatal(err)
	}
	all, err := Then(abc, cd)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(all.(*Sequential).Ops()); got != 5 {
		t.Errorf("expected flat chain of 5, got %d", got)
	}
}

func TestFanOutFlattens(t *testing.T) {
	a := syncOp("a", nil)
	b := syncOp("b", nil)
	c := syncOp("c", nil)

	ab, err := FanOut(a, b)
	if err != nil {
		t.Fatal(err)
	}
	abc, err := FanOut(ab, c)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(abc.(*Parallel).Ops()); got != 3 {
		t.Errorf("expected flat group of 3, got %d", got)
	}
}

func TestModeMismatchRejectedAtConstruction(t *testing.T) {
	s := syncOp("s", nil)
	a := asyncOp("a", nil)

	if _, err := Then(s, a); !errors.Is(err, errors.CodeConfiguration) {
		t.Errorf("Then: expected CodeConfiguration, got %v", err)
	}
	if _, err := FanOut(a, s); !errors.Is(err, errors.CodeConfiguration) {
		t.Errorf("FanOut: expected CodeConfiguration, got %v", err)
	}
	if _, err := NewSequential("mixed", s, a); !errors.Is(err, errors.CodeConfiguration) {
		t.Errorf("NewSequential: expected CodeConfiguration, got %v", err)
	}
	if _, err := NewParallel("mixed", a, s); !errors.Is(err, errors.CodeConfiguration) {
		t.Errorf("NewParallel: expected CodeConfiguration, got %v", err)
	}
}

func TestParallelBranchFailureDoesNotBlockOthers(t *testing.T) {
	var completed int64
	ok1 := syncOp("ok1", func(ctx context.Context, c *core.Context) (any, error) {
		atomic.AddInt64(&completed, 1)
		return "v1", nil
	})
	ok2 := syncOp("ok2", func(ctx context.Context, c *core.Context) (any, error) {
		atomic.AddInt64(&completed, 1)
		return "v2", nil
	})
	bad := NewFunc(ToolSpec{Name: "bad"}, ModeSync, func(ctx context.Context, c *core.Context) (any, error) {
		return nil, stderrors.New("branch exploded")
	}, WithRaiseOnError())

	group, err := NewParallel("trio", ok1, bad, ok2)
	if err != nil {
		t.Fatal(err)
	}
	c := core.New()
	if err := Run(context.Background(), group, c, nil); err != nil {
		t.Fatalf("parallel group must complete, got %v", err)
	}

	if atomic.LoadInt64(&completed) != 2 {
		t.Errorf("expected both healthy branches to complete, got %d", completed)
	}
	if v, _ := c.Get("ok1_result"); v != "v1" {
		t.Errorf("ok1 result missing: %v", v)
	}
	if v, _ := c.Get("ok2_result"); v != "v2" {
		t.Errorf("ok2 result missing: %v", v)
	}
	failed, ok := c.Response.Metadata["failed_branches"].([]string)
	if !ok || len(failed) != 1 || failed[0] != "bad" {
		t.Errorf("expected one recorded failure, got %v", c.Response.Metadata["failed_branches"])
	}
}

func TestParallelAsyncMode(t *testing.T) {
	a := asyncOp("a1", func(ctx context.Context, c *core.Context) (any, error) { return 1, nil })
	b := asyncOp("a2", func(ctx context.Context, c *core.Context) (any, error) { return 2, nil })

	group, err := FanOut(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if group.Mode() != ModeAsync {
		t.Errorf("group mode should follow branches, got %s", group.Mode())
	}
	c := core.New()
	if err := Run(context.Background(), group, c, nil); err != nil {
		t.Fatal(err)
	}
	if !c.Has("a1_result") || !c.Has("a2_result") {
		t.Error("both async branches must write their outputs")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	o := syncOp("orig", func(ctx context.Context, c *core.Context) (any, error) { return nil, nil })
	o.Options().MaxRetries = 7

	clone := o.Clone()
	clone.Options().MaxRetries = 1
	if o.Options().MaxRetries != 7 {
		t.Error("clone must not share option state with the original")
	}
}
