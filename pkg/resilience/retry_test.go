package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/loomworks/loom/pkg/errors"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	last := stderrors.New("always fails")
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		return last
	})
	if err != last {
		t.Errorf("expected last error back, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), func() error {
		attempts++
		return errors.New(errors.CodeMissingInput, "messages not set", nil)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("permanent error must not be retried, got %d attempts", attempts)
	}
}

func TestDoContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := policy.Do(ctx, func() error {
		attempts++
		return stderrors.New("transient")
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestDoValue(t *testing.T) {
	calls := 0
	got, err := DoValue(context.Background(), fastPolicy(), func() (string, error) {
		calls++
		if calls < 2 {
			return "", stderrors.New("transient")
		}
		return "ready", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ready" {
		t.Errorf("expected %q, got %q", "ready", got)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond, Multiplier: 2.0}
	if d := p.backoff(1); d != 10*time.Millisecond {
		t.Errorf("attempt 1: expected 10ms, got %v", d)
	}
	if d := p.backoff(2); d != 20*time.Millisecond {
		t.Errorf("attempt 2: expected 20ms, got %v", d)
	}
	if d := p.backoff(3); d != 35*time.Millisecond {
		t.Errorf("attempt 3: expected cap 35ms, got %v", d)
	}
}
