// Package resilience provides the retry discipline shared by ops and
// backend clients (LLM, embedding, vector store).
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/loomworks/loom/pkg/errors"
)

// Policy controls retry behavior with exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first (>= 1).
	MaxAttempts int

	// InitialDelay is the backoff delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts (default 2.0).
	Multiplier float64

	// Jitter between 0 and 1 spreads the delay; 0.1 means ±10%.
	Jitter float64

	// Retryable decides whether an error is worth another attempt.
	// Nil retries everything except errors Loom classifies as permanent.
	Retryable func(error) bool
}

// DefaultPolicy is the retry policy used by backend clients unless
// configured otherwise.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Attempts returns a copy of the policy with MaxAttempts set.
func (p Policy) Attempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// Delay returns a copy of the policy with InitialDelay set.
func (p Policy) Delay(d time.Duration) Policy {
	p.InitialDelay = d
	return p
}

// Do runs fn until it succeeds, the attempts are exhausted, or the context
// is canceled during a backoff sleep. The last error is returned on exhaustion.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = retryableDefault
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.New(errors.CodeBackendFailure, "canceled while backing off", ctx.Err()).
					WithContext("attempt", attempt).
					WithRecoverable(false)
			case <-time.After(p.backoff(attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
	}
	return lastErr
}

// DoValue runs fn with the policy and returns its result.
func DoValue[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func() error {
		var fnErr error
		out, fnErr = fn()
		return fnErr
	})
	return out, err
}

// backoff computes the delay before the given attempt (attempt >= 1).
func (p Policy) backoff(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}

	delay := time.Duration(float64(p.InitialDelay) * math.Pow(multiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := delay.Seconds() * p.Jitter * 2 * (rand.Float64() - 0.5)
		delay += time.Duration(spread * float64(time.Second))
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// retryableDefault retries anything not classified as a permanent Loom error.
func retryableDefault(err error) bool {
	if err == nil {
		return false
	}
	if le, ok := err.(*errors.LoomError); ok {
		return le.Recoverable
	}
	return true
}
