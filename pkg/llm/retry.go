package llm

import (
	"context"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/resilience"
)

// retryingProvider wraps a Provider with the shared backoff discipline.
type retryingProvider struct {
	next   Provider
	policy resilience.Policy
}

// WithRetry decorates a provider so Chat retries transient failures with
// exponential backoff. Exhaustion surfaces as CodeBackendFailure.
func WithRetry(p Provider, policy resilience.Policy) Provider {
	return &retryingProvider{next: p, policy: policy}
}

func (r *retryingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := resilience.DoValue(ctx, r.policy, func() (*ChatResponse, error) {
		return r.next.Chat(ctx, req)
	})
	if err != nil {
		return nil, errors.New(errors.CodeBackendFailure, "chat call exhausted retries", err).
			WithContext("model", req.Model).
			WithRecoverable(false)
	}
	return resp, nil
}
