package llm

import (
	"context"
	"fmt"
)

// MockProvider is a testing implementation of Provider and StreamingProvider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Calls    int
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	m.Calls++
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// ChatStream replays the aggregated response as a short chunk sequence.
func (m *MockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	chunks := make(chan StreamChunk, 4)
	chunks <- StreamChunk{Answer: resp.Content}
	chunks <- StreamChunk{Usage: &resp.Usage}
	chunks <- StreamChunk{Done: true}
	close(chunks)
	return chunks, nil
}

// FailingProvider always fails, for exercising retry and degradation paths.
type FailingProvider struct {
	Err   error
	Calls int
}

func (f *FailingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.Calls++
	if f.Err == nil {
		return nil, fmt.Errorf("mock provider error")
	}
	return nil, f.Err
}
