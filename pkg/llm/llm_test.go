package llm

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/resilience"
)

func TestMessageTextFlattensBlocks(t *testing.T) {
	msg := Message{
		Role: RoleUser,
		Blocks: []ContentBlock{
			{Type: BlockText, Text: "hello "},
			{Type: BlockImage, URL: "file://x.png"},
			{Type: BlockText, Text: "world"},
		},
	}
	if got := msg.Text(); got != "hello world" {
		t.Errorf("expected flattened text, got %q", got)
	}

	plain := Message{Role: RoleUser, Content: "plain"}
	if got := plain.Text(); got != "plain" {
		t.Errorf("expected %q, got %q", "plain", got)
	}
}

func TestAssemblerBuildsCallsByIndex(t *testing.T) {
	a := NewAssembler()
	// Interleaved fragments for two calls.
	a.Add(ToolFragment{Index: 1, ID: "call-2", Name: "search"})
	a.Add(ToolFragment{Index: 0, ID: "call-1", Name: "read_file"})
	a.Add(ToolFragment{Index: 0, Arguments: `{"path":`})
	a.Add(ToolFragment{Index: 1, Arguments: `{"query":"go"}`})
	a.Add(ToolFragment{Index: 0, Arguments: `"/tmp/a"}`})

	calls, err := a.Calls()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "call-1" || calls[0].Function.Name != "read_file" {
		t.Errorf("index order broken: %+v", calls[0])
	}
	if calls[0].Function.Arguments != `{"path":"/tmp/a"}` {
		t.Errorf("arguments not concatenated: %q", calls[0].Function.Arguments)
	}
}

func TestAssemblerRejectsMalformedArguments(t *testing.T) {
	a := NewAssembler()
	a.Add(ToolFragment{Index: 0, Name: "search", Arguments: `{"query":`})

	_, err := a.Calls()
	if err == nil {
		t.Fatal("expected error for truncated JSON arguments")
	}
	if !errors.Is(err, errors.CodeInvalidArguments) {
		t.Errorf("expected CodeInvalidArguments, got %v", err)
	}
}

func TestAssemblerEmptyArgumentsDefaultToObject(t *testing.T) {
	a := NewAssembler()
	a.Add(ToolFragment{Index: 0, Name: "noop"})
	calls, err := a.Calls()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls[0].Function.Arguments != "{}" {
		t.Errorf("expected empty object, got %q", calls[0].Function.Arguments)
	}
}

func TestWithRetryExhaustion(t *testing.T) {
	failing := &FailingProvider{Err: stderrors.New("connection reset")}
	p := WithRetry(failing, resilience.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond})

	_, err := p.Chat(context.Background(), ChatRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errors.CodeBackendFailure) {
		t.Errorf("expected CodeBackendFailure, got %v", err)
	}
	if failing.Calls != 3 {
		t.Errorf("expected 3 attempts, got %d", failing.Calls)
	}
}

func TestWithRetryRecovers(t *testing.T) {
	calls := 0
	mock := &MockProvider{ChatFunc: func(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
		calls++
		if calls == 1 {
			return nil, stderrors.New("transient")
		}
		return &ChatResponse{Content: "ok"}, nil
	}}
	p := WithRetry(mock, resilience.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond})

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected ok, got %q", resp.Content)
	}
}

func TestMockStream(t *testing.T) {
	mock := &MockProvider{Response: "streamed"}
	ch, err := mock.ChatStream(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var answer string
	var done bool
	for chunk := range ch {
		answer += chunk.Answer
		if chunk.Done {
			done = true
		}
	}
	if answer != "streamed" || !done {
		t.Errorf("expected terminal done chunk with answer, got %q done=%v", answer, done)
	}
}
