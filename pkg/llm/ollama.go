package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaProvider implements Provider and StreamingProvider against a local
// Ollama server.
type OllamaProvider struct {
	baseURL string
	client  *http.Client
}

// NewOllama creates an Ollama provider. An empty baseURL selects the
// default local endpoint.
func NewOllama(baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaMessage struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	Thinking   string           `json:"thinking,omitempty"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []any           `json:"tools,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	EvalCount       int           `json:"eval_count"`
	PromptEvalCount int           `json:"prompt_eval_count"`
}

// Chat sends an aggregated chat request.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := p.send(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var oResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}

	return &ChatResponse{
		Content:   oResp.Message.Content,
		Reasoning: oResp.Message.Thinking,
		ToolCalls: convertOllamaToolCalls(oResp.Message.ToolCalls),
		Usage: Usage{
			PromptTokens:     oResp.PromptEvalCount,
			CompletionTokens: oResp.EvalCount,
			TotalTokens:      oResp.PromptEvalCount + oResp.EvalCount,
		},
	}, nil
}

// ChatStream streams the response as typed chunks. The channel is closed
// after the terminal Done chunk.
func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	resp, err := p.send(ctx, req, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk, 64)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		toolIndex := 0
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				chunks <- StreamChunk{Err: ctx.Err()}
				return
			default:
			}

			var part ollamaResponse
			if err := json.Unmarshal(scanner.Bytes(), &part); err != nil {
				chunks <- StreamChunk{Err: fmt.Errorf("decode stream chunk: %w", err)}
				return
			}
			if part.Message.Thinking != "" {
				chunks <- StreamChunk{Reasoning: part.Message.Thinking}
			}
			if part.Message.Content != "" {
				chunks <- StreamChunk{Answer: part.Message.Content}
			}
			for _, tc := range part.Message.ToolCalls {
				chunks <- StreamChunk{ToolCall: &ToolFragment{
					Index:     toolIndex,
					Name:      tc.Function.Name,
					Arguments: string(tc.Function.Arguments),
				}}
				toolIndex++
			}
			if part.Done {
				chunks <- StreamChunk{Usage: &Usage{
					PromptTokens:     part.PromptEvalCount,
					CompletionTokens: part.EvalCount,
					TotalTokens:      part.PromptEvalCount + part.EvalCount,
				}}
				chunks <- StreamChunk{Done: true}
				return
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			chunks <- StreamChunk{Err: err}
		}
	}()
	return chunks, nil
}

func (p *OllamaProvider) send(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	oReq := ollamaRequest{
		Model:    req.Model,
		Messages: make([]ollamaMessage, 0, len(req.Messages)),
		Stream:   stream,
	}
	for _, m := range req.Messages {
		oReq.Messages = append(oReq.Messages, ollamaMessage{
			Role:       m.Role,
			Content:    m.Text(),
			ToolCallID: m.ToolCallID,
		})
	}
	for _, t := range req.Tools {
		oReq.Tools = append(oReq.Tools, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	if req.Temperature != 0 {
		oReq.Options = map[string]any{"temperature": req.Temperature}
	}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama api call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama api returned status %d", resp.StatusCode)
	}
	return resp, nil
}

func convertOllamaToolCalls(calls []ollamaToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCall{
			Function: FunctionCall{
				Name:      c.Function.Name,
				Arguments: string(c.Function.Arguments),
			},
		})
	}
	return out
}

var (
	_ Provider          = (*OllamaProvider)(nil)
	_ StreamingProvider = (*OllamaProvider)(nil)
)
