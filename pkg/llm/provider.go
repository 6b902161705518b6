// Package llm defines the conversation data model and the provider
// contracts Loom expects from LLM backends.
package llm

import (
	"context"
	"time"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType identifies a typed content block inside a message.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
)

// ContentBlock is one element of a structured message body.
type ContentBlock struct {
	Type BlockType `json:"type"`
	Text string    `json:"text,omitempty"`
	URL  string    `json:"url,omitempty"`
}

// FunctionCall is the name/arguments pair of a requested tool invocation.
// Arguments is a JSON object encoded as a string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// Message is a single unit of conversation. Content carries plain text;
// Blocks carries an ordered list of typed blocks when the backend returns
// structured content. Text() flattens either form.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Blocks     []ContentBlock `json:"blocks,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
}

// Text returns the plain-text body of the message, flattening blocks.
func (m Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	if out == "" {
		return m.Content
	}
	return out
}

// Trajectory is an ordered message sequence with an overall outcome score.
type Trajectory struct {
	Messages []Message `json:"messages"`
	Score    float64   `json:"score"`
}

// ToolDef declares a function tool made available to the model.
// Parameters is a JSON-Schema-shaped value.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters"`
}

// ChatRequest is the input of a chat call.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []ToolDef `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Usage tracks token consumption reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the aggregated output of a chat call.
type ChatResponse struct {
	Content   string     `json:"content"`
	Reasoning string     `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// StreamChunk is one typed fragment of a streaming response. Exactly one
// field group is populated per chunk; Done marks the terminal chunk.
type StreamChunk struct {
	Reasoning string        `json:"reasoning,omitempty"`
	Answer    string        `json:"answer,omitempty"`
	ToolCall  *ToolFragment `json:"tool_call,omitempty"`
	Usage     *Usage        `json:"usage,omitempty"`
	Err       error         `json:"-"`
	Done      bool          `json:"done,omitempty"`
}

// ToolFragment is an incremental piece of a tool call, delivered by index.
type ToolFragment struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Provider is the aggregated chat contract.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StreamingProvider additionally supports incremental responses.
type StreamingProvider interface {
	Provider
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}
