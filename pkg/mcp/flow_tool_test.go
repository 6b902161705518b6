package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/flow"
	"github.com/loomworks/loom/pkg/op"
)

func echoFlow(name string) *flow.Flow {
	spec := op.ToolSpec{
		Name:        "echo",
		Description: "repeat the input",
		Params:      []op.Field{{Name: "text", Type: "string", Required: true}},
		Results:     []op.Field{{Name: "echoed", Type: "string"}},
	}
	root := op.NewFunc(spec, op.ModeSync, func(ctx context.Context, c *core.Context) (any, error) {
		text, err := c.GetString("text")
		if err != nil {
			return nil, err
		}
		return "echo: " + text, nil
	})
	return flow.New(name, root)
}

func failingFlow(name string) *flow.Flow {
	spec := op.ToolSpec{Name: "boom", Params: []op.Field{}}
	root := op.NewFunc(spec, op.ModeSync, func(ctx context.Context, c *core.Context) (any, error) {
		return nil, errors.Newf(errors.CodeBackendFailure, "backend down")
	}, op.WithRaiseOnError())
	return flow.New(name, root)
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, not TextContent", result.Content[0])
	}
	return tc.Text
}

func TestFlowToolSchema(t *testing.T) {
	tool, err := FlowTool(echoFlow("echo"))
	if err != nil {
		t.Fatalf("FlowTool failed: %v", err)
	}
	if tool.Name != "echo" {
		t.Errorf("tool name = %q, want echo", tool.Name)
	}
	if tool.Description != "repeat the input" {
		t.Errorf("tool description = %q", tool.Description)
	}
	schema := string(tool.RawInputSchema)
	if !strings.Contains(schema, `"text"`) {
		t.Errorf("schema missing text property: %s", schema)
	}
	if !strings.Contains(schema, `"required"`) {
		t.Errorf("schema missing required list: %s", schema)
	}
}

func TestFlowHandlerReturnsAnswer(t *testing.T) {
	handler := flowHandler(echoFlow("echo"))

	req := mcp.CallToolRequest{}
	req.Params.Name = "echo"
	req.Params.Arguments = map[string]interface{}{"text": "hello"}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %v", result.Content)
	}
	if got := textOf(t, result); got != "echo: hello" {
		t.Errorf("result text = %q", got)
	}
}

func TestFlowHandlerReportsErrorsAsResults(t *testing.T) {
	handler := flowHandler(failingFlow("boom"))

	req := mcp.CallToolRequest{}
	req.Params.Name = "boom"
	req.Params.Arguments = map[string]interface{}{}

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler must not return transport errors, got %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result")
	}
	if got := textOf(t, result); !strings.Contains(got, "BACKEND_FAILURE") {
		t.Errorf("error payload missing code: %q", got)
	}
}

func TestRegisterFlowsSkipsStreaming(t *testing.T) {
	reg := flow.NewRegistry()
	reg.RegisterFlow(echoFlow("plain"))
	reg.RegisterFlow(flow.New("chunks", mustRoot(t, echoFlow("tmp")), flow.WithStreaming()))

	srv := NewServer("loom", "test")
	exposed, err := srv.RegisterFlows(reg)
	if err != nil {
		t.Fatalf("RegisterFlows failed: %v", err)
	}
	if len(exposed) != 1 || exposed[0] != "plain" {
		t.Errorf("exposed = %v, want [plain]", exposed)
	}
}

func TestRenderAnswer(t *testing.T) {
	if got := renderAnswer("plain"); got != "plain" {
		t.Errorf("string answer = %q", got)
	}
	if got := renderAnswer(nil); got != "" {
		t.Errorf("nil answer = %q", got)
	}
	if got := renderAnswer(map[string]any{"k": 1}); got != `{"k":1}` {
		t.Errorf("object answer = %q", got)
	}
}

func mustRoot(t *testing.T, f *flow.Flow) op.Op {
	t.Helper()
	root, err := f.Root()
	if err != nil {
		t.Fatalf("root build failed: %v", err)
	}
	return root
}
