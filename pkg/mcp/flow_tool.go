package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/flow"
)

// FlowTool converts a flow into an MCP tool definition. The tool's input
// schema comes from the root op's declared parameters.
func FlowTool(f *flow.Flow) (mcp.Tool, error) {
	root, err := f.Root()
	if err != nil {
		return mcp.Tool{}, err
	}
	spec := root.Spec()

	schema, err := json.Marshal(spec.ParamSchema())
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("marshal param schema for flow %q: %w", f.Name(), err)
	}

	desc := spec.Description
	if desc == "" {
		desc = fmt.Sprintf("run the %s flow", f.Name())
	}
	return mcp.NewToolWithRawSchema(f.Name(), desc, schema), nil
}

// flowHandler adapts a flow call to the MCP tool handler contract. Failures
// become error results, never transport errors, so the client always gets a
// structured reply.
func flowHandler(f *flow.Flow) func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kwargs, _ := request.Params.Arguments.(map[string]interface{})

		resp, err := f.Call(ctx, kwargs)
		if err != nil {
			le := errors.AsLoomError(err)
			payload, merr := json.Marshal(le)
			if merr != nil {
				return mcp.NewToolResultError(le.Error()), nil
			}
			return mcp.NewToolResultError(string(payload)), nil
		}
		return mcp.NewToolResultText(renderAnswer(resp.Answer)), nil
	}
}

// renderAnswer flattens a flow answer into tool-result text. Strings pass
// through; everything else is JSON-encoded.
func renderAnswer(answer any) string {
	switch v := answer.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(payload)
	}
}
