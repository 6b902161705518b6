// Package mcp exposes registered flows as MCP tools over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/loomworks/loom/pkg/flow"
	"github.com/loomworks/loom/pkg/op"
)

// Server wraps the mcp-go server so flows can be served as tools.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server identified by name and version.
func NewServer(name, version string) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version),
	}
}

// RegisterFlows exposes every registered synchronous, non-streaming flow as
// a tool. Streaming flows are skipped: MCP tool calls are request/response.
// Returns the names of the flows that were exposed.
func (s *Server) RegisterFlows(reg *flow.Registry) ([]string, error) {
	var exposed []string
	for _, f := range reg.Flows() {
		if f.Streaming() {
			continue
		}
		mode, err := f.Mode()
		if err != nil {
			return exposed, err
		}
		if mode != op.ModeSync {
			continue
		}
		tool, err := FlowTool(f)
		if err != nil {
			return exposed, err
		}
		s.mcpServer.AddTool(tool, flowHandler(f))
		exposed = append(exposed, f.Name())
	}
	return exposed, nil
}

// ServeStdio starts the server on stdin/stdout and blocks until the client
// disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
