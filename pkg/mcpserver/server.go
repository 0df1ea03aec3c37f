// Package mcpserver exposes the memory service as MCP tools over stdio.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dotsetgreg/dotrecall/pkg/memory"
)

const instructions = `dotrecall keeps conversational memory across sessions.
Use "chat" to send a message; pass the returned session_id back to continue
the same conversation. "list_sessions" and "session_detail" inspect what has
been remembered.`

// New builds the MCP server. defaultUser is used when a tool call does not
// name a user.
func New(svc *memory.Service, version, defaultUser string) *server.MCPServer {
	s := server.NewMCPServer(
		"dotrecall",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, t := range tools(svc, defaultUser) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}

type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

func tools(svc *memory.Service, defaultUser string) []tool {
	return []tool{
		NewChatTool(svc, defaultUser),
		NewListSessionsTool(svc, defaultUser),
		NewSessionDetailTool(svc, defaultUser),
	}
}

// Definitions lists the tool schemas served by New.
func Definitions() []mcp.Tool {
	var defs []mcp.Tool
	for _, t := range tools(nil, "") {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
