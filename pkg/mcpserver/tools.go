package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dotsetgreg/dotrecall/pkg/memory"
)

// ChatTool handles the chat MCP tool.
type ChatTool struct {
	svc         *memory.Service
	defaultUser string
}

func NewChatTool(svc *memory.Service, defaultUser string) *ChatTool {
	return &ChatTool{svc: svc, defaultUser: defaultUser}
}

func (t *ChatTool) Definition() mcp.Tool {
	return mcp.NewTool("chat",
		mcp.WithDescription(
			"Send a message in a remembered conversation. "+
				"Returns the reply, the session id and what the session currently remembers.",
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The user message"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session to continue; omit to start a new one"),
		),
		mcp.WithString("user_id",
			mcp.Description("User the conversation belongs to (defaults to the configured user)"),
		),
	)
}

func (t *ChatTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	if strings.TrimSpace(message) == "" {
		return mcp.NewToolResultError("'message' is required"), nil
	}

	result, err := t.svc.HandleTurn(ctx, memory.TurnRequest{
		SessionID: req.GetString("session_id", ""),
		UserID:    userArg(req, t.defaultUser),
		Message:   message,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("chat failed: %v", err)), nil
	}

	var b strings.Builder
	b.WriteString(result.Response)
	fmt.Fprintf(&b, "\n\n---\nsession_id: %s\nstm_count: %d\nrecall_triggered: %t\n", result.SessionID, result.Debug.STMCount, result.Debug.RecallTriggered)
	if len(result.Debug.LTM) > 0 {
		b.WriteString("long_term_memory:\n")
		for _, fact := range result.Debug.LTM {
			fmt.Fprintf(&b, "- %s\n", fact)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ListSessionsTool handles the list_sessions MCP tool.
type ListSessionsTool struct {
	svc         *memory.Service
	defaultUser string
}

func NewListSessionsTool(svc *memory.Service, defaultUser string) *ListSessionsTool {
	return &ListSessionsTool{svc: svc, defaultUser: defaultUser}
}

func (t *ListSessionsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_sessions",
		mcp.WithDescription("List the user's sessions, most recently active first."),
		mcp.WithString("user_id",
			mcp.Description("User whose sessions to list (defaults to the configured user)"),
		),
	)
}

func (t *ListSessionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := t.svc.ListSessions(ctx, userArg(req, t.defaultUser))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions failed: %v", err)), nil
	}
	if len(sessions) == 0 {
		return mcp.NewToolResultText("No sessions yet."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Sessions (%d)\n\n", len(sessions))
	for _, s := range sessions {
		fmt.Fprintf(&b, "- **%s** `%s` (%d messages, updated %s)\n",
			s.Title, s.SessionID, s.MessageCount, s.UpdatedAt.UTC().Format("2006-01-02 15:04"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// SessionDetailTool handles the session_detail MCP tool.
type SessionDetailTool struct {
	svc         *memory.Service
	defaultUser string
}

func NewSessionDetailTool(svc *memory.Service, defaultUser string) *SessionDetailTool {
	return &SessionDetailTool{svc: svc, defaultUser: defaultUser}
}

func (t *SessionDetailTool) Definition() mcp.Tool {
	return mcp.NewTool("session_detail",
		mcp.WithDescription("Show a session's long-term facts and its short-term message buffer."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("The session to inspect"),
		),
		mcp.WithString("user_id",
			mcp.Description("Owner of the session (defaults to the configured user)"),
		),
	)
}

func (t *SessionDetailTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if strings.TrimSpace(sessionID) == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}

	detail, err := t.svc.SessionDetail(ctx, userArg(req, t.defaultUser), sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session detail failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", detail.Session.SessionID)
	fmt.Fprintf(&b, "## Long-term memory (%d)\n", len(detail.LTM))
	for _, e := range detail.LTM {
		fmt.Fprintf(&b, "- %s\n", e.MemoryText)
	}
	fmt.Fprintf(&b, "\n## Short-term buffer (%d)\n", len(detail.STM))
	for _, e := range detail.STM {
		fmt.Fprintf(&b, "%s: %s\n", e.Role.Label(), e.Content)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func userArg(req mcp.CallToolRequest, fallback string) string {
	if u := strings.TrimSpace(req.GetString("user_id", "")); u != "" {
		return u
	}
	return fallback
}
