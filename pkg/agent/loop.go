// DotRecall - conversational memory service
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/dotrecall/pkg/bus"
	"github.com/dotsetgreg/dotrecall/pkg/channels"
	"github.com/dotsetgreg/dotrecall/pkg/config"
	"github.com/dotsetgreg/dotrecall/pkg/logger"
	"github.com/dotsetgreg/dotrecall/pkg/memory"
	"github.com/dotsetgreg/dotrecall/pkg/providers"
)

// AgentLoop feeds channel messages through the memory service and publishes
// the replies.
type AgentLoop struct {
	bus            *bus.MessageBus
	memory         *memory.Service
	model          string
	running        atomic.Bool
	channelManager *channels.Manager
}

func NewAgentLoop(cfg *config.Config, msgBus *bus.MessageBus, provider providers.LLMProvider) (*AgentLoop, error) {
	svc, err := NewMemoryService(cfg, provider)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(cfg.Agents.Defaults.Model)
	if model == "" {
		model = provider.GetDefaultModel()
	}
	return NewAgentLoopWithService(msgBus, svc, model), nil
}

// NewAgentLoopWithService builds a loop around an existing memory service.
func NewAgentLoopWithService(msgBus *bus.MessageBus, svc *memory.Service, model string) *AgentLoop {
	return &AgentLoop{
		bus:    msgBus,
		memory: svc,
		model:  model,
	}
}

func (al *AgentLoop) Run(ctx context.Context) error {
	al.running.Store(true)

	for al.running.Load() {
		msg, ok := al.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}

		response, err := al.processMessage(ctx, msg)
		if err != nil {
			response = fmt.Sprintf("Error processing message: %v", err)
		}
		if response != "" {
			al.bus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: response,
			})
		}
	}
	return nil
}

func (al *AgentLoop) Stop() {
	al.running.Store(false)
	if al.memory != nil {
		_ = al.memory.Close()
	}
}

// Memory exposes the memory service for the other boundary surfaces.
func (al *AgentLoop) Memory() *memory.Service {
	return al.memory
}

func (al *AgentLoop) SetChannelManager(cm *channels.Manager) {
	al.channelManager = cm
}

// ProcessDirect runs one turn outside the bus, for the CLI. An empty
// sessionID starts a new session.
func (al *AgentLoop) ProcessDirect(ctx context.Context, content, sessionID, userID string) (memory.TurnResult, error) {
	return al.memory.HandleTurn(ctx, memory.TurnRequest{
		SessionID: sessionID,
		UserID:    userID,
		Message:   content,
	})
}

func (al *AgentLoop) processMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	logger.InfoCF("agent", "Processing message", map[string]interface{}{
		"channel":   msg.Channel,
		"chat_id":   msg.ChatID,
		"sender_id": msg.SenderID,
		"preview":   preview(msg.Content, 80),
	})

	sessionID, err := resolveSessionID(msg.SessionID, msg.Channel, msg.ChatID, msg.SenderID)
	if err != nil {
		return "", err
	}

	if response, handled := al.handleCommand(ctx, msg, sessionID); handled {
		return response, nil
	}

	result, err := al.memory.HandleTurn(ctx, memory.TurnRequest{
		SessionID: sessionID,
		UserID:    msg.SenderID,
		Message:   msg.Content,
	})
	if err != nil {
		logger.ErrorCF("agent", "Turn failed", map[string]interface{}{
			"session_id": sessionID,
			"user_id":    msg.SenderID,
			"error":      err.Error(),
		})
		return "", err
	}

	logger.DebugCF("agent", "Turn completed", map[string]interface{}{
		"session_id": sessionID,
		"stm_count":  result.Debug.STMCount,
		"ltm_count":  len(result.Debug.LTM),
		"recall":     result.Debug.RecallTriggered,
	})
	return result.Response, nil
}

// GetStartupInfo summarizes the loop configuration for logging.
func (al *AgentLoop) GetStartupInfo() map[string]interface{} {
	info := map[string]interface{}{
		"model": al.model,
	}
	if al.channelManager != nil {
		info["channels"] = al.channelManager.GetEnabledChannels()
	}
	return info
}

func (al *AgentLoop) handleCommand(ctx context.Context, msg bus.InboundMessage, sessionID string) (string, bool) {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "/") {
		return "", false
	}
	parts := strings.Fields(content)
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "/show":
		if len(args) < 1 {
			return "Usage: /show [model|channel|session]", true
		}
		switch args[0] {
		case "model":
			return fmt.Sprintf("Current model: %s", al.model), true
		case "channel":
			return fmt.Sprintf("Current channel: %s", msg.Channel), true
		case "session":
			return fmt.Sprintf("Current session: %s", sessionID), true
		default:
			return fmt.Sprintf("Unknown show target: %s", args[0]), true
		}

	case "/list":
		if len(args) < 1 || args[0] != "channels" {
			return "Usage: /list channels", true
		}
		if al.channelManager == nil {
			return "Channel manager not initialized", true
		}
		names := al.channelManager.GetEnabledChannels()
		if len(names) == 0 {
			return "No channels enabled", true
		}
		return fmt.Sprintf("Enabled channels: %s", strings.Join(names, ", ")), true

	case "/sessions":
		sessions, err := al.memory.ListSessions(ctx, msg.SenderID)
		if err != nil {
			return fmt.Sprintf("Failed to list sessions: %v", err), true
		}
		return formatSessions(sessions), true

	case "/memory":
		detail, err := al.memory.SessionDetail(ctx, msg.SenderID, sessionID)
		if errors.Is(err, memory.ErrSessionNotFound) {
			return "Nothing remembered in this conversation yet.", true
		}
		if err != nil {
			return fmt.Sprintf("Failed to load memory: %v", err), true
		}
		return formatDetail(detail), true
	}

	return "", false
}

func formatSessions(sessions []memory.SessionSummary) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}
	lines := []string{"Your sessions:"}
	for _, s := range sessions {
		lines = append(lines, fmt.Sprintf("- %s (%d messages, %s)", s.Title, s.MessageCount, s.SessionID))
	}
	return strings.Join(lines, "\n")
}

func formatDetail(detail memory.SessionDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Long-term memory (%d):", len(detail.LTM))
	for _, e := range detail.LTM {
		b.WriteString("\n- ")
		b.WriteString(e.MemoryText)
	}
	fmt.Fprintf(&b, "\nShort-term buffer: %d messages", len(detail.STM))
	return b.String()
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
