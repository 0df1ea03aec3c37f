// DotRecall - conversational memory service
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/dotrecall/pkg/bus"
	"github.com/dotsetgreg/dotrecall/pkg/config"
	"github.com/dotsetgreg/dotrecall/pkg/logger"
)

// Manager owns the enabled channels and delivers outbound replies to them.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus

	mu             sync.RWMutex
	cancelDispatch context.CancelFunc
}

// NewManager builds the channels enabled in cfg.
func NewManager(cfg *config.Config, msgBus *bus.MessageBus) (*Manager, error) {
	m := NewEmptyManager(msgBus)

	logger.InfoC("channels", "Initializing channel manager")
	if cfg.Channels.Discord.Enabled {
		if strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
			return nil, fmt.Errorf("channels.discord.token is required when discord is enabled")
		}
		discord, err := NewDiscordChannel(cfg.Channels.Discord, msgBus)
		if err != nil {
			return nil, fmt.Errorf("initialize Discord channel: %w", err)
		}
		m.RegisterChannel(discord.Name(), discord)
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]interface{}{
		"enabled_channels": len(m.channels),
	})
	return m, nil
}

// NewEmptyManager returns a manager with no channels registered.
func NewEmptyManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	snapshot := make(map[string]Channel, len(m.channels))
	for name, channel := range m.channels {
		snapshot[name] = channel
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		logger.WarnC("channels", "No channels enabled")
		return nil
	}

	var started []string
	var startErrors []string
	for name, channel := range snapshot {
		logger.InfoCF("channels", "Starting channel", map[string]interface{}{"channel": name})
		if err := channel.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
			startErrors = append(startErrors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		started = append(started, name)
	}

	if len(startErrors) > 0 {
		for _, name := range started {
			if err := snapshot[name].Stop(ctx); err != nil {
				logger.WarnCF("channels", "Failed to stop partially-started channel", map[string]interface{}{
					"channel": name,
					"error":   err.Error(),
				})
			}
		}
		return fmt.Errorf("failed to start channels: %s", strings.Join(startErrors, "; "))
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.cancelDispatch != nil {
		m.cancelDispatch()
	}
	m.cancelDispatch = cancel
	m.mu.Unlock()

	go m.dispatchOutbound(dispatchCtx)

	logger.InfoCF("channels", "All channels started", map[string]interface{}{"count": len(started)})
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelDispatch != nil {
		m.cancelDispatch()
		m.cancelDispatch = nil
	}
	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	logger.InfoC("channels", "All channels stopped")
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if err := m.deliver(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Error sending message to channel", map[string]interface{}{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
		}
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) error {
	channel, ok := m.GetChannel(msg.Channel)
	if !ok {
		return fmt.Errorf("channel %s not found", msg.Channel)
	}
	return channel.Send(ctx, msg)
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]interface{}, len(m.channels))
	for name, channel := range m.channels {
		status[name] = map[string]interface{}{
			"enabled": true,
			"running": channel.IsRunning(),
		}
	}
	return status
}

func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

func (m *Manager) SendToChannel(ctx context.Context, channelName, chatID, content string) error {
	return m.deliver(ctx, bus.OutboundMessage{Channel: channelName, ChatID: chatID, Content: content})
}
