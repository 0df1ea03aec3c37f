package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/dotsetgreg/dotrecall/pkg/bus"
	"github.com/dotsetgreg/dotrecall/pkg/config"
	"github.com/dotsetgreg/dotrecall/pkg/logger"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second
	// Discord rejects messages above 2000 characters.
	discordChunkLimit = 1800
)

type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session

	typingMu sync.Mutex
	typing   map[string]*typingSession
}

type typingSession struct {
	pending int
	cancel  context.CancelFunc
}

func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		typing:      make(map[string]*typingSession),
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.onMessageCreate)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	c.stopAllTyping()

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("channel ID is empty")
	}
	defer c.endTyping(msg.ChatID)

	for _, chunk := range splitMessage(msg.Content, discordChunkLimit) {
		if err := c.sendChunk(ctx, msg.ChatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send discord message: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	botID := ""
	if s != nil && s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	content, ok := inboundContent(m, botID)
	if !ok {
		return
	}

	metadata := map[string]string{
		"message_id": m.ID,
		"username":   m.Author.Username,
		"guild_id":   m.GuildID,
		"is_dm":      fmt.Sprintf("%t", m.GuildID == ""),
	}
	if !c.HandleMessage(m.Author.ID, m.ChannelID, content, metadata) {
		logger.DebugCF("discord", "Message rejected by allowlist", map[string]interface{}{
			"user_id": m.Author.ID,
		})
		return
	}
	c.beginTyping(m.ChannelID)
}

// inboundContent extracts the text to remember from a Discord message.
// Attachments are kept as URL references; messages from bots, including
// this one, are ignored.
func inboundContent(m *discordgo.MessageCreate, botID string) (string, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return "", false
	}
	if m.Author.Bot || (botID != "" && m.Author.ID == botID) {
		return "", false
	}

	lines := make([]string, 0, 1+len(m.Attachments))
	if text := strings.TrimSpace(m.Content); text != "" {
		lines = append(lines, text)
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("[attachment: %s]", a.URL))
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

// splitMessage cuts content into chunks of at most limit runes, preferring
// line breaks, then spaces.
func splitMessage(content string, limit int) []string {
	content = strings.TrimSpace(content)
	var chunks []string
	for content != "" {
		if utf8.RuneCountInString(content) <= limit {
			chunks = append(chunks, content)
			break
		}
		cut := byteOffset(content, limit)
		window := content[:cut]
		if i := strings.LastIndex(window, "\n"); i > cut/2 {
			cut = i
		} else if i := strings.LastIndexAny(window, " \t"); i > cut/2 {
			cut = i
		}
		chunks = append(chunks, strings.TrimSpace(content[:cut]))
		content = strings.TrimSpace(content[cut:])
	}
	return chunks
}

// byteOffset returns the byte index of the n-th rune of s.
func byteOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}

func (c *DiscordChannel) sendTyping(channelID string) {
	if err := c.session.ChannelTyping(channelID); err != nil {
		logger.WarnCF("discord", "Failed to send typing indicator", map[string]interface{}{
			"channel_id": channelID,
			"error":      err.Error(),
		})
	}
}

// beginTyping keeps the typing indicator alive until the matching reply is
// sent. Overlapping turns in one channel share the indicator.
func (c *DiscordChannel) beginTyping(channelID string) {
	c.typingMu.Lock()
	if sess, ok := c.typing[channelID]; ok {
		sess.pending++
		c.typingMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.typing[channelID] = &typingSession{pending: 1, cancel: cancel}
	c.typingMu.Unlock()

	c.sendTyping(channelID)
	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.IsRunning() {
					return
				}
				c.sendTyping(channelID)
			}
		}
	}()
}

func (c *DiscordChannel) endTyping(channelID string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	sess, ok := c.typing[channelID]
	if !ok {
		return
	}
	sess.pending--
	if sess.pending > 0 {
		return
	}
	delete(c.typing, channelID)
	sess.cancel()
}

func (c *DiscordChannel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	for channelID, sess := range c.typing {
		sess.cancel()
		delete(c.typing, channelID)
	}
}
