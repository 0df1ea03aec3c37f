package agent

import (
	"fmt"
	"strings"
)

// SessionIdentity names the conversation a channel message belongs to. Each
// sender gets their own session per chat, so a shared channel never mixes
// the memory of different users.
type SessionIdentity struct {
	Channel        string
	ConversationID string
	ActorID        string
}

func (id SessionIdentity) Validate() error {
	for _, part := range []struct{ name, value string }{
		{"channel", id.Channel},
		{"conversation id", id.ConversationID},
		{"actor id", id.ActorID},
	} {
		if strings.TrimSpace(part.value) == "" {
			return fmt.Errorf("missing %s", part.name)
		}
	}
	return nil
}

// SessionID renders the identity as "<channel>:<conversation>:<actor>".
func (id SessionIdentity) SessionID() string {
	return strings.ToLower(strings.TrimSpace(id.Channel)) + ":" +
		strings.TrimSpace(id.ConversationID) + ":" +
		strings.TrimSpace(id.ActorID)
}

// resolveSessionID prefers an explicit session id and otherwise derives one
// from the channel identity.
func resolveSessionID(explicit, channel, conversationID, actorID string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}
	identity := SessionIdentity{Channel: channel, ConversationID: conversationID, ActorID: actorID}
	if err := identity.Validate(); err != nil {
		return "", fmt.Errorf("resolve session identity: %w", err)
	}
	return identity.SessionID(), nil
}
