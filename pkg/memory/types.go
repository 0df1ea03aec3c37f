package memory

import (
	"strings"
	"time"
)

// Role identifies who authored a short-term memory entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the display form used in prompts.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "Assistant"
}

// Session captures persistent per-conversation state.
type Session struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// STMEntry is one uncompressed turn half held in a session's short-term buffer.
type STMEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"-"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// LTMEntry is a distilled fact. Append-only.
type LTMEntry struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"-"`
	MemoryText string    `json:"memoryText"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SessionState is a session together with its ordered STM and LTM.
type SessionState struct {
	Session Session
	STM     []STMEntry
	LTM     []LTMEntry
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	SessionID    string    `json:"sessionId"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GlobalContext is the read-time aggregate of a user's memory across
// sessions: every LTM entry and the most recent STM entries.
type GlobalContext struct {
	LTM []LTMEntry
	STM []STMEntry
}

// SessionRef names a session without loading it.
type SessionRef struct {
	SessionID string
	UserID    string
	STMCount  int
}

// TurnRequest is the input of a single chat turn.
type TurnRequest struct {
	SessionID string
	UserID    string
	Message   string
}

// TurnDebug exposes the session's memory after a turn.
type TurnDebug struct {
	STMCount        int        `json:"stmCount"`
	LTM             []string   `json:"ltm"`
	STM             []STMEntry `json:"stm"`
	RecallTriggered bool       `json:"recallTriggered"`
}

// TurnResult is the output of a single chat turn.
type TurnResult struct {
	SessionID string    `json:"sessionId"`
	Response  string    `json:"response"`
	Debug     TurnDebug `json:"debug"`
}

// SessionDetail is the full memory of one session.
type SessionDetail struct {
	Session Session    `json:"session"`
	STM     []STMEntry `json:"stm"`
	LTM     []LTMEntry `json:"ltm"`
}

const (
	// UntitledSession is the listing title of a session with no memory yet.
	UntitledSession = "New Chat"
	maxTitleRunes   = 30
)

func sessionTitle(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return UntitledSession
	}
	r := []rune(raw)
	if len(r) > maxTitleRunes {
		return string(r[:maxTitleRunes]) + "..."
	}
	return raw
}
