package memory

import (
	"strings"
	"time"
)

// DefaultRecentActivity is the number of other-session STM entries shown in
// the recent activity section.
const DefaultRecentActivity = 15

const (
	promptPreamble = "You are an intelligent AI assistant with memory across the user's conversations."

	headingBackground = "BACKGROUND KNOWLEDGE (from other conversations):"
	headingActivity   = "RECENT ACTIVITY (from other conversations):"
	headingSessionLTM = "LONG-TERM MEMORY (this conversation):"
	headingSessionSTM = "RECENT MESSAGES (this conversation):"
	headingQuestion   = "CURRENT QUESTION:"
	headingRules      = "INSTRUCTIONS:"

	emptyBackground = "No background knowledge from other conversations."
	emptyActivity   = "No recent activity in other conversations."
	emptySessionLTM = "No long-term memory for this conversation yet."
	emptySessionSTM = "No earlier messages in this conversation."

	promptInstructions = `- Use BACKGROUND KNOWLEDGE and RECENT ACTIVITY for questions about who the user is, their preferences, or what was discussed in other conversations
- Use LONG-TERM MEMORY and RECENT MESSAGES to stay consistent with this conversation
- For general knowledge questions, provide helpful, accurate information
- Be concise, friendly, and direct`

	activityTimeLayout = "2006-01-02 15:04"
)

// PromptInput is everything the assembler renders.
type PromptInput struct {
	SessionID   string
	Message     string
	SessionSTM  []STMEntry
	SessionLTM  []LTMEntry
	Global      GlobalContext
	RecentLimit int
}

// AssemblePrompt renders the prompt sections in fixed order. Empty sections
// get a placeholder line.
func AssemblePrompt(in PromptInput) string {
	limit := in.RecentLimit
	if limit <= 0 {
		limit = DefaultRecentActivity
	}

	background := make([]string, 0, len(in.Global.LTM))
	for _, e := range in.Global.LTM {
		if e.SessionID != in.SessionID {
			background = append(background, "• "+e.MemoryText)
		}
	}

	others := make([]STMEntry, 0, len(in.Global.STM))
	for _, e := range in.Global.STM {
		if e.SessionID != in.SessionID {
			others = append(others, e)
		}
	}
	if len(others) > limit {
		others = others[len(others)-limit:]
	}
	activity := make([]string, 0, len(others))
	for _, e := range others {
		activity = append(activity, "["+formatActivityTime(e.CreatedAt)+"] "+e.Role.Label()+": "+e.Content)
	}

	sessionLTM := make([]string, 0, len(in.SessionLTM))
	for _, e := range in.SessionLTM {
		sessionLTM = append(sessionLTM, "• "+e.MemoryText)
	}

	sessionSTM := make([]string, 0, len(in.SessionSTM))
	for _, e := range in.SessionSTM {
		sessionSTM = append(sessionSTM, e.Role.Label()+": "+e.Content)
	}

	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\n")
	writeSection(&b, headingBackground, background, emptyBackground)
	writeSection(&b, headingActivity, activity, emptyActivity)
	writeSection(&b, headingSessionLTM, sessionLTM, emptySessionLTM)
	writeSection(&b, headingSessionSTM, sessionSTM, emptySessionSTM)
	b.WriteString(headingQuestion)
	b.WriteByte('\n')
	b.WriteString(in.Message)
	b.WriteString("\n\n")
	b.WriteString(headingRules)
	b.WriteByte('\n')
	b.WriteString(promptInstructions)
	return b.String()
}

func writeSection(b *strings.Builder, heading string, lines []string, placeholder string) {
	b.WriteString(heading)
	b.WriteByte('\n')
	if len(lines) == 0 {
		b.WriteString(placeholder)
	} else {
		b.WriteString(strings.Join(lines, "\n"))
	}
	b.WriteString("\n\n")
}

func formatActivityTime(t time.Time) string {
	return t.UTC().Format(activityTimeLayout)
}
