package memory

import "strings"

// recallPhrases mark a message as referring to earlier conversation.
var recallPhrases = []string{
	"earlier",
	"before",
	"last time",
	"you said",
	"remember",
	"what did we discuss",
}

// ShouldTriggerRecall reports whether message asks about conversation
// history.
func ShouldTriggerRecall(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range recallPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
