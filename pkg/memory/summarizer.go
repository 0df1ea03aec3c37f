package memory

import (
	"context"
	"strings"

	"github.com/dotsetgreg/dotrecall/pkg/logger"
)

const summarySystemPrompt = `Summarize the following conversation.
Extract ONLY:
- important facts
- decisions
- user preferences

Ignore greetings, small talk, and repetition.
Return bullet points only.`

const (
	defaultSummaryTemperature = 0.5
	defaultSummaryMaxTokens   = 1024
)

// fillerPrefixes start model preamble lines rather than facts.
var fillerPrefixes = []string{"here is", "sure", "summary"}

// Summarizer distills a batch of STM entries into LTM facts.
type Summarizer struct {
	completer   Completer
	temperature float64
	maxTokens   int
}

func NewSummarizer(completer Completer, temperature float64, maxTokens int) *Summarizer {
	if temperature <= 0 {
		temperature = defaultSummaryTemperature
	}
	if maxTokens <= 0 {
		maxTokens = defaultSummaryMaxTokens
	}
	return &Summarizer{completer: completer, temperature: temperature, maxTokens: maxTokens}
}

// SummarizeBatch returns the facts extracted from turns. It never fails:
// a completion error yields an empty result and the batch stays in STM.
func (s *Summarizer) SummarizeBatch(ctx context.Context, turns []STMEntry) []string {
	if len(turns) == 0 || s.completer == nil {
		return []string{}
	}
	raw, err := s.completer.Complete(ctx, summarySystemPrompt, "Conversation to summarize:\n"+buildTranscript(turns), CompleteOptions{
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		logger.WarnCF("memory", "Summarization failed", map[string]interface{}{
			"error": err.Error(),
			"turns": len(turns),
		})
		return []string{}
	}
	return parseFacts(raw)
}

func buildTranscript(turns []STMEntry) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

func parseFacts(raw string) []string {
	out := make([]string, 0)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(stripBullet(strings.TrimSpace(line)))
		if line == "" || isFiller(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// stripBullet removes a single leading list marker.
func stripBullet(line string) string {
	for _, marker := range []string{"-", "*", "•"} {
		if rest, ok := strings.CutPrefix(line, marker); ok {
			return rest
		}
	}
	return line
}

func isFiller(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range fillerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
