package memory

import "context"

// Store provides durable persistence for sessions, STM and LTM. Every
// operation is scoped by user; rows owned by another user are never
// returned or modified.
type Store interface {
	Close() error

	GetOrCreateSession(ctx context.Context, userID, sessionID string) (SessionState, error)
	GetSession(ctx context.Context, userID, sessionID string) (SessionState, error)
	SetMessageCount(ctx context.Context, userID, sessionID string, count int) error
	ListSessions(ctx context.Context, userID string) ([]SessionSummary, error)

	AppendSTM(ctx context.Context, userID, sessionID string, role Role, content string) (STMEntry, error)
	ClearSTM(ctx context.Context, userID, sessionID string) error
	AppendLTM(ctx context.Context, userID, sessionID string, memoryTexts []string) ([]LTMEntry, error)
	// CommitSummary appends the facts as LTM and deletes STM entries with
	// id <= throughSTMID in one transaction.
	CommitSummary(ctx context.Context, userID, sessionID string, memoryTexts []string, throughSTMID int64) ([]LTMEntry, error)

	GetGlobalContext(ctx context.Context, userID string, stmLimit int) (GlobalContext, error)
	ListPendingSummaries(ctx context.Context, minSTM, limit int) ([]SessionRef, error)

	AddMetric(ctx context.Context, metric string, value float64, labels map[string]string) error
}

// Completer produces a completion for a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompleteOptions) (string, error)
}

// CompleteOptions tunes a single completion call. Zero values use the
// provider defaults.
type CompleteOptions struct {
	Temperature float64
	MaxTokens   int
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, systemPrompt, userPrompt string, opts CompleteOptions) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompleteOptions) (string, error) {
	return f(ctx, systemPrompt, userPrompt, opts)
}

// FailureClassifier maps a completion error onto a failure class.
type FailureClassifier func(err error) FailureClass

// FailureClass groups completion failures by the apology they produce.
type FailureClass int

const (
	FailureOther FailureClass = iota
	FailureRateLimited
	FailureAuth
)
