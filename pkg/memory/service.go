package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/dotrecall/pkg/logger"
	"github.com/google/uuid"
)

const (
	// DefaultSTMThreshold is the STM length that triggers summarization.
	DefaultSTMThreshold      = 10
	defaultCompletionTimeout = 60 * time.Second
	defaultSweepBatch        = 32
)

const (
	apologyRateLimited = "I'm sorry, the AI service quota has been exceeded right now. Please try again in a little while."
	apologyAuth        = "I'm sorry, the AI service is not configured correctly (authentication failed). Please check the provider API key."
	apologyGeneric     = "I'm sorry, I encountered an error processing your request: %s"
)

// Config configures the memory lifecycle controller.
type Config struct {
	STMThreshold       int
	GlobalSTMLimit     int
	RecentActivity     int
	CompletionTimeout  time.Duration
	SummaryTemperature float64
	SummaryMaxTokens   int
	// Generation overrides the completion options of the chat reply.
	Generation CompleteOptions
	// Classify maps completion errors onto apology classes. Nil treats every
	// failure as FailureOther.
	Classify FailureClassifier
}

// DBPath is the SQLite location inside a workspace.
func DBPath(workspace string) string {
	return filepath.Join(workspace, "state", "memory.db")
}

// Service runs chat turns against the memory store: it records both sides of
// every turn, builds the prompt from session and cross-session memory, and
// compresses STM into LTM once the threshold is reached.
type Service struct {
	cfg        Config
	store      Store
	completer  Completer
	summarizer *Summarizer
	locks      *sessionLocks

	closeOnce sync.Once
	closeErr  error
}

func NewService(cfg Config, store Store, completer Completer) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if cfg.STMThreshold <= 0 {
		cfg.STMThreshold = DefaultSTMThreshold
	}
	if cfg.GlobalSTMLimit <= 0 || cfg.GlobalSTMLimit > MaxGlobalSTM {
		cfg.GlobalSTMLimit = MaxGlobalSTM
	}
	if cfg.RecentActivity <= 0 {
		cfg.RecentActivity = DefaultRecentActivity
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = defaultCompletionTimeout
	}
	if cfg.Classify == nil {
		cfg.Classify = func(error) FailureClass { return FailureOther }
	}

	return &Service{
		cfg:        cfg,
		store:      store,
		completer:  completer,
		summarizer: NewSummarizer(completer, cfg.SummaryTemperature, cfg.SummaryMaxTokens),
		locks:      newSessionLocks(),
	}, nil
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

// NewSessionID returns a fresh opaque session id.
func (s *Service) NewSessionID() string {
	return uuid.NewString()
}

// HandleTurn records the user message, generates a reply and records it,
// then summarizes STM when it has reached the threshold. Generation and
// summarization failures are absorbed; store failures are returned.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.UserID == "" {
		return TurnResult{}, fmt.Errorf("%w: user id is required", ErrInvalidTurn)
	}
	if strings.TrimSpace(req.Message) == "" {
		return TurnResult{}, fmt.Errorf("%w: message is required", ErrInvalidTurn)
	}
	if req.SessionID == "" {
		req.SessionID = s.NewSessionID()
	}

	unlock := s.locks.lock(req.SessionID)
	defer unlock()

	state, err := s.store.GetOrCreateSession(ctx, req.UserID, req.SessionID)
	if err != nil {
		return TurnResult{}, err
	}
	stm := state.STM
	ltm := state.LTM
	count := state.Session.MessageCount

	userEntry, err := s.store.AppendSTM(ctx, req.UserID, req.SessionID, RoleUser, req.Message)
	if err != nil {
		return TurnResult{}, err
	}
	stm = append(stm, userEntry)
	count++
	if err := s.store.SetMessageCount(ctx, req.UserID, req.SessionID, count); err != nil {
		return TurnResult{}, err
	}

	recall := ShouldTriggerRecall(req.Message)
	if recall {
		logger.InfoCF("memory", "Recall triggered", map[string]interface{}{
			"session_id": req.SessionID,
			"user_id":    req.UserID,
		})
		_ = s.store.AddMetric(ctx, "memory.recall.triggered", 1, map[string]string{"session_id": req.SessionID})
	}

	global, err := s.store.GetGlobalContext(ctx, req.UserID, s.cfg.GlobalSTMLimit)
	if err != nil {
		return TurnResult{}, err
	}
	prompt := AssemblePrompt(PromptInput{
		SessionID:   req.SessionID,
		Message:     req.Message,
		SessionSTM:  stm,
		SessionLTM:  ltm,
		Global:      global,
		RecentLimit: s.cfg.RecentActivity,
	})

	response := s.generate(ctx, req, prompt)

	assistantEntry, err := s.store.AppendSTM(ctx, req.UserID, req.SessionID, RoleAssistant, response)
	if err != nil {
		return TurnResult{}, err
	}
	stm = append(stm, assistantEntry)
	count++
	if err := s.store.SetMessageCount(ctx, req.UserID, req.SessionID, count); err != nil {
		return TurnResult{}, err
	}

	if len(stm) >= s.cfg.STMThreshold {
		if facts := s.summarizeLocked(ctx, req.UserID, req.SessionID, stm); len(facts) > 0 {
			ltm = append(ltm, facts...)
			stm = []STMEntry{}
		}
	}

	ltmTexts := make([]string, 0, len(ltm))
	for _, e := range ltm {
		ltmTexts = append(ltmTexts, e.MemoryText)
	}
	return TurnResult{
		SessionID: req.SessionID,
		Response:  response,
		Debug: TurnDebug{
			STMCount:        len(stm),
			LTM:             ltmTexts,
			STM:             stm,
			RecallTriggered: recall,
		},
	}, nil
}

// generate calls the completer under the configured timeout and turns any
// failure into an apology.
func (s *Service) generate(ctx context.Context, req TurnRequest, prompt string) string {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.CompletionTimeout)
	defer cancel()

	text, err := s.completer.Complete(genCtx, "", prompt, s.cfg.Generation)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty completion")
	}
	if err == nil {
		return text
	}

	class := s.cfg.Classify(err)
	logger.ErrorCF("memory", "Generation failed", map[string]interface{}{
		"session_id": req.SessionID,
		"user_id":    req.UserID,
		"class":      class.String(),
		"error":      err.Error(),
	})
	_ = s.store.AddMetric(ctx, "memory.generation.failed", 1, map[string]string{"class": class.String()})
	return Apology(class, err)
}

// Apology is the assistant message substituted for a failed generation.
func Apology(class FailureClass, err error) string {
	switch class {
	case FailureRateLimited:
		return apologyRateLimited
	case FailureAuth:
		return apologyAuth
	default:
		detail := "unknown error"
		if err != nil {
			detail = err.Error()
		}
		return fmt.Sprintf(apologyGeneric, detail)
	}
}

func (c FailureClass) String() string {
	switch c {
	case FailureRateLimited:
		return "rate_limited"
	case FailureAuth:
		return "auth"
	default:
		return "other"
	}
}

// summarizeLocked compresses stm into LTM. The caller holds the session
// lock. It returns the persisted facts, or nil when STM was left in place.
func (s *Service) summarizeLocked(ctx context.Context, userID, sessionID string, stm []STMEntry) []LTMEntry {
	logger.InfoCF("memory", "Summarization triggered", map[string]interface{}{
		"session_id": sessionID,
		"stm_count":  len(stm),
	})

	sumCtx, cancel := context.WithTimeout(ctx, s.cfg.CompletionTimeout)
	facts := s.summarizer.SummarizeBatch(sumCtx, stm)
	cancel()
	if len(facts) == 0 {
		_ = s.store.AddMetric(ctx, "memory.summarize.skipped", 1, map[string]string{"session_id": sessionID})
		return nil
	}

	saved, err := s.store.CommitSummary(ctx, userID, sessionID, facts, stm[len(stm)-1].ID)
	if err != nil {
		logger.ErrorCF("memory", "Failed to persist summary", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return nil
	}
	logger.InfoCF("memory", "Memories saved to LTM", map[string]interface{}{
		"session_id": sessionID,
		"facts":      len(saved),
	})
	_ = s.store.AddMetric(ctx, "memory.summarize.facts", float64(len(saved)), map[string]string{"session_id": sessionID})
	return saved
}

// SweepPendingSummaries retries summarization for sessions whose STM is at
// or above the threshold, e.g. after the summarizer failed during a turn.
// It returns how many sessions were compressed.
func (s *Service) SweepPendingSummaries(ctx context.Context) (int, error) {
	refs, err := s.store.ListPendingSummaries(ctx, s.cfg.STMThreshold, defaultSweepBatch)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		ok, err := s.sweepSession(ctx, ref)
		if err != nil {
			logger.WarnCF("memory", "Summary sweep failed for session", map[string]interface{}{
				"session_id": ref.SessionID,
				"error":      err.Error(),
			})
			continue
		}
		if ok {
			done++
		}
	}
	return done, nil
}

func (s *Service) sweepSession(ctx context.Context, ref SessionRef) (bool, error) {
	unlock := s.locks.lock(ref.SessionID)
	defer unlock()

	state, err := s.store.GetSession(ctx, ref.UserID, ref.SessionID)
	if err != nil {
		return false, err
	}
	if len(state.STM) < s.cfg.STMThreshold {
		return false, nil
	}
	return len(s.summarizeLocked(ctx, ref.UserID, ref.SessionID, state.STM)) > 0, nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidTurn)
	}
	return s.store.ListSessions(ctx, userID)
}

// SessionDetail returns one session's STM and LTM.
func (s *Service) SessionDetail(ctx context.Context, userID, sessionID string) (SessionDetail, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" {
		return SessionDetail{}, fmt.Errorf("%w: user id and session id are required", ErrInvalidTurn)
	}
	state, err := s.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return SessionDetail{}, err
	}
	return SessionDetail{Session: state.Session, STM: state.STM, LTM: state.LTM}, nil
}
