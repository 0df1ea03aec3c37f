package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

// scriptedCompleter answers chat and summary calls separately and records
// every prompt it sees.
type scriptedCompleter struct {
	mu        sync.Mutex
	chat      func(call int, prompt string) (string, error)
	summarize func(call int, transcript string) (string, error)
	chats     []string
	summaries []string
	opts      []CompleteOptions
}

func (c *scriptedCompleter) Complete(_ context.Context, systemPrompt, userPrompt string, opts CompleteOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = append(c.opts, opts)
	if systemPrompt == summarySystemPrompt {
		c.summaries = append(c.summaries, userPrompt)
		if c.summarize == nil {
			return "- nothing new", nil
		}
		return c.summarize(len(c.summaries), userPrompt)
	}
	c.chats = append(c.chats, userPrompt)
	if c.chat == nil {
		return "ok", nil
	}
	return c.chat(len(c.chats), userPrompt)
}

func (c *scriptedCompleter) summaryCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.summaries)
}

func (c *scriptedCompleter) lastChat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.chats) == 0 {
		return ""
	}
	return c.chats[len(c.chats)-1]
}

var errRateLimited = errors.New("429 too many requests")
var errUnauthorized = errors.New("401 unauthorized")

func classifyTestErrors(err error) FailureClass {
	switch {
	case errors.Is(err, errRateLimited):
		return FailureRateLimited
	case errors.Is(err, errUnauthorized):
		return FailureAuth
	default:
		return FailureOther
	}
}

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: "sqlite", open: func(t *testing.T) Store {
			t.Helper()
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "memory.db"))
			if err != nil {
				t.Fatalf("new sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{name: "mem", open: func(t *testing.T) Store {
			t.Helper()
			return NewMemStore()
		}},
	}
}

func newTestService(t *testing.T, store Store, c *scriptedCompleter) *Service {
	t.Helper()
	svc, err := NewService(Config{Classify: classifyTestErrors}, store, c)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}
