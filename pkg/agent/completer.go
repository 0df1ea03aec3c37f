package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotrecall/pkg/config"
	"github.com/dotsetgreg/dotrecall/pkg/memory"
	"github.com/dotsetgreg/dotrecall/pkg/providers"
)

// NewCompleter adapts an LLM provider to the completer used by the memory
// service. An empty system prompt is omitted; zero options fall back to the
// provider defaults.
func NewCompleter(provider providers.LLMProvider, model string) memory.Completer {
	return memory.CompleterFunc(func(ctx context.Context, systemPrompt, userPrompt string, opts memory.CompleteOptions) (string, error) {
		messages := make([]providers.Message, 0, 2)
		if strings.TrimSpace(systemPrompt) != "" {
			messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
		}
		messages = append(messages, providers.Message{Role: "user", Content: userPrompt})

		options := map[string]interface{}{}
		if opts.MaxTokens > 0 {
			options["max_tokens"] = opts.MaxTokens
		}
		if opts.Temperature > 0 {
			options["temperature"] = opts.Temperature
		}

		resp, err := provider.Chat(ctx, messages, model, options)
		if err != nil {
			return "", err
		}
		if resp == nil {
			return "", fmt.Errorf("provider returned no response")
		}
		return strings.TrimSpace(resp.Content), nil
	})
}

// ClassifyFailure maps provider failures onto the apology classes of the
// memory service.
func ClassifyFailure(err error) memory.FailureClass {
	switch providers.Classify(err) {
	case providers.FailureRateLimited:
		return memory.FailureRateLimited
	case providers.FailureAuth:
		return memory.FailureAuth
	default:
		return memory.FailureOther
	}
}

// NewMemoryService opens the workspace memory database and builds the
// memory service on top of provider.
func NewMemoryService(cfg *config.Config, provider providers.LLMProvider) (*memory.Service, error) {
	store, err := memory.NewSQLiteStore(memory.DBPath(cfg.WorkspacePath()))
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	svc, err := memory.NewService(ServiceConfig(cfg), store, NewCompleter(provider, cfg.Agents.Defaults.Model))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initialize memory service: %w", err)
	}
	return svc, nil
}

// ServiceConfig translates the memory section of cfg.
func ServiceConfig(cfg *config.Config) memory.Config {
	return memory.Config{
		STMThreshold:       cfg.Memory.STMThreshold,
		GlobalSTMLimit:     cfg.Memory.GlobalSTMLimit,
		RecentActivity:     cfg.Memory.RecentActivityLimit,
		CompletionTimeout:  cfg.CompletionTimeout(),
		SummaryTemperature: cfg.Memory.SummaryTemperature,
		SummaryMaxTokens:   cfg.Memory.SummaryMaxTokens,
		Generation: memory.CompleteOptions{
			Temperature: cfg.Agents.Defaults.Temperature,
			MaxTokens:   cfg.Agents.Defaults.MaxTokens,
		},
		Classify: ClassifyFailure,
	}
}
