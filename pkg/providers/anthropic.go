package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dotsetgreg/dotrecall/pkg/config"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

func init() {
	Register(Backend{
		Name:     ProviderAnthropic,
		Build:    newAnthropicProviderFromConfig,
		Validate: validateAnthropicConfig,
		Credentials: func(cfg *config.Config) (bool, string) {
			return validateAnthropicConfig(cfg) == nil, authModeAPIKey
		},
	})
}

func validateAnthropicConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	key := strings.TrimSpace(cfg.Providers.Anthropic.APIKey)
	if key == "" {
		return fmt.Errorf("Anthropic API key is required (set providers.anthropic.api_key or DOTRECALL_PROVIDERS_ANTHROPIC_API_KEY)")
	}
	if isPlaceholderToken(key) {
		return fmt.Errorf("providers.anthropic.api_key contains a placeholder value")
	}
	return nil
}

type anthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

func newAnthropicProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	if err := validateAnthropicConfig(cfg); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.Providers.Anthropic.APIKey)),
		// 429s surface to the caller as a quota failure instead of being retried here.
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.Providers.Anthropic.APIBase); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &anthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultAnthropicModel,
	}, nil
}

func (p *anthropicProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := defaultAnthropicMaxTokens
	if v, ok := optionAsInt(options, "max_tokens"); ok && v > 0 {
		maxTokens = v
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	var system []string
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if t, ok := optionAsFloat(options, "temperature"); ok {
		params.Temperature = anthropic.Float(t)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, newAPIError(ProviderAnthropic, apiErr.StatusCode, augmentProviderError(ProviderAnthropic, apiErr.StatusCode, apiErr.Error()))
		}
		return nil, fmt.Errorf("send anthropic request: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &LLMResponse{
		Content:      text.String(),
		FinishReason: string(resp.StopReason),
		Usage: &UsageInfo{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func (p *anthropicProvider) GetDefaultModel() string {
	return p.defaultModel
}
