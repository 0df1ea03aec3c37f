package providers

import (
	"errors"
	"strings"

	"github.com/dotsetgreg/dotrecall/pkg/config"
)

const (
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "meta-llama/llama-3.3-70b-instruct"
)

func init() {
	Register(Backend{
		Name:     ProviderOpenRouter,
		Build:    newOpenRouter,
		Validate: validateOpenRouter,
		Credentials: func(cfg *config.Config) (bool, string) {
			return validateOpenRouter(cfg) == nil, authModeAPIKey
		},
	})
}

func validateOpenRouter(cfg *config.Config) error {
	switch {
	case cfg == nil:
		return errors.New("config is required")
	case strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "":
		return errors.New("OpenRouter API key is required (set providers.openrouter.api_key or DOTRECALL_PROVIDERS_OPENROUTER_API_KEY)")
	}
	return nil
}

// newOpenRouter talks to OpenRouter's chat completions endpoint. The
// X-Title header labels dotrecall traffic on the OpenRouter dashboard.
func newOpenRouter(cfg *config.Config) (LLMProvider, error) {
	if err := validateOpenRouter(cfg); err != nil {
		return nil, err
	}
	pc := cfg.Providers.OpenRouter
	return newChatCompletionsProvider(
		ProviderOpenRouter,
		firstNonEmpty(pc.APIBase, defaultOpenRouterAPIBase),
		defaultOpenRouterModel,
		strings.TrimSpace(pc.Proxy),
		StaticToken(pc.APIKey, "providers.openrouter.api_key"),
		map[string]string{"X-Title": "dotrecall"},
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
