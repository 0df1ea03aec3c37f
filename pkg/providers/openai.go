package providers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotrecall/pkg/config"
)

const (
	defaultOpenAIAPIBase = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

func init() {
	Register(Backend{
		Name:     ProviderOpenAI,
		Build:    newOpenAI,
		Validate: validateOpenAI,
		Credentials: func(cfg *config.Config) (bool, string) {
			cred, err := openAICredential(cfg)
			return err == nil, cred.mode
		},
	})
}

// openAICredential picks between a static API key and an OAuth token file.
// Exactly one of them must be set.
func openAICredential(cfg *config.Config) (credentialSource, error) {
	if cfg == nil {
		return credentialSource{}, errors.New("config is required")
	}
	pc := cfg.Providers.OpenAI
	return pickCredential("OpenAI",
		credentialSource{mode: authModeAPIKey, value: pc.APIKey, field: "providers.openai.api_key"},
		credentialSource{mode: authModeTokenFile, value: pc.OAuthTokenFile, field: "providers.openai.oauth_token_file"},
	)
}

func validateOpenAI(cfg *config.Config) error {
	cred, err := openAICredential(cfg)
	if err != nil {
		return err
	}
	return cred.checkTokenFile("OpenAI")
}

func newOpenAI(cfg *config.Config) (LLMProvider, error) {
	if err := validateOpenAI(cfg); err != nil {
		return nil, err
	}
	cred, _ := openAICredential(cfg)

	var token TokenSource
	switch cred.mode {
	case authModeAPIKey:
		token = StaticToken(cred.value, cred.field)
	case authModeTokenFile:
		token = TokenFile(cred.value)
	default:
		return nil, fmt.Errorf("unsupported OpenAI auth mode %q", cred.mode)
	}

	pc := cfg.Providers.OpenAI
	headers := map[string]string{}
	if org := strings.TrimSpace(pc.Organization); org != "" {
		headers["OpenAI-Organization"] = org
	}
	if project := strings.TrimSpace(pc.Project); project != "" {
		headers["OpenAI-Project"] = project
	}
	return newChatCompletionsProvider(
		ProviderOpenAI,
		firstNonEmpty(pc.APIBase, defaultOpenAIAPIBase),
		defaultOpenAIModel,
		strings.TrimSpace(pc.Proxy),
		token,
		headers,
	)
}
