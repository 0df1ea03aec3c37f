package providers

import (
	"net/http"
	"strings"
)

func augmentProviderError(providerName string, status int, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)
	providerName = NormalizeProviderName(providerName)

	switch providerName {
	case ProviderOpenRouter:
		if status == http.StatusPaymentRequired {
			return msg + " Hint: the OpenRouter account has no credits left for this model."
		}
		if status == http.StatusUnauthorized {
			return msg + " Hint: check providers.openrouter.api_key (or DOTRECALL_PROVIDERS_OPENROUTER_API_KEY)."
		}
	case ProviderOpenAI:
		if strings.Contains(lower, "incorrect api key provided") {
			return msg + " Hint: provider openai expects a Platform API credential in providers.openai.api_key."
		}
		if strings.Contains(lower, "missing scopes: model.request") {
			return msg + " Hint: the token lacks model.request scope for this project."
		}
	case ProviderAnthropic:
		if status == http.StatusUnauthorized {
			return msg + " Hint: check providers.anthropic.api_key (or DOTRECALL_PROVIDERS_ANTHROPIC_API_KEY)."
		}
	}

	return msg
}
