package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type rateLimitedProvider struct {
	inner   LLMProvider
	limiter *rate.Limiter
}

// NewRateLimitedProvider throttles Chat calls to perMinute requests per
// minute, allowing bursts of up to perMinute.
func NewRateLimitedProvider(inner LLMProvider, perMinute int) LLMProvider {
	if perMinute <= 0 {
		return inner
	}
	return &rateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute),
	}
}

func (p *rateLimitedProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for request slot: %w", err)
	}
	return p.inner.Chat(ctx, messages, model, options)
}

func (p *rateLimitedProvider) GetDefaultModel() string {
	return p.inner.GetDefaultModel()
}
