package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/dotrecall/pkg/config"
)

func TestCreateProvider_OpenRouter_DefaultSelection(t *testing.T) {
	var seenAuth string
	var seenPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenPath = r.URL.Path
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if got := req["model"]; got != defaultOpenRouterModel {
			t.Fatalf("expected default model %q, got %v", defaultOpenRouterModel, got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL
	cfg.Agents.Defaults.Provider = ""

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	resp, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected response content ok, got %q", resp.Content)
	}
	if seenAuth != "Bearer or-key" {
		t.Fatalf("expected openrouter auth bearer, got %q", seenAuth)
	}
	if seenPath != "/chat/completions" {
		t.Fatalf("expected /chat/completions path, got %q", seenPath)
	}
}

func TestCreateProvider_OpenAI_WithAPIKeyAndOptions(t *testing.T) {
	var seenAuth string
	var seenOrg string
	var seenProject string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenOrg = r.Header.Get("OpenAI-Organization")
		seenProject = r.Header.Get("OpenAI-Project")

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if got := req["model"]; got != "gpt-4o" {
			t.Fatalf("expected model override gpt-4o, got %v", got)
		}
		if got := req["max_tokens"]; got != float64(1024) {
			t.Fatalf("expected max_tokens 1024, got %v", got)
		}
		if got := req["temperature"]; got != 0.5 {
			t.Fatalf("expected temperature 0.5, got %v", got)
		}
		if _, ok := req["tools"]; ok {
			t.Fatalf("tools should never be sent")
		}
		msgs, _ := req["messages"].([]interface{})
		if len(msgs) != 2 {
			t.Fatalf("expected system and user messages, got %v", req["messages"])
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":[{"type":"text","text":"- fact one"},{"type":"text","text":"\n- fact two"}]},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":6,"total_tokens":18}
		}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKey = "openai-key"
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.Organization = "org_123"
	cfg.Providers.OpenAI.Project = "proj_456"

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	resp, err := provider.Chat(
		context.Background(),
		[]Message{{Role: "system", Content: "summarize"}, {Role: "user", Content: "user: hi"}},
		"gpt-4o",
		map[string]interface{}{"max_tokens": 1024, "temperature": 0.5},
	)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "- fact one\n- fact two" {
		t.Fatalf("expected flattened content, got %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 18 {
		t.Fatalf("expected usage to be parsed, got %#v", resp.Usage)
	}
	if seenAuth != "Bearer openai-key" {
		t.Fatalf("expected openai bearer auth, got %q", seenAuth)
	}
	if seenOrg != "org_123" {
		t.Fatalf("expected org header org_123, got %q", seenOrg)
	}
	if seenProject != "proj_456" {
		t.Fatalf("expected project header proj_456, got %q", seenProject)
	}
}

func TestOpenAICredential_RejectsMultipleSources(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token.txt")
	if err := os.WriteFile(tokenFile, []byte("from-file"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKey = "api-key-wins"
	cfg.Providers.OpenAI.OAuthTokenFile = tokenFile

	cred, err := openAICredential(cfg)
	if err == nil {
		t.Fatalf("expected multi-credential configuration error")
	}
	if cred.mode != "" || cred.value != "" {
		t.Fatalf("expected empty credential on error, got %+v", cred)
	}
	if want := "multiple OpenAI credential sources configured"; err == nil || !strings.Contains(err.Error(), want) {
		t.Fatalf("expected error containing %q, got %v", want, err)
	}
}

func TestCreateProvider_OpenAI_UsesOAuthTokenFile(t *testing.T) {
	var seenAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	tokenFile := filepath.Join(t.TempDir(), "token.txt")
	if err := os.WriteFile(tokenFile, []byte("oauth-token-from-file"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.OAuthTokenFile = tokenFile

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if _, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}}, "", nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if seenAuth != "Bearer oauth-token-from-file" {
		t.Fatalf("expected oauth bearer from file, got %q", seenAuth)
	}
}

func TestCreateProvider_OpenAI_UsesOAuthTokenFile_NestedJSON(t *testing.T) {
	var seenAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	tokenFile := filepath.Join(t.TempDir(), "auth.json")
	payload := `{"tokens":{"access_token":"oauth-token-from-json"}}`
	if err := os.WriteFile(tokenFile, []byte(payload), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.OAuthTokenFile = tokenFile

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if _, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}}, "", nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if seenAuth != "Bearer oauth-token-from-json" {
		t.Fatalf("expected oauth bearer from nested json token file, got %q", seenAuth)
	}
}

func TestCreateProvider_UnsupportedProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = "does-not-exist"

	if _, err := CreateProvider(cfg); err == nil {
		t.Fatalf("expected unsupported provider error")
	}
}

func TestValidateProviderConfig_MissingCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = ProviderOpenAI

	if err := ValidateProviderConfig(cfg); err == nil {
		t.Fatalf("expected missing credentials error for openai")
	}
}

func TestRegister_InvalidBackendDoesNotPanic(t *testing.T) {
	orig := backends
	backends = &registry{backends: map[string]Backend{}}
	for name, b := range orig.backends {
		backends.backends[name] = b
	}
	defer func() { backends = orig }()

	didPanic := false
	func() {
		defer func() {
			if recover() != nil {
				didPanic = true
			}
		}()
		Register(Backend{Name: ProviderOpenAI})
	}()
	if didPanic {
		t.Fatalf("Register should not panic on invalid backend")
	}

	cfg := config.DefaultConfig()
	if _, err := CreateProvider(cfg); err == nil || !strings.Contains(err.Error(), "provider registration failed") {
		t.Fatalf("expected registration failure, got %v", err)
	}
}

func TestPickCredential_MissingNamesFields(t *testing.T) {
	_, err := pickCredential("OpenAI",
		credentialSource{mode: authModeAPIKey, value: " ", field: "providers.openai.api_key"},
		credentialSource{mode: authModeTokenFile, field: "providers.openai.oauth_token_file"},
	)
	if err == nil {
		t.Fatalf("expected missing credential error")
	}
	want := "OpenAI credentials are required (set providers.openai.api_key or providers.openai.oauth_token_file)"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestChatCompletions_ErrorStatusIsClassified(t *testing.T) {
	cases := []struct {
		status int
		want   FailureKind
	}{
		{http.StatusTooManyRequests, FailureRateLimited},
		{http.StatusUnauthorized, FailureAuth},
		{http.StatusForbidden, FailureAuth},
		{http.StatusInternalServerError, FailureOther},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))

		cfg := config.DefaultConfig()
		cfg.Providers.OpenRouter.APIKey = "or-key"
		cfg.Providers.OpenRouter.APIBase = server.URL
		provider, err := CreateProvider(cfg)
		if err != nil {
			server.Close()
			t.Fatalf("create provider: %v", err)
		}
		_, err = provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := Classify(err); got != tc.want {
			t.Fatalf("status %d: expected %s, got %s", tc.status, tc.want, got)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != tc.status {
			t.Fatalf("status %d: expected *APIError, got %#v", tc.status, err)
		}
		if !strings.Contains(err.Error(), "nope") {
			t.Fatalf("expected upstream message in error, got %v", err)
		}
	}
}

func TestClassify_NonProviderErrors(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != FailureOther {
		t.Fatalf("expected deadline to classify as other, got %s", got)
	}
	wrapped := fmt.Errorf("generate: %w", newAPIError(ProviderOpenAI, http.StatusTooManyRequests, "slow down"))
	if got := Classify(wrapped); got != FailureRateLimited {
		t.Fatalf("expected wrapped 429 to classify as rate limited, got %s", got)
	}
}

func anthropicTestServer(t *testing.T, status int, body string, seen *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "sk-ant-test" {
			t.Errorf("expected api key header, got %q", got)
		}
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func anthropicTestConfig(base string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = ProviderAnthropic
	cfg.Providers.Anthropic.APIKey = "sk-ant-test"
	cfg.Providers.Anthropic.APIBase = base
	return cfg
}

func TestCreateProvider_Anthropic_Messages(t *testing.T) {
	var req map[string]interface{}
	server := anthropicTestServer(t, http.StatusOK, `{
		"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",
		"content":[{"type":"text","text":"Paris, again."}],
		"stop_reason":"end_turn",
		"usage":{"input_tokens":30,"output_tokens":4}
	}`, &req)
	defer server.Close()

	provider, err := CreateProvider(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	resp, err := provider.Chat(
		context.Background(),
		[]Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "where did I go?"}},
		"",
		map[string]interface{}{"temperature": 0.5, "max_tokens": 256},
	)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "Paris, again." {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.FinishReason != "end_turn" {
		t.Fatalf("unexpected finish reason %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 34 {
		t.Fatalf("unexpected usage %#v", resp.Usage)
	}
	if req["model"] != defaultAnthropicModel {
		t.Fatalf("expected default model, got %v", req["model"])
	}
	if req["max_tokens"] != float64(256) {
		t.Fatalf("expected max_tokens 256, got %v", req["max_tokens"])
	}
	if req["temperature"] != 0.5 {
		t.Fatalf("expected temperature 0.5, got %v", req["temperature"])
	}
	msgs, _ := req["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Fatalf("system prompt should not be sent as a message, got %v", req["messages"])
	}
	if req["system"] == nil {
		t.Fatalf("expected system prompt in request")
	}
}

func TestCreateProvider_Anthropic_ErrorsAreClassified(t *testing.T) {
	cases := []struct {
		status int
		want   FailureKind
	}{
		{http.StatusTooManyRequests, FailureRateLimited},
		{http.StatusUnauthorized, FailureAuth},
		{http.StatusBadRequest, FailureOther},
	}
	for _, tc := range cases {
		server := anthropicTestServer(t, tc.status, `{"type":"error","error":{"type":"some_error","message":"denied"}}`, nil)
		provider, err := CreateProvider(anthropicTestConfig(server.URL))
		if err != nil {
			server.Close()
			t.Fatalf("create provider: %v", err)
		}
		_, err = provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := Classify(err); got != tc.want {
			t.Fatalf("status %d: expected %s, got %s (%v)", tc.status, tc.want, got, err)
		}
	}
}

func TestValidateProviderConfig_AnthropicPlaceholderKey(t *testing.T) {
	cfg := anthropicTestConfig("")
	cfg.Providers.Anthropic.APIKey = "${ANTHROPIC_API_KEY}"
	if err := ValidateProviderConfig(cfg); err == nil {
		t.Fatalf("expected placeholder key to be rejected")
	}
	_, configured, _, err := ProviderCredentialStatus(cfg)
	if err != nil {
		t.Fatalf("credential status: %v", err)
	}
	if configured {
		t.Fatalf("placeholder key should not count as configured")
	}
}

type countingProvider struct {
	calls int
}

func (p *countingProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	p.calls++
	return &LLMResponse{Content: "ok"}, nil
}

func (p *countingProvider) GetDefaultModel() string { return "counting" }

func TestRateLimitedProvider_BlocksPastBurst(t *testing.T) {
	inner := &countingProvider{}
	provider := NewRateLimitedProvider(inner, 2)
	if provider.GetDefaultModel() != "counting" {
		t.Fatalf("expected default model passthrough, got %q", provider.GetDefaultModel())
	}

	for i := 0; i < 2; i++ {
		if _, err := provider.Chat(context.Background(), nil, "", nil); err != nil {
			t.Fatalf("call %d within burst: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := provider.Chat(ctx, nil, "", nil); err == nil {
		t.Fatalf("expected third call to be throttled")
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", inner.calls)
	}
}

func TestNewRateLimitedProvider_DisabledReturnsInner(t *testing.T) {
	inner := &countingProvider{}
	if got := NewRateLimitedProvider(inner, 0); got != LLMProvider(inner) {
		t.Fatalf("expected inner provider when limit is disabled")
	}
}
