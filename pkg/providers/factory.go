package providers

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dotsetgreg/dotrecall/pkg/config"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
)

// Backend describes how one completion backend is configured and built.
// Validate and Credentials are optional.
type Backend struct {
	Name        string
	Build       func(cfg *config.Config) (LLMProvider, error)
	Validate    func(cfg *config.Config) error
	Credentials func(cfg *config.Config) (configured bool, mode string)
}

type registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	err      error
}

var backends = &registry{backends: map[string]Backend{}}

// Register adds a backend. Invalid registrations are recorded and surface
// on the next lookup instead of panicking during init.
func Register(b Backend) {
	backends.add(b)
}

func (r *registry) add(b Backend) {
	b.Name = NormalizeProviderName(b.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case strings.TrimSpace(b.Name) == "":
		r.err = errors.Join(r.err, errors.New("providers: backend name is required"))
	case b.Build == nil:
		r.err = errors.Join(r.err, fmt.Errorf("providers: backend %q has no build func", b.Name))
	default:
		r.backends[b.Name] = b
	}
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.backends))
	for name := range r.backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *registry) lookup(cfg *config.Config) (Backend, error) {
	name := ActiveProviderName(cfg)
	r.mu.RLock()
	regErr := r.err
	b, ok := r.backends[name]
	r.mu.RUnlock()
	if regErr != nil {
		return Backend{Name: name}, fmt.Errorf("provider registration failed: %w", regErr)
	}
	if !ok {
		return Backend{Name: name}, fmt.Errorf("unsupported provider %q: supported providers are %s", name, strings.Join(r.names(), ", "))
	}
	return b, nil
}

func SupportedProviders() []string {
	return backends.names()
}

// NormalizeProviderName lowercases name and maps empty to OpenRouter.
func NormalizeProviderName(name string) string {
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
		return name
	}
	return ProviderOpenRouter
}

func ActiveProviderName(cfg *config.Config) string {
	if cfg == nil {
		return ProviderOpenRouter
	}
	return NormalizeProviderName(cfg.Agents.Defaults.Provider)
}

func ValidateProviderConfig(cfg *config.Config) error {
	b, err := backends.lookup(cfg)
	if err != nil {
		return err
	}
	if b.Validate == nil {
		return nil
	}
	return b.Validate(cfg)
}

func ProviderCredentialStatus(cfg *config.Config) (provider string, configured bool, mode string, err error) {
	b, err := backends.lookup(cfg)
	if err != nil {
		return "", false, "", err
	}
	if b.Credentials != nil {
		configured, mode = b.Credentials(cfg)
		return b.Name, configured, mode, nil
	}
	return b.Name, b.Validate == nil || b.Validate(cfg) == nil, "", nil
}

// CreateProvider builds the configured backend, throttled when
// providers.requests_per_minute is set.
func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	b, err := backends.lookup(cfg)
	if err != nil {
		return nil, err
	}
	p, err := b.Build(cfg)
	if err != nil {
		return nil, err
	}
	if rpm := cfg.Providers.RequestsPerMinute; rpm > 0 {
		p = NewRateLimitedProvider(p, rpm)
	}
	return p, nil
}

// credentialSource is one configured way to authenticate a backend.
type credentialSource struct {
	mode  string
	value string
	field string
}

// pickCredential returns the single configured source. Zero or several
// configured sources is an error naming the fields involved.
func pickCredential(label string, sources ...credentialSource) (credentialSource, error) {
	set := make([]credentialSource, 0, len(sources))
	for _, s := range sources {
		if s.value = strings.TrimSpace(s.value); s.value != "" {
			set = append(set, s)
		}
	}
	if len(set) == 1 {
		return set[0], nil
	}
	fields := make([]string, 0, len(sources))
	for _, s := range sources {
		fields = append(fields, s.field)
	}
	if len(set) == 0 {
		return credentialSource{}, fmt.Errorf("%s credentials are required (set %s)", label, strings.Join(fields, " or "))
	}
	fields = fields[:0]
	for _, s := range set {
		fields = append(fields, s.field)
	}
	sort.Strings(fields)
	return credentialSource{}, fmt.Errorf("multiple %s credential sources configured (%s); set exactly one", label, strings.Join(fields, ", "))
}

func (c credentialSource) checkTokenFile(label string) error {
	if c.mode != authModeTokenFile {
		return nil
	}
	path := expandHome(c.value)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s token file not accessible at %s: %w", label, path, err)
	}
	return nil
}
