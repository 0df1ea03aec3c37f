package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agents    AgentsConfig    `json:"agents" yaml:"agents"`
	Channels  ChannelsConfig  `json:"channels" yaml:"channels"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Memory    MemoryConfig    `json:"memory" yaml:"memory"`
	Log       LogConfig       `json:"log" yaml:"log"`
	mu        sync.RWMutex
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults" yaml:"defaults"`
}

type AgentDefaults struct {
	Workspace   string  `json:"workspace" yaml:"workspace" env:"DOTRECALL_AGENTS_DEFAULTS_WORKSPACE"`
	UserID      string  `json:"user_id" yaml:"user_id" env:"DOTRECALL_AGENTS_DEFAULTS_USER_ID"`
	Provider    string  `json:"provider" yaml:"provider" env:"DOTRECALL_AGENTS_DEFAULTS_PROVIDER"`
	Model       string  `json:"model" yaml:"model" env:"DOTRECALL_AGENTS_DEFAULTS_MODEL"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" env:"DOTRECALL_AGENTS_DEFAULTS_MAX_TOKENS"`
	Temperature float64 `json:"temperature" yaml:"temperature" env:"DOTRECALL_AGENTS_DEFAULTS_TEMPERATURE"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord" yaml:"discord"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" yaml:"enabled" env:"DOTRECALL_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" yaml:"token" env:"DOTRECALL_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" yaml:"allow_from" env:"DOTRECALL_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `json:"openrouter" yaml:"openrouter"`
	OpenAI     OpenAIConfig     `json:"openai" yaml:"openai"`
	Anthropic  AnthropicConfig  `json:"anthropic" yaml:"anthropic"`
	// RequestsPerMinute throttles completion calls client-side. 0 disables.
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" env:"DOTRECALL_PROVIDERS_REQUESTS_PER_MINUTE"`
}

type OpenRouterConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key" env:"DOTRECALL_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" yaml:"api_base" env:"DOTRECALL_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" yaml:"proxy,omitempty" env:"DOTRECALL_PROVIDERS_OPENROUTER_PROXY"`
}

type OpenAIConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key" env:"DOTRECALL_PROVIDERS_OPENAI_API_KEY"`
	OAuthTokenFile string `json:"oauth_token_file" yaml:"oauth_token_file" env:"DOTRECALL_PROVIDERS_OPENAI_OAUTH_TOKEN_FILE"`
	APIBase        string `json:"api_base" yaml:"api_base" env:"DOTRECALL_PROVIDERS_OPENAI_API_BASE"`
	Organization   string `json:"organization,omitempty" yaml:"organization,omitempty" env:"DOTRECALL_PROVIDERS_OPENAI_ORGANIZATION"`
	Project        string `json:"project,omitempty" yaml:"project,omitempty" env:"DOTRECALL_PROVIDERS_OPENAI_PROJECT"`
	Proxy          string `json:"proxy,omitempty" yaml:"proxy,omitempty" env:"DOTRECALL_PROVIDERS_OPENAI_PROXY"`
}

type AnthropicConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key" env:"DOTRECALL_PROVIDERS_ANTHROPIC_API_KEY"`
	APIBase string `json:"api_base" yaml:"api_base" env:"DOTRECALL_PROVIDERS_ANTHROPIC_API_BASE"`
}

type GatewayConfig struct {
	Host           string   `json:"host" yaml:"host" env:"DOTRECALL_GATEWAY_HOST"`
	Port           int      `json:"port" yaml:"port" env:"DOTRECALL_GATEWAY_PORT"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" env:"DOTRECALL_GATEWAY_ALLOWED_ORIGINS"`
}

type MemoryConfig struct {
	STMThreshold             int     `json:"stm_threshold" yaml:"stm_threshold" env:"DOTRECALL_MEMORY_STM_THRESHOLD"`
	GlobalSTMLimit           int     `json:"global_stm_limit" yaml:"global_stm_limit" env:"DOTRECALL_MEMORY_GLOBAL_STM_LIMIT"`
	RecentActivityLimit      int     `json:"recent_activity_limit" yaml:"recent_activity_limit" env:"DOTRECALL_MEMORY_RECENT_ACTIVITY_LIMIT"`
	CompletionTimeoutSeconds int     `json:"completion_timeout_seconds" yaml:"completion_timeout_seconds" env:"DOTRECALL_MEMORY_COMPLETION_TIMEOUT_SECONDS"`
	SummaryTemperature       float64 `json:"summary_temperature" yaml:"summary_temperature" env:"DOTRECALL_MEMORY_SUMMARY_TEMPERATURE"`
	SummaryMaxTokens         int     `json:"summary_max_tokens" yaml:"summary_max_tokens" env:"DOTRECALL_MEMORY_SUMMARY_MAX_TOKENS"`
	// SweepSchedule is a cron expression for retrying pending summaries.
	// Empty disables the sweep.
	SweepSchedule string `json:"sweep_schedule" yaml:"sweep_schedule" env:"DOTRECALL_MEMORY_SWEEP_SCHEDULE"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" env:"DOTRECALL_LOG_LEVEL"`
	JSON  bool   `json:"json" yaml:"json" env:"DOTRECALL_LOG_JSON"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:   "~/.dotrecall/workspace",
				UserID:      "local",
				Provider:    "openrouter",
				Model:       "",
				MaxTokens:   2048,
				Temperature: 0.7,
			},
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           18790,
			AllowedOrigins: []string{"*"},
		},
		Memory: MemoryConfig{
			STMThreshold:             10,
			GlobalSTMLimit:           50,
			RecentActivityLimit:      15,
			CompletionTimeoutSeconds: 60,
			SummaryTemperature:       0.5,
			SummaryMaxTokens:         1024,
			SweepSchedule:            "*/15 * * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path (JSON, or YAML for .yaml/.yml) over the defaults and
// then applies DOTRECALL_* environment overrides. A missing file is not an
// error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeFile(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config env: %w", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decodeFile(path string, data []byte, cfg *Config) error {
	if !isYAML(path) {
		return json.Unmarshal(data, cfg)
	}
	data = []byte(os.ExpandEnv(string(data)))
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agents.Defaults.Workspace)
}

func (c *Config) CompletionTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Memory.CompletionTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Memory.CompletionTimeoutSeconds) * time.Second
}

func (c *Config) GatewayAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
