package llm

import (
	"strings"
	"time"

	"github.com/pavelanni/examgrader/internal/llm/prompts"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1000

	minAPIKeyLength = 10
)

// Config describes how to reach the external grading provider.
type Config struct {
	Enabled     bool
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float32
	MaxTokens   int
	// RateLimit caps outbound requests per second. Zero means unlimited.
	RateLimit     float64
	PromptVariant prompts.Variant
}

func (c Config) withDefaults() Config {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Model = strings.TrimSpace(c.Model)
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Temperature < 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.PromptVariant == "" {
		c.PromptVariant = prompts.Standard
	}
	return c
}

// CheckConfig reports whether cfg is complete enough to attempt a call.
// The message explains the first problem found.
func CheckConfig(cfg Config) (bool, string) {
	cfg = cfg.withDefaults()
	if !cfg.Enabled {
		return false, "AI grading is disabled"
	}
	if cfg.APIKey == "" {
		return false, "API key is not set"
	}
	if len(cfg.APIKey) < minAPIKeyLength {
		return false, "API key looks invalid (too short)"
	}
	if cfg.Provider == "" {
		return false, "provider is not set"
	}
	p, ok := lookupProvider(cfg.Provider)
	if !ok {
		return false, "unsupported provider: " + cfg.Provider
	}
	if cfg.Model == "" {
		return false, "model is not set"
	}
	if !prompts.IsValidVariant(string(cfg.PromptVariant)) {
		return false, "unknown prompt variant: " + string(cfg.PromptVariant)
	}
	if p.NeedsBaseURL() && cfg.BaseURL == "" {
		return false, "provider " + cfg.Provider + " requires an endpoint URL"
	}
	return true, "AI grading is configured (" + cfg.Provider + ", " + cfg.Model + ")"
}
