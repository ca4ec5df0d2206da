package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// Prompt is one provider-neutral grading request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Provider builds requests for and extracts text from one backend.
type Provider interface {
	Name() string
	// NeedsBaseURL reports whether the endpoint must be configured.
	NeedsBaseURL() bool
	BuildRequest(ctx context.Context, cfg Config, p Prompt) (*http.Request, error)
	ParseResponse(body []byte) (string, error)
}

var registry = map[string]Provider{}

func register(p Provider) {
	registry[p.Name()] = p
}

func init() {
	register(openAIProvider{})
	register(azureProvider{})
	register(anthropicProvider{})
	register(qianfanProvider{})
	register(tongyiProvider{})
}

// Providers returns the names of all supported providers, sorted.
func Providers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupProvider(name string) (Provider, bool) {
	p, ok := registry[name]
	return p, ok
}

func newJSONRequest(ctx context.Context, url string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func maxTokens(cfg Config, p Prompt) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return cfg.MaxTokens
}

// joinPrompt folds the system instruction into the user turn for backends
// that take a single message.
func joinPrompt(p Prompt) string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}
