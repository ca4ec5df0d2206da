// Package llm grades short answers through an external model provider.
// Failures are returned as *Error values and never panic past the package.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/pavelanni/examgrader/internal/llm/prompts"
	"github.com/pavelanni/examgrader/internal/metrics"
)

const (
	probeTimeout   = 10 * time.Second
	probeMaxTokens = 10
	probePrompt    = "Reply with OK."
)

// GradeRequest is one short answer to grade.
type GradeRequest struct {
	Question        string
	ReferenceAnswer string
	StudentAnswer   string
	MaxScore        int
}

// Client grades answers against the configured provider. The configuration
// gate runs once in New; its outcome is reported by Enabled and Status.
type Client struct {
	cfg      Config
	enabled  bool
	status   string
	provider Provider
	http     *http.Client
	limiter  *rate.Limiter
	prompts  *prompts.Set
	sleep    sleepFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for provider calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPrompts replaces the embedded prompt set.
func WithPrompts(set *prompts.Set) Option {
	return func(c *Client) { c.prompts = set }
}

// New creates a client. It never fails: a bad configuration yields a
// disabled client whose Status explains why.
func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	enabled, status := CheckConfig(cfg)
	c := &Client{
		cfg:     cfg,
		enabled: enabled,
		status:  status,
		http:    &http.Client{},
		sleep:   sleepContext,
	}
	c.provider, _ = lookupProvider(cfg.Provider)
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.prompts == nil {
		set, err := prompts.Default()
		if err != nil && c.enabled {
			c.enabled = false
			c.status = "prompt templates: " + err.Error()
		}
		c.prompts = set
	}
	if c.enabled {
		slog.Info("AI grading enabled", "provider", cfg.Provider, "model", cfg.Model, "variant", cfg.PromptVariant)
	} else {
		slog.Info("AI grading unavailable", "reason", c.status)
	}
	return c
}

// Enabled reports whether the configuration gate passed.
func (c *Client) Enabled() bool { return c.enabled }

// Status returns the configuration gate message.
func (c *Client) Status() string { return c.status }

// Provider returns the configured provider name.
func (c *Client) Provider() string { return c.cfg.Provider }

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Grade scores one short answer. On failure the error is an *Error.
func (c *Client) Grade(ctx context.Context, req GradeRequest) (Result, error) {
	if !c.enabled {
		return Result{}, newError(KindNotConfigured, c.status, nil)
	}
	if c.provider == nil {
		return Result{}, newError(KindUnsupportedProvider, "unsupported provider: "+c.cfg.Provider, nil)
	}

	system, user, err := c.prompts.Build(c.cfg.PromptVariant, prompts.GradeData{
		Question:        req.Question,
		ReferenceAnswer: req.ReferenceAnswer,
		MaxScore:        req.MaxScore,
		Answer:          req.StudentAnswer,
	})
	if err != nil {
		return Result{}, newError(KindNotConfigured, "build prompt: "+err.Error(), err)
	}

	start := time.Now()
	res, err := c.grade(ctx, Prompt{System: system, User: user}, req.MaxScore)
	outcome := "ok"
	var gerr *Error
	if errors.As(err, &gerr) {
		outcome = string(gerr.Kind)
	}
	metrics.ExternalDuration.WithLabelValues(c.provider.Name(), outcome).Observe(time.Since(start).Seconds())
	return res, err
}

func (c *Client) grade(ctx context.Context, p Prompt, maxScore int) (Result, error) {
	body, err := c.send(ctx, p, c.cfg.MaxRetries, c.cfg.Timeout)
	if err != nil {
		return Result{}, err
	}
	content, err := c.provider.ParseResponse(body)
	if err != nil {
		return Result{}, newError(KindParseFailure, "unexpected response format: "+err.Error(), err)
	}
	res := ParseGrade(content, maxScore)
	if res.Heuristic {
		slog.Warn("grading reply was not JSON, score recovered from text",
			"provider", c.provider.Name(), "score", res.Score)
	}
	return res, nil
}

// Probe sends one minimal request to check connectivity and credentials.
// Unlike the startup gate it reaches the network, without retries.
func (c *Client) Probe(ctx context.Context) (bool, string) {
	if !c.enabled {
		return false, c.status
	}
	_, err := c.send(ctx, Prompt{User: probePrompt, MaxTokens: probeMaxTokens}, 1, probeTimeout)
	if err == nil {
		return true, "connection test succeeded"
	}
	var gerr *Error
	if !errors.As(err, &gerr) {
		return false, "connection test failed: " + err.Error()
	}
	switch gerr.Kind {
	case KindHTTPError:
		switch gerr.Status {
		case http.StatusUnauthorized:
			return false, "API key is invalid or expired"
		case http.StatusForbidden:
			return false, "API key has no access to this model"
		case http.StatusTooManyRequests:
			return false, "API rate limit exceeded"
		}
		return false, fmt.Sprintf("connection failed (status %d)", gerr.Status)
	case KindTimeout:
		return false, "connection timed out"
	case KindConnectionFailed:
		return false, "cannot reach the API server"
	}
	return false, "connection test failed: " + gerr.Message
}
