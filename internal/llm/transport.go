package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pavelanni/examgrader/internal/metrics"
)

const (
	maxResponseBytes = 1 << 20
	maxErrorSnippet  = 300
)

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the wait after the given zero-based failed attempt:
// 1s, 2s, 4s, ...
func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// send posts the prompt up to attempts times, each bounded by timeout.
// Transport failures and non-2xx replies are retried.
func (c *Client) send(ctx context.Context, p Prompt, attempts int, timeout time.Duration) ([]byte, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr *Error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff(attempt-1)); err != nil {
				return nil, newError(KindTimeout, "cancelled while waiting to retry", err)
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, newError(KindTimeout, "cancelled while waiting for rate limiter", err)
			}
		}

		body, err := c.do(ctx, p, timeout)
		if err == nil {
			metrics.ExternalAttempts.WithLabelValues(c.provider.Name(), "ok").Inc()
			return body, nil
		}
		lastErr = err
		metrics.ExternalAttempts.WithLabelValues(c.provider.Name(), string(err.Kind)).Inc()
		slog.Warn("external grading attempt failed",
			"provider", c.provider.Name(),
			"attempt", attempt+1,
			"max_attempts", attempts,
			"error", err)
		if err.Kind == KindNotConfigured {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, p Prompt, timeout time.Duration) ([]byte, *Error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.provider.BuildRequest(ctx, c.cfg, p)
	if err != nil {
		return nil, newError(KindNotConfigured, "build request: "+err.Error(), err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := newError(KindHTTPError, snippet(body), nil)
		e.Status = resp.StatusCode
		return nil, e
	}
	return body, nil
}

func transportError(err error) *Error {
	if isTimeout(err) {
		return newError(KindTimeout, "request timed out", err)
	}
	return newError(KindConnectionFailed, "cannot reach provider: "+err.Error(), err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "empty response body"
	}
	if r := []rune(s); len(r) > maxErrorSnippet {
		s = string(r[:maxErrorSnippet]) + "..."
	}
	return s
}
