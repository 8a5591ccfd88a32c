// Package gateway wraps a text-generation backend with retry, backoff and
// per-attempt timeouts, and normalizes successful calls into a Generation
// with derived cost.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docaskhq/docask/internal/ai"
	"github.com/docaskhq/docask/pkg/models"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultTimeout     = 30 * time.Second

	// Default per-million-token prices in USD; output generation is
	// priced higher than input.
	DefaultInputPricePerMTok  = 3.0
	DefaultOutputPricePerMTok = 15.0
)

// AgentError means the model backend is unavailable after exhausting
// retries (or failed fatally). Callers map it to retry-later semantics.
type AgentError struct {
	StatusCode int
	cause      error
}

func (e *AgentError) Error() string {
	if e.cause != nil {
		return "model backend unavailable: " + e.cause.Error()
	}
	return "model backend unavailable"
}

func (e *AgentError) Unwrap() error { return e.cause }

// Config tunes the retry loop and pricing. Zero values fall back to the
// package defaults.
type Config struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	Timeout            time.Duration
	InputPricePerMTok  float64
	OutputPricePerMTok float64
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = DefaultBaseDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = DefaultMaxDelay
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.InputPricePerMTok <= 0 {
		out.InputPricePerMTok = DefaultInputPricePerMTok
	}
	if out.OutputPricePerMTok <= 0 {
		out.OutputPricePerMTok = DefaultOutputPricePerMTok
	}
	return out
}

// Gateway is the retrying boundary in front of an ai.Client.
type Gateway struct {
	client ai.Client
	cfg    Config
	// sleep is swappable in tests so backoff does not slow the suite.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Gateway around the given backend client.
func New(client ai.Client, cfg *Config) *Gateway {
	return &Gateway{
		client: client,
		cfg:    cfg.withDefaults(),
		sleep:  sleepCtx,
	}
}

// Call performs one logical generation call, retrying transient failures
// with exponential backoff. On success the returned Generation carries the
// latency of the winning attempt and the derived cost. On permanent
// failure it returns an *AgentError preserving the last underlying error.
func (g *Gateway) Call(ctx context.Context, systemPrompt, userMessage, correlationID string) (*models.Generation, error) {
	var lastErr error

	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(g.cfg.BaseDelay, g.cfg.MaxDelay, attempt-1)
			log.Warn().
				Str("correlation_id", correlationID).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("retrying model call")
			if err := g.sleep(ctx, delay); err != nil {
				return nil, &AgentError{StatusCode: statusOf(lastErr), cause: lastErr}
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		start := time.Now()
		gen, err := g.client.Generate(attemptCtx, systemPrompt, userMessage)
		cancel()

		if err == nil {
			gen.LatencyMS = time.Since(start).Milliseconds()
			gen.CostUSD = g.cost(gen.Tokens)
			log.Debug().
				Str("correlation_id", correlationID).
				Str("model", gen.Model).
				Int("input_tokens", gen.Tokens.Input).
				Int("output_tokens", gen.Tokens.Output).
				Int64("latency_ms", gen.LatencyMS).
				Msg("model call succeeded")
			return gen, nil
		}

		lastErr = err
		if !retryable(err) {
			break
		}
	}

	return nil, &AgentError{StatusCode: statusOf(lastErr), cause: lastErr}
}

// cost derives the USD cost of a call from configured per-million-token
// rates, with distinct input and output pricing.
func (g *Gateway) cost(t models.TokenUsage) float64 {
	return float64(t.Input)*g.cfg.InputPricePerMTok/1e6 +
		float64(t.Output)*g.cfg.OutputPricePerMTok/1e6
}

// backoffDelay returns min(base * 2^(failed-1), max).
func backoffDelay(base, max time.Duration, failed int) time.Duration {
	d := base << (failed - 1)
	if d > max || d <= 0 {
		d = max
	}
	return d
}

// retryable reports whether an attempt failure is transient: rate limiting,
// request timeout, backend overload or any server-side fault.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		return code == 408 || code == 429 || code >= 500
	}
	return false
}

func statusOf(err error) int {
	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
