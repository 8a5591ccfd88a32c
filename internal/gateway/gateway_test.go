package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docaskhq/docask/internal/ai"
	"github.com/docaskhq/docask/pkg/models"
)

// scriptedClient returns the queued errors in order, then succeeds.
type scriptedClient struct {
	failures []error
	result   models.Generation
	calls    int
}

func (c *scriptedClient) Generate(ctx context.Context, systemPrompt, userMessage string) (*models.Generation, error) {
	c.calls++
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return nil, err
	}
	out := c.result
	return &out, nil
}

func (c *scriptedClient) Model() string { return "test-model" }

// newTestGateway swaps the backoff sleep for a recorder so tests run
// instantly while still observing the computed delays.
func newTestGateway(client ai.Client, cfg *Config) (*Gateway, *[]time.Duration) {
	g := New(client, cfg)
	delays := &[]time.Duration{}
	g.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return g, delays
}

func TestCallSucceedsFirstAttempt(t *testing.T) {
	client := &scriptedClient{result: models.Generation{
		Text:   "hello",
		Model:  "test-model-2024",
		Tokens: models.TokenUsage{Input: 100, Output: 50},
	}}
	g, delays := newTestGateway(client, nil)

	gen, err := g.Call(context.Background(), "sys", "user", "corr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, *delays)
	assert.Equal(t, "hello", gen.Text)
	assert.Equal(t, "test-model-2024", gen.Model)
	assert.GreaterOrEqual(t, gen.LatencyMS, int64(0))
}

func TestCallRetriesTransientFailures(t *testing.T) {
	client := &scriptedClient{
		failures: []error{
			&ai.APIError{StatusCode: 429, Message: "rate limited"},
			&ai.APIError{StatusCode: 503, Message: "overloaded"},
		},
		result: models.Generation{Text: "ok", Tokens: models.TokenUsage{Input: 10, Output: 5}},
	}
	g, delays := newTestGateway(client, nil)

	gen, err := g.Call(context.Background(), "sys", "user", "corr-2")
	require.NoError(t, err)
	assert.Equal(t, "ok", gen.Text)
	assert.Equal(t, 3, client.calls)

	// Exponential backoff: each wait doubles the previous one.
	require.Len(t, *delays, 2)
	assert.Equal(t, 1*time.Second, (*delays)[0])
	assert.Equal(t, 2*time.Second, (*delays)[1])
}

func TestCallFailsFastOnNonRetryableError(t *testing.T) {
	cause := &ai.APIError{StatusCode: 401, Message: "bad key"}
	client := &scriptedClient{failures: []error{cause, cause, cause}}
	g, delays := newTestGateway(client, nil)

	_, err := g.Call(context.Background(), "sys", "user", "corr-3")
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, *delays)

	var agentErr *AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, 401, agentErr.StatusCode)
	// The original failure is preserved as the cause.
	assert.ErrorIs(t, err, cause)
}

func TestCallExhaustsAttempts(t *testing.T) {
	client := &scriptedClient{failures: []error{
		&ai.APIError{StatusCode: 500},
		&ai.APIError{StatusCode: 500},
		&ai.APIError{StatusCode: 500},
		&ai.APIError{StatusCode: 500},
	}}
	g, delays := newTestGateway(client, &Config{MaxAttempts: 3})

	_, err := g.Call(context.Background(), "sys", "user", "corr-4")
	require.Error(t, err)
	assert.Equal(t, 3, client.calls)
	assert.Len(t, *delays, 2)

	var agentErr *AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, 500, agentErr.StatusCode)
}

func TestTimeoutIsRetryable(t *testing.T) {
	client := &scriptedClient{
		failures: []error{context.DeadlineExceeded},
		result:   models.Generation{Text: "eventually"},
	}
	g, _ := newTestGateway(client, nil)

	gen, err := g.Call(context.Background(), "sys", "user", "corr-5")
	require.NoError(t, err)
	assert.Equal(t, "eventually", gen.Text)
	assert.Equal(t, 2, client.calls)
}

func TestCostIsLinearAndExact(t *testing.T) {
	client := &scriptedClient{result: models.Generation{
		Text:   "x",
		Tokens: models.TokenUsage{Input: 1_000_000, Output: 1_000_000},
	}}
	g, _ := newTestGateway(client, &Config{
		InputPricePerMTok:  3.0,
		OutputPricePerMTok: 15.0,
	})

	gen, err := g.Call(context.Background(), "sys", "user", "corr-6")
	require.NoError(t, err)
	assert.InDelta(t, 18.0, gen.CostUSD, 1e-9)
}

func TestBackoffDelayIsCapped(t *testing.T) {
	base := 1 * time.Second
	max := 10 * time.Second
	assert.Equal(t, 1*time.Second, backoffDelay(base, max, 1))
	assert.Equal(t, 2*time.Second, backoffDelay(base, max, 2))
	assert.Equal(t, 4*time.Second, backoffDelay(base, max, 3))
	assert.Equal(t, 8*time.Second, backoffDelay(base, max, 4))
	assert.Equal(t, 10*time.Second, backoffDelay(base, max, 5))
	assert.Equal(t, 10*time.Second, backoffDelay(base, max, 40))
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, retryable(&ai.APIError{StatusCode: 429}))
	assert.True(t, retryable(&ai.APIError{StatusCode: 408}))
	assert.True(t, retryable(&ai.APIError{StatusCode: 500}))
	assert.True(t, retryable(&ai.APIError{StatusCode: 503}))
	assert.True(t, retryable(context.DeadlineExceeded))

	assert.False(t, retryable(&ai.APIError{StatusCode: 400}))
	assert.False(t, retryable(&ai.APIError{StatusCode: 401}))
	assert.False(t, retryable(&ai.APIError{StatusCode: 404}))
	assert.False(t, retryable(errors.New("something else")))
}

func TestBackoffInterruptedByCancellation(t *testing.T) {
	client := &scriptedClient{failures: []error{
		&ai.APIError{StatusCode: 503},
		&ai.APIError{StatusCode: 503},
	}}
	g := New(client, &Config{BaseDelay: time.Hour, MaxDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Call(ctx, "sys", "user", "corr-7")
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)

	var agentErr *AgentError
	assert.ErrorAs(t, err, &agentErr)
}
