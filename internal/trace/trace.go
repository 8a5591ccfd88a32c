// Package trace records completed question/answer interactions to an
// observability backend. Recording is best-effort and asynchronous: the
// caller is never blocked and never sees a tracing failure.
package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/docaskhq/docask/pkg/models"
)

// Trace is one completed interaction, as handed over by the orchestrator.
type Trace struct {
	TraceID         string
	SessionID       string
	Input           string
	Output          string
	Model           string
	SystemPrompt    string
	Tokens          models.TokenUsage
	CostUSD         float64
	LatencyMS       int64
	KnowledgeChunks []string
}

// Recorder accepts interaction records. Record must not block and must
// not surface failures; Shutdown flushes buffered records with a bounded
// wait.
type Recorder interface {
	Record(t Trace)
	Shutdown(ctx context.Context) error
}

// NopRecorder drops every record. Used when tracing is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(Trace) {}

func (NopRecorder) Shutdown(context.Context) error { return nil }

const (
	DefaultHost = "https://cloud.langfuse.com"

	bufferSize = 256
	maxBatch   = 20
)

// Config holds the ingestion endpoint credentials.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
}

// HTTPRecorder ships traces to a Langfuse-compatible ingestion endpoint
// from a background worker. Records are buffered on a channel; when the
// buffer is full new records are dropped, never queued synchronously.
type HTTPRecorder struct {
	host      string
	publicKey string
	secretKey string
	http      *http.Client

	ch        chan Trace
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

// NewHTTPRecorder creates a recorder and starts its delivery worker.
func NewHTTPRecorder(cfg Config) *HTTPRecorder {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	r := &HTTPRecorder{
		host:      host,
		publicKey: cfg.PublicKey,
		secretKey: cfg.SecretKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		ch:        make(chan Trace, bufferSize),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues a trace for delivery. It never blocks and never
// panics: when the buffer is full, or the recorder has been shut down,
// the record is dropped and logged.
func (r *HTTPRecorder) Record(t Trace) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		log.Warn().Str("trace_id", t.TraceID).Msg("recorder shut down, dropping record")
		return
	}
	select {
	case r.ch <- t:
	default:
		log.Warn().Str("trace_id", t.TraceID).Msg("trace buffer full, dropping record")
	}
}

// Shutdown stops accepting records and waits for the worker to drain the
// buffer, bounded by ctx.
func (r *HTTPRecorder) Shutdown(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.ch)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("trace flush interrupted: %w", ctx.Err())
	}
}

func (r *HTTPRecorder) run() {
	defer close(r.done)
	for t := range r.ch {
		batch := []Trace{t}
	drain:
		for len(batch) < maxBatch {
			select {
			case next, ok := <-r.ch:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		if err := r.send(batch); err != nil {
			log.Warn().Err(err).Int("batch", len(batch)).Msg("trace delivery failed")
		}
	}
}

// ingestion wire format

type ingestionEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Body      any    `json:"body"`
}

type ingestionBatch struct {
	Batch []ingestionEvent `json:"batch"`
}

type traceBody struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId,omitempty"`
	Input     string         `json:"input"`
	Output    string         `json:"output"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type generationBody struct {
	ID       string         `json:"id"`
	TraceID  string         `json:"traceId"`
	Model    string         `json:"model"`
	Input    []genMessage   `json:"input"`
	Output   string         `json:"output"`
	Usage    genUsage       `json:"usage"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type genMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type genUsage struct {
	Input  int    `json:"input"`
	Output int    `json:"output"`
	Unit   string `json:"unit"`
}

func (r *HTTPRecorder) send(batch []Trace) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	events := make([]ingestionEvent, 0, len(batch)*2)
	for _, t := range batch {
		events = append(events, ingestionEvent{
			ID:        uuid.NewString(),
			Type:      "trace-create",
			Timestamp: now,
			Body: traceBody{
				ID:        t.TraceID,
				SessionID: t.SessionID,
				Input:     t.Input,
				Output:    t.Output,
				Metadata: map[string]any{
					"knowledge_chunks": t.KnowledgeChunks,
					"latency_ms":       t.LatencyMS,
					"cost_usd":         t.CostUSD,
				},
			},
		})
		events = append(events, ingestionEvent{
			ID:        uuid.NewString(),
			Type:      "generation-create",
			Timestamp: now,
			Body: generationBody{
				ID:      uuid.NewString(),
				TraceID: t.TraceID,
				Model:   t.Model,
				Input: []genMessage{
					{Role: "system", Content: t.SystemPrompt},
					{Role: "user", Content: t.Input},
				},
				Output: t.Output,
				Usage:  genUsage{Input: t.Tokens.Input, Output: t.Tokens.Output, Unit: "TOKENS"},
				Metadata: map[string]any{
					"latency_ms": t.LatencyMS,
					"cost_usd":   t.CostUSD,
				},
			},
		})
	}

	payload, err := json.Marshal(ingestionBatch{Batch: events})
	if err != nil {
		return fmt.Errorf("encode ingestion batch: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, r.host+"/api/public/ingestion", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.publicKey, r.secretKey)

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close ingestion response body")
		}
	}()

	// 207 means partial success; individual failures are not worth
	// retrying for best-effort tracing.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ingestion endpoint returned %s", resp.Status)
	}
	return nil
}
