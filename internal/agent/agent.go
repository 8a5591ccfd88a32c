// Package agent coordinates one question end to end: retrieve grounding
// chunks, compose the prompt, call the model gateway and hand the
// completed interaction to the trace recorder.
package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/docaskhq/docask/internal/knowledge"
	"github.com/docaskhq/docask/internal/trace"
	"github.com/docaskhq/docask/pkg/models"
)

// ModelCaller is the retrying model-call boundary the agent depends on.
type ModelCaller interface {
	Call(ctx context.Context, systemPrompt, userMessage, correlationID string) (*models.Generation, error)
}

// Retriever ranks knowledge chunks against a query.
type Retriever interface {
	FindRelevant(query string, topK int) ([]models.ScoredChunk, error)
}

// Agent is a per-request coordinator; it owns no persistent state.
type Agent struct {
	Gateway   ModelCaller
	Knowledge Retriever
	Recorder  trace.Recorder
	TopK      int
}

// New creates an agent over the given collaborators.
func New(gw ModelCaller, kb Retriever, rec trace.Recorder) *Agent {
	if rec == nil {
		rec = trace.NopRecorder{}
	}
	return &Agent{Gateway: gw, Knowledge: kb, Recorder: rec, TopK: knowledge.DefaultTopK}
}

// Ask answers one question. A gateway failure propagates unchanged (an
// *gateway.AgentError after exhausted retries); the trace record is
// fire-and-forget and never delays or fails the response.
func (a *Agent) Ask(ctx context.Context, req models.AskRequest) (*models.AgentResult, error) {
	traceID := uuid.NewString()
	start := time.Now()

	scored, err := a.Knowledge.FindRelevant(req.Question, a.TopK)
	if err != nil {
		return nil, err
	}

	systemPrompt := buildSystemPrompt(scored)

	gen, err := a.Gateway.Call(ctx, systemPrompt, req.Question, traceID)
	if err != nil {
		return nil, err
	}

	chunkIDs := make([]string, 0, len(scored))
	for _, sc := range scored {
		chunkIDs = append(chunkIDs, sc.Chunk.ID)
	}

	result := &models.AgentResult{
		Answer:          gen.Text,
		TraceID:         traceID,
		LatencyMS:       time.Since(start).Milliseconds(),
		TokensUsed:      gen.Tokens.Input + gen.Tokens.Output,
		CostUSD:         gen.CostUSD,
		KnowledgeChunks: chunkIDs,
	}

	a.Recorder.Record(trace.Trace{
		TraceID:         traceID,
		SessionID:       req.SessionID,
		Input:           req.Question,
		Output:          gen.Text,
		Model:           gen.Model,
		SystemPrompt:    systemPrompt,
		Tokens:          gen.Tokens,
		CostUSD:         gen.CostUSD,
		LatencyMS:       result.LatencyMS,
		KnowledgeChunks: chunkIDs,
	})

	log.Info().
		Str("trace_id", traceID).
		Str("model", gen.Model).
		Int("chunks", len(chunkIDs)).
		Int("tokens", result.TokensUsed).
		Int64("latency_ms", result.LatencyMS).
		Msg("question answered")

	return result, nil
}

const persona = `You are docask, a support assistant that answers questions about this product from its documentation.

Rules:
- Answer using only the context sections below.
- If the context does not contain the answer, say so plainly; never invent facts.
- Keep the answer short and to the point.
- Name the context section the answer came from.
- Reply in the language of the question when it is not English.`

const chunkSeparator = "\n\n---\n\n"

// buildSystemPrompt appends the retrieved chunks to the fixed persona,
// joined by a visible separator so the model can cite sections.
func buildSystemPrompt(scored []models.ScoredChunk) string {
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\nContext sections:\n\n")

	if len(scored) == 0 {
		sb.WriteString("(no relevant documentation found)")
		return sb.String()
	}

	for i, sc := range scored {
		if i > 0 {
			sb.WriteString(chunkSeparator)
		}
		sb.WriteString(sc.Chunk.Content)
	}
	return sb.String()
}
