package models

// Chunk is one addressable excerpt of the knowledge corpus. Chunks are
// created once at corpus load time and are immutable afterwards.
type Chunk struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// ScoredChunk pairs a chunk with its relevance to one query. It only
// exists transiently inside a request.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// TokenUsage holds the token counts reported by the model backend.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Generation is the normalized outcome of one successful model call.
type Generation struct {
	Text      string     `json:"text"`
	Model     string     `json:"model"`
	Tokens    TokenUsage `json:"tokens"`
	CostUSD   float64    `json:"cost_usd"`
	LatencyMS int64      `json:"latency_ms"`
}

// AskRequest is the orchestrator's input contract.
type AskRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// AgentResult is the orchestrator's output contract, returned to the HTTP
// layer and mirrored into the trace record.
type AgentResult struct {
	Answer          string   `json:"answer"`
	TraceID         string   `json:"trace_id"`
	LatencyMS       int64    `json:"latency_ms"`
	TokensUsed      int      `json:"tokens_used"`
	CostUSD         float64  `json:"cost_usd"`
	KnowledgeChunks []string `json:"knowledge_chunks"`
}
