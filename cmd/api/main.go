package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/docaskhq/docask/internal/agent"
	"github.com/docaskhq/docask/internal/ai"
	"github.com/docaskhq/docask/internal/auth"
	"github.com/docaskhq/docask/internal/config"
	"github.com/docaskhq/docask/internal/gateway"
	"github.com/docaskhq/docask/internal/knowledge"
	"github.com/docaskhq/docask/internal/trace"
	"github.com/docaskhq/docask/pkg/models"
)

const (
	maxQuestionLen = 2000
	maxBodyBytes   = 1 << 20
)

type stats struct {
	Requests   atomic.Int64
	Answered   atomic.Int64
	Failed     atomic.Int64
	TokensUsed atomic.Int64
}

type errorResponse struct {
	Error string `json:"error"`
	Retry bool   `json:"retry,omitempty"`
}

func main() {
	// Local development convenience; a missing .env is fine
	_ = godotenv.Load()

	// Create flagset for configuration
	fs := pflag.NewFlagSet("docask-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting docask api")

	ctx := context.Background()

	client, err := newAIClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create AI client")
	}
	logger.Info().Str("model", client.Model()).Msg("AI client initialized")

	gw := gateway.New(client, &gateway.Config{
		MaxAttempts:        cfg.MaxAttempts,
		BaseDelay:          cfg.BackoffBase,
		MaxDelay:           cfg.BackoffMax,
		Timeout:            cfg.CallTimeout,
		InputPricePerMTok:  cfg.InputPricePerMTok,
		OutputPricePerMTok: cfg.OutputPricePerMTok,
	})

	kb := knowledge.NewStore(cfg.CorpusDir)
	if chunks, err := kb.Load(); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.CorpusDir).Msg("failed to load knowledge corpus")
	} else {
		logger.Info().Int("chunks", len(chunks)).Str("dir", cfg.CorpusDir).Msg("knowledge corpus ready")
	}

	var recorder trace.Recorder = trace.NopRecorder{}
	if cfg.Langfuse.Enabled {
		recorder = trace.NewHTTPRecorder(trace.Config{
			Host:      cfg.Langfuse.Host,
			PublicKey: cfg.Langfuse.PublicKey,
			SecretKey: cfg.Langfuse.SecretKey,
		})
		logger.Info().Str("host", cfg.Langfuse.Host).Msg("trace recorder enabled")
	}

	svc := agent.New(gw, kb, recorder)
	if cfg.TopK > 0 {
		svc.TopK = cfg.TopK
	}
	gate := auth.NewGate(cfg.Auth.Enabled, cfg.Auth.APIKey)
	var counters stats

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]int64{
			"requests":    counters.Requests.Load(),
			"answered":    counters.Answered.Load(),
			"failed":      counters.Failed.Load(),
			"tokens_used": counters.TokensUsed.Load(),
		})
		if err != nil {
			http.Error(w, "Failed to encode response", 500)
		}
	})

	mux.HandleFunc("/ask", gate.Middleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		counters.Requests.Add(1)

		var req models.AskRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
		req.Question = strings.TrimSpace(req.Question)
		if req.Question == "" || len(req.Question) > maxQuestionLen {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("question must be 1-%d characters", maxQuestionLen)})
			return
		}

		res, err := svc.Ask(r.Context(), req)
		if err != nil {
			counters.Failed.Add(1)
			var agentErr *gateway.AgentError
			if errors.As(err, &agentErr) {
				hlog.FromRequest(r).Warn().Err(err).Msg("agent unavailable")
				writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "agent unavailable, please retry later", Retry: true})
				return
			}
			hlog.FromRequest(r).Error().Err(err).Msg("ask failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		counters.Answered.Add(1)
		counters.TokensUsed.Add(int64(res.TokensUsed))
		writeJSON(w, http.StatusOK, res)
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.Addr).Msg("api server listening")
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("server failed")
	case <-sigCtx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := recorder.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("trace recorder did not flush cleanly")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// newAIClient maps the configured provider name onto a backend client.
func newAIClient(ctx context.Context, cfg config.Specification) (ai.Client, error) {
	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Provider: ai.ProviderOpenAI,
		}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			ProjectID: cfg.ProjectID,
			Location:  cfg.Location,
			Provider:  ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Model:    cfg.Model,
			Provider: ai.ProviderStub,
		}
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return ai.NewClient(ctx, clientConfig)
}
