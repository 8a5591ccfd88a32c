package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/docaskhq/docask/internal/agent"
	"github.com/docaskhq/docask/internal/ai"
	"github.com/docaskhq/docask/internal/config"
	"github.com/docaskhq/docask/internal/gateway"
	"github.com/docaskhq/docask/internal/knowledge"
	"github.com/docaskhq/docask/internal/trace"
	"github.com/docaskhq/docask/pkg/models"
)

// One-shot CLI: asks a single question against the configured corpus and
// provider, without going through the HTTP layer. Handy for smoke-testing
// a corpus.
func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("docask-ask", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	// Keep stdout for the answer; logs go to stderr.
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "usage: ask [flags] <question>")
		os.Exit(2)
	}

	ctx := context.Background()

	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{APIKey: cfg.APIKey, Model: cfg.Model, Provider: ai.ProviderOpenAI}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{APIKey: cfg.APIKey, Model: cfg.Model, ProjectID: cfg.ProjectID, Location: cfg.Location, Provider: ai.ProviderVertexAI}
	case "stub":
		clientConfig = &ai.ClientConfig{Model: cfg.Model, Provider: ai.ProviderStub}
	default:
		logger.Fatal().Str("provider", cfg.Provider).Msg("unsupported provider")
	}

	client, err := ai.NewClient(ctx, clientConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create AI client")
	}

	gw := gateway.New(client, &gateway.Config{
		MaxAttempts:        cfg.MaxAttempts,
		BaseDelay:          cfg.BackoffBase,
		MaxDelay:           cfg.BackoffMax,
		Timeout:            cfg.CallTimeout,
		InputPricePerMTok:  cfg.InputPricePerMTok,
		OutputPricePerMTok: cfg.OutputPricePerMTok,
	})

	kb := knowledge.NewStore(cfg.CorpusDir)

	var recorder trace.Recorder = trace.NopRecorder{}
	if cfg.Langfuse.Enabled {
		recorder = trace.NewHTTPRecorder(trace.Config{
			Host:      cfg.Langfuse.Host,
			PublicKey: cfg.Langfuse.PublicKey,
			SecretKey: cfg.Langfuse.SecretKey,
		})
	}

	svc := agent.New(gw, kb, recorder)
	if cfg.TopK > 0 {
		svc.TopK = cfg.TopK
	}

	res, err := svc.Ask(ctx, models.AskRequest{Question: question})
	if err != nil {
		logger.Fatal().Err(err).Msg("ask failed")
	}

	fmt.Println(res.Answer)
	fmt.Fprintf(os.Stderr, "\ntrace_id=%s latency_ms=%d tokens=%d cost_usd=%.6f chunks=%s\n",
		res.TraceID, res.LatencyMS, res.TokensUsed, res.CostUSD, strings.Join(res.KnowledgeChunks, ","))

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := recorder.Shutdown(flushCtx); err != nil {
		logger.Warn().Err(err).Msg("trace recorder did not flush cleanly")
	}
}
