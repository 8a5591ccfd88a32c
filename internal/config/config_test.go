package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// withCleanArgs keeps fs.Parse from choking on the go test flags.
func withCleanArgs(t *testing.T) {
	t.Helper()
	old := os.Args
	os.Args = []string{"docask-test"}
	t.Cleanup(func() { os.Args = old })
}

func clearTestEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, envPrefix+"_") {
			key := strings.SplitN(kv, "=", 2)[0]
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

func TestSpecificationDefaults(t *testing.T) {
	withCleanArgs(t)
	clearTestEnv(t)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

	cfg, err := Load("", fs)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Provider != "stub" {
		t.Errorf("Expected Provider %q, got %q", "stub", cfg.Provider)
	}
	if cfg.CorpusDir != "./docs" {
		t.Errorf("Expected CorpusDir %q, got %q", "./docs", cfg.CorpusDir)
	}
	if cfg.TopK != 3 {
		t.Errorf("Expected TopK 3, got %d", cfg.TopK)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts 3, got %d", cfg.MaxAttempts)
	}
	if cfg.BackoffBase != 1*time.Second {
		t.Errorf("Expected BackoffBase 1s, got %v", cfg.BackoffBase)
	}
	if cfg.BackoffMax != 10*time.Second {
		t.Errorf("Expected BackoffMax 10s, got %v", cfg.BackoffMax)
	}
	if cfg.InputPricePerMTok != 3.0 {
		t.Errorf("Expected InputPricePerMTok 3.0, got %v", cfg.InputPricePerMTok)
	}
	if cfg.OutputPricePerMTok != 15.0 {
		t.Errorf("Expected OutputPricePerMTok 15.0, got %v", cfg.OutputPricePerMTok)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LogLevel %q, got %q", "info", cfg.LogLevel)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected Port 8080, got %d", cfg.Port)
	}
	if cfg.Langfuse.Enabled {
		t.Error("Expected Langfuse disabled by default")
	}
	if cfg.Auth.Enabled {
		t.Error("Expected Auth disabled by default")
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	withCleanArgs(t)
	clearTestEnv(t)

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "test-config.yaml")

	yamlContent := `
provider: "openai"
providerApiKey: "test-api-key"
providerModel: "gpt-4o"
corpusDir: "/srv/docs"
topK: 5
maxAttempts: 4
callTimeout: 45s
backoffBase: 500ms
backoffMax: 8s
inputPricePerMTok: 2.5
outputPricePerMTok: 10.0
logLevel: "debug"
port: 9090
langfuse:
  enabled: true
  host: "https://langfuse.example.com"
  publicKey: "pk-test"
  secretKey: "sk-test"
auth:
  enabled: true
  apiKey: "client-key"
`
	if err := os.WriteFile(configFile, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := Load(configFile, fs)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Provider != "openai" {
		t.Errorf("Expected Provider %q, got %q", "openai", cfg.Provider)
	}
	if cfg.APIKey != "test-api-key" {
		t.Errorf("Expected APIKey %q, got %q", "test-api-key", cfg.APIKey)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("Expected Model %q, got %q", "gpt-4o", cfg.Model)
	}
	if cfg.CorpusDir != "/srv/docs" {
		t.Errorf("Expected CorpusDir %q, got %q", "/srv/docs", cfg.CorpusDir)
	}
	if cfg.TopK != 5 {
		t.Errorf("Expected TopK 5, got %d", cfg.TopK)
	}
	if cfg.CallTimeout != 45*time.Second {
		t.Errorf("Expected CallTimeout 45s, got %v", cfg.CallTimeout)
	}
	if cfg.BackoffBase != 500*time.Millisecond {
		t.Errorf("Expected BackoffBase 500ms, got %v", cfg.BackoffBase)
	}
	if !cfg.Langfuse.Enabled || cfg.Langfuse.PublicKey != "pk-test" || cfg.Langfuse.SecretKey != "sk-test" {
		t.Errorf("Langfuse section not loaded: %+v", cfg.Langfuse)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "client-key" {
		t.Errorf("Auth section not loaded: %+v", cfg.Auth)
	}
	if cfg.Port != 9090 {
		t.Errorf("Expected Port 9090, got %d", cfg.Port)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	withCleanArgs(t)
	clearTestEnv(t)

	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "test-config.yaml")
	if err := os.WriteFile(configFile, []byte("corpusDir: /from/file\nprovider: stub\n"), 0o644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	t.Setenv(envPrefix+"_CORPUS_DIR", "/from/env")
	t.Setenv(envPrefix+"_TOP_K", "7")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := Load(configFile, fs)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CorpusDir != "/from/env" {
		t.Errorf("Expected env to override file, got %q", cfg.CorpusDir)
	}
	if cfg.TopK != 7 {
		t.Errorf("Expected TopK 7 from env, got %d", cfg.TopK)
	}
}

func TestFlagsOverrideEverything(t *testing.T) {
	withCleanArgs(t)
	clearTestEnv(t)
	os.Args = []string{"docask-test", "--corpus-dir=/from/flag", "--port=9999"}

	t.Setenv(envPrefix+"_CORPUS_DIR", "/from/env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := Load("", fs)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.CorpusDir != "/from/flag" {
		t.Errorf("Expected flag to win, got %q", cfg.CorpusDir)
	}
	if cfg.Port != 9999 {
		t.Errorf("Expected Port 9999 from flag, got %d", cfg.Port)
	}
}

func TestLangfuseEnabledRequiresKeys(t *testing.T) {
	withCleanArgs(t)
	clearTestEnv(t)
	os.Args = []string{"docask-test", "--langfuse-enabled"}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if _, err := Load("", fs); err == nil {
		t.Fatal("Expected error when langfuse enabled without keys")
	}
}

func TestAuthEnabledRequiresKey(t *testing.T) {
	withCleanArgs(t)
	clearTestEnv(t)
	os.Args = []string{"docask-test", "--auth-enabled"}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if _, err := Load("", fs); err == nil {
		t.Fatal("Expected error when auth enabled without an API key")
	}
}

func TestMissingConfigFileFails(t *testing.T) {
	withCleanArgs(t)
	clearTestEnv(t)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if _, err := Load("/nonexistent/config.yaml", fs); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}
