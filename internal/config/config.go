package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	Model     string `yaml:"providerModel" envconfig:"PROVIDER_MODEL"`
	ProjectID string `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location  string `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`

	CorpusDir string `yaml:"corpusDir" split_words:"true"`
	TopK      int    `yaml:"topK" envconfig:"TOP_K"`

	MaxAttempts int           `yaml:"maxAttempts" split_words:"true"`
	CallTimeout time.Duration `yaml:"callTimeout" split_words:"true"`
	BackoffBase time.Duration `yaml:"backoffBase" split_words:"true"`
	BackoffMax  time.Duration `yaml:"backoffMax" split_words:"true"`

	// USD per million tokens, input and output priced separately.
	InputPricePerMTok  float64 `yaml:"inputPricePerMTok" envconfig:"INPUT_PRICE_PER_MTOK"`
	OutputPricePerMTok float64 `yaml:"outputPricePerMTok" envconfig:"OUTPUT_PRICE_PER_MTOK"`

	Langfuse LangfuseSpecification `yaml:"langfuse"`
	Auth     AuthSpecification     `yaml:"auth"`

	LogLevel string `yaml:"logLevel" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

type LangfuseSpecification struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	PublicKey string `yaml:"publicKey" split_words:"true"`
	SecretKey string `yaml:"secretKey" split_words:"true"`
}

type AuthSpecification struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey" split_words:"true"`
}

const envPrefix = "DOCASK"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/docask.yaml",
				"config/config.yaml",
				"./docask.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	// Minimal sanity
	if strings.TrimSpace(cfg.CorpusDir) == "" {
		return Specification{}, fmt.Errorf("DOCASK_CORPUS_DIR is required (env/file/flag)")
	}
	if cfg.Langfuse.Enabled && (cfg.Langfuse.PublicKey == "" || cfg.Langfuse.SecretKey == "") {
		return Specification{}, fmt.Errorf("langfuse enabled but public/secret key missing")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.APIKey) == "" {
		return Specification{}, fmt.Errorf("auth enabled but DOCASK_AUTH_API_KEY is empty")
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Provider (e.g., stub, openai, vertexai)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-model", c.Model, "Provider generation model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")

	fs.String("corpus-dir", c.CorpusDir, "Directory holding the knowledge corpus")
	fs.Int("top-k", c.TopK, "How many chunks to ground each answer on")

	fs.Int("max-attempts", c.MaxAttempts, "Max model call attempts per request")
	fs.Duration("call-timeout", c.CallTimeout, "Timeout per model call attempt")
	fs.Duration("backoff-base", c.BackoffBase, "Base delay for retry backoff")
	fs.Duration("backoff-max", c.BackoffMax, "Cap for retry backoff delay")

	fs.Float64("input-price-per-mtok", c.InputPricePerMTok, "USD per million input tokens")
	fs.Float64("output-price-per-mtok", c.OutputPricePerMTok, "USD per million output tokens")

	fs.Bool("langfuse-enabled", c.Langfuse.Enabled, "Enable trace delivery to Langfuse")
	fs.String("langfuse-host", c.Langfuse.Host, "Langfuse host")
	fs.String("langfuse-public-key", c.Langfuse.PublicKey, "Langfuse public key")
	fs.String("langfuse-secret-key", c.Langfuse.SecretKey, "Langfuse secret key")

	fs.Bool("auth-enabled", c.Auth.Enabled, "Require an API key on /ask")
	fs.String("auth-api-key", c.Auth.APIKey, "Static API key clients must present")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64) {
		if fs.Changed(name) {
			v, _ := fs.GetFloat64(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-model", &c.Model)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)

	setStr("corpus-dir", &c.CorpusDir)
	setInt("top-k", &c.TopK)

	setInt("max-attempts", &c.MaxAttempts)
	setDur("call-timeout", &c.CallTimeout)
	setDur("backoff-base", &c.BackoffBase)
	setDur("backoff-max", &c.BackoffMax)

	setFloat("input-price-per-mtok", &c.InputPricePerMTok)
	setFloat("output-price-per-mtok", &c.OutputPricePerMTok)

	setBool("langfuse-enabled", &c.Langfuse.Enabled)
	setStr("langfuse-host", &c.Langfuse.Host)
	setStr("langfuse-public-key", &c.Langfuse.PublicKey)
	setStr("langfuse-secret-key", &c.Langfuse.SecretKey)

	setBool("auth-enabled", &c.Auth.Enabled)
	setStr("auth-api-key", &c.Auth.APIKey)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)
}

func setDefaults(c *Specification) {
	c.Provider = "stub"
	c.CorpusDir = "./docs"
	c.TopK = 3
	c.MaxAttempts = 3
	c.CallTimeout = 30 * time.Second
	c.BackoffBase = 1 * time.Second
	c.BackoffMax = 10 * time.Second
	c.InputPricePerMTok = 3.0
	c.OutputPricePerMTok = 15.0
	c.Langfuse.Host = "https://cloud.langfuse.com"
	c.LogLevel = "info"
	c.Port = 8080
}
