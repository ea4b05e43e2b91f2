package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	ManifestBackendFile     = "file"
	ManifestBackendPostgres = "postgres"

	VectorBackendWeaviate = "weaviate"
	VectorBackendPGVector = "pgvector"

	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

type Config struct {
	// Documents
	SourceDocsDir   string `envconfig:"SOURCE_DOCS_DIR" default:"./source_docs"`
	ManifestPath    string `envconfig:"MANIFEST_PATH" default:"./manifest.json"`
	ManifestBackend string `envconfig:"MANIFEST_BACKEND" default:"file"`
	VectorBackend   string `envconfig:"VECTOR_BACKEND" default:"weaviate"`

	// Models
	EmbedderProvider    string `envconfig:"EMBEDDER_PROVIDER" default:"ollama"`
	SynthesizerProvider string `envconfig:"SYNTHESIZER_PROVIDER" default:"ollama"`
	OllamaURL           string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaEmbedModel    string `envconfig:"OLLAMA_EMBED_MODEL" default:"nomic-embed-text"`
	OllamaLLMModel      string `envconfig:"OLLAMA_LLM_MODEL" default:"mistral"`
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbedModel    string `envconfig:"GEMINI_EMBED_MODEL" default:"gemini-embedding-001"`
	GeminiLLMModel      string `envconfig:"GEMINI_LLM_MODEL" default:"gemini-1.5-flash"`
	RerankProvider      string `envconfig:"RERANK_PROVIDER" default:"none"`
	RerankAPIKey        string `envconfig:"RERANK_API_KEY"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	DBEnabled     bool   `envconfig:"DB_ENABLED" default:"false"`
	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"incredoc"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"incredoc"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	NSQEnabled bool   `envconfig:"NSQ_ENABLED" default:"false"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	WatchSourceDir bool `envconfig:"WATCH_SOURCE_DIR" default:"false"`
	AutoVectorize  bool `envconfig:"AUTO_VECTORIZE" default:"false"`

	// Server
	ServerPort       int           `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath     string        `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat        string        `envconfig:"LOG_FORMAT" default:"json"`
	IntakeTimeout    time.Duration `envconfig:"INTAKE_TIMEOUT" default:"30s"`
	VectorizeTimeout time.Duration `envconfig:"VECTORIZE_TIMEOUT" default:"30m"`
	QueryTimeout     time.Duration `envconfig:"QUERY_TIMEOUT" default:"2m"`

	// Router
	RouterPort    int           `envconfig:"ROUTER_PORT" default:"4000"`
	RouteResource string        `envconfig:"ROUTE_RESOURCE" default:"http://localhost:6001"`
	RouteTool     string        `envconfig:"ROUTE_TOOL" default:"http://localhost:6002"`
	RoutePrompt   string        `envconfig:"ROUTE_PROMPT" default:"http://localhost:6003"`
	RouterTimeout time.Duration `envconfig:"ROUTER_TIMEOUT" default:"20s"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// NeedsDB reports whether any selected backend lives in Postgres.
func (c *Config) NeedsDB() bool {
	return c.ManifestBackend == ManifestBackendPostgres || c.VectorBackend == VectorBackendPGVector
}

// Routes maps capability classes to upstream base URLs for the router.
func (c *Config) Routes() map[string]string {
	return map[string]string{
		"resource": c.RouteResource,
		"tool":     c.RouteTool,
		"prompt":   c.RoutePrompt,
	}
}

func (c *Config) Validate() error {
	if c.SourceDocsDir == "" {
		return fmt.Errorf("%w: SOURCE_DOCS_DIR", ErrMissingRequired)
	}

	switch c.ManifestBackend {
	case ManifestBackendFile:
		if c.ManifestPath == "" {
			return fmt.Errorf("%w: MANIFEST_PATH", ErrMissingRequired)
		}
	case ManifestBackendPostgres:
	default:
		return fmt.Errorf("%w: MANIFEST_BACKEND=%q", ErrInvalidValue, c.ManifestBackend)
	}

	switch c.VectorBackend {
	case VectorBackendWeaviate, VectorBackendPGVector:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalidValue, c.VectorBackend)
	}

	for name, p := range map[string]string{"EMBEDDER_PROVIDER": c.EmbedderProvider, "SYNTHESIZER_PROVIDER": c.SynthesizerProvider} {
		switch p {
		case ProviderOllama:
		case ProviderGemini:
			if c.GeminiAPIKey == "" {
				return fmt.Errorf("%w: GEMINI_API_KEY (required by %s=gemini)", ErrMissingRequired, name)
			}
		default:
			return fmt.Errorf("%w: %s=%q", ErrInvalidValue, name, p)
		}
	}

	if c.NeedsDB() && !c.DBEnabled {
		return fmt.Errorf("%w: DB_ENABLED (required by postgres manifest or pgvector index)", ErrMissingRequired)
	}
	if c.DBEnabled {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}

	if c.AutoVectorize && !c.NSQEnabled && !c.WatchSourceDir {
		return fmt.Errorf("%w: AUTO_VECTORIZE needs NSQ_ENABLED or WATCH_SOURCE_DIR", ErrInvalidValue)
	}
	return nil
}
