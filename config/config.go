package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ragingest/types"
)

// Config holds all configuration for ingestion and the query service.
type Config struct {
	Postgres  PostgresConfig  `yaml:"postgres"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Index     IndexConfig     `yaml:"index"`
	Server    ServerConfig    `yaml:"server"`
	Summary   SummaryConfig   `yaml:"summary"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

type EmbeddingConfig struct {
	Provider   string        `yaml:"provider" validate:"oneof=ollama openai"`
	URL        string        `yaml:"url" validate:"required,url"`
	Model      string        `yaml:"model" validate:"required"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Dimension  int           `yaml:"dimension" validate:"min=0"` // 0 = ask the provider
	BatchSize  int           `yaml:"batch_size" validate:"min=1"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries" validate:"min=1"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type ChunkingConfig struct {
	MaxSize        int    `yaml:"max_size" validate:"min=1"`
	Unit           string `yaml:"unit" validate:"oneof=chars tokens"`
	HeadingLevel   int    `yaml:"heading_level" validate:"min=1,max=6"`
	HeadingPattern string `yaml:"heading_pattern"`
	Encoding       string `yaml:"encoding"`
}

type IngestConfig struct {
	Extensions     []string `yaml:"extensions" validate:"min=1,dive,required"`
	Excludes       []string `yaml:"excludes"`
	CollectionRule string   `yaml:"collection_rule" validate:"oneof=fixed top-folder"`
	Workers        int      `yaml:"workers" validate:"min=1"`
	SkipUnchanged  bool     `yaml:"skip_unchanged"`
	Prune          bool     `yaml:"prune"`
}

type IndexConfig struct {
	Metric         string `yaml:"metric" validate:"oneof=cosine inner_product"`
	M              int    `yaml:"m" validate:"min=2"`
	EfConstruction int    `yaml:"ef_construction" validate:"min=4"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	DefaultK int    `yaml:"default_k" validate:"min=1"`
	MaxK     int    `yaml:"max_k" validate:"min=1,gtefield=DefaultK"`
}

// SummaryConfig points at the Ollama generate endpoint used by verify --summary.
type SummaryConfig struct {
	URL             string        `yaml:"url" validate:"required,url"`
	Model           string        `yaml:"model" validate:"required"`
	MaxPromptTokens int           `yaml:"max_prompt_tokens" validate:"min=1"`
	Temperature     float64       `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens       int           `yaml:"max_tokens" validate:"min=1"`
	Timeout         time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "rag_user",
			Database: "knowledge_db",
			SSLMode:  "disable",
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			URL:        "http://localhost:11434",
			Model:      "nomic-embed-text",
			APIKeyEnv:  "OPENAI_API_KEY",
			BatchSize:  16,
			Timeout:    60 * time.Second,
			Retries:    3,
			RetryDelay: time.Second,
		},
		Chunking: ChunkingConfig{
			MaxSize:      800,
			Unit:         "chars",
			HeadingLevel: 6,
			Encoding:     "cl100k_base",
		},
		Ingest: IngestConfig{
			Extensions:     []string{".md", ".txt"},
			Excludes:       []string{"**/.git/**", "**/node_modules/**"},
			CollectionRule: "fixed",
			Workers:        1,
			SkipUnchanged:  true,
		},
		Index: IndexConfig{
			Metric:         "cosine",
			M:              16,
			EfConstruction: 64,
		},
		Server: ServerConfig{
			Addr:     ":8080",
			DefaultK: 5,
			MaxK:     20,
		},
		Summary: SummaryConfig{
			URL:             "http://localhost:11434/api/generate",
			Model:           "llama3.1",
			MaxPromptTokens: 3000,
			Temperature:     0.3,
			MaxTokens:       500,
			Timeout:         120 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path,
// a .env file in the working directory and the process environment, in that
// order. A missing YAML or .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, types.NewError(types.KindConfigurationError, "config.Load", fmt.Errorf("parse %s: %w", path, err))
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, types.NewError(types.KindConfigurationError, "config.Load", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, types.NewError(types.KindConfigurationError, "config.Load", fmt.Errorf("load .env: %w", err))
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir looks for rag.yaml, then .rag/config.yaml in dir.
func LoadFromDir(dir string) (*Config, error) {
	for _, p := range []string{filepath.Join(dir, "rag.yaml"), filepath.Join(dir, ".rag", "config.yaml")} {
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return Load("")
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PG_DSN", &c.Postgres.DSN)
	str("PG_HOST", &c.Postgres.Host)
	num("PG_PORT", &c.Postgres.Port)
	str("PG_USER", &c.Postgres.User)
	str("PG_PASS", &c.Postgres.Password)
	str("PG_DB_NAME", &c.Postgres.Database)
	str("PG_SSLMODE", &c.Postgres.SSLMode)

	str("EMBEDDING_PROVIDER", &c.Embedding.Provider)
	str("OLLAMA_EMBEDDING_URL", &c.Embedding.URL)
	str("OLLAMA_EMBEDDING_MODEL", &c.Embedding.Model)
	str("EMBEDDING_API_KEY_ENV", &c.Embedding.APIKeyEnv)
	num("EMBEDDING_DIMENSION", &c.Embedding.Dimension)
	num("EMBEDDING_BATCH_SIZE", &c.Embedding.BatchSize)
	dur("EMBEDDING_TIMEOUT", &c.Embedding.Timeout)
	num("EMBEDDING_RETRIES", &c.Embedding.Retries)

	num("CHUNK_SIZE", &c.Chunking.MaxSize)
	str("CHUNK_UNIT", &c.Chunking.Unit)
	num("HEADING_LEVEL", &c.Chunking.HeadingLevel)
	str("HEADING_PATTERN", &c.Chunking.HeadingPattern)

	str("COLLECTION_RULE", &c.Ingest.CollectionRule)
	num("INGEST_WORKERS", &c.Ingest.Workers)
	if v, ok := os.LookupEnv("INGEST_EXTENSIONS"); ok && v != "" {
		c.Ingest.Extensions = splitList(v)
	}

	str("INDEX_METRIC", &c.Index.Metric)
	str("SERVER_ADDR", &c.Server.Addr)
	str("LLM_URL", &c.Summary.URL)
	str("LLM_MODEL", &c.Summary.Model)
	dur("LLM_TIMEOUT", &c.Summary.Timeout)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if len(errs) > 0 {
		return types.NewError(types.KindConfigurationError, "config.Load", errors.Join(errs...))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks field constraints. Errors are ConfigurationError.
func (c *Config) Validate() error {
	if errs := types.StructErrors(c); len(errs) > 0 {
		parts := make([]string, 0, len(errs))
		for field, msg := range errs {
			parts = append(parts, field+" "+msg)
		}
		sort.Strings(parts)
		return types.Errorf(types.KindConfigurationError, "config.Validate", "%s", strings.Join(parts, "; "))
	}
	if c.Chunking.HeadingPattern != "" {
		if _, err := regexp.Compile(c.Chunking.HeadingPattern); err != nil {
			return types.Errorf(types.KindConfigurationError, "config.Validate", "heading_pattern: %v", err)
		}
	}
	return nil
}

// ConnString returns the Postgres DSN, assembling it from parts when no DSN is set.
func (c *Config) ConnString() string {
	if c.Postgres.DSN != "" {
		return c.Postgres.DSN
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:     "/" + c.Postgres.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.Postgres.SSLMode),
	}
	return u.String()
}

// APIKey resolves the provider API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.Embedding.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Embedding.APIKeyEnv)
}
