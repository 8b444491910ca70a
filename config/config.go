// Package config loads webrag settings from a YAML file and the environment.
//
// Values are resolved in order: built-in defaults, the YAML file (a missing
// file is not an error), a .env file in the working directory, then
// environment variables. CLI flags are applied on top by cmd/webrag.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/webrag/ai"
	"github.com/poiesic/webrag/chunking"
	"github.com/poiesic/webrag/scrape"
	"gopkg.in/yaml.v3"
)

// Backend names accepted for document_backend, vector_backend and queue_backend.
const (
	BackendBadger   = "badger"
	BackendPgvector = "pgvector"
	BackendPostgres = "postgres"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WEBRAG_"

var ErrInvalidConfig = errors.New("invalid config")

type StorageConfig struct {
	DataDir         string `yaml:"data_dir"`
	DocumentBackend string `yaml:"document_backend"`
	VectorBackend   string `yaml:"vector_backend"`
	QueueBackend    string `yaml:"queue_backend"`
	QueueName       string `yaml:"queue_name"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	JobTable        string `yaml:"job_table"`
	ChunkTable      string `yaml:"chunk_table"`
	SessionTable    string `yaml:"session_table"`
	VectorTable     string `yaml:"vector_table"`
	QueueTable      string `yaml:"queue_table"`
}

type ChunkingConfig struct {
	Size       int    `yaml:"size"`
	Overlap    int    `yaml:"overlap"`
	IDStrategy string `yaml:"id_strategy"`
}

type EmbeddingConfig struct {
	Host      string `yaml:"host"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

type GenerationConfig struct {
	Host   string `yaml:"host"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

type ScraperConfig struct {
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`
}

type WorkerConfig struct {
	IdleInterval     time.Duration `yaml:"idle_interval"`
	DequeueTimeout   time.Duration `yaml:"dequeue_timeout"`
	ErrorBackoff     time.Duration `yaml:"error_backoff"`
	Concurrency      int           `yaml:"concurrency"`
	FailOnEmptyStage bool          `yaml:"fail_on_empty_stage"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the root configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Worker     WorkerConfig     `yaml:"worker"`
	Server     ServerConfig     `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiCfg := ai.DefaultConfig()
	return &Config{
		Storage: StorageConfig{
			DataDir:         "webrag.db",
			DocumentBackend: BackendBadger,
			VectorBackend:   BackendBadger,
			QueueBackend:    BackendBadger,
			QueueName:       "url_processing_queue",
			JobTable:        "webrag_jobs",
			ChunkTable:      "webrag_chunks",
			SessionTable:    "webrag_sessions",
			VectorTable:     "webrag_vectors",
			QueueTable:      "webrag_queue",
		},
		Chunking: ChunkingConfig{
			Size:       chunking.DefaultChunkSize,
			Overlap:    chunking.DefaultChunkOverlap,
			IDStrategy: string(chunking.IDStrategyRandom),
		},
		Embedding: EmbeddingConfig{
			Host:      aiCfg.EmbeddingHost,
			Model:     aiCfg.EmbeddingModel,
			Dimension: aiCfg.Dimension,
			BatchSize: aiCfg.BatchSize,
		},
		Generation: GenerationConfig{
			Host:  aiCfg.GenerationHost,
			Model: aiCfg.GenerationModel,
		},
		Scraper: ScraperConfig{
			URL:     scrape.DefaultEndpoint,
			Timeout: scrape.DefaultTimeout,
			Burst:   1,
		},
		Worker: WorkerConfig{
			IdleInterval:     5 * time.Second,
			DequeueTimeout:   10 * time.Second,
			ErrorBackoff:     5 * time.Second,
			Concurrency:      1,
			FailOnEmptyStage: true,
		},
		Server: ServerConfig{
			Listen: ":8000",
		},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing file yields the defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// Existing environment variables win over .env entries.
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from lookup, which is normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	// Provider conventions first so WEBRAG_* variables take precedence.
	str("FIRECRAWL_API_KEY", &c.Scraper.APIKey)
	str("OPENAI_API_KEY", &c.Generation.APIKey)

	str(EnvPrefix+"DATA_DIR", &c.Storage.DataDir)
	str(EnvPrefix+"DOCUMENT_BACKEND", &c.Storage.DocumentBackend)
	str(EnvPrefix+"VECTOR_BACKEND", &c.Storage.VectorBackend)
	str(EnvPrefix+"QUEUE_BACKEND", &c.Storage.QueueBackend)
	str(EnvPrefix+"QUEUE_NAME", &c.Storage.QueueName)
	str(EnvPrefix+"POSTGRES_DSN", &c.Storage.PostgresDSN)
	str(EnvPrefix+"JOB_TABLE", &c.Storage.JobTable)
	str(EnvPrefix+"CHUNK_TABLE", &c.Storage.ChunkTable)
	str(EnvPrefix+"SESSION_TABLE", &c.Storage.SessionTable)
	str(EnvPrefix+"VECTOR_TABLE", &c.Storage.VectorTable)
	str(EnvPrefix+"QUEUE_TABLE", &c.Storage.QueueTable)

	num(EnvPrefix+"CHUNK_SIZE", &c.Chunking.Size)
	num(EnvPrefix+"CHUNK_OVERLAP", &c.Chunking.Overlap)
	str(EnvPrefix+"CHUNK_ID_STRATEGY", &c.Chunking.IDStrategy)

	str(EnvPrefix+"EMBEDDING_HOST", &c.Embedding.Host)
	str(EnvPrefix+"EMBEDDING_MODEL", &c.Embedding.Model)
	num(EnvPrefix+"EMBEDDING_DIMENSION", &c.Embedding.Dimension)
	num(EnvPrefix+"EMBEDDING_BATCH_SIZE", &c.Embedding.BatchSize)

	str(EnvPrefix+"GENERATION_HOST", &c.Generation.Host)
	str(EnvPrefix+"GENERATION_MODEL", &c.Generation.Model)
	str(EnvPrefix+"GENERATION_API_KEY", &c.Generation.APIKey)

	str(EnvPrefix+"SCRAPER_URL", &c.Scraper.URL)
	str(EnvPrefix+"SCRAPER_API_KEY", &c.Scraper.APIKey)
	dur(EnvPrefix+"SCRAPER_TIMEOUT", &c.Scraper.Timeout)
	float(EnvPrefix+"SCRAPER_RATE_LIMIT", &c.Scraper.RateLimit)
	num(EnvPrefix+"SCRAPER_BURST", &c.Scraper.Burst)

	dur(EnvPrefix+"WORKER_IDLE_INTERVAL", &c.Worker.IdleInterval)
	dur(EnvPrefix+"WORKER_DEQUEUE_TIMEOUT", &c.Worker.DequeueTimeout)
	dur(EnvPrefix+"WORKER_ERROR_BACKOFF", &c.Worker.ErrorBackoff)
	num(EnvPrefix+"WORKER_CONCURRENCY", &c.Worker.Concurrency)
	boolean(EnvPrefix+"WORKER_FAIL_ON_EMPTY_STAGE", &c.Worker.FailOnEmptyStage)

	str(EnvPrefix+"LISTEN", &c.Server.Listen)

	return errors.Join(errs...)
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Storage.DocumentBackend {
	case BackendBadger, BackendPostgres:
	default:
		invalid("document_backend must be %q or %q, got %q", BackendBadger, BackendPostgres, c.Storage.DocumentBackend)
	}
	switch c.Storage.VectorBackend {
	case BackendBadger, BackendPgvector:
	default:
		invalid("vector_backend must be %q or %q, got %q", BackendBadger, BackendPgvector, c.Storage.VectorBackend)
	}
	switch c.Storage.QueueBackend {
	case BackendBadger, BackendPostgres:
	default:
		invalid("queue_backend must be %q or %q, got %q", BackendBadger, BackendPostgres, c.Storage.QueueBackend)
	}
	if c.UsesPostgres() && c.Storage.PostgresDSN == "" {
		invalid("postgres_dsn is required for the postgres backends")
	}
	if c.UsesBadger() && c.Storage.DataDir == "" {
		invalid("data_dir is required for the badger backends")
	}
	if c.Storage.QueueName == "" {
		invalid("queue_name is required")
	}

	if c.Chunking.Size <= 0 {
		invalid("chunking size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		invalid("chunking overlap must be in [0, size)")
	}
	if _, err := chunking.ParseIDStrategy(c.Chunking.IDStrategy); err != nil {
		invalid("chunking id_strategy: %v", err)
	}

	if err := c.AI().Validate(); err != nil {
		invalid("%v", err)
	}

	if c.Scraper.URL == "" {
		invalid("scraper url is required")
	}
	if c.Scraper.Timeout <= 0 {
		invalid("scraper timeout must be positive")
	}

	if c.Worker.IdleInterval <= 0 || c.Worker.DequeueTimeout <= 0 || c.Worker.ErrorBackoff <= 0 {
		invalid("worker intervals must be positive")
	}
	if c.Worker.Concurrency < 1 {
		invalid("worker concurrency must be at least 1")
	}

	return errors.Join(errs...)
}

// UsesPostgres reports whether any backend needs a PostgreSQL connection.
func (c *Config) UsesPostgres() bool {
	return c.Storage.DocumentBackend == BackendPostgres ||
		c.Storage.VectorBackend == BackendPgvector ||
		c.Storage.QueueBackend == BackendPostgres
}

// UsesBadger reports whether any backend needs the badger directory.
// Badger locks its directory, so only a config where this is false can be
// shared by separate serve and worker processes.
func (c *Config) UsesBadger() bool {
	return c.Storage.DocumentBackend == BackendBadger ||
		c.Storage.VectorBackend == BackendBadger ||
		c.Storage.QueueBackend == BackendBadger
}

// AI returns the provider configuration derived from c.
func (c *Config) AI() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithDimension(c.Embedding.Dimension),
		ai.WithBatchSize(c.Embedding.BatchSize),
		ai.WithGenerationHost(c.Generation.Host),
		ai.WithGenerationModel(c.Generation.Model),
		ai.WithAPIKey(c.Generation.APIKey),
	)
}
