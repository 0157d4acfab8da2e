package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const mb = 1 << 20

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	LLM        LLMConfig
	Storage    StorageConfig
	Extraction ExtractionConfig `yaml:"extraction"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Jobs       JobsConfig       `yaml:"jobs"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	LogLevel   string
}

type ServerConfig struct {
	Host        string
	Port        int
	MetricsAddr string // worker-only /metrics listener; empty disables it
}

type DatabaseConfig struct {
	URL               string
	MaxConns          int
	MinConns          int
	ConnectTimeout    time.Duration
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	MigrationsPath    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type LLMConfig struct {
	OpenAIKey      string
	AnthropicKey   string
	GeminiKey      string
	EmbeddingModel string
	VisionProvider string // "gemini", "anthropic" or "" to disable vision tiers
	VisionModel    string

	// EmbeddingCacheTTL bounds how long vectors are reused across retries; 0 disables the cache.
	EmbeddingCacheTTL time.Duration
}

type StorageConfig struct {
	Backend     string // "supabase", "s3" or "gcs"; "memory" is for tests only
	Bucket      string
	SupabaseURL string
	SupabaseKey string
	AWSRegion   string
	AWSKey      string
	AWSSecret   string
}

// ExtractionConfig holds the size routing thresholds and per-tier limits.
// The byte thresholds were tuned against production uploads.
type ExtractionConfig struct {
	FastParserMaxBytes          int64         `yaml:"fast_parser_max_bytes"`
	SmallVisionFallbackMaxBytes int64         `yaml:"small_vision_fallback_max_bytes"`
	DirectVisionMaxBytes        int64         `yaml:"direct_vision_max_bytes"`
	ChunkedVisionMaxBytes       int64         `yaml:"chunked_vision_max_bytes"`
	LargeVisionFallbackMaxBytes int64         `yaml:"large_vision_fallback_max_bytes"`
	MinTextChars                int           `yaml:"min_text_chars"`
	VisionMinYieldChars         int           `yaml:"vision_min_yield_chars"`
	VisionYieldPerByte          float64       `yaml:"vision_yield_per_byte"`
	VisionChunkMaxBytes         int64         `yaml:"vision_chunk_max_bytes"`
	VisionChunkConcurrency      int           `yaml:"vision_chunk_concurrency"`
	NativeParserCommand         string        `yaml:"native_parser_command"`
	FastParserTimeout           time.Duration `yaml:"fast_parser_timeout"`
	NativeParserTimeout         time.Duration `yaml:"native_parser_timeout"`
	VisionTimeout               time.Duration `yaml:"vision_timeout"`
	ChunkedVisionTimeout        time.Duration `yaml:"chunked_vision_timeout"`
}

type IndexingConfig struct {
	ChunkSize               int     `yaml:"chunk_size"`
	MinChunksForProgressive int     `yaml:"min_chunks_for_progressive"`
	PriorityFraction        float64 `yaml:"priority_fraction"`
	MaxPriorityChunks       int     `yaml:"max_priority_chunks"`
	BatchSize               int     `yaml:"batch_size"`
	PrioritySecondsPerChunk float64 `yaml:"priority_seconds_per_chunk"`
	BatchSecondsPerChunk    float64 `yaml:"batch_seconds_per_chunk"`
}

type JobsConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	StepAttempts       int           `yaml:"step_attempts"`
	ProcessTimeout     time.Duration `yaml:"process_timeout"`
	IndexTimeout       time.Duration `yaml:"index_timeout"`
	StatusStepTimeout  time.Duration `yaml:"status_step_timeout"`
	ExtractStepTimeout time.Duration `yaml:"extract_step_timeout"`
	IndexStepTimeout   time.Duration `yaml:"index_step_timeout"`
}

type RateLimitConfig struct {
	MaxRequests   int           `yaml:"max_requests"`
	Window        time.Duration `yaml:"window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	connectTimeout, err := getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONNECT_TIMEOUT: %w", err)
	}

	connLifetime, err := getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONN_LIFETIME: %w", err)
	}

	connIdle, err := getEnvDuration("DB_MAX_CONN_IDLE_TIME", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONN_IDLE_TIME: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	concurrency, err := getEnvInt("WORKER_CONCURRENCY", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}

	attempts, err := getEnvInt("JOB_STEP_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid JOB_STEP_ATTEMPTS: %w", err)
	}

	rlMax, err := getEnvInt("RATE_LIMIT_MAX", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_MAX: %w", err)
	}

	rlWindow, err := getEnvDuration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}

	embedTTL, err := getEnvDuration("EMBEDDING_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBEDDING_CACHE_TTL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        port,
			MetricsAddr: getEnv("WORKER_METRICS_ADDR", ":9091"),
		},
		Database: DatabaseConfig{
			URL:               getEnv("DATABASE_URL", ""),
			MaxConns:          maxConns,
			MinConns:          minConns,
			ConnectTimeout:    connectTimeout,
			MaxConnLifetime:   connLifetime,
			MaxConnIdleTime:   connIdle,
			HealthCheckPeriod: 30 * time.Second,
			MigrationsPath:    getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		LLM: LLMConfig{
			OpenAIKey:         getEnv("OPENAI_API_KEY", ""),
			AnthropicKey:      getEnv("ANTHROPIC_API_KEY", ""),
			GeminiKey:         getEnv("GEMINI_API_KEY", ""),
			EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingCacheTTL: embedTTL,
			VisionProvider:    getEnv("VISION_PROVIDER", "gemini"),
			VisionModel:       getEnv("VISION_MODEL", ""),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "supabase"),
			Bucket:      getEnv("STORAGE_BUCKET", "documents"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			AWSKey:      getEnv("AWS_ACCESS_KEY", ""),
			AWSSecret:   getEnv("AWS_SECRET_KEY", ""),
		},
		Extraction: DefaultExtraction(),
		Indexing:   DefaultIndexing(),
		Jobs: JobsConfig{
			Concurrency:        concurrency,
			StepAttempts:       attempts,
			ProcessTimeout:     30 * time.Minute,
			IndexTimeout:       15 * time.Minute,
			StatusStepTimeout:  30 * time.Second,
			ExtractStepTimeout: 20 * time.Minute,
			IndexStepTimeout:   10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   rlMax,
			Window:        rlWindow,
			SweepInterval: time.Minute,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	cfg.Extraction.NativeParserCommand = getEnv("NATIVE_PARSER_CMD", cfg.Extraction.NativeParserCommand)

	if path := getEnv("TUNING_FILE", ""); path != "" {
		if err := cfg.applyTuning(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func DefaultExtraction() ExtractionConfig {
	return ExtractionConfig{
		FastParserMaxBytes:          10 * mb,
		SmallVisionFallbackMaxBytes: 15 * mb,
		DirectVisionMaxBytes:        25 * mb,
		ChunkedVisionMaxBytes:       80 * mb,
		LargeVisionFallbackMaxBytes: 70 * mb,
		MinTextChars:                100,
		VisionMinYieldChars:         1000,
		VisionYieldPerByte:          0.01 / 10,
		VisionChunkMaxBytes:         18 * mb,
		VisionChunkConcurrency:      3,
		NativeParserCommand:         "pdftext",
		FastParserTimeout:           3 * time.Minute,
		NativeParserTimeout:         15 * time.Minute,
		VisionTimeout:               5 * time.Minute,
		ChunkedVisionTimeout:        12 * time.Minute,
	}
}

func DefaultIndexing() IndexingConfig {
	return IndexingConfig{
		ChunkSize:               2000,
		MinChunksForProgressive: 50,
		PriorityFraction:        0.20,
		MaxPriorityChunks:       100,
		BatchSize:               50,
		PrioritySecondsPerChunk: 0.5,
		BatchSecondsPerChunk:    0.3,
	}
}

// applyTuning overlays non-zero values from a YAML file onto the tunable sections.
func (c *Config) applyTuning(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read tuning file: %w", err)
	}
	// Decoding into the already populated config only replaces keys present in the file.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse tuning file: %w", err)
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto slog. Unknown values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	switch c.Storage.Backend {
	case "supabase":
		if c.Storage.SupabaseURL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
	case "s3":
		if c.Storage.AWSKey == "" || c.Storage.AWSSecret == "" {
			missing = append(missing, "AWS_ACCESS_KEY/AWS_SECRET_KEY")
		}
	case "gcs":
	case "memory":
		// The API and the worker are separate processes and would not see
		// each other's uploads.
		return errors.New("STORAGE_BACKEND=memory is only usable in tests; use supabase, s3 or gcs")
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
