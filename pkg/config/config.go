package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Reference   ReferenceConfig
	Redis       RedisConfig
	Typesense   TypesenseConfig
	OpenAI      OpenAIConfig
	GenAI       GenAIConfig
	Ollama      OllamaConfig
	Reasoning   ReasoningConfig
	Pipeline    PipelineConfig
	OTEL        OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	HTTPCacheTTL   int // seconds; 0 disables response caching
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ReferenceConfig selects the Reference Store backing database
type ReferenceConfig struct {
	Driver          string // postgres, sqlite or memory
	SQLitePath      string
	SnapshotPath    string // JSON snapshot for the memory driver
	ChunksPath      string // JSON guideline chunks served when Typesense is unreachable
	RefreshInterval time.Duration
	CacheEnabled    bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// TypesenseConfig holds Typesense configuration
type TypesenseConfig struct {
	Enabled        bool
	URL            string
	APIKey         string
	GuidelineAlias string
	EmbeddingDims  int
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	RateLimitRPM   int
	RateLimitBurst int
}

// GenAIConfig holds Gemini API / Vertex AI configuration
type GenAIConfig struct {
	APIKey         string
	UseVertex      bool
	Project        string
	Location       string
	EmbeddingModel string
}

// OllamaConfig holds the local inference server configuration
type OllamaConfig struct {
	BaseURL        string
	EmbeddingModel string
}

// PipelineConfig holds orchestrator policy
type PipelineConfig struct {
	StageTimeout       time.Duration
	MaxStageRetries    int
	RetryInitialDelay  time.Duration
	TrendRetentionDays int
	GuidelineTopK      int
	MaxConcurrentRuns  int
	AuditEnabled       bool
	EventsEnabled      bool
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
			HTTPCacheTTL:   getEnvAsInt("HTTP_CACHE_TTL_SECONDS", 600),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "amrguard"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Reference: ReferenceConfig{
			Driver:          getEnv("REFERENCE_DRIVER", "postgres"),
			SQLitePath:      getEnv("REFERENCE_SQLITE_PATH", "data/amr_guard.db"),
			SnapshotPath:    getEnv("REFERENCE_SNAPSHOT_PATH", "data/reference_snapshot.json"),
			ChunksPath:      getEnv("GUIDELINE_CHUNKS_PATH", ""),
			RefreshInterval: getEnvAsDuration("REFERENCE_REFRESH_INTERVAL", 5*time.Minute),
			CacheEnabled:    getEnvAsBool("REFERENCE_CACHE_ENABLED", true),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		Typesense: TypesenseConfig{
			Enabled:        getEnvAsBool("TYPESENSE_ENABLED", true),
			URL:            getEnv("TYPESENSE_URL", "http://localhost:8108"),
			APIKey:         getEnv("TYPESENSE_API_KEY", "xyz"),
			GuidelineAlias: getEnv("TYPESENSE_GUIDELINE_ALIAS", "guideline_chunks"),
			EmbeddingDims:  getEnvAsInt("TYPESENSE_EMBEDDING_DIMS", 768),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			RateLimitRPM:   getEnvAsInt("OPENAI_RATE_LIMIT_RPM", 60),
			RateLimitBurst: getEnvAsInt("OPENAI_RATE_LIMIT_BURST", 5),
		},
		GenAI: GenAIConfig{
			APIKey:         getEnv("GOOGLE_API_KEY", ""),
			UseVertex:      getEnvAsBool("GENAI_USE_VERTEX", false),
			Project:        getEnv("GOOGLE_CLOUD_PROJECT", ""),
			Location:       getEnv("GOOGLE_CLOUD_LOCATION", "us-central1"),
			EmbeddingModel: getEnv("GENAI_EMBEDDING_MODEL", "text-embedding-004"),
		},
		Ollama: OllamaConfig{
			BaseURL:        getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			EmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
		},
		Pipeline: PipelineConfig{
			StageTimeout:       getEnvAsDuration("PIPELINE_STAGE_TIMEOUT", 90*time.Second),
			MaxStageRetries:    getEnvAsInt("PIPELINE_MAX_STAGE_RETRIES", 2),
			RetryInitialDelay:  getEnvAsDuration("PIPELINE_RETRY_DELAY", 250*time.Millisecond),
			TrendRetentionDays: getEnvAsInt("TREND_RETENTION_DAYS", 730),
			GuidelineTopK:      getEnvAsInt("GUIDELINE_TOP_K", 5),
			MaxConcurrentRuns:  getEnvAsInt("PIPELINE_MAX_CONCURRENT_RUNS", 4),
			AuditEnabled:       getEnvAsBool("PIPELINE_AUDIT_ENABLED", false),
			EventsEnabled:      getEnvAsBool("PIPELINE_EVENTS_ENABLED", true),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "amr-guard"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	reasoning, err := loadReasoningConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg.Reasoning = reasoning

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.Reference.Driver {
	case ReferenceDriverPostgres, ReferenceDriverSQLite, ReferenceDriverMemory:
	default:
		return fmt.Errorf("unsupported REFERENCE_DRIVER %q", c.Reference.Driver)
	}
	if c.Pipeline.MaxStageRetries < 0 {
		return fmt.Errorf("PIPELINE_MAX_STAGE_RETRIES must be >= 0")
	}
	if c.Pipeline.StageTimeout <= 0 {
		return fmt.Errorf("PIPELINE_STAGE_TIMEOUT must be positive")
	}
	return c.Reasoning.Validate()
}

// Reference drivers
const (
	ReferenceDriverPostgres = "postgres"
	ReferenceDriverSQLite   = "sqlite"
	ReferenceDriverMemory   = "memory"
)

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
