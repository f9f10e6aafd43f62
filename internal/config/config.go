// Package config loads service configuration from environment variables
// (with an optional local .env overlay), the same shape the teacher's
// internal/config/loader.go uses: env vars read directly, defaults applied
// after, no hot-reload. Config is immutable once Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PostgresConfig configures the metadata store connection.
type PostgresConfig struct {
	DSN string
}

// S3Config configures the blob store connection.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
	SSE          S3SSEConfig
}

// S3SSEConfig selects server-side encryption for uploaded documents. Mode is
// one of "" (none), "sse-s3", or "sse-kms"; KMSKeyID, when set, is sent as
// the KMS key id for "sse-kms" and ignored otherwise.
type S3SSEConfig struct {
	Mode     string
	KMSKeyID string
}

// QdrantConfig configures the vector index connection.
type QdrantConfig struct {
	Addr       string // host:port of the gRPC endpoint
	APIKey     string
	Collection string
	Dimension  int
	Metric     string // cosine|l2|ip
}

// RedisConfig configures the queue substrate, rate limiter, and scheduler
// rotation pointer, all of which share one Redis instance with distinct key
// namespaces.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WorkerCounts is the per-stage worker pool size.
type WorkerCounts struct {
	Extract int
	Chunk   int
	Embed   int
}

// Config is the fully resolved, immutable service configuration.
type Config struct {
	HTTPAddr string

	Postgres PostgresConfig
	S3       S3Config
	Qdrant   QdrantConfig
	Redis    RedisConfig

	ChunkSize             int
	ChunkOverlap          int
	EmbedBatchSize        int
	MaxRetries            int
	RateLimitWindow       time.Duration
	MaxFileSizeBytes      int64
	EmbeddingModelID      string
	Workers               WorkerCounts
	PerTenantConcurrency  int // 0 = unlimited

	InternalToken string

	LogLevel string
}

// Load reads Config from the environment, applying a .env overlay when
// present (godotenv.Overload, matching the teacher's loader).
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		HTTPAddr: firstNonEmpty(os.Getenv("HTTP_ADDR"), ":8080"),
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		S3: S3Config{
			Bucket:       os.Getenv("S3_BUCKET"),
			Region:       firstNonEmpty(os.Getenv("S3_REGION"), "us-east-1"),
			Endpoint:     os.Getenv("S3_ENDPOINT"),
			AccessKey:    os.Getenv("S3_ACCESS_KEY"),
			SecretKey:    os.Getenv("S3_SECRET_KEY"),
			UsePathStyle: boolEnv("S3_USE_PATH_STYLE", true),
			Prefix:       os.Getenv("S3_PREFIX"),
			SSE: S3SSEConfig{
				Mode:     os.Getenv("S3_SSE_MODE"),
				KMSKeyID: os.Getenv("S3_SSE_KMS_KEY_ID"),
			},
		},
		Qdrant: QdrantConfig{
			Addr:       firstNonEmpty(os.Getenv("QDRANT_ADDR"), "localhost:6334"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			Collection: firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "chunks"),
			Dimension:  intEnv("VECTOR_DIMENSION", 768),
			Metric:     firstNonEmpty(os.Getenv("QDRANT_METRIC"), "cosine"),
		},
		Redis: RedisConfig{
			Addr:     firstNonEmpty(os.Getenv("REDIS_ADDR"), "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intEnv("REDIS_DB", 0),
		},
		ChunkSize:        intEnv("CHUNK_SIZE", 512),
		ChunkOverlap:     intEnv("CHUNK_OVERLAP", 50),
		EmbedBatchSize:   intEnv("EMBED_BATCH_SIZE", 100),
		MaxRetries:       intEnv("MAX_RETRIES", 3),
		RateLimitWindow:  time.Duration(intEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		MaxFileSizeBytes: int64(intEnv("MAX_FILE_SIZE_BYTES", 100*1024*1024)),
		EmbeddingModelID: firstNonEmpty(os.Getenv("EMBEDDING_MODEL_ID"), "deterministic-test-embedder"),
		Workers: WorkerCounts{
			Extract: intEnv("WORKERS_EXTRACT", 2),
			Chunk:   intEnv("WORKERS_CHUNK", 2),
			Embed:   intEnv("WORKERS_EMBED", 2),
		},
		PerTenantConcurrency: intEnv("PER_TENANT_CONCURRENCY_CAP", 0),
		InternalToken:        os.Getenv("INTERNAL_TOKEN"),
		LogLevel:             firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ChunkSize < 128 || c.ChunkSize > 4096 {
		return fmt.Errorf("chunk_size %d out of range [128,4096]", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap > c.ChunkSize/2 {
		return fmt.Errorf("chunk_overlap %d out of range [0,%d]", c.ChunkOverlap, c.ChunkSize/2)
	}
	if c.EmbedBatchSize < 1 || c.EmbedBatchSize > 1000 {
		return fmt.Errorf("embed_batch_size %d out of range [1,1000]", c.EmbedBatchSize)
	}
	if c.Qdrant.Dimension <= 0 {
		return fmt.Errorf("vector_dimension must be positive")
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
