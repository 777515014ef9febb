package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"docvox-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	// Ingestion policy
	ChunkWindow            int           `envconfig:"CHUNK_WINDOW" default:"500"`
	ChunkOverlap           int           `envconfig:"CHUNK_OVERLAP" default:"80"`
	MaxDocumentBytes       int64         `envconfig:"MAX_DOCUMENT_BYTES" default:"10485760"`
	IngestMaxFailFraction  float64       `envconfig:"INGEST_MAX_FAILURE_FRACTION" default:"0.2"`
	IngestPollInterval     time.Duration `envconfig:"INGEST_POLL_INTERVAL" default:"5s"`
	EmbedMaxAttempts       int           `envconfig:"EMBED_MAX_ATTEMPTS" default:"4"`
	EmbedRequestsPerSecond float64       `envconfig:"EMBED_REQUESTS_PER_SECOND" default:"5"`

	// Retrieval policy
	RetrievalTopK       int           `envconfig:"RETRIEVAL_TOP_K" default:"8"`
	SimilarityThreshold float32       `envconfig:"SIMILARITY_THRESHOLD" default:"0.25"`
	MaxContextChars     int           `envconfig:"MAX_CONTEXT_CHARS" default:"6000"`
	PerDocumentChunkCap int           `envconfig:"PER_DOCUMENT_CHUNK_CAP" default:"3"`
	RetrievalTimeout    time.Duration `envconfig:"RETRIEVAL_TIMEOUT" default:"15s"`

	// Chat policy
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"20"`
	WatchdogTimeout time.Duration `envconfig:"WATCHDOG_TIMEOUT" default:"30s"`
	RateWindow      time.Duration `envconfig:"RATE_WINDOW" default:"60s"`
	RateMaxRequests int           `envconfig:"RATE_MAX_REQUESTS" default:"20"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("DOCVOX", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate rejects policy values that would break the pipeline invariants.
func (c *Config) Validate() error {
	if c.ChunkWindow <= 0 {
		return fmt.Errorf("invalid config: CHUNK_WINDOW must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkWindow {
		return fmt.Errorf("invalid config: CHUNK_OVERLAP must be in [0, CHUNK_WINDOW)")
	}
	if c.IngestMaxFailFraction < 0 || c.IngestMaxFailFraction > 1 {
		return fmt.Errorf("invalid config: INGEST_MAX_FAILURE_FRACTION must be in [0, 1]")
	}
	if c.EmbedMaxAttempts < 1 {
		return fmt.Errorf("invalid config: EMBED_MAX_ATTEMPTS must be at least 1")
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("invalid config: RETRIEVAL_TOP_K must be positive")
	}
	if c.MaxContextChars <= 0 {
		return fmt.Errorf("invalid config: MAX_CONTEXT_CHARS must be positive")
	}
	if c.RateMaxRequests <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("invalid config: rate limit window and quota must be positive")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}
