package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// HTTPConfig controls the API server and its request limits.
type HTTPConfig struct {
	Port                 string
	MaxUploadMB          int
	MaxChunkMB           int
	MaxConcurrentBatches int
	// MaxGlobalBatches caps batches across instances sharing Redis; 0 disables.
	MaxGlobalBatches     int
	ShutdownTimeout      time.Duration
}

// ProcessingConfig controls how documents are transformed.
type ProcessingConfig struct {
	FooterHeight int
	HeaderHeight int
	MaxBand      int
	Mode         string // "sequential"|"concurrent"
	Concurrency  int
	CoverCanvas  string
	RasterDPI    int
	// ChunkSize is the number of documents run per chunk when a large
	// archive is processed from disk.
	ChunkSize int
}

// UploadConfig controls chunked upload staging.
type UploadConfig struct {
	Dir string
	TTL time.Duration
}

// RedisConfig points at the shared Redis used for upload and report state.
// An empty URL keeps that state in process memory.
type RedisConfig struct {
	URL string
}

// ResultsConfig selects where processed archives are persisted.
type ResultsConfig struct {
	Dir        string
	S3Bucket   string
	S3Prefix   string
	S3Region   string
	S3Endpoint string
	AccessKey  string
	SecretKey  string
	Password   string
	ReportTTL  time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging    LoggingConfig
	Axiom      AxiomConfig
	HTTP       HTTPConfig
	Processing ProcessingConfig
	Upload     UploadConfig
	Redis      RedisConfig
	Results    ResultsConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pdfcover.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pdfcover",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.HTTP = HTTPConfig{
		Port:                 getEnv("PORT", "8080"),
		MaxUploadMB:          parseInt(getEnv("MAX_UPLOAD_MB", "100"), 100),
		MaxChunkMB:           parseInt(getEnv("MAX_CHUNK_MB", "30"), 30),
		MaxConcurrentBatches: parseInt(getEnv("MAX_CONCURRENT_BATCHES", "2"), 2),
		MaxGlobalBatches:     parseInt(getEnv("MAX_GLOBAL_BATCHES", "0"), 0),
		ShutdownTimeout:      parseDuration(getEnv("SHUTDOWN_TIMEOUT", "30s"), 30*time.Second),
	}

	cfg.Processing = ProcessingConfig{
		FooterHeight: parseInt(getEnv("FOOTER_HEIGHT_PX", "10"), 10),
		HeaderHeight: parseInt(getEnv("HEADER_HEIGHT_PX", "0"), 0),
		MaxBand:      parseInt(getEnv("MAX_BAND_PX", "200"), 200),
		Mode:         strings.ToLower(getEnv("PROCESS_MODE", "sequential")),
		Concurrency:  parseInt(getEnv("PROCESS_CONCURRENCY", "4"), 4),
		CoverCanvas:  strings.ToUpper(getEnv("COVER_CANVAS", "A4")),
		RasterDPI:    parseInt(getEnv("COVER_RASTER_DPI", "150"), 150),
		ChunkSize:    parseInt(getEnv("CHUNK_SIZE", "25"), 25),
	}
	if cfg.Processing.Concurrency < 1 {
		cfg.Processing.Concurrency = 1
	}

	cfg.Upload = UploadConfig{
		Dir: getEnv("UPLOAD_DIR", os.TempDir()+"/pdfcover-uploads"),
		TTL: parseDuration(getEnv("UPLOAD_TTL", "1h"), time.Hour),
	}

	cfg.Redis = RedisConfig{URL: getEnv("REDIS_URL", "")}

	cfg.Results = ResultsConfig{
		Dir:        getEnv("RESULT_DIR", ""),
		S3Bucket:   getEnv("RESULT_S3_BUCKET", ""),
		S3Prefix:   getEnv("RESULT_S3_PREFIX", "results/"),
		S3Region:   getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint: getEnv("AWS_ENDPOINT_URL", ""),
		AccessKey:  getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		Password:   getEnv("RESULT_PASSWORD", ""),
		ReportTTL:  parseDuration(getEnv("REPORT_TTL", "24h"), 24*time.Hour),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
