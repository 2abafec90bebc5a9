// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	AI       AIConfig
	Pipeline PipelineConfig
	Session  SessionConfig
	Storage  StorageConfig
	Limits   RateLimits
}

type ServerConfig struct {
	Address        string   `envconfig:"LEXA_ADDRESS" default:":5000" validate:"required"`
	AllowedOrigins []string `envconfig:"LEXA_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

type LogConfig struct {
	Level  string `envconfig:"LEXA_LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `envconfig:"LEXA_LOG_FORMAT" default:"console" validate:"oneof=console json"`
}

type AIConfig struct {
	APIKey  string        `envconfig:"GEMINI_API_KEY"`
	Model   string        `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash" validate:"required"`
	Timeout time.Duration `envconfig:"LEXA_AI_TIMEOUT" default:"60s" validate:"gt=0"`
}

type PipelineConfig struct {
	MaxUploadSize     int64         `envconfig:"LEXA_MAX_UPLOAD_BYTES" default:"52428800" validate:"gt=0"`
	ArtifactRetention time.Duration `envconfig:"LEXA_ARTIFACT_RETENTION" default:"1h" validate:"gt=0"`
	SessionMaxAge     time.Duration `envconfig:"LEXA_SESSION_MAX_AGE" default:"1h" validate:"gt=0"`
	SweepInterval     time.Duration `envconfig:"LEXA_SWEEP_INTERVAL" default:"10m" validate:"gte=0"`
	AutoAnalyze       bool          `envconfig:"LEXA_AUTO_ANALYZE" default:"false"`
	ShutdownTimeout   time.Duration `envconfig:"LEXA_SHUTDOWN_TIMEOUT" default:"30s" validate:"gt=0"`
}

type SessionConfig struct {
	Backend     string `envconfig:"LEXA_SESSION_BACKEND" default:"memory" validate:"oneof=memory sqlite"`
	SQLitePath  string `envconfig:"LEXA_SQLITE_PATH" default:"./data/sessions.db" validate:"required_if=Backend sqlite"`
	MaxSessions int    `envconfig:"LEXA_MAX_SESSIONS" default:"1000" validate:"gt=0"`
}

type StorageConfig struct {
	Backend   string      `envconfig:"LEXA_STORAGE_BACKEND" default:"local" validate:"oneof=local minio"`
	UploadDir string      `envconfig:"LEXA_UPLOAD_DIR" default:"./uploads" validate:"required_if=Backend local"`
	Minio     MinioConfig
}

type MinioConfig struct {
	Endpoint  string `envconfig:"MINIO_ENDPOINT"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY"`
	Bucket    string `envconfig:"MINIO_BUCKET" default:"lexa-uploads"`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

// RateLimits are requests per window per client IP.
type RateLimits struct {
	Upload         int           `envconfig:"LEXA_UPLOAD_LIMIT" default:"5" validate:"gt=0"`
	UploadWindow   time.Duration `envconfig:"LEXA_UPLOAD_WINDOW" default:"1m" validate:"gt=0"`
	Analysis       int           `envconfig:"LEXA_ANALYSIS_LIMIT" default:"10" validate:"gt=0"`
	AnalysisWindow time.Duration `envconfig:"LEXA_ANALYSIS_WINDOW" default:"1m" validate:"gt=0"`
	API            int           `envconfig:"LEXA_API_LIMIT" default:"100" validate:"gt=0"`
	APIWindow      time.Duration `envconfig:"LEXA_API_WINDOW" default:"15m" validate:"gt=0"`
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv fills a Config from the environment and validates it.
func FromEnv() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Backend == "minio" && (c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "") {
		return fmt.Errorf("invalid config: MINIO_ENDPOINT and MINIO_BUCKET are required for the minio backend")
	}
	return nil
}
