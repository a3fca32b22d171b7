// Package config loads the signing server's environment configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/webhooks"
)

const Prefix = "DOCSIGN_"

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	BlobsMemory     = "memory"
	BlobsS3         = "s3"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	Env      string `env:"ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL"`

	Storage      string `env:"STORAGE" envDefault:"postgres"`
	DatabaseURL  string `env:"DATABASE_URL"`
	DBMaxConns   int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	TxMaxRetries uint   `env:"TX_MAX_RETRIES" envDefault:"5"`

	BlobBackend    string `env:"BLOB_BACKEND" envDefault:"s3"`
	S3Bucket       string `env:"S3_BUCKET"`
	AWSRegion      string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpointURL string `env:"AWS_ENDPOINT_URL"`

	// MaxUploadBytes caps the JSON body of a document upload.
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"67108864"`

	RendererURL     string        `env:"RENDERER_URL"`
	RendererTimeout time.Duration `env:"RENDERER_TIMEOUT" envDefault:"30s"`

	// SignTokenTTL of zero issues sign links that never expire.
	SignTokenTTL time.Duration `env:"SIGN_TOKEN_TTL" envDefault:"0s"`

	Webhook Webhook `envPrefix:"WEBHOOK_"`
}

type Webhook struct {
	Timeout      time.Duration   `env:"TIMEOUT" envDefault:"10s"`
	MaxAttempts  int             `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryDelays  []time.Duration `env:"RETRY_DELAYS" envDefault:"60s,300s,900s" envSeparator:","`
	Workers      int             `env:"WORKERS" envDefault:"4"`
	QueueSize    int             `env:"QUEUE_SIZE" envDefault:"256"`
	PollInterval time.Duration   `env:"POLL_INTERVAL" envDefault:"15s"`
	Lease        time.Duration   `env:"LEASE" envDefault:"30s"`
}

// Load parses DOCSIGN_* variables from the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses from vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that depend on each other. Flags may have
// changed cfg after Load, so call it last.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DOCSIGN_DATABASE_URL is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}
	switch c.BlobBackend {
	case BlobsMemory:
	case BlobsS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("DOCSIGN_S3_BUCKET is required for s3 blobs"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob backend %q", c.BlobBackend))
	}
	if c.RendererURL == "" {
		errs = append(errs, errors.New("DOCSIGN_RENDERER_URL is required"))
	}
	if c.Webhook.MaxAttempts < 1 {
		errs = append(errs, errors.New("DOCSIGN_WEBHOOK_MAX_ATTEMPTS must be at least 1"))
	}
	if c.SignTokenTTL < 0 {
		errs = append(errs, errors.New("DOCSIGN_SIGN_TOKEN_TTL must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) WebhookConfig() webhooks.Config {
	cfg := webhooks.DefaultConfig()
	cfg.Timeout = c.Webhook.Timeout
	cfg.MaxAttempts = c.Webhook.MaxAttempts
	cfg.RetryDelays = c.Webhook.RetryDelays
	cfg.Workers = c.Webhook.Workers
	cfg.QueueSize = c.Webhook.QueueSize
	cfg.PollInterval = c.Webhook.PollInterval
	cfg.Lease = c.Webhook.Lease
	return cfg
}
