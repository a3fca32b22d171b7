package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, BlobsS3, cfg.BlobBackend)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 3, cfg.Webhook.MaxAttempts)
	assert.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}, cfg.Webhook.RetryDelays)
	assert.Zero(t, cfg.SignTokenTTL)
	assert.Equal(t, int64(64<<20), cfg.MaxUploadBytes)

	wh := cfg.WebhookConfig()
	assert.Equal(t, cfg.Webhook.RetryDelays, wh.RetryDelays)
	assert.Equal(t, 100, wh.BatchSize)
}

func TestOverridesAndValidation(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"DOCSIGN_STORAGE":              "memory",
		"DOCSIGN_BLOB_BACKEND":         "memory",
		"DOCSIGN_RENDERER_URL":         "http://renderer:9000",
		"DOCSIGN_WEBHOOK_RETRY_DELAYS": "1s,2s",
		"DOCSIGN_SIGN_TOKEN_TTL":       "72h",
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Webhook.RetryDelays)
	assert.Equal(t, 72*time.Hour, cfg.SignTokenTTL)
	require.NoError(t, cfg.Validate())

	cfg.Storage = StoragePostgres
	cfg.BlobBackend = BlobsS3
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCSIGN_DATABASE_URL")
	assert.Contains(t, err.Error(), "DOCSIGN_S3_BUCKET")

	_, err = LoadFrom(map[string]string{"DOCSIGN_WEBHOOK_TIMEOUT": "soon"})
	require.Error(t, err)
}
