package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("S3_BUCKET", "")
	t.Setenv("EXPORT_MAX_FILES", "")
	t.Setenv("SESSION_MAX_AGE", "")

	cfg := Load()
	assert.Equal(t, "student-uploads", cfg.S3Bucket)
	assert.Equal(t, 100, cfg.ExportMaxFiles)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, 5*time.Minute, cfg.SessionCheckInterval)
	assert.Equal(t, int64(10*1024*1024), cfg.UploadMaxBytes)
	assert.Equal(t, "/login/student", cfg.LoginPath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("EXPORT_MAX_FILES", "25")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("SESSION_CHECK_INTERVAL", "30s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()
	assert.True(t, cfg.Production())
	assert.Equal(t, 25, cfg.ExportMaxFiles)
	assert.True(t, cfg.S3UseSSL)
	assert.Equal(t, 30*time.Second, cfg.SessionCheckInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("EXPORT_MAX_FILES", "many")
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("S3_USE_SSL", "maybe")

	cfg := Load()
	assert.Equal(t, 100, cfg.ExportMaxFiles)
	assert.Equal(t, time.Hour, cfg.AccessTTL)
	assert.False(t, cfg.S3UseSSL)
}
