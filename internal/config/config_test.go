package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"STORE_BACKEND", "DB_SOURCE", "BOLT_PATH", "REDIS_ADDR", "SERVER_PORT",
		"ENVIRONMENT", "AUTO_MIGRATE", "REQUEST_TIMEOUT", "LOCK_TTL", "FEATURE_ERASE_ON_DELETE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_SOURCE", "postgres://localhost/mandates")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "production", cfg.Env)
	assert.False(t, cfg.IsDevelopment())
	assert.False(t, cfg.AutoMigrate, "migrations run only when asked for")
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, "8080", cfg.Port)
	assert.False(t, cfg.Features.EraseOnAccountDelete)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", BackendBolt)
	t.Setenv("BOLT_PATH", "/tmp/m.db")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("AUTO_MIGRATE", "true")
	t.Setenv("REQUEST_TIMEOUT", "250ms")
	t.Setenv("FEATURE_ERASE_ON_DELETE", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendBolt, cfg.Backend)
	assert.Equal(t, "/tmp/m.db", cfg.BoltPath)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
	assert.True(t, cfg.Features.EraseOnAccountDelete)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without DB_SOURCE", map[string]string{}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "mysql"}},
		{"bad AUTO_MIGRATE", map[string]string{"DB_SOURCE": "x", "AUTO_MIGRATE": "sometimes"}},
		{"bad REQUEST_TIMEOUT", map[string]string{"DB_SOURCE": "x", "REQUEST_TIMEOUT": "soon"}},
		{"bad LOCK_TTL", map[string]string{"DB_SOURCE": "x", "LOCK_TTL": "10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
