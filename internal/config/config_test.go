package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")

	cfg, err := parse()
	require.NoError(t, err)

	assert.Equal(t, uint16(8085), cfg.HttpServerPort)
	assert.Equal(t, time.Minute, cfg.WsSweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.WsInactivityThreshold)
	assert.Equal(t, 64, cfg.WsSendBuffer)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CorsAllowedOrigins)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParseRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := parse()
	require.Error(t, err)
}

func TestParseRejectsBadLogLevel(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("LOG_LEVEL", "chatty")

	_, err := parse()
	require.Error(t, err)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("WS_SWEEP_INTERVAL", "15s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("REDIS_ENABLED", "false")

	cfg, err := parse()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.WsSweepInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CorsAllowedOrigins)
	assert.False(t, cfg.RedisEnabled)
}
