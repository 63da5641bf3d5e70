package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, 25*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.NATSURL)
	assert.False(t, cfg.UseMemoryStore())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	t.Setenv("UNREAD_PORT", "9000")
	t.Setenv("UNREAD_DATABASE_DSN", "memory://")
	t.Setenv("UNREAD_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("UNREAD_CACHE_TTL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.UseMemoryStore())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	t.Setenv("UNREAD_HEARTBEAT_INTERVAL", "soon")
	_, err := Load()
	assert.Error(t, err)
}
