package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dmp-portal-client/pkg/constants"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "http://localhost:3000", cfg.BaseURL)
	assert.Equal(t, "127.0.0.1:8091", cfg.StatusAddr)
	assert.Equal(t, constants.DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, constants.DefaultMaxRetries, cfg.MaxRetries)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORTAL_BASE_URL", "https://dmp.example/")
	t.Setenv("PORTAL_POLL_INTERVAL", "45s")

	cfg := Load()

	assert.Equal(t, "https://dmp.example", cfg.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.PollInterval)
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:3000", "ws://localhost:3000/ws"},
		{"https://dmp.example", "wss://dmp.example/ws"},
	}
	for _, tt := range tests {
		cfg := &Config{BaseURL: tt.base}
		assert.Equal(t, tt.want, cfg.WebSocketURL())
	}
}
