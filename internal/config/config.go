package config

import (
	"strings"
	"time"

	"dmp-portal-client/pkg/constants"
	"dmp-portal-client/pkg/env"
)

// Config holds the agent configuration, read from the environment.
type Config struct {
	// BaseURL is the single configurable endpoint for both the request
	// channel and the push transport.
	BaseURL string

	// StatePath is the sqlite file holding cached identity records and
	// the remembered conference link.
	StatePath string

	// StatusAddr is the listen address of the local status API.
	StatusAddr string

	PollInterval time.Duration
	MaxRetries   int

	LogLevel  string
	LogFormat string
}

// Load reads the configuration from environment variables.
func Load() *Config {
	return &Config{
		BaseURL:      strings.TrimRight(env.GetString("PORTAL_BASE_URL", "http://localhost:3000"), "/"),
		StatePath:    env.GetString("PORTAL_STATE_PATH", "portal-agent.db"),
		StatusAddr:   env.GetString("PORTAL_STATUS_ADDR", "127.0.0.1:8091"),
		PollInterval: env.GetDuration("PORTAL_POLL_INTERVAL", constants.DefaultPollInterval),
		MaxRetries:   env.GetInt("PORTAL_POLL_MAX_RETRIES", constants.DefaultMaxRetries),
		LogLevel:     env.GetString("LOG_LEVEL", "info"),
		LogFormat:    env.GetString("LOG_FORMAT", "json"),
	}
}

// WebSocketURL derives the push-transport endpoint from the base URL.
func (c *Config) WebSocketURL() string {
	url := c.BaseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws"
}
