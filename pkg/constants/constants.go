// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// RequestTimeout is the caller-side timeout applied to request/response calls
	RequestTimeout = 15 * time.Second

	// DialTimeout is the timeout for opening the push-transport connection
	DialTimeout = 10 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WriteTimeout is the per-frame write deadline on the push transport
	WriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful agent shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Reconnect constants
const (
	// RedialInitialInterval is the first wait of the transport redial policy
	RedialInitialInterval = 2 * time.Second

	// RedialMaxInterval caps the transport redial backoff
	RedialMaxInterval = 30 * time.Second
)

// Notification poller constants
const (
	// DefaultPollInterval is the default spacing between notification fetches
	DefaultPollInterval = 30 * time.Second

	// MinFetchSpacing is the hard floor between two fetches, whatever the
	// configured interval says
	MinFetchSpacing = 5 * time.Second

	// DefaultMaxRetries bounds retries of a failed fetch
	DefaultMaxRetries = 3

	// RetryDelay is the wait before retrying a failed fetch
	RetryDelay = 10 * time.Second
)

// Pagination constants
const (
	// DefaultPageSize is the default number of messages per page
	DefaultPageSize = 50

	// MaxPageSize is the maximum number of messages per page
	MaxPageSize = 100
)

// Message constants
const (
	// MaxMessageLength is the maximum allowed message length
	MaxMessageLength = 10000

	// ReconcileWindow is the time window within which a pending message is
	// matched against a server confirmation or push echo
	ReconcileWindow = 30 * time.Second
)
