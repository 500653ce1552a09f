package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"dmp-portal-client/pkg/constants"
	apperrors "dmp-portal-client/pkg/errors"
)

// TokenProvider supplies the bearer token for request/response calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Requester is the generic request channel consumed by the conversation
// store, the call orchestrator, and the notification poller.
type Requester interface {
	// Do issues a request and decodes the envelope's data field into out
	// (out may be nil). A caller-side timeout applies when ctx has no
	// deadline of its own, so calls surface RequestFailed instead of
	// hanging indefinitely.
	Do(ctx context.Context, method, path string, body, out interface{}) error
}

// envelope is the server's uniform response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *envelopeError  `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client implements Requester over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenProvider
}

// NewClient creates a request client against baseURL. The bearer token is
// fetched per call so reconnects pick up re-resolved credentials.
func NewClient(baseURL string, tokens TokenProvider) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		tokens:  tokens,
	}
}

// Do implements Requester.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, constants.RequestTimeout)
		defer cancel()
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInvalidInput, "encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInvalidInput, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.RequestFailedError(0, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.RateLimitedError()
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.RequestFailedError(resp.StatusCode, "read response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.RequestFailedError(resp.StatusCode,
			fmt.Sprintf("%s %s: HTTP %d", method, path, resp.StatusCode), nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return apperrors.RequestFailedError(resp.StatusCode, "decode response envelope", err)
	}
	if !env.Success {
		msg := "request rejected"
		if env.Error != nil {
			msg = env.Error.Message
		}
		return apperrors.RequestFailedError(resp.StatusCode, msg, nil)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return apperrors.RequestFailedError(resp.StatusCode, "decode response data", err)
		}
	}
	return nil
}
