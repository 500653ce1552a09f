package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"dmp-portal-client/internal/domain"
	"dmp-portal-client/pkg/constants"
	apperrors "dmp-portal-client/pkg/errors"
)

// pollTimeout exceeds the default request timeout so the server can hold
// the poll open before answering.
const pollTimeout = 35 * time.Second

// pollQuietWait spaces out empty polls so an idle client does not spin.
const pollQuietWait = time.Second

type staticToken string

func (t staticToken) Token(_ context.Context) (string, error) { return string(t), nil }

// pollBatch is the server's long-poll response.
type pollBatch struct {
	Cursor int64      `json:"cursor"`
	Events []Envelope `json:"events"`
}

// pollingConn emulates the push transport over HTTP long polling. Reads
// drain a buffered batch before issuing the next poll; writes post the
// envelope to the publish endpoint.
type pollingConn struct {
	client *Client
	ctx    context.Context
	cancel context.CancelFunc

	cursor int64
	queue  [][]byte
}

func (c *pollingConn) Name() string { return "polling" }

func (c *pollingConn) ReadMessage() ([]byte, error) {
	for {
		if len(c.queue) > 0 {
			frame := c.queue[0]
			c.queue = c.queue[1:]
			return frame, nil
		}
		if err := c.ctx.Err(); err != nil {
			return nil, err
		}

		pollCtx, cancel := context.WithTimeout(c.ctx, pollTimeout)
		var batch pollBatch
		err := c.client.Do(pollCtx, http.MethodGet,
			"/api/messaging/events/poll?cursor="+formatCursor(c.cursor), nil, &batch)
		cancel()
		if err != nil {
			if apperrors.IsCode(err, apperrors.ErrCodeRateLimited) {
				if !c.wait(pollQuietWait * 5) {
					return nil, c.ctx.Err()
				}
				continue
			}
			return nil, err
		}

		c.cursor = batch.Cursor
		for _, env := range batch.Events {
			frame, err := json.Marshal(env)
			if err != nil {
				continue
			}
			c.queue = append(c.queue, frame)
		}
		if len(c.queue) == 0 && !c.wait(pollQuietWait) {
			return nil, c.ctx.Err()
		}
	}
}

func (c *pollingConn) wait(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *pollingConn) WriteMessage(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInvalidInput, "malformed publish frame", err)
	}
	return c.client.Do(c.ctx, http.MethodPost, "/api/messaging/events/publish", env, nil)
}

// Ping is a no-op; liveness on the polling leg comes from the poll loop.
func (c *pollingConn) Ping() error { return c.ctx.Err() }

func (c *pollingConn) Close() error {
	c.cancel()
	return nil
}

// dialPolling verifies the publish endpoint is reachable with the given
// identity and returns the polling connection.
func dialPolling(ctx context.Context, baseURL string, identity *domain.Identity) (Conn, error) {
	client := NewClient(baseURL, staticToken(identity.Token))

	probeCtx, cancel := context.WithTimeout(ctx, constants.DialTimeout)
	defer cancel()
	var batch pollBatch
	if err := client.Do(probeCtx, http.MethodGet,
		"/api/messaging/events/poll?cursor=0&probe=1", nil, &batch); err != nil {
		return nil, err
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	conn := &pollingConn{
		client: client,
		ctx:    connCtx,
		cancel: connCancel,
		cursor: batch.Cursor,
	}
	for _, env := range batch.Events {
		frame, err := json.Marshal(env)
		if err != nil {
			continue
		}
		conn.queue = append(conn.queue, frame)
	}
	return conn, nil
}

func formatCursor(cursor int64) string {
	return strconv.FormatInt(cursor, 10)
}
