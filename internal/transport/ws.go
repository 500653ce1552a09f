package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dmp-portal-client/internal/domain"
	"dmp-portal-client/pkg/constants"
	"dmp-portal-client/pkg/logger"
)

// pongWait must exceed the ping interval or healthy connections get
// reaped between pings.
const pongWait = constants.WebSocketPingInterval + constants.WriteTimeout

// wsConn adapts a gorilla websocket connection to the Conn interface.
type wsConn struct {
	conn *websocket.Conn

	// gorilla allows one concurrent writer; Ping and WriteMessage can
	// race when the write pump is mid-frame.
	writeMu sync.Mutex
}

func (c *wsConn) Name() string { return "websocket" }

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil,
		time.Now().Add(constants.WriteTimeout))
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(constants.WriteTimeout))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// dialWebSocket opens the websocket leg of the push transport. The token
// goes in the Authorization header, same as request/response calls.
func dialWebSocket(ctx context.Context, wsURL string, identity *domain.Identity) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: constants.DialTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+identity.Token)

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &wsConn{conn: conn}, nil
}

// NewDialer builds the production negotiation chain: websocket first,
// HTTP polling when the websocket handshake fails. baseURL is the HTTP
// origin, wsURL the derived websocket endpoint.
func NewDialer(baseURL, wsURL string) DialFunc {
	return func(ctx context.Context, identity *domain.Identity) (Conn, error) {
		conn, err := dialWebSocket(ctx, wsURL, identity)
		if err == nil {
			return conn, nil
		}
		logger.Warn("websocket handshake failed, falling back to polling",
			zap.String("url", wsURL),
			zap.Error(err))
		return dialPolling(ctx, baseURL, identity)
	}
}
