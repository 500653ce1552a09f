// Package transport owns the single push-transport connection of the
// process. It resolves credentials, negotiates the underlying transport
// (websocket first, HTTP polling as fallback), exposes publish/subscribe
// primitives, and redials transparently when the connection drops.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"dmp-portal-client/internal/domain"
	"dmp-portal-client/pkg/constants"
	apperrors "dmp-portal-client/pkg/errors"
	"dmp-portal-client/pkg/logger"
	"dmp-portal-client/pkg/metrics"
)

// CredentialResolver yields the identity used to authenticate the
// connection. Re-invoked on every (re)connect attempt.
type CredentialResolver interface {
	Resolve(ctx context.Context) (*domain.Identity, error)
}

// Conn is one negotiated transport connection.
type Conn interface {
	Name() string
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	Close() error
}

// DialFunc negotiates a transport connection for an identity.
type DialFunc func(ctx context.Context, identity *domain.Identity) (Conn, error)

// Handle is the process's single live connection. Callers compare handles
// by identity: Connect without an intervening Close returns the same one.
type Handle struct {
	conn     Conn
	identity *domain.Identity
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

// Identity returns the identity the connection was authenticated with.
func (h *Handle) Identity() *domain.Identity { return h.identity }

func (h *Handle) close() {
	h.once.Do(func() {
		close(h.done)
		h.conn.Close()
	})
}

func (h *Handle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Manager owns at most one connection handle per process.
type Manager struct {
	resolver CredentialResolver
	dial     DialFunc
	events   *dispatcher

	mu     sync.Mutex
	handle *Handle
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a connection manager. dial is negotiated transport
// creation; use NewDialer for the production websocket-then-polling chain.
func NewManager(resolver CredentialResolver, dial DialFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		resolver: resolver,
		dial:     dial,
		events:   newDispatcher(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect opens the push connection, or returns the existing handle
// unchanged when one is already live. Credentials are resolved per
// attempt; without a resolvable credential no connection is attempted.
func (m *Manager) Connect(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	if m.handle != nil && !m.handle.closed() {
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}
	h, err := m.connectLocked(ctx)
	m.mu.Unlock()

	// Lifecycle events dispatch outside the lock so handlers may call
	// back into the manager.
	if err != nil {
		if !apperrors.IsCode(err, apperrors.ErrCodeNotAuthenticated) {
			m.events.dispatch(EventConnectError, errorPayload(err))
		}
		return nil, err
	}
	m.events.dispatch(EventConnect, nil)
	m.announcePresence(h)
	return h, nil
}

// connectLocked dials a fresh connection. Caller holds m.mu and owns
// dispatching the resulting lifecycle event.
func (m *Manager) connectLocked(ctx context.Context) (*Handle, error) {
	identity, err := m.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := m.dial(ctx, identity)
	if err != nil {
		metrics.TransportConnectsTotal.WithLabelValues("none", "error").Inc()
		return nil, apperrors.Wrap(apperrors.ErrCodeRequestFailed, "transport negotiation failed", err)
	}

	h := &Handle{
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	m.handle = h

	go m.readPump(h)
	go m.writePump(h)

	metrics.TransportConnectsTotal.WithLabelValues(conn.Name(), "success").Inc()
	metrics.TransportConnected.Set(1)
	logger.Info("push transport connected",
		zap.String("transport", conn.Name()),
		zap.Int64("user_id", identity.ID),
		zap.String("role", string(identity.Role)))
	return h, nil
}

// announcePresence tells the server who this connection belongs to.
func (m *Manager) announcePresence(h *Handle) {
	payload, _ := json.Marshal(map[string]interface{}{
		"user_id": h.identity.ID,
		"role":    h.identity.Role,
		"status":  "online",
	})
	m.enqueue(h, EventUserPresence, payload)
}

// Publish sends an event on the connection. Fire-and-forget: with no open
// handle the event is logged and dropped; callers needing a guarantee
// must check Connected first.
func (m *Manager) Publish(event Event, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("publish payload not serializable",
			zap.String("event", string(event)),
			zap.Error(err))
		return
	}

	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()

	if h == nil || h.closed() {
		metrics.EventsPublishedTotal.WithLabelValues(string(event), "dropped").Inc()
		logger.Warn("publish dropped",
			zap.Error(apperrors.ConnectionUnavailableError(string(event))))
		return
	}
	m.enqueue(h, event, raw)
}

func (m *Manager) enqueue(h *Handle, event Event, payload json.RawMessage) {
	frame, _ := json.Marshal(Envelope{Event: event, Payload: payload})
	select {
	case h.send <- frame:
		metrics.EventsPublishedTotal.WithLabelValues(string(event), "sent").Inc()
	default:
		metrics.EventsPublishedTotal.WithLabelValues(string(event), "dropped").Inc()
		logger.Warn("publish dropped, send buffer full",
			zap.String("event", string(event)))
	}
}

// Subscribe registers a handler for an event and returns its cancel
// function. Multiple handlers for one event run in registration order.
func (m *Manager) Subscribe(event Event, h Handler) func() {
	return m.events.subscribe(event, h)
}

// Connected reports whether a live handle exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil && !m.handle.closed()
}

// Identity returns the identity of the live connection, or nil.
func (m *Manager) Identity() *domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil || m.handle.closed() {
		return nil
	}
	return m.handle.identity
}

// Close tears down the handle and clears it; a subsequent Connect opens a
// fresh connection. Stops any in-flight redial loop without retiring the
// manager: the lifecycle context is replaced so the next connection gets
// its own redial budget.
func (m *Manager) Close() {
	m.mu.Lock()
	h := m.handle
	m.handle = nil
	cancel := m.cancel
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	cancel()
	if h != nil {
		h.close()
		metrics.TransportConnected.Set(0)
		m.events.dispatch(EventDisconnect, nil)
	}
}

// lifecycle returns the context governing the current redial generation.
func (m *Manager) lifecycle() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// readPump applies incoming envelopes in arrival order, then triggers the
// redial loop when the connection drops without an explicit Close.
func (m *Manager) readPump(h *Handle) {
	for {
		data, err := h.conn.ReadMessage()
		if err != nil {
			if h.closed() {
				return
			}
			logger.Warn("push transport dropped", zap.Error(err))
			h.close()
			metrics.TransportConnected.Set(0)
			m.events.dispatch(EventDisconnect, nil)
			go m.redial()
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("invalid push frame", zap.Error(err))
			continue
		}
		m.events.dispatch(env.Event, env.Payload)
	}
}

func (m *Manager) writePump(h *Handle) {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		h.close()
	}()

	for {
		select {
		case <-h.done:
			return
		case frame := <-h.send:
			if err := h.conn.WriteMessage(frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := h.conn.Ping(); err != nil {
				return
			}
		}
	}
}

// redial re-opens the connection with exponential backoff, re-resolving
// credentials on every attempt. A NotAuthenticated result stops the loop;
// the user has to sign in again before anything can reconnect.
func (m *Manager) redial() {
	ctx := m.lifecycle()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = constants.RedialInitialInterval
	bo.MaxInterval = constants.RedialMaxInterval
	bo.MaxElapsedTime = 0

	operation := func() error {
		m.mu.Lock()
		if m.handle != nil && !m.handle.closed() {
			m.mu.Unlock()
			return nil
		}
		h, err := m.connectLocked(ctx)
		m.mu.Unlock()

		if err != nil {
			if apperrors.IsCode(err, apperrors.ErrCodeNotAuthenticated) {
				return backoff.Permanent(err)
			}
			m.events.dispatch(EventConnectError, errorPayload(err))
			return err
		}
		m.events.dispatch(EventConnect, nil)
		m.announcePresence(h)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.TransportReconnectsTotal.Inc()
		logger.Info("redialing push transport",
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		logger.Error("push transport redial abandoned", zap.Error(err))
	}
}

func errorPayload(err error) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return raw
}
