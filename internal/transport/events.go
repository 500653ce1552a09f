package transport

import (
	"encoding/json"
	"sync"

	"dmp-portal-client/pkg/metrics"
)

// Event names the typed push events exchanged with the server. Lifecycle
// events (connect, disconnect, connect_error) are emitted locally by the
// connection manager and never travel on the wire.
type Event string

const (
	EventConnect      Event = "connect"
	EventDisconnect   Event = "disconnect"
	EventConnectError Event = "connect_error"

	EventJoinConversation  Event = "join_conversation"
	EventLeaveConversation Event = "leave_conversation"
	EventMessageSent       Event = "message_sent"
	EventNewMessage        Event = "new_message"
	EventIncomingCall      Event = "incoming_call"
	EventSessionCreated    Event = "webrtc:session_created"
	EventSessionEnded      Event = "webrtc:session_ended"
	EventWebRTCError       Event = "webrtc:error"
	EventUserPresence      Event = "user_presence"
)

// Envelope is the wire frame of the push transport.
type Envelope struct {
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler consumes a push event payload. Handlers for the same event run
// in registration order on the dispatch goroutine.
type Handler func(payload json.RawMessage)

type subscription struct {
	id      uint64
	handler Handler
}

// dispatcher routes envelopes to subscribed handlers.
type dispatcher struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Event][]subscription
}

func newDispatcher() *dispatcher {
	return &dispatcher{subs: make(map[Event][]subscription)}
}

// subscribe registers a handler and returns its cancel function.
// Registration is additive.
func (d *dispatcher) subscribe(event Event, h Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[event] = append(d.subs[event], subscription{id: id, handler: h})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.subs[event]
		for i, s := range subs {
			if s.id == id {
				d.subs[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// dispatch invokes every handler registered for the event, in order.
func (d *dispatcher) dispatch(event Event, payload json.RawMessage) {
	d.mu.RLock()
	subs := d.subs[event]
	d.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	metrics.EventsDispatchedTotal.WithLabelValues(string(event)).Inc()
	for _, s := range subs {
		s.handler(payload)
	}
}
