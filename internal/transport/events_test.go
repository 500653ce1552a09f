package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatchOrder(t *testing.T) {
	d := newDispatcher()

	var got []string
	d.subscribe(EventNewMessage, func(json.RawMessage) { got = append(got, "first") })
	d.subscribe(EventNewMessage, func(json.RawMessage) { got = append(got, "second") })

	d.dispatch(EventNewMessage, nil)

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestDispatchPayload(t *testing.T) {
	d := newDispatcher()

	var got json.RawMessage
	d.subscribe(EventIncomingCall, func(payload json.RawMessage) { got = payload })

	d.dispatch(EventIncomingCall, json.RawMessage(`{"session_id":5}`))

	assert.JSONEq(t, `{"session_id":5}`, string(got))
}

func TestUnsubscribe(t *testing.T) {
	d := newDispatcher()

	calls := 0
	cancel := d.subscribe(EventNewMessage, func(json.RawMessage) { calls++ })
	kept := 0
	d.subscribe(EventNewMessage, func(json.RawMessage) { kept++ })

	d.dispatch(EventNewMessage, nil)
	cancel()
	cancel() // second cancel is harmless
	d.dispatch(EventNewMessage, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, kept)
}

func TestDispatchUnknownEvent(t *testing.T) {
	d := newDispatcher()
	assert.NotPanics(t, func() {
		d.dispatch(Event("nobody_listens"), nil)
	})
}
