package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmp-portal-client/internal/domain"
	"dmp-portal-client/internal/transport"
	apperrors "dmp-portal-client/pkg/errors"
)

type apiCall struct {
	method string
	path   string
	body   interface{}
}

// fakeAPI records every request and answers through a configurable
// respond function.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	respond func(method, path string, body, out interface{}) error
}

func (f *fakeAPI) Do(_ context.Context, method, path string, body, out interface{}) error {
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, path: path, body: body})
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(method, path, body, out)
	}
	return nil
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) lastCall() apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// fakeBus captures publishes and lets tests push events at the store.
type fakeBus struct {
	mu        sync.Mutex
	published []transport.Event
	handlers  map[transport.Event][]transport.Handler
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[transport.Event][]transport.Handler)}
}

func (b *fakeBus) Publish(event transport.Event, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *fakeBus) Subscribe(event transport.Event, h transport.Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], h)
	return func() {}
}

func (b *fakeBus) emit(t *testing.T, event transport.Event, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	b.mu.Lock()
	handlers := b.handlers[event]
	b.mu.Unlock()
	for _, h := range handlers {
		h(raw)
	}
}

func (b *fakeBus) publishedEvents() []transport.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]transport.Event(nil), b.published...)
}

func patientIdentity() *domain.Identity {
	return &domain.Identity{ID: 7, Role: domain.RolePatient, Token: "t"}
}

func newTestStore(api *fakeAPI, bus *fakeBus) *Store {
	store := NewStore(api, bus, patientIdentity)
	store.Start()
	return store
}

func TestSendMessageConfirmsPending(t *testing.T) {
	now := time.Now()
	api := &fakeAPI{respond: func(method, path string, _, out interface{}) error {
		*(out.(*domain.Message)) = domain.Message{
			ID:       101,
			SenderID: 7,
			Content:  "hello",
			Kind:     domain.MessageText,
			SentAt:   now,
		}
		return nil
	}}
	bus := newFakeBus()
	store := newTestStore(api, bus)
	defer store.Close()

	sent, err := store.SendMessage(context.Background(), 1, domain.MessageCreate{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(101), sent.ID)
	assert.Equal(t, domain.DeliveryConfirmed, sent.DeliveryState)

	cached := store.Cached(1)
	require.Len(t, cached, 1)
	assert.Equal(t, int64(101), cached[0].ID)
	assert.Equal(t, domain.DeliveryConfirmed, cached[0].DeliveryState)
	assert.NotEqual(t, "", cached[0].LocalID.String())
}

func TestSendMessagePushEchoIsIdempotent(t *testing.T) {
	// The same send is confirmed twice: once by the response, once by the
	// push echo. Exactly one message must remain.
	now := time.Now()
	confirmed := domain.Message{
		ID:             101,
		ConversationID: 1,
		SenderID:       7,
		Content:        "hello",
		Kind:           domain.MessageText,
		SentAt:         now,
	}
	api := &fakeAPI{respond: func(_, _ string, _, out interface{}) error {
		*(out.(*domain.Message)) = confirmed
		return nil
	}}
	bus := newFakeBus()
	store := newTestStore(api, bus)
	defer store.Close()

	_, err := store.SendMessage(context.Background(), 1, domain.MessageCreate{Content: "hello"})
	require.NoError(t, err)

	bus.emit(t, transport.EventMessageSent, confirmed)
	bus.emit(t, transport.EventMessageSent, confirmed) // duplicate echo

	cached := store.Cached(1)
	require.Len(t, cached, 1)
	assert.Equal(t, int64(101), cached[0].ID)
	assert.Equal(t, domain.DeliveryConfirmed, cached[0].DeliveryState)
}

func TestPushMessagesMergeInSendOrder(t *testing.T) {
	base := time.Now()
	bus := newFakeBus()
	store := newTestStore(&fakeAPI{}, bus)
	defer store.Close()

	store.Join(1)

	// Later message arrives first.
	bus.emit(t, transport.EventNewMessage, domain.Message{
		ID: 2, ConversationID: 1, SenderID: 79, Content: "second", SentAt: base.Add(10 * time.Second),
	})
	bus.emit(t, transport.EventNewMessage, domain.Message{
		ID: 1, ConversationID: 1, SenderID: 79, Content: "first", SentAt: base.Add(5 * time.Second),
	})

	cached := store.Cached(1)
	require.Len(t, cached, 2)
	assert.Equal(t, "first", cached[0].Content)
	assert.Equal(t, "second", cached[1].Content)
}

func TestPushDroppedForUnjoinedConversation(t *testing.T) {
	bus := newFakeBus()
	store := newTestStore(&fakeAPI{}, bus)
	defer store.Close()

	bus.emit(t, transport.EventNewMessage, domain.Message{
		ID: 9, ConversationID: 99, SenderID: 79, Content: "stray", SentAt: time.Now(),
	})

	assert.Empty(t, store.Cached(99))
}

func TestCreateConversation(t *testing.T) {
	api := &fakeAPI{respond: func(_, _ string, body, out interface{}) error {
		create := body.(domain.ConversationCreate)
		assert.Equal(t, domain.ConversationPatientProfessional, create.Kind)
		*(out.(*domain.Conversation)) = domain.Conversation{
			ID:             314,
			ParticipantIDs: [2]int64{create.ParticipantA, create.ParticipantB},
			Kind:           create.Kind,
		}
		return nil
	}}
	bus := newFakeBus()
	store := newTestStore(api, bus)
	defer store.Close()

	// The hyphenated UI spelling of the kind is accepted.
	conversation, err := store.CreateConversation(context.Background(), domain.ConversationCreate{
		ParticipantA: 7,
		ParticipantB: 79,
		Kind:         "patient-medecin",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(314), conversation.ID)
	assert.Contains(t, bus.publishedEvents(), transport.EventJoinConversation)
}

func TestCreateConversationRejectsBadInput(t *testing.T) {
	api := &fakeAPI{}
	store := newTestStore(api, newFakeBus())
	defer store.Close()

	_, err := store.CreateConversation(context.Background(), domain.ConversationCreate{
		ParticipantA: 7, ParticipantB: 79, Kind: "smoke-signals",
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	_, err = store.CreateConversation(context.Background(), domain.ConversationCreate{
		ParticipantA: 7, Kind: domain.ConversationPatientProfessional,
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	assert.Zero(t, api.callCount())
}

func TestMessagesPagination(t *testing.T) {
	api := &fakeAPI{}
	store := newTestStore(api, newFakeBus())
	defer store.Close()

	_, err := store.Messages(context.Background(), 1, 0, 50)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
	assert.Zero(t, api.callCount())

	_, err = store.Messages(context.Background(), 1, 2, 500)
	require.NoError(t, err)
	assert.True(t, strings.Contains(api.lastCall().path, "limit=100"))
	assert.True(t, strings.Contains(api.lastCall().path, "offset=100"))
}

func TestSendMessageValidation(t *testing.T) {
	api := &fakeAPI{}
	store := newTestStore(api, newFakeBus())
	defer store.Close()

	_, err := store.SendMessage(context.Background(), 1, domain.MessageCreate{Content: "   "})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	_, err = store.SendMessage(context.Background(), 1, domain.MessageCreate{
		Content: "x", Kind: "carrier-pigeon",
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	assert.Zero(t, api.callCount())
}

func TestSendMessageWithoutIdentity(t *testing.T) {
	store := NewStore(&fakeAPI{}, newFakeBus(), func() *domain.Identity { return nil })

	_, err := store.SendMessage(context.Background(), 1, domain.MessageCreate{Content: "x"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAuthenticated))
}

func TestMarkMessageRead(t *testing.T) {
	api := &fakeAPI{respond: func(method, path string, _, out interface{}) error {
		if out != nil {
			if list, ok := out.(*[]domain.Conversation); ok {
				*list = []domain.Conversation{{ID: 1, UnreadCount: 2}}
			}
		}
		return nil
	}}
	bus := newFakeBus()
	store := newTestStore(api, bus)
	defer store.Close()

	_, err := store.ListConversations(context.Background())
	require.NoError(t, err)

	store.Join(1)
	bus.emit(t, transport.EventNewMessage, domain.Message{
		ID: 5, ConversationID: 1, SenderID: 79, Content: "unread", SentAt: time.Now(),
	})

	require.NoError(t, store.MarkMessageRead(context.Background(), 5))

	unread := store.UnreadConversations()
	require.Len(t, unread, 1)
	assert.Equal(t, 1, unread[0].UnreadCount)

	cached := store.Cached(1)
	require.Len(t, cached, 1)
	assert.Equal(t, true, cached[0].Metadata["read"])
}

func TestLeaveStopsDelivery(t *testing.T) {
	bus := newFakeBus()
	store := newTestStore(&fakeAPI{}, bus)
	defer store.Close()

	store.Join(1)
	store.Leave(1)

	bus.emit(t, transport.EventNewMessage, domain.Message{
		ID: 3, ConversationID: 1, SenderID: 79, Content: "late", SentAt: time.Now(),
	})

	assert.Empty(t, store.Cached(1))
	assert.Contains(t, bus.publishedEvents(), transport.EventLeaveConversation)
}
