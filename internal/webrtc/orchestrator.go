// Package webrtc orchestrates call sessions: a per-conversation state
// machine over the signaling API, with conference-link validation, media
// acquisition, and ICE candidate relay.
package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"dmp-portal-client/internal/domain"
	"dmp-portal-client/internal/localstate"
	"dmp-portal-client/internal/transport"
	apperrors "dmp-portal-client/pkg/errors"
	"dmp-portal-client/pkg/logger"
	"dmp-portal-client/pkg/metrics"
)

// PushBus is the slice of the connection manager the orchestrator needs.
type PushBus interface {
	Publish(event transport.Event, payload interface{})
	Subscribe(event transport.Event, h transport.Handler) func()
}

// IncomingHandler is invoked for each incoming_call push that does not
// collide with an active session.
type IncomingHandler func(call domain.IncomingCall)

type sessionCreate struct {
	ConversationID int64  `json:"conversation_id"`
	Kind           string `json:"session_type"`
	ConferenceLink string `json:"conference_link,omitempty"`
	SDPOffer       string `json:"sdp_offer,omitempty"`
}

type sessionAnswer struct {
	SDPAnswer string `json:"sdp_answer,omitempty"`
}

// Orchestrator owns at most one non-terminal session per conversation.
type Orchestrator struct {
	api     transport.Requester
	bus     PushBus
	devices MediaDevices
	state   *localstate.Store
	baseURL string
	now     func() time.Time

	mu         sync.Mutex
	sessions   map[int64]*domain.CallSession
	pendingICE map[int64][]domain.ICECandidate
	releases   map[int64]func()
	onIncoming IncomingHandler
	cancels    []func()
}

// NewOrchestrator creates a call orchestrator. state may persist the last
// generated conference link between runs; devices may be NoopDevices.
func NewOrchestrator(api transport.Requester, bus PushBus, devices MediaDevices, state *localstate.Store, baseURL string) *Orchestrator {
	return &Orchestrator{
		api:        api,
		bus:        bus,
		devices:    devices,
		state:      state,
		baseURL:    baseURL,
		now:        time.Now,
		sessions:   make(map[int64]*domain.CallSession),
		pendingICE: make(map[int64][]domain.ICECandidate),
		releases:   make(map[int64]func()),
	}
}

// Start subscribes the orchestrator to call-related push events.
func (o *Orchestrator) Start() {
	o.cancels = append(o.cancels,
		o.bus.Subscribe(transport.EventIncomingCall, o.onIncomingCall),
		o.bus.Subscribe(transport.EventSessionEnded, o.onSessionEnded),
		o.bus.Subscribe(transport.EventWebRTCError, o.onWebRTCError),
	)
}

// Close detaches from the push bus and releases held media.
func (o *Orchestrator) Close() {
	for _, cancel := range o.cancels {
		cancel()
	}
	o.cancels = nil

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, release := range o.releases {
		release()
		delete(o.releases, id)
	}
}

// SetIncomingHandler registers the incoming-call presenter.
func (o *Orchestrator) SetIncomingHandler(h IncomingHandler) {
	o.mu.Lock()
	o.onIncoming = h
	o.mu.Unlock()
}

// Session returns the tracked session for a conversation, or nil.
func (o *Orchestrator) Session(conversationID int64) *domain.CallSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[conversationID]; ok {
		copied := *s
		return &copied
	}
	return nil
}

// CreateSession starts an outgoing call in a conversation. A second
// create while a non-terminal session exists is rejected locally, before
// any request goes out. With wantConferenceLink a join link is generated
// and remembered so a restarted agent can rejoin; a link coming back
// from the server is only trusted after passing the local validator.
func (o *Orchestrator) CreateSession(ctx context.Context, conversationID int64, kind, sdpOffer string, wantConferenceLink bool) (*domain.CallSession, error) {
	if err := validateKind(kind); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if existing, ok := o.sessions[conversationID]; ok && !existing.State.Terminal() {
		o.mu.Unlock()
		return nil, apperrors.SessionStateError(fmt.Sprintf(
			"conversation %d already has a session in state %s", conversationID, existing.State))
	}
	placeholder := &domain.CallSession{
		ConversationID: conversationID,
		Kind:           kind,
		State:          domain.SessionCreating,
		CreatedAt:      o.now(),
	}
	o.sessions[conversationID] = placeholder
	o.mu.Unlock()

	release, err := o.devices.Acquire(ctx, kind)
	if err != nil {
		o.transition(conversationID, domain.SessionErrored)
		return nil, apperrors.MediaAccessDeniedError(err)
	}

	var link string
	if wantConferenceLink {
		link = NewConferenceLink(o.baseURL)
	}

	var session domain.CallSession
	err = o.api.Do(ctx, http.MethodPost, "/api/messaging/webrtc/sessions", sessionCreate{
		ConversationID: conversationID,
		Kind:           kind,
		ConferenceLink: link,
		SDPOffer:       sdpOffer,
	}, &session)
	if err != nil {
		release()
		o.mu.Lock()
		delete(o.sessions, conversationID)
		o.mu.Unlock()
		return nil, err
	}

	session.ConversationID = conversationID
	session.Kind = kind
	session.State = domain.SessionOffered
	if session.ConferenceLink != "" {
		if err := ValidateConferenceLink(session.ConferenceLink); err != nil {
			logger.Warn("server returned invalid conference link, discarding",
				zap.String("link", session.ConferenceLink),
				zap.Error(err))
			session.ConferenceLink = ""
		}
	}
	if session.ConferenceLink == "" {
		session.ConferenceLink = link
	}
	if session.ConferenceLink != "" && o.state != nil {
		if err := o.state.SetLastConferenceLink(session.ConferenceLink); err != nil {
			logger.Warn("could not persist conference link", zap.Error(err))
		}
	}

	o.mu.Lock()
	o.sessions[conversationID] = &session
	o.releases[session.ID] = release
	queued := o.pendingICE[conversationID]
	delete(o.pendingICE, conversationID)
	o.mu.Unlock()

	metrics.CallSessionsTotal.WithLabelValues(string(domain.SessionOffered)).Inc()
	metrics.CallSessionsActive.Inc()
	logger.Info("call session created",
		zap.Int64("session_id", session.ID),
		zap.Int64("conversation_id", conversationID),
		zap.String("kind", kind))

	o.flushCandidates(ctx, session.ID, queued)
	copied := session
	return &copied, nil
}

// AcceptIncoming registers an incoming call and answers it. The pushed
// conference link, when present, is validated before anything joins it.
func (o *Orchestrator) AcceptIncoming(ctx context.Context, call domain.IncomingCall, sdpAnswer string) (*domain.CallSession, error) {
	if call.ConferenceLink != "" {
		if err := ValidateConferenceLink(call.ConferenceLink); err != nil {
			return nil, err
		}
	}

	o.mu.Lock()
	if existing, ok := o.sessions[call.ConversationID]; ok && !existing.State.Terminal() && existing.ID != call.SessionID {
		o.mu.Unlock()
		return nil, apperrors.SessionStateError(fmt.Sprintf(
			"conversation %d already has a session in state %s", call.ConversationID, existing.State))
	}
	o.sessions[call.ConversationID] = &domain.CallSession{
		ID:             call.SessionID,
		ConversationID: call.ConversationID,
		Kind:           call.Kind,
		State:          domain.SessionOffered,
		ConferenceLink: call.ConferenceLink,
		SDPOffer:       call.SDPOffer,
		CreatedAt:      o.now(),
	}
	o.mu.Unlock()

	return o.AnswerSession(ctx, call.SessionID, sdpAnswer, "")
}

// AnswerSession answers an offered session with the local SDP answer.
// conferenceLink, when given, replaces the session's link and must pass
// validation before the answer request goes out. A media refusal moves
// the session to errored but leaves signaling up so the caller can retry
// with different devices.
func (o *Orchestrator) AnswerSession(ctx context.Context, sessionID int64, sdpAnswer, conferenceLink string) (*domain.CallSession, error) {
	if conferenceLink != "" {
		if err := ValidateConferenceLink(conferenceLink); err != nil {
			return nil, err
		}
	}

	o.mu.Lock()
	var session *domain.CallSession
	var conversationID int64
	for convID, s := range o.sessions {
		if s.ID == sessionID {
			session, conversationID = s, convID
			break
		}
	}
	if session == nil || session.State != domain.SessionOffered {
		o.mu.Unlock()
		return nil, apperrors.SessionStateError(fmt.Sprintf(
			"session %d is not awaiting an answer", sessionID))
	}
	if conferenceLink != "" {
		session.ConferenceLink = conferenceLink
	}
	kind := session.Kind
	o.mu.Unlock()

	release, err := o.devices.Acquire(ctx, kind)
	if err != nil {
		o.transition(conversationID, domain.SessionErrored)
		return nil, apperrors.MediaAccessDeniedError(err)
	}

	path := fmt.Sprintf("/api/messaging/webrtc/sessions/%d/answer", sessionID)
	if err := o.api.Do(ctx, http.MethodPost, path, sessionAnswer{SDPAnswer: sdpAnswer}, nil); err != nil {
		release()
		o.transition(conversationID, domain.SessionErrored)
		return nil, err
	}

	o.mu.Lock()
	session.State = domain.SessionConnecting
	session.SDPAnswer = sdpAnswer
	o.releases[sessionID] = release
	queued := o.pendingICE[conversationID]
	delete(o.pendingICE, conversationID)
	copied := *session
	o.mu.Unlock()

	metrics.CallSessionsTotal.WithLabelValues(string(domain.SessionConnecting)).Inc()
	metrics.CallSessionsActive.Inc()

	o.flushCandidates(ctx, sessionID, queued)
	return &copied, nil
}

// RejectIncoming declines an incoming call without acquiring media.
func (o *Orchestrator) RejectIncoming(ctx context.Context, call domain.IncomingCall) error {
	path := fmt.Sprintf("/api/messaging/webrtc/sessions/%d/reject", call.SessionID)
	if err := o.api.Do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return err
	}

	o.mu.Lock()
	o.sessions[call.ConversationID] = &domain.CallSession{
		ID:             call.SessionID,
		ConversationID: call.ConversationID,
		Kind:           call.Kind,
		State:          domain.SessionRejected,
		CreatedAt:      o.now(),
	}
	o.mu.Unlock()

	metrics.CallSessionsTotal.WithLabelValues(string(domain.SessionRejected)).Inc()
	return nil
}

// MarkConnected records that the peer connection reached connected.
func (o *Orchestrator) MarkConnected(conversationID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	session, ok := o.sessions[conversationID]
	if !ok || session.State.Terminal() {
		return apperrors.SessionStateError(fmt.Sprintf("no active session for conversation %d", conversationID))
	}
	session.State = domain.SessionConnected
	metrics.CallSessionsTotal.WithLabelValues(string(domain.SessionConnected)).Inc()
	return nil
}

// EndSession tears the session down. Ending a session already ended or
// rejected is a no-op; an errored session still gets the teardown
// request, because it may hold a server-side session the peer is waiting
// on. The request is always attempted and the local session moves to
// ended even when it fails, so a broken server cannot wedge the
// conversation.
func (o *Orchestrator) EndSession(ctx context.Context, conversationID int64) error {
	o.mu.Lock()
	session, ok := o.sessions[conversationID]
	if !ok || session.State == domain.SessionEnded || session.State == domain.SessionRejected {
		o.mu.Unlock()
		return nil
	}
	sessionID := session.ID
	o.mu.Unlock()

	var reqErr error
	if sessionID != 0 {
		path := fmt.Sprintf("/api/messaging/webrtc/sessions/%d/end", sessionID)
		reqErr = o.api.Do(ctx, http.MethodPost, path, nil, nil)
		if reqErr != nil {
			logger.Warn("session teardown request failed, ending locally",
				zap.Int64("session_id", sessionID),
				zap.Error(reqErr))
		}
	}

	o.mu.Lock()
	if session, ok := o.sessions[conversationID]; ok &&
		session.State != domain.SessionEnded && session.State != domain.SessionRejected {
		wasActive := !session.State.Terminal()
		session.State = domain.SessionEnded
		if release, held := o.releases[session.ID]; held {
			release()
			delete(o.releases, session.ID)
		}
		delete(o.pendingICE, conversationID)
		metrics.CallSessionsTotal.WithLabelValues(string(domain.SessionEnded)).Inc()
		if wasActive {
			metrics.CallSessionsActive.Dec()
		}
	}
	o.mu.Unlock()
	return reqErr
}

// AddICECandidate relays a connectivity candidate. Candidates arriving
// before the session has a server ID queue locally and flush on create.
func (o *Orchestrator) AddICECandidate(ctx context.Context, conversationID int64, cand domain.ICECandidate) error {
	o.mu.Lock()
	session, ok := o.sessions[conversationID]
	if !ok || session.State.Terminal() {
		o.mu.Unlock()
		return apperrors.SessionStateError(fmt.Sprintf("no active session for conversation %d", conversationID))
	}
	if session.ID == 0 {
		o.pendingICE[conversationID] = append(o.pendingICE[conversationID], cand)
		o.mu.Unlock()
		return nil
	}
	sessionID := session.ID
	o.mu.Unlock()

	path := fmt.Sprintf("/api/messaging/webrtc/sessions/%d/ice-candidates", sessionID)
	return o.api.Do(ctx, http.MethodPost, path, cand, nil)
}

func (o *Orchestrator) flushCandidates(ctx context.Context, sessionID int64, queued []domain.ICECandidate) {
	path := fmt.Sprintf("/api/messaging/webrtc/sessions/%d/ice-candidates", sessionID)
	for _, cand := range queued {
		if err := o.api.Do(ctx, http.MethodPost, path, cand, nil); err != nil {
			logger.Warn("queued ice candidate relay failed",
				zap.Int64("session_id", sessionID),
				zap.Error(err))
		}
	}
}

// LastConferenceLink returns the remembered link from the previous run,
// validated, or empty.
func (o *Orchestrator) LastConferenceLink() string {
	if o.state == nil {
		return ""
	}
	link, err := o.state.LastConferenceLink()
	if err != nil || ValidateConferenceLink(link) != nil {
		return ""
	}
	return link
}

// transition moves a conversation's session to the given state.
func (o *Orchestrator) transition(conversationID int64, state domain.SessionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if session, ok := o.sessions[conversationID]; ok {
		session.State = state
		metrics.CallSessionsTotal.WithLabelValues(string(state)).Inc()
	}
}

// finishSession moves to a terminal state and releases held media.
func (o *Orchestrator) finishSession(conversationID int64, state domain.SessionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	session, ok := o.sessions[conversationID]
	if !ok || session.State.Terminal() {
		return
	}
	session.State = state
	if release, held := o.releases[session.ID]; held {
		release()
		delete(o.releases, session.ID)
	}
	delete(o.pendingICE, conversationID)
	metrics.CallSessionsTotal.WithLabelValues(string(state)).Inc()
	metrics.CallSessionsActive.Dec()
}

func (o *Orchestrator) onIncomingCall(payload json.RawMessage) {
	var call domain.IncomingCall
	if err := json.Unmarshal(payload, &call); err != nil {
		logger.Warn("malformed incoming_call payload", zap.Error(err))
		return
	}

	o.mu.Lock()
	handler := o.onIncoming
	existing, busy := o.sessions[call.ConversationID]
	o.mu.Unlock()

	if busy && !existing.State.Terminal() {
		logger.Info("incoming call ignored, session already active",
			zap.Int64("conversation_id", call.ConversationID),
			zap.Int64("session_id", call.SessionID))
		return
	}
	if handler != nil {
		handler(call)
	}
}

func (o *Orchestrator) onSessionEnded(payload json.RawMessage) {
	var ended struct {
		SessionID      int64 `json:"session_id"`
		ConversationID int64 `json:"conversation_id"`
	}
	if err := json.Unmarshal(payload, &ended); err != nil {
		logger.Warn("malformed session_ended payload", zap.Error(err))
		return
	}
	o.finishSession(ended.ConversationID, domain.SessionEnded)
}

func (o *Orchestrator) onWebRTCError(payload json.RawMessage) {
	var remote struct {
		ConversationID int64  `json:"conversation_id"`
		Message        string `json:"message"`
	}
	if err := json.Unmarshal(payload, &remote); err != nil {
		logger.Warn("malformed webrtc error payload", zap.Error(err))
		return
	}
	logger.Warn("signaling error pushed by server",
		zap.Int64("conversation_id", remote.ConversationID),
		zap.String("message", remote.Message))
	o.finishSession(remote.ConversationID, domain.SessionErrored)
}

func validateKind(kind string) error {
	switch kind {
	case domain.CallAudio, domain.CallVideo, domain.CallAudioVideo:
		return nil
	}
	return apperrors.InvalidInputError(fmt.Sprintf("unknown session kind %q", kind))
}
