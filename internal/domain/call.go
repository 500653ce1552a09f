package domain

import "time"

// Call session kinds
const (
	CallAudio      = "audio"
	CallVideo      = "video"
	CallAudioVideo = "audio_video"
)

// SessionState is the lifecycle state of a call session.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionCreating   SessionState = "creating"
	SessionOffered    SessionState = "offered"
	SessionConnecting SessionState = "connecting"
	SessionConnected  SessionState = "connected"
	SessionRejected   SessionState = "rejected"
	SessionEnded      SessionState = "ended"
	SessionErrored    SessionState = "errored"
)

// Terminal reports whether no further transition is possible from s.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionRejected, SessionEnded, SessionErrored:
		return true
	}
	return false
}

// CallSession represents a WebRTC-style session scoped to a conversation.
// At most one session per conversation may be in a non-terminal state.
type CallSession struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversation_id"`
	Kind           string       `json:"session_type"`
	State          SessionState `json:"state"`
	ConferenceLink string       `json:"conference_link,omitempty"`
	SDPOffer       string       `json:"sdp_offer,omitempty"`
	SDPAnswer      string       `json:"sdp_answer,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ICECandidate is a relayed connectivity candidate.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex int    `json:"sdpMLineIndex,omitempty"`
}

// IncomingCall is the payload of an incoming_call push event, presented
// when no session is active for the conversation yet.
type IncomingCall struct {
	SessionID      int64  `json:"session_id"`
	ConversationID int64  `json:"conversation_id"`
	CallerID       int64  `json:"caller_id"`
	Kind           string `json:"session_type"`
	SDPOffer       string `json:"sdp_offer,omitempty"`
	ConferenceLink string `json:"conference_link,omitempty"`
}
