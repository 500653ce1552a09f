package domain

import "time"

// Conversation kinds
const (
	ConversationPatientProfessional = "patient_medecin"
	ConversationPrivate             = "private"
	ConversationGroup               = "group"
)

// Conversation represents conversation metadata as returned by the server.
// The server-assigned numeric ID is authoritative; a conversation without
// an ID exists only transiently while creation is in flight.
type Conversation struct {
	ID             int64    `json:"id"`
	ParticipantIDs [2]int64 `json:"participant_ids"`
	Kind           string   `json:"kind"`
	Title          string   `json:"title,omitempty"`
	UnreadCount    int      `json:"unread_count,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationCreate represents data to create a new conversation
type ConversationCreate struct {
	ParticipantA int64  `json:"patient_id"`
	ParticipantB int64  `json:"professionnel_id"`
	Kind         string `json:"type_conversation"`
	Title        string `json:"titre,omitempty"`
}
