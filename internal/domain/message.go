package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message kinds
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
	MessageAudio = "audio"
)

// DeliveryState tracks the two-phase life of an optimistically sent message.
type DeliveryState string

const (
	// DeliveryPending means the message exists only locally and still has
	// to be reconciled against the server confirmation or a push echo.
	DeliveryPending DeliveryState = "pending"

	// DeliveryConfirmed means the server-assigned ID is known.
	DeliveryConfirmed DeliveryState = "confirmed"
)

// Message represents a chat message entity.
// Within a conversation messages are totally ordered by SentAt, then by
// arrival sequence for equal timestamps.
type Message struct {
	ID             int64                  `json:"id,omitempty"` // server-assigned, 0 while pending
	LocalID        uuid.UUID              `json:"-"`            // client correlation id, never sent
	ConversationID int64                  `json:"conversation_id"`
	SenderID       int64                  `json:"sender_id"`
	SenderRole     Role                   `json:"sender_role,omitempty"`
	Content        string                 `json:"content"`
	Kind           string                 `json:"kind"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	SentAt         time.Time              `json:"sent_at"`
	DeliveryState  DeliveryState          `json:"delivery_state,omitempty"`
}

// MessageCreate represents data needed to send a message
type MessageCreate struct {
	Content  string                 `json:"contenu"`
	Kind     string                 `json:"type_message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
