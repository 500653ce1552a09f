package domain

import "time"

// Notification kinds
const (
	NotificationAccessRequest = "access_request"
	NotificationAccessGranted = "access_granted"
	NotificationAccessDenied  = "access_denied"
)

// Notification statuses
const (
	NotificationPending = "pending"
	NotificationRead    = "read"
)

// Notification represents an authorization/access-request notification
// surfaced by the poller.
type Notification struct {
	ID        int64                  `json:"id"`
	Kind      string                 `json:"kind"`
	Status    string                 `json:"status"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
