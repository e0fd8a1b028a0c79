package notify

import "time"

// Notification is the durable row — the source of truth for delivery. The
// live push is best-effort on top of it.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      *string   `json:"link,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// PayloadType is the closed set of frame types pushed over the realtime
// channel. TypeConnected is sent once at connection open and carries no
// business meaning.
type PayloadType string

const (
	TypeMessage      PayloadType = "message"
	TypeStatusChange PayloadType = "status_change"
	TypeAssignment   PayloadType = "assignment"
	TypeGeneral      PayloadType = "general"
	TypeConnected    PayloadType = "connected"
)

// Payload is the frame shape on the wire.
type Payload struct {
	Type      PayloadType `json:"type"`
	Title     string      `json:"title,omitempty"`
	Message   string      `json:"message,omitempty"`
	Link      *string     `json:"link,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
