package chat

import "time"

// Role identifies who produced a bubble.
type Role string

const (
	RoleUser  Role = "user"
	RoleBot   Role = "bot"
	RoleError Role = "error"
)

// Message is one rendered turn of the conversation view. Messages are
// append-only and never mutated once created.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	Role      Role      `json:"role"`
	RawText   string    `json:"rawText"`
	Markup    string    `json:"markup"`
	Timestamp string    `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}
