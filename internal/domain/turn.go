package domain

import "time"

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single persisted conversation turn. Immutable once written.
type Turn struct {
	UserID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ChatMessage is the provider-agnostic chat message shape used by the
// extraction client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
