package chat

import "time"

// Sender identifies who produced a message turn.
type Sender string

const (
	SenderUser   Sender = "USER"
	SenderBot    Sender = "BOT"
	SenderSystem Sender = "SYSTEM"
)

// Message persists individual turns. Messages are immutable once written and
// ordered by CreatedAt within their session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
