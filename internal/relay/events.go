package relay

import (
	"time"

	"github.com/quilldesk/chatrelay/internal/model/chat"
)

// Inbound event types accepted on a ready connection. EventCloseSession is a
// legacy alias kept for older widget builds; both closers share one path.
const (
	EventMessage      = "message"
	EventHeartbeat    = "heartbeat"
	EventEndSession   = "endSession"
	EventCloseSession = "closeSession"
)

// Inbound is the decoded client event envelope.
type Inbound struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId,omitempty"`
	Content   string            `json:"content,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Outbound event types.
const (
	EnvSession       = "session"
	EnvHistory       = "history"
	EnvMessage       = "message"
	EnvStatus        = "status"
	EnvError         = "error"
	EnvSessionClosed = "sessionClosed"
)

// Envelope wraps every server-to-client event.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func NewEnvelope(eventType string, data any) Envelope {
	return Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// SessionPayload announces the resolved session right after attach.
type SessionPayload struct {
	SessionID string      `json:"sessionId"`
	VisitorID string      `json:"visitorId"`
	Status    chat.Status `json:"status"`
}

// MessagePayload carries one persisted turn.
type MessagePayload struct {
	ID        string      `json:"id"`
	Sender    chat.Sender `json:"sender"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
}

// HistoryPayload replays prior turns to a newly attached connection.
type HistoryPayload struct {
	Messages []MessagePayload `json:"messages"`
}

// StatusPayload acknowledges heartbeats.
type StatusPayload struct {
	Status chat.Status `json:"status"`
}

// ErrorPayload reports a recoverable failure to the originating client.
type ErrorPayload struct {
	Message string `json:"message"`
}

// SessionClosedPayload tells the client its session is gone and a new one
// must be resolved.
type SessionClosedPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func toMessagePayload(msg chat.Message) MessagePayload {
	return MessagePayload{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func toMessagePayloads(messages []chat.Message) []MessagePayload {
	payloads := make([]MessagePayload, 0, len(messages))
	for _, msg := range messages {
		payloads = append(payloads, toMessagePayload(msg))
	}
	return payloads
}
