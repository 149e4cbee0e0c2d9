package chat

import "time"

// Status is the lifecycle state of a session. Once CLOSED a session never
// becomes ACTIVE again; a fresh session is created instead.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusClosed Status = "CLOSED"
)

// Session is a durable conversation owned by one visitor. At most one
// non-closed session exists per visitor at a time.
type Session struct {
	ID           string            `json:"id"`
	VisitorID    string            `json:"visitorId"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActiveAt time.Time         `json:"lastActiveAt"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Closed reports whether the session has reached its terminal state.
func (s Session) Closed() bool {
	return s.Status == StatusClosed
}
