package store

import (
	"context"
	"errors"

	"github.com/quilldesk/chatrelay/internal/model/chat"
)

var (
	ErrVisitorRequired = errors.New("visitor id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Repository is the durable boundary for sessions and messages. Both backends
// guarantee snapshot reads: a session returned by a read reflects at least one
// committed write.
type Repository interface {
	// CreateSession provisions a new ACTIVE session for the visitor.
	CreateSession(ctx context.Context, visitorID string, metadata map[string]string) (chat.Session, error)

	// GetSession retrieves a session by identifier.
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)

	// FindActiveSession returns the most recently created non-closed session
	// owned by the visitor, or ErrSessionNotFound.
	FindActiveSession(ctx context.Context, visitorID string) (chat.Session, error)

	// UpdateSession persists status, last-active timestamp and metadata.
	UpdateSession(ctx context.Context, session chat.Session) error

	// CreateMessage appends a message, assigning id and creation time when
	// unset, and returns the stored value.
	CreateMessage(ctx context.Context, message chat.Message) (chat.Message, error)

	// ListMessages returns the newest limit messages of the session in
	// ascending creation order. A session with no messages yields an empty
	// slice, not an error. limit <= 0 means no bound.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)

	// ListSessions returns up to limit sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]chat.Session, error)

	Close() error
}
