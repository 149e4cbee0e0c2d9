package relay

import (
	"context"
	"errors"

	"github.com/quilldesk/chatrelay/internal/model/chat"
	"github.com/quilldesk/chatrelay/internal/store"
)

// Resolver picks the one durable session a connection binds to. Resolution
// is read-only unless it falls through to creating a fresh session.
//
// Two tabs resolving the same visitor for the first time can race past the
// FindActiveSession read and each create a session; a single relay process
// tolerates this and converges on the next resolve.
type Resolver struct {
	repo store.Repository
}

func NewResolver(repo store.Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns, in order of preference: the requested session when it
// still accepts traffic, the visitor's most recent open session, or a newly
// created one. Closed sessions are never reused.
func (r *Resolver) Resolve(ctx context.Context, visitorID, requestedSessionID string) (chat.Session, error) {
	if visitorID == "" {
		return chat.Session{}, store.ErrVisitorRequired
	}

	if requestedSessionID != "" {
		session, err := r.repo.GetSession(ctx, requestedSessionID)
		switch {
		case err == nil && !session.Closed():
			return session, nil
		case err != nil && !errors.Is(err, store.ErrSessionNotFound):
			return chat.Session{}, err
		}
	}

	session, err := r.repo.FindActiveSession(ctx, visitorID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		return chat.Session{}, err
	}

	return r.repo.CreateSession(ctx, visitorID, nil)
}
