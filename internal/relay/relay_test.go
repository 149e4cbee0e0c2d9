package relay

// Shared test doubles for the relay package.

import (
	"context"
	"time"

	"github.com/quilldesk/chatrelay/internal/config"
	"github.com/quilldesk/chatrelay/internal/model/chat"
	"github.com/quilldesk/chatrelay/internal/service/oracle"
	"github.com/quilldesk/chatrelay/internal/store"
)

var testRelayConfig = config.RelayConfig{
	ReplayLimit:   100,
	ContextLimit:  50,
	OracleTimeout: time.Second,
}

// stubOracle returns a fixed reply or error and records what it saw.
type stubOracle struct {
	reply   string
	err     error
	calls   int
	history []chat.Message
}

var _ oracle.Oracle = (*stubOracle)(nil)

func (o *stubOracle) Reply(_ context.Context, _, _ string, history []chat.Message, _ map[string]string) (string, error) {
	o.calls++
	o.history = history
	if o.err != nil {
		return "", o.err
	}
	return o.reply, nil
}

// flakyRepo wraps a working repository and fails selected operations.
type flakyRepo struct {
	store.Repository
	getErr     error
	findErr    error
	createErr  error
	messageErr error
	missing    map[string]bool
}

func (r *flakyRepo) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	if r.missing[sessionID] {
		return chat.Session{}, store.ErrSessionNotFound
	}
	if r.getErr != nil {
		return chat.Session{}, r.getErr
	}
	return r.Repository.GetSession(ctx, sessionID)
}

func (r *flakyRepo) FindActiveSession(ctx context.Context, visitorID string) (chat.Session, error) {
	if r.findErr != nil {
		return chat.Session{}, r.findErr
	}
	return r.Repository.FindActiveSession(ctx, visitorID)
}

func (r *flakyRepo) CreateSession(ctx context.Context, visitorID string, metadata map[string]string) (chat.Session, error) {
	if r.createErr != nil {
		return chat.Session{}, r.createErr
	}
	return r.Repository.CreateSession(ctx, visitorID, metadata)
}

func (r *flakyRepo) CreateMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if r.messageErr != nil {
		return chat.Message{}, r.messageErr
	}
	return r.Repository.CreateMessage(ctx, message)
}

// drainEvents empties an attachment's outbound queue without blocking.
func drainEvents(att *Attachment) []Envelope {
	var envs []Envelope
	for {
		select {
		case env := <-att.out:
			envs = append(envs, env)
		default:
			return envs
		}
	}
}

func eventTypes(envs []Envelope) []string {
	types := make([]string, 0, len(envs))
	for _, env := range envs {
		types = append(types, env.Type)
	}
	return types
}
