package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultSendBuffer = 32

// Attachment is the live binding between one transport connection and one
// session. It owns the outbound event queue the transport drains; the
// registry indexes it for fan-out but never outlives it.
type Attachment struct {
	id        string
	visitorID string

	mu        sync.Mutex
	sessionID string

	out       chan Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newAttachment(visitorID, sessionID string) *Attachment {
	return &Attachment{
		id:        uuid.NewString(),
		visitorID: visitorID,
		sessionID: sessionID,
		out:       make(chan Envelope, defaultSendBuffer),
		done:      make(chan struct{}),
	}
}

func (a *Attachment) ID() string        { return a.id }
func (a *Attachment) VisitorID() string { return a.visitorID }

// SessionID returns the currently bound session, empty when unbound.
func (a *Attachment) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *Attachment) unbind() {
	a.mu.Lock()
	a.sessionID = ""
	a.mu.Unlock()
}

// Events is the queue the transport writer drains. Select on Done alongside
// it; the channel is never closed so concurrent sends stay safe.
func (a *Attachment) Events() <-chan Envelope { return a.out }

// Done is closed when the attachment is detached.
func (a *Attachment) Done() <-chan struct{} { return a.done }

// Send enqueues without blocking. A full queue means the transport is too
// slow to keep up; the event is dropped so fan-out to siblings never stalls.
func (a *Attachment) Send(env Envelope) bool {
	select {
	case <-a.done:
		return false
	default:
	}

	select {
	case a.out <- env:
		return true
	default:
		log.Warn().
			Str("component", "relay").
			Str("attachment_id", a.id).
			Str("event", env.Type).
			Msg("outbound queue full, dropping event")
		return false
	}
}

func (a *Attachment) close() {
	a.closeOnce.Do(func() {
		close(a.done)
	})
}
