// Package relay binds transport connections to durable sessions and moves
// message turns between visitors, the store and the reply oracle.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quilldesk/chatrelay/internal/config"
	"github.com/quilldesk/chatrelay/internal/model/chat"
	"github.com/quilldesk/chatrelay/internal/service/oracle"
	"github.com/quilldesk/chatrelay/internal/store"
)

var (
	// ErrResolutionFailed is fatal to the attachment; the client must
	// reconnect to retry.
	ErrResolutionFailed = errors.New("session resolution failed")
	// ErrUnboundSession means an event arrived with no resolvable session.
	ErrUnboundSession = errors.New("no session bound to this connection")
	// ErrSessionExpired means the referenced session no longer exists.
	ErrSessionExpired = errors.New("session no longer exists")
	// ErrSessionClosed means the referenced session is CLOSED.
	ErrSessionClosed = errors.New("session is closed")
	// ErrOracleFailed means reply generation failed; the user turn stays
	// persisted.
	ErrOracleFailed = errors.New("reply generation failed")
)

const closureNotice = "conversation closed"

// Engine drives the per-connection lifecycle: attach, steady-state events,
// detach. Each transport connection calls it from a single goroutine, which
// is what makes per-connection event ordering a guarantee rather than an
// accident.
type Engine struct {
	repo     store.Repository
	oracle   oracle.Oracle
	registry *Registry
	resolver *Resolver
	history  *HistoryLoader
	cfg      config.RelayConfig
}

func NewEngine(repo store.Repository, orc oracle.Oracle, registry *Registry, cfg config.RelayConfig) *Engine {
	return &Engine{
		repo:     repo,
		oracle:   orc,
		registry: registry,
		resolver: NewResolver(repo),
		history:  NewHistoryLoader(repo),
		cfg:      cfg,
	}
}

// Attach resolves the session for a new connection, registers it for
// fan-out and queues the session announcement plus history replay. On error
// no attachment exists and the transport must be disconnected.
func (e *Engine) Attach(ctx context.Context, visitorID, requestedSessionID string) (*Attachment, error) {
	session, err := e.resolver.Resolve(ctx, visitorID, requestedSessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	att := newAttachment(visitorID, session.ID)
	e.registry.Attach(session.ID, att)

	att.Send(NewEnvelope(EnvSession, SessionPayload{
		SessionID: session.ID,
		VisitorID: session.VisitorID,
		Status:    session.Status,
	}))

	messages, err := e.history.Load(ctx, session.ID, e.cfg.ReplayLimit)
	if err != nil {
		// Replay is best-effort once the session announcement is out.
		log.Warn().Err(err).
			Str("component", "relay").
			Str("session_id", session.ID).
			Msg("history replay failed")
	} else if len(messages) > 0 {
		att.Send(NewEnvelope(EnvHistory, HistoryPayload{Messages: toMessagePayloads(messages)}))
	}

	log.Info().
		Str("component", "relay").
		Str("session_id", session.ID).
		Str("visitor_id", visitorID).
		Str("attachment_id", att.ID()).
		Msg("attached")
	return att, nil
}

// Detach removes the attachment from fan-out and stops its event queue. No
// events are accepted for it afterwards. In-flight oracle calls are not
// aborted; their results go nowhere.
func (e *Engine) Detach(att *Attachment) {
	if att == nil {
		return
	}
	e.registry.Detach(att)
	att.close()
	log.Info().
		Str("component", "relay").
		Str("attachment_id", att.ID()).
		Msg("detached")
}

// HandleMessage persists an inbound user turn, fans it out to every
// attachment of the session, then asks the oracle for a reply and repeats
// persist+fanout for it. The steps are deliberately not transactional: a
// failure after the user turn is saved leaves it saved.
func (e *Engine) HandleMessage(ctx context.Context, att *Attachment, in Inbound) error {
	sessionID := e.effectiveSessionID(att, in)
	if sessionID == "" {
		att.Send(NewEnvelope(EnvError, ErrorPayload{Message: "no active session for this connection"}))
		return ErrUnboundSession
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		// Whitespace-only input is a no-op, not a protocol violation.
		return nil
	}

	session, err := e.repo.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		att.Send(NewEnvelope(EnvError, ErrorPayload{Message: "session no longer exists"}))
		att.Send(NewEnvelope(EnvSessionClosed, SessionClosedPayload{
			SessionID: sessionID,
			Message:   "session expired, start a new conversation",
		}))
		return ErrSessionExpired
	}
	if err != nil {
		att.Send(NewEnvelope(EnvError, ErrorPayload{Message: "could not verify session"}))
		return err
	}
	if session.Closed() {
		att.Send(NewEnvelope(EnvSessionClosed, SessionClosedPayload{
			SessionID: sessionID,
			Message:   "session is closed",
		}))
		return ErrSessionClosed
	}

	userMsg, err := e.repo.CreateMessage(ctx, chat.Message{
		SessionID: sessionID,
		Sender:    chat.SenderUser,
		Content:   content,
	})
	if err != nil {
		att.Send(NewEnvelope(EnvError, ErrorPayload{Message: "failed to save message"}))
		return err
	}
	e.registry.Fanout(sessionID, NewEnvelope(EnvMessage, toMessagePayload(userMsg)))

	e.touchSession(ctx, session)

	history, err := e.history.Load(ctx, sessionID, e.cfg.ContextLimit)
	if err != nil {
		log.Warn().Err(err).
			Str("component", "relay").
			Str("session_id", sessionID).
			Msg("loading oracle context failed")
		history = nil
	}

	reply, err := e.invokeOracle(ctx, sessionID, content, history, in.Metadata)
	if err != nil {
		// Reported to the sender only; the user turn stays persisted.
		att.Send(NewEnvelope(EnvError, ErrorPayload{Message: "assistant is unavailable right now"}))
		return fmt.Errorf("%w: %v", ErrOracleFailed, err)
	}

	botMsg, err := e.repo.CreateMessage(ctx, chat.Message{
		SessionID: sessionID,
		Sender:    chat.SenderBot,
		Content:   reply,
	})
	if err != nil {
		att.Send(NewEnvelope(EnvError, ErrorPayload{Message: "failed to save reply"}))
		return err
	}
	e.registry.Fanout(sessionID, NewEnvelope(EnvMessage, toMessagePayload(botMsg)))

	return nil
}

// HandleHeartbeat refreshes the session's last-active timestamp. It never
// surfaces an error to the caller and never revives a CLOSED session.
func (e *Engine) HandleHeartbeat(ctx context.Context, att *Attachment, in Inbound) {
	sessionID := e.effectiveSessionID(att, in)
	if sessionID == "" {
		return
	}

	session, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		log.Debug().Err(err).
			Str("component", "relay").
			Str("session_id", sessionID).
			Msg("heartbeat on unknown session")
		return
	}
	if session.Closed() {
		log.Debug().
			Str("component", "relay").
			Str("session_id", sessionID).
			Msg("heartbeat on closed session, ignoring")
		return
	}

	e.touchSession(ctx, session)
	att.Send(NewEnvelope(EnvStatus, StatusPayload{Status: chat.StatusActive}))
}

// HandleEndSession closes the session, records a SYSTEM turn, confirms to
// the requester and unbinds the attachment while keeping the transport open.
// On failure the binding is kept: closure is not assumed to have happened.
func (e *Engine) HandleEndSession(ctx context.Context, att *Attachment, in Inbound) error {
	sessionID := e.effectiveSessionID(att, in)
	if sessionID == "" {
		return nil
	}

	session, err := e.repo.GetSession(ctx, sessionID)
	if err != nil {
		att.Send(NewEnvelope(EnvError, ErrorPayload{Message: "could not close session"}))
		return err
	}

	session.Status = chat.StatusClosed
	session.LastActiveAt = time.Now().UTC()
	if err := e.repo.UpdateSession(ctx, session); err != nil {
		att.Send(NewEnvelope(EnvError, ErrorPayload{Message: "could not close session"}))
		return err
	}

	sysMsg, err := e.repo.CreateMessage(ctx, chat.Message{
		SessionID: sessionID,
		Sender:    chat.SenderSystem,
		Content:   closureNotice,
	})
	if err != nil {
		log.Warn().Err(err).
			Str("component", "relay").
			Str("session_id", sessionID).
			Msg("failed to record closure message")
	} else {
		e.registry.Fanout(sessionID, NewEnvelope(EnvMessage, toMessagePayload(sysMsg)))
	}

	att.Send(NewEnvelope(EnvSessionClosed, SessionClosedPayload{
		SessionID: sessionID,
		Message:   closureNotice,
	}))

	e.registry.Detach(att)
	att.unbind()

	log.Info().
		Str("component", "relay").
		Str("session_id", sessionID).
		Str("attachment_id", att.ID()).
		Msg("session closed")
	return nil
}

// effectiveSessionID prefers the event's explicit session id over the
// attachment's binding.
func (e *Engine) effectiveSessionID(att *Attachment, in Inbound) string {
	if in.SessionID != "" {
		return in.SessionID
	}
	return att.SessionID()
}

func (e *Engine) touchSession(ctx context.Context, session chat.Session) {
	session.Status = chat.StatusActive
	session.LastActiveAt = time.Now().UTC()
	if err := e.repo.UpdateSession(ctx, session); err != nil {
		log.Warn().Err(err).
			Str("component", "relay").
			Str("session_id", session.ID).
			Msg("failed to update session activity")
	}
}

func (e *Engine) invokeOracle(ctx context.Context, sessionID, content string, history []chat.Message, metadata map[string]string) (string, error) {
	octx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
	defer cancel()
	return e.oracle.Reply(octx, sessionID, content, history, metadata)
}
