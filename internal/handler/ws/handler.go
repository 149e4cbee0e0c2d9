// Package ws adapts the relay engine onto a gorilla websocket transport.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quilldesk/chatrelay/internal/relay"
)

const (
	readWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	pingInterval = 25 * time.Second
)

// Handler upgrades widget connections and pumps events between the socket
// and the relay engine.
type Handler struct {
	engine   *relay.Engine
	upgrader websocket.Upgrader
}

// New creates the websocket handler. Origins are not checked: the widget is
// embedded on arbitrary third-party pages.
func New(engine *relay.Engine) *Handler {
	return &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	visitorID := r.URL.Query().Get("visitorId")
	if visitorID == "" {
		http.Error(w, "visitorId is required", http.StatusBadRequest)
		return
	}
	requestedSessionID := r.URL.Query().Get("sessionId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("component", "ws").Msg("upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	att, err := h.engine.Attach(ctx, visitorID, requestedSessionID)
	if err != nil {
		// Attach failure is fatal to this connection: one error event, then
		// disconnect. The client retries by reconnecting.
		log.Warn().Err(err).
			Str("component", "ws").
			Str("visitor_id", visitorID).
			Msg("attach failed")
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(relay.NewEnvelope(relay.EnvError, relay.ErrorPayload{
			Message: "could not start a session, please reconnect",
		}))
		return
	}
	defer h.engine.Detach(att)

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	go h.writeLoop(ctx, cancel, conn, att)

	// The single read loop is what serializes this connection's events.
	for {
		var in relay.Inbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).
					Str("component", "ws").
					Str("attachment_id", att.ID()).
					Msg("read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		h.dispatch(ctx, att, in)
	}
}

func (h *Handler) dispatch(ctx context.Context, att *relay.Attachment, in relay.Inbound) {
	switch in.Type {
	case relay.EventMessage:
		if err := h.engine.HandleMessage(ctx, att, in); err != nil {
			log.Debug().Err(err).
				Str("component", "ws").
				Str("attachment_id", att.ID()).
				Msg("message event failed")
		}
	case relay.EventHeartbeat:
		h.engine.HandleHeartbeat(ctx, att, in)
	case relay.EventEndSession, relay.EventCloseSession:
		if err := h.engine.HandleEndSession(ctx, att, in); err != nil {
			log.Debug().Err(err).
				Str("component", "ws").
				Str("attachment_id", att.ID()).
				Msg("end-session event failed")
		}
	default:
		att.Send(relay.NewEnvelope(relay.EnvError, relay.ErrorPayload{
			Message: "unsupported event type: " + in.Type,
		}))
	}
}

// writeLoop is the only goroutine writing to the socket; it drains the
// attachment queue and keeps the connection alive with pings.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, att *relay.Attachment) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-att.Done():
			return
		case env := <-att.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				log.Warn().Err(err).
					Str("component", "ws").
					Str("attachment_id", att.ID()).
					Msg("write failed, dropping connection")
				cancel()
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cancel()
				_ = conn.Close()
				return
			}
		}
	}
}
