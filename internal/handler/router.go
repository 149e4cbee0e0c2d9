package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/quilldesk/chatrelay/internal/handler/session"
	"github.com/quilldesk/chatrelay/internal/handler/ws"
	"github.com/quilldesk/chatrelay/internal/middleware"
	"github.com/quilldesk/chatrelay/internal/relay"
	"github.com/quilldesk/chatrelay/internal/store"
	"github.com/quilldesk/chatrelay/pkg/utils"
)

// NewRouter wires HTTP routes to the relay engine and repository.
func NewRouter(repo store.Repository, engine *relay.Engine) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS)

	sessionHandler := session.New(repo)
	wsHandler := ws.New(engine)

	r.Route("/api", func(api chi.Router) {
		api.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		sessionHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
