package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-journal/backend/internal/handler/chat"
	"github.com/zhouzirui/z-journal/backend/internal/handler/progress"
	middlewarePkg "github.com/zhouzirui/z-journal/backend/internal/middleware"
	"github.com/zhouzirui/z-journal/backend/internal/service/gamification"
	"github.com/zhouzirui/z-journal/backend/internal/service/journal"
	"github.com/zhouzirui/z-journal/backend/internal/store"
	"github.com/zhouzirui/z-journal/backend/pkg/utils"
)

// Deps are the services exposed over HTTP.
type Deps struct {
	Journal *journal.Service
	Engine  *gamification.Engine
	Badges  store.Badges
	Hub     *progress.Hub
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	chatHandler := chat.New(deps.Journal)
	progressHandler := progress.New(deps.Engine, deps.Badges, deps.Hub)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		progressHandler.RegisterRoutes(api)
	})

	return r
}
