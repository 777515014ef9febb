package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/verity-labs/docvox/internal/api"
	"github.com/verity-labs/docvox/internal/api/handlers"
	"github.com/verity-labs/docvox/internal/api/middleware"
)

type RouterConfig struct {
	ChatHandler     *handlers.ChatHandler
	DocumentHandler *handlers.DocumentHandler
	AuthValidator   middleware.AuthValidator
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/chat/stream", cfg.ChatHandler.Stream)

	// Document management is an admin surface: every route requires a
	// website-scoped API key.
	r.Route("/v1/websites/{websiteID}/documents", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))
		r.Post("/", cfg.DocumentHandler.Ingest)
		r.Get("/", cfg.DocumentHandler.List)
		r.Get("/{id}", cfg.DocumentHandler.Get)
		r.Delete("/{id}", cfg.DocumentHandler.Delete)
	})

	return r
}
