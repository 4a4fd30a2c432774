package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)
	r.Get("/health", HealthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/analysis", func(r chi.Router) {
			r.Post("/upload", app.UploadHandler)
			r.Post("/analyze", app.AnalyzeHandler)
			r.Get("/videos", app.VideoListHandler)
			r.Get("/videos/{id}/stream", app.VideoStreamHandler)
			r.Get("/{id}", app.ResultHandler)
			r.Get("/{id}/status", app.StatusHandler)
			r.Delete("/{id}", app.CancelHandler)
		})
		r.Route("/chat", func(r chi.Router) {
			r.Post("/message", app.ChatMessageHandler)
			r.Post("/quick-feedback", app.QuickFeedbackHandler)
			r.Get("/session/{id}", app.ChatSessionHandler)
			r.Delete("/session/{id}", app.ChatDeleteHandler)
		})
	})

	r.Get("/ws/analysis/{id}", app.ProgressSocketHandler)

	return r
}
