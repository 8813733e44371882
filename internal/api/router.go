// Package api - HTTP и WebSocket поверхность сервиса комментариев к штрафам.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/commentstore"
	"github.com/UkralStul/fine-comments-service/internal/logging"
	"github.com/UkralStul/fine-comments-service/internal/realtime"
	"github.com/UkralStul/fine-comments-service/internal/storage"
)

// UserHeader - заголовок с id вызывающего. Аутентификация вне сервиса.
const UserHeader = "X-User-ID"

// Deps - зависимости обработчиков.
type Deps struct {
	Storage  storage.Storage
	Comments *commentstore.Client
	Feed     realtime.Feed
	Gatherer prometheus.Gatherer // nil - /metrics не регистрируется
	Logger   *zap.Logger
}

// Handler содержит все зависимости, которые нужны для выполнения запросов.
type Handler struct {
	storage  storage.Storage
	comments *commentstore.Client
	feed     realtime.Feed
	log      *zap.Logger
}

// NewRouter собирает роутер chi.
func NewRouter(d Deps) http.Handler {
	h := &Handler{
		storage:  d.Storage,
		comments: d.Comments,
		feed:     d.Feed,
		log:      logging.OrNop(d.Logger),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", UserHeader},
	}).Handler)

	router.Get("/users", h.listUsers)
	router.Post("/users", h.createUser)

	router.Route("/fines", func(r chi.Router) {
		r.Get("/", h.listFines)
		r.Post("/", h.createFine)
		r.Route("/{fineID}", func(r chi.Router) {
			r.Get("/", h.getFine)
			r.Post("/toggle-comments", h.toggleComments)
			r.Get("/comments", h.listComments)
			r.Post("/comments", h.createComment)
			r.Get("/comments/ws", h.watchComments)
		})
	})

	router.Route("/comments/{commentID}", func(r chi.Router) {
		r.Get("/", h.getComment)
		r.Patch("/", h.updateComment)
		r.Delete("/", h.deleteComment)
	})

	if d.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	return router
}
