package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// RouterConfig holds what the router needs besides the handlers.
type RouterConfig struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handlers groups every endpoint handler.
type Handlers struct {
	Health        *HealthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Attachments   *AttachmentHandler
	Participants  *ParticipantHandler
	WS            *WSHandler
}

// NewRouter mounts every route.
func NewRouter(cfg RouterConfig, h Handlers, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Get("/ws", h.WS.Serve)
	})

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.Conversations.List)
			r.Post("/one-to-one", h.Conversations.CreateOneToOne)
			r.Post("/group", h.Conversations.CreateGroup)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Conversations.Get)
				r.Patch("/", h.Conversations.Update)
				r.Delete("/", h.Conversations.Delete)

				r.Get("/messages", h.Messages.List)
				r.Post("/messages", h.Messages.Send)
				r.Get("/messages/{messageId}", h.Messages.Get)
				r.Put("/messages/{messageId}/status", h.Messages.SetStatus)
				r.Post("/messages/{messageId}/forward", h.Messages.Forward)

				r.Get("/attachments", h.Attachments.ListByConversation)

				r.Post("/participants", h.Participants.Add)
				r.Delete("/participants/me", h.Participants.Leave)
				r.Put("/read", h.Participants.MarkRead)
				r.Put("/mute", h.Participants.Mute)
				r.Put("/archive", h.Participants.Archive)
			})
		})

		r.Route("/messages/{messageId}/attachments", func(r chi.Router) {
			r.Get("/", h.Attachments.ListByMessage)
			r.Delete("/{attachmentId}", h.Attachments.Delete)
		})
	})

	return r
}
