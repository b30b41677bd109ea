package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/4k-champ/cozy-flat-match/internal/api/middleware"
	"github.com/4k-champ/cozy-flat-match/internal/auth"
	"github.com/4k-champ/cozy-flat-match/internal/handlers"
	"github.com/4k-champ/cozy-flat-match/internal/store"
	"github.com/4k-champ/cozy-flat-match/internal/ws"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, data store.DataStore, messages store.MessageStore, jwt *auth.JWTManager, realtime *ws.Server) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - the browser SPA is served from a different origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(data, messages, realtime.Hub(), logger)
	authHandler := handlers.NewAuthHandler(h, jwt)
	authMw := middleware.NewAuthMiddleware(jwt)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Post("/auth/register", authHandler.Register)
	r.Post("/auth/login", authHandler.Login)

	// Realtime upgrade authenticates inside the handler: browsers cannot
	// always set headers on the upgrade request, so it also accepts the
	// token as a query parameter.
	r.Get("/ws", realtime.HandleWS)

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(authMw.RequireAuth)

		r.Post("/api/flats", h.CreateFlat)
		r.Get("/api/flats", h.ListFlats)

		r.Post("/api/chat/room/{flatId}/{counterpartId}", h.ResolveRoom)
		r.Get("/api/chat/messages/{chatRoomId}", h.GetMessages)
		r.Patch("/api/chat/messages/{chatRoomId}/read", h.MarkRead)
		r.Get("/api/chat/getAllRooms", h.GetAllRooms)
	})

	return r
}
