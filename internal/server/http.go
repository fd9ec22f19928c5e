package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/fwb-labs/langlab_service/internal/config"
	httphandler "github.com/fwb-labs/langlab_service/internal/handler/http"
	"github.com/fwb-labs/langlab_service/internal/middleware"
	"github.com/fwb-labs/langlab_service/internal/service"
)

// HTTPServer represents the HTTP server.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// NewHTTPServer creates a new HTTP server.
func NewHTTPServer(
	cfg *config.Config,
	log zerolog.Logger,
	healthHandler *httphandler.HealthHandler,
	authHandler *httphandler.AuthHandler,
	sessionHandler *httphandler.SessionHandler,
	shareHandler *httphandler.ShareHandler,
	authService *service.AuthService,
) *HTTPServer {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (public)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Teacher activation (public)
		r.Post("/auth/activate", authHandler.Activate)

		// Student session endpoints (public: students have no accounts)
		r.Post("/sessions", sessionHandler.Create)
		r.Get("/sessions/{id}", sessionHandler.Get)
		r.Post("/sessions/{id}/turns", sessionHandler.SubmitTurn)
		r.Get("/sessions/{id}/audio", sessionHandler.Audio)
		r.Post("/sessions/{id}/report", sessionHandler.Report)
		r.Get("/sessions/{id}/report/export", sessionHandler.ExportReport)
		r.Delete("/sessions/{id}", sessionHandler.Delete)

		// Teacher-only endpoints (require classroom token)
		r.Group(func(r chi.Router) {
			r.Use(middleware.TeacherAuth(authService))

			r.Get("/share/link", shareHandler.Link)
			r.Get("/share/qr", shareHandler.QR)
		})
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &HTTPServer{
		server: server,
		log:    log,
	}
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
