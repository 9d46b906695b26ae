package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/facecam/internal/camera"
	"github.com/kozaktomas/facecam/internal/config"
	"github.com/kozaktomas/facecam/internal/detector"
	"github.com/kozaktomas/facecam/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config         *config.Config
	router         *chi.Mux
	httpServer     *http.Server
	detector       detector.Detector
	loop           *camera.Loop
	sessionManager *middleware.SessionManager
	// ctx is cancelled on Shutdown; background work started by handlers uses it
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new web server. loop may be nil when no camera source
// is configured, sessionRepo may be nil for in-memory sessions.
func NewServer(cfg *config.Config, det detector.Detector, loop *camera.Loop, sessionRepo middleware.SessionRepository) *Server {
	r := chi.NewRouter()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:         cfg,
		router:         r,
		detector:       det,
		loop:           loop,
		sessionManager: middleware.NewSessionManager(cfg.Web.SessionSecret, sessionRepo),
		ctx:            ctx,
		cancel:         cancel,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // camera events are a long-lived SSE stream
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops the camera loop and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")

	if s.loop != nil && s.loop.Status().Running {
		if err := s.loop.Stop(); err != nil {
			log.Printf("Failed to stop camera: %v", err)
		}
	}
	s.cancel()

	if s.sessionManager != nil {
		s.sessionManager.Stop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
