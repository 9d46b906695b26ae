package web

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/facecam/internal/web/handlers"
	"github.com/kozaktomas/facecam/internal/web/middleware"
	"github.com/kozaktomas/facecam/internal/web/static"
)

// requestTimeout bounds every request except the camera event stream.
const requestTimeout = 2 * time.Minute

func (s *Server) setupRoutes() {
	sm := s.sessionManager

	authHandler := handlers.NewAuthHandler(s.config, sm)
	configHandler := handlers.NewConfigHandler(s.config)
	detectHandler := handlers.NewDetectHandler(s.detector)
	matchHandler := handlers.NewMatchHandler(s.config, s.detector)
	cameraHandler := handlers.NewCameraHandler(s.ctx, s.config, s.loop)
	descriptorsHandler := handlers.NewDescriptorsHandler(s.config, s.detector, cameraHandler.RefreshMatcher)

	s.router.Route("/api/v1", func(r chi.Router) {
		// SSE must not be cut off by the request timeout
		r.With(middleware.RequireAuth(sm)).Get("/camera/events", cameraHandler.Events)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Get("/health", handlers.HealthCheck)
			r.Get("/config", configHandler.Get)

			r.Post("/auth/signup", authHandler.Signup)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/status", authHandler.Status)

			r.Post("/detect", detectHandler.Detect)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth(sm))

				r.Get("/descriptors", descriptorsHandler.List)
				r.Post("/descriptors", descriptorsHandler.Create)
				r.Delete("/descriptors", descriptorsHandler.DeleteAll)
				r.Get("/descriptors/{id}", descriptorsHandler.Get)
				r.Delete("/descriptors/{id}", descriptorsHandler.Delete)

				r.Post("/match", matchHandler.Match)

				r.Post("/camera/start", cameraHandler.Start)
				r.Post("/camera/stop", cameraHandler.Stop)
				r.Get("/camera/status", cameraHandler.Status)
				r.Get("/camera/frame", cameraHandler.Frame)
				r.Post("/camera/recognize", cameraHandler.Recognize)
			})
		})
	})

	s.router.Get("/*", s.servePage)
}

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".ico":  "image/x-icon",
}

func contentTypeFor(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		if ct, ok := contentTypes[path[i:]]; ok {
			return ct
		}
	}
	return "application/octet-stream"
}

// servePage serves the embedded demo page and its assets. Unknown paths
// get index.html.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request) {
	if !static.HasDist() {
		http.NotFound(w, r)
		return
	}
	fs := static.GetFileSystem()

	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	f, err := fs.Open(path)
	if err == nil {
		defer f.Close()
		if stat, err := f.Stat(); err == nil && !stat.IsDir() {
			w.Header().Set("Content-Type", contentTypeFor(path))
			w.WriteHeader(http.StatusOK)
			_, _ = io.Copy(w, f)
			return
		}
	}

	index, err := fs.Open("/index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer index.Close()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, index)
}
