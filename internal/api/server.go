package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/capture"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/config"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/validation"
)

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	manager   *capture.Manager
	validator *validation.Validator
	hub       *Hub
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new REST API server. The returned server's
// Hub is installed as the manager's notifier so capture state changes
// reach WebSocket clients.
func NewRESTServer(cfg *config.Config, manager *capture.Manager) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		manager:   manager,
		validator: validation.NewValidator(),
		hub:       NewHub(manager),
		router:    chi.NewRouter(),
	}
	manager.SetNotifier(s.hub)

	s.setupRoutes()

	s.server = &http.Server{
		Handler: s.router,
		// Long timeouts: apply_config blocks through a radio restart
		// that can take the full 90 second interface wait.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Hub returns the WebSocket hub so the caller can run its event loop.
func (s *RESTServer) Hub() *Hub { return s.hub }

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})

	// WebSocket endpoint stays outside the versioned prefix so the UI
	// can keep a stable path across API versions.
	s.router.Get("/ws", s.HandleWebSocket)
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr

	// 挂载静态文件服务 (Web UI)
	if webDir := os.Getenv("WEB_DIR"); webDir != "" {
		if _, err := os.Stat(webDir); os.IsNotExist(err) {
			log.Warn().Str("dir", webDir).Msg("Web directory not found, Web UI will not be available")
		} else {
			log.Info().Str("dir", webDir).Msg("Serving Web UI from directory")

			router := s.router
			s.server.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
					router.ServeHTTP(w, r)
					return
				}

				if r.URL.Path == "/" || !strings.Contains(r.URL.Path, ".") {
					http.ServeFile(w, r, filepath.Join(webDir, "index.html"))
					return
				}
				http.FileServer(http.Dir(webDir)).ServeHTTP(w, r)
			})
		}
	}

	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
