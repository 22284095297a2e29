package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/auth"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/metadata"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/notify"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/storage"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
}

// Server is the API server.
type Server struct {
	store    storage.Backend
	engine   *metadata.Engine
	hub      *notify.Hub
	verifier *auth.Verifier
	cfg      Config
	httpSrv  *http.Server
}

// NewServer creates a fully wired Server. The hub receives every mutation
// made through the engine plus anything the backend watcher picks up.
func NewServer(store storage.Backend, verifier *auth.Verifier, cfg Config) *Server {
	hub := notify.NewHub()
	engine := metadata.NewEngine(store, hub)

	return &Server{
		store:    store,
		engine:   engine,
		hub:      hub,
		verifier: verifier,
		cfg:      cfg,
	}
}

// Hub exposes the notification hub (for wiring the backend watcher).
func (s *Server) Hub() *notify.Hub {
	return s.hub
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)
	r.Use(logMiddleware)

	// Prometheus metrics (unauthenticated)
	r.Handle("/metrics", MetricsHandler())

	// Public routes (no auth required)
	r.Get("/healthz", s.HealthHandler)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware(s.verifier))

		r.Get("/api/v1/namespaces", s.NamespacesHandler)
		r.Get("/api/v1/ws", s.WatchHandler)

		r.Route("/api/v1/namespaces/{namespace}", func(r chi.Router) {
			r.Get("/secrets", s.SecretsListHandler)
			r.Post("/secrets", s.SecretsUpsertHandler)
			r.Delete("/secrets", s.SecretsDeleteHandler)
			r.Post("/share", s.ShareHandler)
			r.Post("/access-request", s.AccessRequestHandler)
			r.Put("/access-request", s.AccessRespondHandler)
			r.Post("/reassign", s.ReassignHandler)
			r.Get("/audit", s.AuditHandler)
		})
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	handler := s.BuildRouter()

	s.httpSrv = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: handler,
		// No global read/write timeouts: /api/v1/ws holds connections open.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{
				tls.CurveP256,
				tls.X25519,
			},
		}
		s.httpSrv.TLSConfig = tlsCfg
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
