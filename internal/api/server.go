// Package api provides the HTTP server and routing for the auth service.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/axonops/axonops-auth-service/internal/api/handlers"
	"github.com/axonops/axonops-auth-service/internal/auth"
	"github.com/axonops/axonops-auth-service/internal/config"
	"github.com/axonops/axonops-auth-service/internal/metrics"
	"github.com/axonops/axonops-auth-service/internal/storage"
)

// Options carries the optional collaborators main wires into the server.
type Options struct {
	// Audit, when non-nil, records security relevant requests.
	Audit *auth.AuditLogger
	// Migrations feeds schema coordination state into /admin/status.
	Migrations handlers.MigrationRequests
	// Build identification, reported by /admin/status.
	Version   string
	Commit    string
	BuildTime string
}

// Server represents the HTTP server.
type Server struct {
	config  *config.Config
	service *auth.Service
	store   storage.Store
	router  chi.Router
	server  *http.Server
	logger  *slog.Logger
	metrics *metrics.Metrics
	handler *handlers.Handler
	audit   *auth.AuditLogger
	jwt     *auth.JWTProvider
	limiter *auth.RateLimiter
	tls     *auth.TLSManager

	stop context.CancelFunc
}

// NewServer creates a new HTTP server.
func NewServer(cfg *config.Config, svc *auth.Service, store storage.Store, logger *slog.Logger, opts Options) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	jwt, err := auth.NewJWTProvider(cfg.Admin.JWT)
	if err != nil {
		return nil, fmt.Errorf("failed to configure admin jwt: %w", err)
	}

	var tlsManager *auth.TLSManager
	if cfg.Server.TLS.Enabled {
		tlsManager, err = auth.NewTLSManager(cfg.Server.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load tls keypair: %w", err)
		}
	}

	s := &Server{
		config:  cfg,
		service: svc,
		store:   store,
		logger:  logger,
		metrics: metrics.New(),
		audit:   opts.Audit,
		jwt:     jwt,
		limiter: auth.NewRateLimiter(cfg.RateLimit),
		tls:     tlsManager,
	}

	keyspace, cluster := "", ""
	if cfg.Storage.Type == "cassandra" {
		keyspace = cfg.Cassandra.AuthKeyspace
		cluster = cfg.Cassandra.Cluster
	}
	s.handler = handlers.New(svc, store, s.metrics, logger, handlers.Config{
		Version:    opts.Version,
		Commit:     opts.Commit,
		BuildTime:  opts.BuildTime,
		Storage:    cfg.Storage.Type,
		Keyspace:   keyspace,
		Cluster:    cluster,
		Migrations: opts.Migrations,
	})

	s.setupRouter()
	return s, nil
}

// setupRouter configures routes and middleware.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.metrics.Middleware)
	if s.audit != nil {
		r.Use(s.audit.Middleware)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := s.handler

	r.Get("/", h.HealthCheck)
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadinessCheck)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	if s.config.Server.DocsEnabled {
		r.Get("/openapi.yaml", handleOpenAPISpec)
		r.Get("/docs", handleSwaggerUI)
	}

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.CreateUser)
		r.Get("/{principal}", h.GetUser)
		r.Post("/{principal}/requestpasswordreset", h.RequestPasswordReset)
		r.Post("/{principal}/completepasswordreset", h.CompletePasswordReset)
	})

	r.Route("/sessions", func(r chi.Router) {
		// Login is the only brute forceable endpoint, so the rate limit
		// applies here alone.
		r.With(s.limiter.Middleware).Post("/{principal}", h.Login)
		r.Get("/{principal}", h.ListSessions)
		r.Get("/{principal}/{sessionid}", h.GetSession)
		r.Delete("/{principal}/{sessionid}", h.RevokeSession)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.jwt.Middleware)
		r.Get("/status", h.AdminStatus)
		r.Get("/orgs/{org}/settings/{setting}", h.GetOrgSetting)
		r.Put("/orgs/{org}/settings/{setting}", h.SetOrgSetting)
		r.Get("/settings/{setting}", h.GetGlobalSetting)
		r.Put("/settings/{setting}", h.SetGlobalSetting)
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel

	if s.tls != nil && s.config.Server.TLS.Watch {
		if err := s.tls.Watch(ctx, s.logger); err != nil {
			cancel()
			return fmt.Errorf("failed to watch tls keypair: %w", err)
		}
	}
	if s.config.RateLimit.Enabled {
		go s.cleanupClients(ctx)
	}

	addr := s.config.Address()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout.Std(),
		WriteTimeout: s.config.Server.WriteTimeout.Std(),
	}

	if s.tls != nil {
		s.server.TLSConfig = s.tls.TLSConfig()
		s.logger.Info("starting server",
			slog.String("address", addr), slog.Bool("tls", true))
		return s.server.ListenAndServeTLS("", "")
	}

	s.logger.Info("starting server", slog.String("address", addr))
	return s.server.ListenAndServe()
}

// cleanupClients drops idle rate limit buckets so the per client map cannot
// grow without bound.
func (s *Server) cleanupClients(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.CleanupStaleClients(10 * time.Minute)
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stop != nil {
		s.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// SetReady flips the readiness endpoint. Main calls it once bootstrap has
// finished.
func (s *Server) SetReady(ready bool) {
	s.handler.SetReady(ready)
}

// Metrics returns the server's metrics instance so main can wire schema
// coordination hooks into it.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Router returns the underlying router, mainly for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Address returns the base URL the server listens on.
func (s *Server) Address() string {
	scheme := "http"
	if s.config.Server.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, s.config.Address())
}
