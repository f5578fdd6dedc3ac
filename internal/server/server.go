// Package server exposes the gateway's HTTP surface: the credential
// seeding routes, the SSO entry point, the WebSocket upgrade, and the
// health/metrics endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/webssh2/webssh2/internal/adapter"
	"github.com/webssh2/webssh2/internal/bus"
	"github.com/webssh2/webssh2/internal/config"
	"github.com/webssh2/webssh2/internal/hostkeys"
	"github.com/webssh2/webssh2/internal/logging"
	"github.com/webssh2/webssh2/internal/session"
	"github.com/webssh2/webssh2/internal/sshsvc"
)

// Deps are the long-lived collaborators shared by every request.
type Deps struct {
	Store    *session.Store
	SSH      *sshsvc.Service
	HostKeys *hostkeys.Store // nil when verification is disabled
	Bus      *bus.Bus
	Logs     *logging.Pipeline
	Registry *adapter.Registry
}

type Server struct {
	cfg        *config.Config
	deps       Deps
	sessions   *HTTPSessions
	router     chi.Router
	httpServer *http.Server
}

func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		sessions: NewHTTPSessions(cfg.Session.Secret, cfg.Session.MaxIdle()),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(s.cfg.HTTP.Origins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ssh/host/{host}", s.handleSSHHost)
	r.Get("/ssh/config", s.handleSSHConfig)
	r.Post("/ssh", s.handleSSO)
	r.Get("/ws", s.handleWebSocket)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.router = r
}

// requestLogger logs completed requests at debug level. The structured
// pipeline covers session-scoped events; this is plumbing visibility only.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// corsOrigins maps the host:port origin patterns of the config to the
// scheme-qualified patterns the cors middleware expects.
func corsOrigins(patterns []string) []string {
	out := make([]string, 0, len(patterns)*2)
	for _, p := range patterns {
		if p == "*:*" || p == "*" {
			return []string{"*"}
		}
		p = strings.TrimSuffix(p, ":*")
		out = append(out, "http://"+p, "https://"+p)
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Listen.IP, s.cfg.Listen.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	s.sessions.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
