// Package httpapi is the Intake API of spec.md §4.J: a thin HTTP/WebSocket
// façade over the Orchestrator, Shame List and Push Bus. The middleware
// chain and graceful-shutdown shape follow the teacher's CrlsMrls-dummybox
// server.New, rebuilt on chi since the teacher's own server package used a
// bare http.ServeMux with no middleware composition.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/signalzero/core/internal/config"
	"github.com/signalzero/core/internal/identity"
	"github.com/signalzero/core/internal/metrics"
	"github.com/signalzero/core/internal/orchestrator"
	"github.com/signalzero/core/internal/pushbus"
	"github.com/signalzero/core/internal/shamelist"
	"github.com/signalzero/core/internal/store"
)

// Server is the HTTP/WebSocket façade.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	cfg        config.Config
}

// Deps bundles the collaborators the API dispatches to.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	ShameList    *shamelist.List
	Push         *pushbus.Bus
	Identity     *identity.Manager
	Metrics      *metrics.Registry
	Registry     *prometheus.Registry
}

// New builds the chi router and underlying http.Server, following the
// teacher's middleware ordering: request-scoped logger, metrics, access
// log, request id, recoverer.
func New(cfg config.Config, deps Deps, logWriter io.Writer, logger zerolog.Logger) *Server {
	if logWriter == nil {
		logWriter = os.Stdout
	}

	r := chi.NewRouter()
	r.Use(
		hlog.NewHandler(logger),
		httpMetricsMiddleware(deps.Metrics),
		hlog.AccessHandler(func(req *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(req).Info().
				Str("method", req.Method).
				Str("url", req.URL.String()).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
		hlog.RemoteAddrHandler("ip"),
		hlog.UserAgentHandler("user_agent"),
		middleware.RequestID,
		middleware.Recoverer,
		identity.Middleware(deps.Identity, cfg.Auth.RequireAuth),
	)

	h := &handlers{deps: deps, cfg: cfg}

	r.Get("/healthz", h.healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyses", h.submitAnalysis)
		r.Get("/analyses/{id}", h.getAnalysis)
		r.Get("/analyses/{id}/stream", h.streamAnalysis)
		r.Delete("/analyses/{id}", h.cancelAnalysis)
		r.Get("/shame", h.listShame)
	})

	if cfg.Metrics.Enabled && deps.Registry != nil {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	return &Server{
		cfg:    cfg,
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      r,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// ListenAndServe starts the HTTP server; it returns on Shutdown or a fatal
// listener error.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func httpMetricsMiddleware(reg *metrics.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reg == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			reg.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%dxx", ww.Status()/100)).Inc()
			reg.HTTPLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
