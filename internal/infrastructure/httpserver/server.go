package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// StatusFunc returns a JSON-encodable status document.
type StatusFunc func() any

// RouterDeps lists what the operational surface exposes.
type RouterDeps struct {
	Realtime  http.Handler
	Gatherer  prometheus.Gatherer
	Health    HealthFunc
	Scheduler StatusFunc
	AccessLog io.Writer
	Logger    *slog.Logger
}

// NewRouter builds the /ws, /metrics and /healthz routes.
func NewRouter(deps RouterDeps) http.Handler {
	r := mux.NewRouter()

	if deps.Realtime != nil {
		r.Handle("/ws", deps.Realtime)
	}
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", healthHandler(deps.Health, deps.Scheduler)).Methods(http.MethodGet)

	var h http.Handler = r
	if deps.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(deps.AccessLog, h)
	}
	opts := []handlers.RecoveryOption{handlers.PrintRecoveryStack(false)}
	if deps.Logger != nil {
		opts = append(opts, handlers.RecoveryLogger(recoveryLogger{deps.Logger}))
	}
	return handlers.RecoveryHandler(opts...)(h)
}

func healthHandler(check HealthFunc, scheduler StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		code := http.StatusOK

		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				body["status"] = "degraded"
				body["error"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		if scheduler != nil {
			body["scheduler"] = scheduler()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

type recoveryLogger struct{ logger *slog.Logger }

func (l recoveryLogger) Println(args ...any) {
	l.logger.Error("http handler panic", "panic", args)
}

// Server runs the router until Shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New binds handler to addr.
func New(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background; a listener failure is sent on the returned channel.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown stops accepting connections and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
