// Package server hosts the status and control HTTP surface: liveness and
// readiness probes, the full state snapshot, Prometheus metrics, and the
// operator command queue (pause, resume, forced exit, forced rotation,
// report export).
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"treasuryd/config"
	"treasuryd/observability"
	"treasuryd/state"
	"treasuryd/storage"
)

const authHeader = "X-Bot-Status-Token"

// Runtime exposes the scheduler counters the probes read.
type Runtime interface {
	Status() state.RuntimeStatus
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Server   config.Server
	Manifest config.Manifest
	Store    *storage.Store
	Runtime  Runtime
	Operator *state.Operator
	Exporter *storage.Exporter
}

// Server hosts the status and control endpoints. Every read goes through
// snapshot copies, so serving never contends with the tick loop beyond a
// mutex acquisition.
type Server struct {
	cfg      config.Server
	manifest config.Manifest
	store    *storage.Store
	runtime  Runtime
	operator *state.Operator
	exporter *storage.Exporter
	log      *slog.Logger
	metrics  *observability.ControlMetrics
	now      func() time.Time

	router http.Handler
}

// New constructs the configured server.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		cfg:      cfg.Server,
		manifest: cfg.Manifest,
		store:    cfg.Store,
		runtime:  cfg.Runtime,
		operator: cfg.Operator,
		exporter: cfg.Exporter,
		log:      logger.With("component", "server"),
		metrics:  observability.Control(),
		now:      time.Now,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// Run serves until context cancellation, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.Addr(),
		Handler:      otelhttp.NewHandler(s.router, "treasuryd.status"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("status server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(noStore)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireToken)
		protected.Get("/state", s.handleState)
		protected.Route("/controls", func(controls chi.Router) {
			controls.Use(newVisitorLimiter(s.cfg.ControlRatePerSec, s.cfg.ControlBurst).middleware)
			controls.Get("/", s.handleControls)
			controls.Post("/pause", s.handlePause)
			controls.Post("/resume", s.handleResume)
			controls.Post("/exit", s.handleExit)
			controls.Post("/rotate", s.handleRotate)
			controls.Post("/export", s.handleExport)
		})
	})

	return r
}

// requireToken guards /state and /controls with the shared token, accepted
// from the header or a ?token= query parameter. Requests pass untouched when
// no token is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(s.cfg.AuthToken)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		supplied := r.Header.Get(authHeader)
		if supplied == "" {
			supplied = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) probe() probe {
	staleMs := int64(s.cfg.StaleAfterSeconds) * 1000
	return evaluateProbe(s.runtime.Status(), s.now().UnixMilli(), staleMs)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	p := s.probe()
	status := http.StatusOK
	body := map[string]string{"status": "ok", "reason": p.Reason}
	if !p.Healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
	}
	s.writeJSON(w, status, body)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	p := s.probe()
	status := http.StatusOK
	body := map[string]string{"status": "ready", "reason": p.Reason}
	if !p.Ready {
		status = http.StatusServiceUnavailable
		body["status"] = "not_ready"
	}
	s.writeJSON(w, status, body)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runtime":  s.runtime.Status(),
		"operator": s.operator.Snapshot(),
		"state":    s.store.Document(),
	})
}

func (s *Server) handleControls(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.operator.Snapshot())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	st := s.operator.Pause()
	s.metrics.RecordCommand("pause", "ok")
	s.log.Info("operator paused the loop")
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	st := s.operator.Resume()
	s.metrics.RecordCommand("resume", "ok")
	s.log.Info("operator resumed the loop")
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	st := s.operator.RequestExit()
	s.metrics.RecordCommand("exit", "ok")
	s.log.Info("operator queued an exit to the parked token")
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PoolID string `json:"poolId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordCommand("rotate", "rejected")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	poolID := strings.TrimSpace(req.PoolID)
	if poolID == "" {
		s.metrics.RecordCommand("rotate", "rejected")
		http.Error(w, "poolId required", http.StatusBadRequest)
		return
	}
	if _, ok := s.manifest.PoolByID(poolID); !ok {
		s.metrics.RecordCommand("rotate", "rejected")
		http.Error(w, "unknown pool", http.StatusBadRequest)
		return
	}
	st := s.operator.RequestRotate(poolID)
	s.metrics.RecordCommand("rotate", "ok")
	s.log.Info("operator queued a rotation", "pool", poolID)
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		s.metrics.RecordCommand("export", "rejected")
		http.Error(w, "exports not configured", http.StatusServiceUnavailable)
		return
	}
	result, err := s.exporter.Export(s.store.Document())
	if err != nil {
		s.metrics.RecordCommand("export", "failed")
		s.log.Error("export failed", "err", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	s.metrics.RecordCommand("export", "ok")
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
