// internal/api/server.go
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/launch-guard/internal/config"
	"github.com/rovshanmuradov/launch-guard/internal/launch"
	"github.com/rovshanmuradov/launch-guard/internal/metrics"
	"github.com/rovshanmuradov/launch-guard/internal/sniper"
)

const (
	maxRequestBodyBytes = 1 << 20
	ioTimeout           = 15 * time.Second
)

// Monitors is the sniper monitor surface exposed over HTTP.
type Monitors interface {
	Start(ctx context.Context, req sniper.StartRequest) (*sniper.StartResponse, error)
	Status(ctx context.Context, tokenMint string) (*sniper.StatusResponse, error)
	Cancel(ctx context.Context, tokenMint string) (*sniper.StatusResponse, error)
	Active() int
}

// Launcher submits a launch set.
type Launcher interface {
	Launch(ctx context.Context, req launch.Request) (*launch.Result, error)
}

// Server serves the monitor and launch API.
type Server struct {
	monitors Monitors
	launcher Launcher
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics
	limiter  *RateLimiter
	cfg      config.HTTPConfig
	logger   *zap.Logger

	srv *http.Server
}

func NewServer(
	monitors Monitors,
	launcher Launcher,
	gatherer prometheus.Gatherer,
	m *metrics.Metrics,
	cfg config.HTTPConfig,
	logger *zap.Logger,
) *Server {
	s := &Server{
		monitors: monitors,
		launcher: launcher,
		gatherer: gatherer,
		metrics:  m,
		limiter:  NewRateLimiter(cfg.RateHz, cfg.RateBurst),
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	s.srv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	}
	return s
}

// Handler returns the routed API with rate limiting and request metrics.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.limiter.Middleware(s.logger))
	v1.HandleFunc("/monitors", s.startMonitor).Methods(http.MethodPost)
	v1.HandleFunc("/monitors/{token}", s.monitorStatus).Methods(http.MethodGet)
	v1.HandleFunc("/monitors/{token}", s.cancelMonitor).Methods(http.MethodDelete)
	v1.HandleFunc("/launches", s.submitLaunch).Methods(http.MethodPost)

	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is cancelled, then shuts the listener down within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", s.cfg.Listen))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout())
	defer cancel()
	s.logger.Info("Shutting down HTTP API")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// statusRecorder captures the response code for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.Request(route, strconv.Itoa(rec.code))
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.code),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr))
	})
}
