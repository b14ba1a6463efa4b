package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/gridwire/gridwire/internal/config"
	"github.com/gridwire/gridwire/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wires dependencies and hosts the websocket and admin endpoints for
// one coordinator instance.
type Server struct {
	cfg       config.Config
	log       *zap.Logger
	store     store.Store
	coord     *Coordinator
	httpSrv   *http.Server
	adminHTTP *http.Server
	ready     atomic.Bool
}

// New constructs a server with its dependencies.
func New(cfg config.Config, logger *zap.Logger, st store.Store) *Server {
	return &Server{
		cfg:   cfg,
		log:   logger,
		store: st,
	}
}

// Start boots the websocket server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := newCoordinatorMetrics(reg)
	s.startAdminServer(reg)

	s.coord = NewCoordinator(s.log, s.store, CoordinatorOptions{
		Rows:              s.cfg.Grid.Rows,
		Cols:              s.cfg.Grid.Cols,
		LockTTL:           s.cfg.Session.LockTTL,
		PresenceGrace:     s.cfg.Session.PresenceGrace,
		HeartbeatInterval: s.cfg.Session.HeartbeatInterval,
		InstanceID:        s.cfg.InstanceID,
		Metrics:           metrics,
	})

	go func() {
		if err := s.coord.Run(ctx); err != nil {
			s.log.Error("fanout bus stopped", zap.Error(err))
		}
	}()

	router := mux.NewRouter()
	router.HandleFunc("/ws", s.coord.HandleWS)

	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
	}()

	s.log.Info("websocket server listening", zap.String("address", s.cfg.ListenAddress))
	s.ready.Store(true)
	err := s.httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve websocket: %w", err)
	}
	return nil
}

func (s *Server) startAdminServer(reg *prometheus.Registry) {
	if s.cfg.Admin.Address == "" {
		return
	}

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	adminMux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminHTTP = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           adminMux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

// Shutdown attempts a graceful stop before forcing termination.
func (s *Server) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.coord != nil {
		s.coord.Stop()
	}
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("graceful shutdown timed out; forcing close", zap.Error(err))
		_ = s.httpSrv.Close()
	}
	s.log.Info("websocket server stopped")
}
