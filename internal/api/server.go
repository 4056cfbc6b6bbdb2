// Package api is the operator surface of the posture agent: session
// start/stop, the status display, threshold configuration, the rendered pose
// overlay and a live status stream. It enforces cross-cutting concerns
// (panic recovery, request IDs, logging, compression, rate limiting) before
// requests reach the monitor.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"posturewatch/internal/config"
	"posturewatch/internal/monitor"
	"posturewatch/internal/posture"
	"posturewatch/internal/types"
)

// Controller is the set of monitor operations the API exposes.
type Controller interface {
	OnStart(ctx context.Context) (monitor.Status, error)
	OnStop(ctx context.Context) (monitor.Status, error)
	OnSaveConfig(ctx context.Context, cfg types.PostureConfig) (monitor.SaveResult, error)
	Status() monitor.Status
	Overlay() ([]byte, bool)
	Settings() posture.Settings
	Subscribe() (<-chan monitor.Status, func())
}

// Server holds the API's dependencies.
type Server struct {
	Config       *config.Config
	Monitor      Controller
	Logger       *slog.Logger
	HealthProbes []HealthProbe

	limiter  *ipLimiter
	upgrader websocket.Upgrader
	router   *chi.Mux

	// done is closed on Shutdown to end open streams; hijacked connections
	// are not tracked by http.Server.
	done     chan struct{}
	doneOnce sync.Once
}

// NewServer validates dependencies and builds an unmounted Server. Call
// MountRoutes before serving.
func NewServer(cfg *config.Config, ctrl Controller, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if ctrl == nil {
		return nil, fmt.Errorf("monitor must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:  cfg,
		Monitor: ctrl,
		Logger:  logger,
		limiter: newIPLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		router: chi.NewRouter(),
		done:   make(chan struct{}),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown closes open status streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })
	s.Logger.InfoContext(ctx, "api shutdown complete")
	return nil
}
