// Package gateway exposes the control-plane HTTP API: operator login,
// account CRUD, manual triggers, history, notification settings, health,
// and metrics. It is a leaf component; the scheduling core never calls it.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/leafcheck/leafcheckd/internal/metrics"
	"github.com/leafcheck/leafcheckd/internal/notify"
	"github.com/leafcheck/leafcheckd/internal/scheduler"
	"github.com/leafcheck/leafcheckd/internal/store"
)

// Config holds the gateway settings.
type Config struct {
	Listen    string
	JWTSecret string
	AdminUser string
	AdminPass string

	// Location is the scheduler's timezone, used to bucket "today" in the
	// dashboard. Defaults to time.Local.
	Location *time.Location
}

// Gateway is the control-plane HTTP server.
type Gateway struct {
	cfg       Config
	st        store.Store
	sched     *scheduler.Scheduler
	disp      *notify.Dispatcher
	mx        *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New wires the gateway. sched and disp may be nil in tests that only
// exercise CRUD handlers.
func New(cfg Config, st store.Store, sched *scheduler.Scheduler, disp *notify.Dispatcher, mx *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Gateway{
		cfg:    cfg,
		st:     st,
		sched:  sched,
		disp:   disp,
		mx:     mx,
		logger: logger,
	}
}

// Start begins serving in a background goroutine.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:              g.cfg.Listen,
		Handler:           g.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		g.logger.Info("gateway: listening", "addr", g.cfg.Listen)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway: server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}
