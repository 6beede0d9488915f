package signaling

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reaper periodically force-closes sessions idle past the timeout. It is
// the only bound on memory growth from abandoned sessions: clients that
// vanish without a clean disconnect eventually time out here.
type Reaper struct {
	gw       *Gateway
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// ReasonTimeout is the close reason the reaper reports to room members.
const ReasonTimeout = "timeout"

// NewReaper creates an idle-session reaper.
func NewReaper(gw *Gateway, registry *Registry, interval, timeout time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{
		gw:       gw,
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started",
		zap.Duration("interval", r.interval),
		zap.Duration("idle_timeout", r.timeout))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Sweep finalizes every session idle past the timeout, with the same
// notifications an explicit finalize produces.
func (r *Reaper) Sweep(now time.Time) {
	for _, id := range r.registry.IdleSince(r.timeout, now) {
		r.logger.Info("reaping idle session", zap.String("session_id", id))
		r.gw.Finalize(id, ReasonTimeout)
	}
}
