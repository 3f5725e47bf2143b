package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/webplatform/sandboxd/session"
)

// Reaper periodically cleans up sessions older than the configured age
// threshold, reclaiming containers abandoned by their clients. After each
// sweep it gives the backend a chance to replenish its pre-warmed pool.
type Reaper struct {
	logger    *zap.Logger
	engine    *Engine
	registry  *session.Registry
	ttl       time.Duration
	interval  time.Duration
	replenish func(context.Context)

	stop chan struct{}
	done chan struct{}
}

// NewReaper creates a reaper. replenish may be nil if the backend has no
// pool to maintain.
func NewReaper(logger *zap.Logger, engine *Engine, registry *session.Registry, ttl, interval time.Duration, replenish func(context.Context)) *Reaper {
	return &Reaper{
		logger:    logger,
		engine:    engine,
		registry:  registry,
		ttl:       ttl,
		interval:  interval,
		replenish: replenish,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background loop.
func (r *Reaper) Start() {
	go r.run()
}

// Stop terminates the loop and waits for the in-flight sweep to finish.
func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reaper) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started",
		zap.Duration("ttl", r.ttl),
		zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			if reaped := r.sweep(ctx); reaped > 0 {
				r.logger.Info("reaped expired sessions", zap.Int("count", reaped))
			}
			if r.replenish != nil {
				r.replenish(ctx)
			}
			cancel()
		case <-r.stop:
			return
		}
	}
}

// sweep cleans up every session older than the age threshold and returns how
// many were reclaimed.
func (r *Reaper) sweep(ctx context.Context) int {
	reaped := 0
	for _, sess := range r.registry.Snapshot() {
		if sess.Age() <= r.ttl {
			continue
		}
		// A concurrent client cleanup may win the record; that is fine.
		if err := r.engine.Cleanup(ctx, sess.ID()); err == nil {
			reaped++
		}
	}
	return reaped
}
