package sandbox

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Pool holds pre-warmed, created-but-not-started containers so that
// provisioning can skip container creation on the hot path. The containers
// already carry the entry point command; staging the artifact and starting
// them is the caller's job.
type Pool struct {
	logger *zap.Logger
	create func(context.Context) (string, error)
	remove func(context.Context, string) error

	mu     sync.Mutex
	idle   chan string
	size   int
	closed bool
}

// NewPool creates a pool of up to size pre-warmed containers. A size of zero
// disables pre-warming; Acquire then always misses.
func NewPool(logger *zap.Logger, size int, create func(context.Context) (string, error), remove func(context.Context, string) error) *Pool {
	if size < 0 {
		size = 0
	}

	return &Pool{
		logger: logger,
		create: create,
		remove: remove,
		idle:   make(chan string, size),
		size:   size,
	}
}

// Acquire pops a pre-warmed container if one is available. It never blocks;
// a miss means the caller provisions cold. A closed pool always misses: the
// drained channel yields its zero value, which must not be mistaken for a
// container.
func (p *Pool) Acquire() (string, bool) {
	select {
	case id, ok := <-p.idle:
		if !ok {
			return "", false
		}
		return id, true
	default:
		return "", false
	}
}

// Replenish creates containers until the pool is back at its configured
// size. Safe to call concurrently with other replenishers and with Close;
// containers created after the pool filled or closed underneath are
// discarded rather than sent, since a send on the closed channel would
// panic.
func (p *Pool) Replenish(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return fmt.Errorf("pool is closed")
		}
		if len(p.idle) >= p.size {
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		id, err := p.create(ctx)
		if err != nil {
			return fmt.Errorf("failed to prewarm container: %w", err)
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.discard(ctx, id)
			return fmt.Errorf("pool is closed")
		}
		select {
		case p.idle <- id:
			p.mu.Unlock()
		default:
			// A racing replenisher filled the pool first.
			p.mu.Unlock()
			p.discard(ctx, id)
			return nil
		}
	}
}

// Close removes all idle containers and marks the pool closed. Idempotent.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.idle)
	p.mu.Unlock()

	var firstErr error
	for id := range p.idle {
		if err := p.remove(ctx, id); err != nil {
			p.logger.Warn("failed to remove prewarmed container",
				zap.String("container_id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Idle returns the number of containers currently waiting in the pool.
func (p *Pool) Idle() int {
	return len(p.idle)
}

func (p *Pool) discard(ctx context.Context, id string) {
	if err := p.remove(ctx, id); err != nil {
		p.logger.Warn("failed to remove surplus prewarmed container",
			zap.String("container_id", id), zap.Error(err))
	}
}
