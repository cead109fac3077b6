// Package shutdown coordinates graceful teardown of the routing core: the
// probe and scaler loops must stop before registry state is released, and
// the logger syncs last.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Hook is one teardown step. Lower priorities run first.
type Hook struct {
	Name     string
	Priority int
	Timeout  time.Duration
	Fn       func(context.Context) error
}

// Well-known hook priorities. Background loops stop before shared state is
// released; the logger flushes last.
const (
	PriorityBackgroundLoops = 5
	PriorityRegistry        = 20
	PriorityStores          = 30
	PriorityLogger          = 40
)

// GracefulShutdown runs registered hooks in priority order on signal or on
// explicit request.
type GracefulShutdown struct {
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	hooks    []Hook
	shutdown bool
	done     chan struct{}
}

// New creates a shutdown coordinator with an overall timeout.
func New(timeout time.Duration, logger *zap.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GracefulShutdown{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// AddHook registers a teardown step, kept sorted by priority.
func (gs *GracefulShutdown) AddHook(hook Hook) {
	if hook.Timeout == 0 {
		hook.Timeout = gs.timeout
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()

	inserted := false
	for i, h := range gs.hooks {
		if hook.Priority < h.Priority {
			gs.hooks = append(gs.hooks[:i], append([]Hook{hook}, gs.hooks[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		gs.hooks = append(gs.hooks, hook)
	}
}

// Listen blocks a goroutine on the given signals and triggers shutdown when
// one arrives.
func (gs *GracefulShutdown) Listen(signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGTERM, syscall.SIGINT}
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)

	go func() {
		sig := <-c
		gs.logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		gs.Shutdown()
	}()
}

// Shutdown runs all hooks once, in priority order.
func (gs *GracefulShutdown) Shutdown() {
	gs.mu.Lock()
	if gs.shutdown {
		gs.mu.Unlock()
		return
	}
	gs.shutdown = true
	hooks := append([]Hook(nil), gs.hooks...)
	gs.mu.Unlock()

	defer close(gs.done)

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	gs.logger.Info("Starting graceful shutdown", zap.Int("hooks", len(hooks)))
	start := time.Now()

	for _, hook := range hooks {
		gs.executeHook(ctx, hook)
	}

	gs.logger.Info("Graceful shutdown completed", zap.Duration("duration", time.Since(start)))
}

func (gs *GracefulShutdown) executeHook(ctx context.Context, hook Hook) {
	hookCtx, cancel := context.WithTimeout(ctx, hook.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- hook.Fn(hookCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			gs.logger.Error("Shutdown hook failed",
				zap.String("name", hook.Name),
				zap.Error(err),
			)
		} else {
			gs.logger.Debug("Shutdown hook completed", zap.String("name", hook.Name))
		}
	case <-hookCtx.Done():
		gs.logger.Warn("Shutdown hook timed out",
			zap.String("name", hook.Name),
			zap.Duration("timeout", hook.Timeout),
		)
	}
}

// Wait blocks until shutdown has completed.
func (gs *GracefulShutdown) Wait() {
	<-gs.done
}
