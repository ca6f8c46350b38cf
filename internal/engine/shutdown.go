package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CloseFunc adapts a function to io.Closer for shutdown registration.
type CloseFunc func() error

func (f CloseFunc) Close() error { return f() }

// ShutdownHandler closes registered services in reverse registration order
// under one overall deadline. Registration order is the startup order, so
// LIFO teardown detaches intake before the backends it feeds.
type ShutdownHandler struct {
	mu       sync.Mutex
	services []namedCloser
	timeout  time.Duration
	logger   *zap.Logger
}

type namedCloser struct {
	name   string
	closer io.Closer
}

func NewShutdownHandler(timeout time.Duration, logger *zap.Logger) *ShutdownHandler {
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &ShutdownHandler{timeout: timeout, logger: logger.Named("shutdown")}
}

// Add registers a service. Later registrations close earlier.
func (sh *ShutdownHandler) Add(name string, closer io.Closer) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.services = append(sh.services, namedCloser{name: name, closer: closer})
}

// AddFunc registers a shutdown function.
func (sh *ShutdownHandler) AddFunc(name string, fn func() error) {
	sh.Add(name, CloseFunc(fn))
}

// Shutdown runs the teardown. It returns false when the deadline expired
// before all services closed; the caller should exit non-zero.
func (sh *ShutdownHandler) Shutdown() bool {
	sh.mu.Lock()
	services := make([]namedCloser, len(sh.services))
	copy(services, sh.services)
	sh.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sh.timeout)
	defer cancel()

	sh.logger.Info("starting ordered shutdown", zap.Int("services", len(services)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(services) - 1; i >= 0; i-- {
			svc := services[i]
			if err := sh.closeOne(ctx, svc); err != nil {
				sh.logger.Error("service close failed",
					zap.String("service", svc.name), zap.Error(err))
			}
		}
	}()

	select {
	case <-done:
		sh.logger.Info("shutdown complete")
		return true
	case <-ctx.Done():
		sh.logger.Error("shutdown deadline exceeded, forcing exit",
			zap.Duration("deadline", sh.timeout))
		return false
	}
}

func (sh *ShutdownHandler) closeOne(ctx context.Context, svc namedCloser) error {
	result := make(chan error, 1)
	go func() {
		result <- svc.closer.Close()
	}()

	select {
	case err := <-result:
		if err == nil {
			sh.logger.Info("service closed", zap.String("service", svc.name))
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("close %s: %w", svc.name, ctx.Err())
	}
}
