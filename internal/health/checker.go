// Package health provides periodic health checks with optional recovery.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soma-network/soma/internal/infra/metrics"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is satisfied by the SQLite store.
type Pinger interface {
	Ping() error
}

// Counter is satisfied by the peer registry.
type Counter interface {
	Count() (int, error)
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      *zap.Logger
}

// NewChecker creates a checker with no checks; add them with Add.
func NewChecker(interval time.Duration, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{interval: interval, log: logger.Named("health")}
}

// NewNodeChecker creates a checker for the store and the peer registry.
func NewNodeChecker(db Pinger, reg Counter, interval time.Duration, logger *zap.Logger) *Checker {
	c := NewChecker(interval, logger)
	c.Add(Check{
		Name:    "sqlite",
		CheckFn: func(ctx context.Context) error { return db.Ping() },
	})
	c.Add(Check{
		Name:    "registry",
		CheckFn: func(ctx context.Context) error { return registryResponsive(ctx, reg) },
	})
	return c
}

// Add registers a check. Not safe to call once Run has started.
func (c *Checker) Add(check Check) {
	c.checks = append(c.checks, check)
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce executes every check and stores the results.
func (c *Checker) RunOnce(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
			c.log.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// registryResponsive fails if the registry is closed or does not answer
// within a second.
func registryResponsive(ctx context.Context, reg Counter) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := reg.Count()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("registry: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry unresponsive: %w", ctx.Err())
	}
}
