// Package health runs each mounted driver's HealthCheck on an interval and
// keeps the last known status, in the style of a periodic HealthChecker
// interface shape (pkg/types/interfaces.go) but driven directly off
// internal/driver.Driver instead of a separate status subsystem.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/nimbusgate/gateway/internal/driver"
	"github.com/nimbusgate/gateway/pkg/logging"
)

// Status is one driver's last observed health.
type Status struct {
	DriverName string
	Healthy    bool
	CheckedAt  time.Time
	Err        error
}

// Checker periodically calls HealthCheck on a set of registered drivers and
// serves the last result without blocking on the network.
type Checker struct {
	interval time.Duration
	log      *logging.Logger

	mu       sync.RWMutex
	drivers  map[string]driver.Driver
	statuses map[string]Status
}

// NewChecker creates a Checker that probes every registered driver every
// interval.
func NewChecker(interval time.Duration, log *logging.Logger) *Checker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logging.New(logging.INFO, nil, logging.FormatText)
	}
	return &Checker{
		interval: interval,
		log:      log.With("health", nil),
		drivers:  make(map[string]driver.Driver),
		statuses: make(map[string]Status),
	}
}

// Register adds a driver to the rotation under name.
func (c *Checker) Register(name string, d driver.Driver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drivers[name] = d
}

// Unregister removes a driver from the rotation.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drivers, name)
	delete(c.statuses, name)
}

// Status returns the last known health for name, ok false if never checked.
func (c *Checker) Status(name string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[name]
	return s, ok
}

// All returns a snapshot of every driver's last known health.
func (c *Checker) All() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Status, 0, len(c.statuses))
	for _, s := range c.statuses {
		out = append(out, s)
	}
	return out
}

// Run blocks, probing all registered drivers every interval until ctx is
// cancelled.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeAll(ctx)
		}
	}
}

func (c *Checker) probeAll(ctx context.Context) {
	c.mu.RLock()
	targets := make(map[string]driver.Driver, len(c.drivers))
	for name, d := range c.drivers {
		targets[name] = d
	}
	c.mu.RUnlock()

	for name, d := range targets {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := d.HealthCheck(checkCtx)
		cancel()

		status := Status{DriverName: name, Healthy: err == nil, CheckedAt: time.Now(), Err: err}
		if err != nil {
			c.log.Warn("driver health check failed", map[string]interface{}{"driver": name, "error": err.Error()})
		}

		c.mu.Lock()
		c.statuses[name] = status
		c.mu.Unlock()
	}
}
