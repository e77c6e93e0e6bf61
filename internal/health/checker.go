// Package health runs periodic checks over the journal, the OPP tables
// and the hardware/framework level agreement, with auto-recovery.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/socpm/pmres/internal/domain"
	"github.com/socpm/pmres/internal/infra/metrics"
	"github.com/socpm/pmres/internal/infra/resource"
	"github.com/socpm/pmres/internal/infra/sqlite"
)

// DefaultInterval is the check period when none is configured.
const DefaultInterval = 30 * time.Second

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

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      logr.Logger
}

// NewChecker creates a checker with the standard checks: journal
// connectivity, data directory, OPP tables and OPP sync.
func NewChecker(db *sqlite.DB, dataDir string, fw *resource.Framework, interval time.Duration, log logr.Logger) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Checker{
		interval: interval,
		log:      log.WithName("health"),
		checks: []Check{
			{
				Name: "journal",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
			},
			{
				Name: "data_dir",
				CheckFn: func(ctx context.Context) error {
					return checkDataDir(dataDir)
				},
			},
			{
				Name: "opp_tables",
				CheckFn: func(ctx context.Context) error {
					if !fw.TablesLoaded() {
						return domain.ErrTablesUnavailable
					}
					return nil
				},
			},
			{
				Name: "opp_sync",
				CheckFn: func(ctx context.Context) error {
					return fw.InSync()
				},
				RecoverFn: func(ctx context.Context) error {
					var errs []error
					for _, v := range domain.VDDs {
						if _, err := fw.Resync(v); err != nil && !errors.Is(err, domain.ErrInvalidDomain) {
							errs = append(errs, err)
						}
					}
					return errors.Join(errs...)
				},
			},
		},
	}
}

// Run starts the health check loop. It returns when ctx is done.
func (c *Checker) Run(ctx context.Context) error {
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			c.log.Info("health check failed", "check", check.Name, "error", s.Error)
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.log.Error(rerr, "recovery failed", "check", check.Name)
				}
			}
		} else {
			s.Healthy = true
		}
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(boolGauge(s.Healthy))
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

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
