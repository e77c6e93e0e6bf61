package hw

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/socpm/pmres/internal/domain"
)

// ClockTree resolves the PRCM virtual clocks.
type ClockTree struct {
	clocks map[string]*VirtualClock
}

// Clock implements domain.ClockSource.
func (c *ClockTree) Clock(name string) (domain.Clock, error) {
	clk, ok := c.clocks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrClockNotFound, name)
	}
	return clk, nil
}

// Get returns the concrete virtual clock for failure injection.
func (c *ClockTree) Get(name string) *VirtualClock {
	return c.clocks[name]
}

// VirtualClock selects a whole operating point of one voltage domain by
// rate. Only rates present in its table are accepted.
type VirtualClock struct {
	mu       sync.Mutex
	name     string
	vdd      domain.VDD
	table    domain.OPPTable
	prcm     *PRCM
	trace    *trace
	log      logr.Logger
	failures int
}

// Name implements domain.Clock.
func (c *VirtualClock) Name() string { return c.name }

// Rate returns the rate of the OPP the PRCM is running.
func (c *VirtualClock) Rate() uint64 {
	r, _ := c.table.Rate(c.prcm.CurrentOPP(c.vdd))
	return r
}

// FailNext makes the next n SetRate calls fail.
func (c *VirtualClock) FailNext(n int) {
	c.mu.Lock()
	c.failures = n
	c.mu.Unlock()
}

// SetRate implements domain.Clock.
func (c *VirtualClock) SetRate(rate uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failures > 0 {
		c.failures--
		c.log.Info("injected clock failure", "clock", c.name, "rate", rate)
		return fmt.Errorf("%w: %s: injected failure", domain.ErrClockRate, c.name)
	}
	for l := domain.Level(1); l <= c.table.Max(); l++ {
		if c.table[l].Rate == rate {
			c.prcm.Force(c.vdd, l)
			c.trace.add(Event{Kind: EventClockRate, Target: c.name, Value: rate, Aux: uint64(l)})
			c.log.V(2).Info("clock rate set", "clock", c.name, "rate", rate, "opp", l)
			return nil
		}
	}
	return fmt.Errorf("%w: %s: unsupported rate %d", domain.ErrClockRate, c.name, rate)
}
