package resource

import (
	"fmt"

	"github.com/socpm/pmres/internal/domain"
)

// pdLatencyController maps a latency bound onto the deepest power-domain
// state whose wakeup latency stays under it. The resource level is the
// chosen state ordinal.
type pdLatencyController struct {
	fw         *Framework
	domainName string
	thresholds []domain.Level // wakeup latency per state, deepest first
	pd         domain.PowerDomain

	bound    domain.Level
	hasBound bool
}

func (c *pdLatencyController) Init(r *Resource) error {
	r.users = nil
	if c.fw.policy.OffMode {
		r.level = domain.Level(domain.PowerOff)
	} else {
		r.level = domain.Level(domain.PowerRet)
	}
	pd, err := c.fw.platform.PowerDomains.Lookup(c.domainName)
	if err != nil {
		return fmt.Errorf("%s: %w", r.name, err)
	}
	c.pd = pd
	c.pd.SetState(domain.PowerState(r.level))
	return nil
}

// SetLevel never fails: the power domain is commanded unconditionally.
// Repeating the previous bound is a no-op since it maps to the same state.
func (c *pdLatencyController) SetLevel(r *Resource, latency domain.Level) (domain.Outcome, error) {
	if c.hasBound && c.bound == latency {
		return domain.Unchanged, nil
	}
	c.bound, c.hasBound = latency, true

	state := c.stateFor(latency)
	prev := r.level
	r.level = domain.Level(state)
	c.pd.SetState(state)

	c.fw.log.V(1).Info("power domain state", "resource", r.name, "domain", c.domainName,
		"latency", latency.String(), "state", state.String())
	if prev == r.level {
		return domain.Unchanged, nil
	}
	return domain.Changed, nil
}

// stateFor scans from the deepest state and takes the first whose
// threshold is below latency. No match falls back to off.
func (c *pdLatencyController) stateFor(latency domain.Level) domain.PowerState {
	state := domain.PowerOff
	for i, th := range c.thresholds {
		if th < latency {
			state = domain.PowerState(i)
			break
		}
	}
	if !c.fw.policy.OffMode && state == domain.PowerOff {
		state = domain.PowerRet
	}
	return state
}

func (c *pdLatencyController) Validate(*Resource, domain.Level) error { return nil }
