package resource

import (
	"fmt"

	"github.com/socpm/pmres/internal/domain"
)

// freqController turns a clock-rate request into an OPP request on the
// owning voltage domain, issued through the dispatch table under a
// per-resource client so several rate requesters on one domain stay
// distinguishable.
type freqController struct {
	fw     *Framework
	table  domain.TableID
	ds     *domainState
	client string
}

func (c *freqController) Init(r *Resource) error {
	r.users = nil
	if !c.fw.tables.Loaded() {
		return nil
	}
	boot := c.fw.platform.OPP.CurrentOPP(c.table.VDD())
	rate, err := c.fw.tables.Get(c.table).Rate(boot)
	if err != nil {
		return fmt.Errorf("%s: boot rate: %w", r.name, err)
	}
	r.level = domain.Level(rate)
	return nil
}

// SetLevel records the requested rate whatever the downstream OPP request
// returns. The outcome is the domain's: a locked, unavailable or already
// matching domain reports that no-op, a downstream failure is reported to
// the caller.
func (c *freqController) SetLevel(r *Resource, rate domain.Level) (domain.Outcome, error) {
	if !c.fw.tables.Loaded() {
		return domain.Unavailable, nil
	}
	if r.level == rate {
		return domain.Unchanged, nil
	}

	outcome := domain.Unchanged
	var err error
	if rate == r.def && len(r.users) == 0 {
		// Last requester gone: hand the domain back to its other clients.
		if c.ds.res.holds(c.client) {
			outcome, err = c.fw.dispatch(domain.OpRelease, c.ds.res.name, c.client, 0)
		}
	} else {
		table := c.fw.tables.Get(c.table)
		lvl := table.LevelForRate(uint64(rate))
		value := lvl
		if c.table.VDD() == domain.VDD2 {
			value = domain.RateToThroughput(table[lvl].Rate)
		}
		outcome, err = c.fw.dispatch(domain.OpRequest, c.ds.res.name, c.client, value)
	}
	r.level = rate
	if err != nil {
		return domain.Failed, fmt.Errorf("%s: %w", r.name, err)
	}
	if outcome.Noop() {
		return outcome, nil
	}
	return domain.Changed, nil
}

func (c *freqController) Validate(*Resource, domain.Level) error { return nil }
