package resource

import (
	"fmt"

	"github.com/socpm/pmres/internal/domain"
)

// DependencyClient is the client name VDD1 uses on the VDD2 resource.
const DependencyClient = "vdd1-dependency"

// OverrideClient tags transitions issued through SetOPPLevel.
const OverrideClient = "direct"

// domainState is the per-VDD state of the OPP controller. locks is
// checked, never waited on.
type domainState struct {
	vdd   domain.VDD
	clock domain.Clock
	res   *Resource
	locks int
}

// oppController is the resource face of a voltage domain. VDD1 requests
// are OPP levels; VDD2 requests are interconnect throughputs in KiB/s.
type oppController struct {
	fw *Framework
	ds *domainState
}

func (c *oppController) Init(r *Resource) error {
	r.users = nil
	if !c.fw.tables.Loaded() {
		return nil
	}
	r.level = c.fw.platform.OPP.CurrentOPP(c.ds.vdd)
	clk, err := c.fw.platform.Clocks.Clock(c.ds.vdd.ClockName())
	if err != nil {
		return fmt.Errorf("%s: %w", r.name, err)
	}
	c.ds.clock = clk
	return nil
}

func (c *oppController) SetLevel(r *Resource, value domain.Level) (domain.Outcome, error) {
	target := value
	if c.ds.vdd == domain.VDD2 {
		if !c.fw.tables.Loaded() {
			return domain.Unavailable, nil
		}
		target = c.fw.tables.L3.LevelForThroughput(value)
	}
	return c.fw.setOPPLevel(c.ds.vdd, target, false)
}

// Validate accepts everything; table bounds are checked during the transition.
func (c *oppController) Validate(*Resource, domain.Level) error { return nil }

// Lock adds n to the domain's lock count and returns the new count.
func (f *Framework) Lock(vdd domain.VDD, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adjustLock(vdd, n)
}

// Unlock subtracts n from the domain's lock count and returns the new count.
func (f *Framework) Unlock(vdd domain.VDD, n int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adjustLock(vdd, -n)
}

func (f *Framework) adjustLock(vdd domain.VDD, delta int) (int, error) {
	ds, ok := f.domains[vdd]
	if !ok {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidDomain, vdd)
	}
	if ds.locks+delta < 0 {
		return ds.locks, fmt.Errorf("%w: %s has %d, delta %d", domain.ErrLockUnderflow, vdd, ds.locks, delta)
	}
	ds.locks += delta
	for _, o := range f.observers {
		o.LockChanged(vdd, ds.locks)
	}
	return ds.locks, nil
}

// SetOPPLevel drives a domain to an OPP level directly, bypassing the
// request aggregation. overrideLock lets the caller move a locked domain.
func (f *Framework) SetOPPLevel(vdd domain.VDD, level domain.Level, overrideLock bool) (domain.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ds, ok := f.domains[vdd]
	if !ok {
		return domain.Failed, fmt.Errorf("%w: %v", domain.ErrInvalidDomain, vdd)
	}
	from := ds.res.level
	f.active = append(f.active, ds.res.name)
	outcome, err := f.setOPPLevel(vdd, level, overrideLock)
	f.active = f.active[:len(f.active)-1]

	f.emit(domain.OpSetOPP, ds.res, OverrideClient, level, from, outcome, err)
	return outcome, err
}

// DomainSnapshot is a read-only view of a voltage domain.
type DomainSnapshot struct {
	VDD      string       `json:"vdd"`
	Resource string       `json:"resource"`
	Level    domain.Level `json:"level"`
	OPPID    uint8        `json:"opp_id"`
	Rate     uint64       `json:"rate"`
	VSel     uint8        `json:"vsel"`
	Locks    int          `json:"locks"`
}

// Domains returns a snapshot of each registered voltage domain.
func (f *Framework) Domains() []DomainSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []DomainSnapshot
	for _, v := range domain.VDDs {
		ds, ok := f.domains[v]
		if !ok {
			continue
		}
		s := DomainSnapshot{VDD: v.String(), Resource: ds.res.name, Level: ds.res.level, Locks: ds.locks}
		if e, err := f.tables.ForVDD(v).Entry(ds.res.level); err == nil {
			s.OPPID, s.Rate, s.VSel = e.ID, e.Rate, e.VSel
		}
		out = append(out, s)
	}
	return out
}

// Resync adopts the OPP the hardware reports for vdd as the resource
// level and returns it. Used after something outside the framework moved
// the domain.
func (f *Framework) Resync(vdd domain.VDD) (domain.Level, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ds, ok := f.domains[vdd]
	if !ok {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidDomain, vdd)
	}
	if !f.tables.Loaded() {
		return ds.res.level, nil
	}
	hw := f.platform.OPP.CurrentOPP(vdd)
	if hw != ds.res.level {
		f.log.Info("resynced domain level from hardware", "vdd", vdd.String(),
			"was", ds.res.level.String(), "now", hw.String())
		ds.res.level = hw
	}
	return hw, nil
}

// InSync reports whether every domain's resource level matches the OPP
// the hardware runs.
func (f *Framework) InSync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.tables.Loaded() {
		return nil
	}
	for _, v := range domain.VDDs {
		ds, ok := f.domains[v]
		if !ok {
			continue
		}
		if hw := f.platform.OPP.CurrentOPP(v); hw != ds.res.level {
			return fmt.Errorf("%s: resource at level %s, hardware at %s", v, ds.res.level, hw)
		}
	}
	return nil
}

// setOPPLevel runs one ordered voltage/frequency transition. The no-op
// checks come first: same level, missing tables, then the lock.
func (f *Framework) setOPPLevel(vdd domain.VDD, target domain.Level, overrideLock bool) (domain.Outcome, error) {
	ds, ok := f.domains[vdd]
	if !ok {
		return domain.Failed, fmt.Errorf("%w: %v", domain.ErrInvalidDomain, vdd)
	}
	if ds.res.level == target {
		return domain.Unchanged, nil
	}
	if !f.tables.Loaded() {
		return domain.Unavailable, nil
	}
	if !overrideLock && ds.locks > 0 {
		f.log.V(1).Info("domain locked, ignoring level change", "vdd", vdd.String(), "locks", ds.locks, "target", target.String())
		return domain.Locked, nil
	}
	if ds.clock == nil {
		return domain.Failed, fmt.Errorf("%s: %w: %s", vdd, domain.ErrClockNotFound, vdd.ClockName())
	}

	if vdd == domain.VDD1 {
		return f.scaleCompute(ds, target)
	}
	return f.scaleInterconnect(ds, target)
}

// scaleCompute moves VDD1. cpufreq observers see the change bracketed by
// pre and post notifications; OPPs at or above the elevated id hold a
// throughput request on VDD2 for the duration.
func (f *Framework) scaleCompute(ds *domainState, target domain.Level) (domain.Outcome, error) {
	table := f.tables.MPU
	next, err := table.Entry(target)
	if err != nil {
		return domain.Failed, err
	}
	oldRate, _ := table.Rate(f.platform.OPP.CurrentOPP(ds.vdd))

	notifier := f.platform.CPUFreq
	notifier.NotifyTransition(domain.FreqPreChange, 0, oldRate/1000, next.Rate/1000)

	bus, hasBus := f.domains[domain.VDD2]
	if hasBus && next.ID >= f.policy.ElevatedOPPID {
		if _, err := f.dispatch(domain.OpRequest, bus.res.name, DependencyClient, f.policy.ElevatedThroughput); err != nil {
			f.log.Error(err, "interconnect dependency request failed", "target", target.String())
		}
	}

	var clkErr error
	if ds.res.level > target {
		clkErr = ds.clock.SetRate(next.Rate)
		if clkErr == nil {
			f.platform.Voltage.ScaleVoltage(ds.vdd, next.ID, next.VSel)
		}
	} else {
		f.platform.Voltage.ScaleVoltage(ds.vdd, next.ID, next.VSel)
		clkErr = ds.clock.SetRate(next.Rate)
	}

	if clkErr == nil && hasBus && next.ID < f.policy.ElevatedOPPID && bus.res.holds(DependencyClient) {
		if _, err := f.dispatch(domain.OpRelease, bus.res.name, DependencyClient, 0); err != nil {
			f.log.Error(err, "interconnect dependency release failed", "target", target.String())
		}
	}

	ds.res.level = f.platform.OPP.CurrentOPP(ds.vdd)
	newRate, _ := table.Rate(ds.res.level)
	notifier.NotifyTransition(domain.FreqPostChange, 0, oldRate/1000, newRate/1000)

	if clkErr != nil {
		return domain.Failed, fmt.Errorf("%s: set rate %d: %w", ds.vdd, next.Rate, clkErr)
	}
	return domain.Changed, nil
}

// scaleInterconnect moves VDD2. A failed clock change after the voltage
// was raised restores the previous selector before reporting.
func (f *Framework) scaleInterconnect(ds *domainState, target domain.Level) (domain.Outcome, error) {
	table := f.tables.L3
	next, err := table.Entry(target)
	if err != nil {
		return domain.Failed, err
	}

	if ds.res.level > target {
		if err := ds.clock.SetRate(next.Rate); err != nil {
			return domain.Failed, fmt.Errorf("%s: set rate %d: %w", ds.vdd, next.Rate, err)
		}
		f.platform.Voltage.ScaleVoltage(ds.vdd, next.ID, next.VSel)
	} else {
		f.platform.Voltage.ScaleVoltage(ds.vdd, next.ID, next.VSel)
		if err := ds.clock.SetRate(next.Rate); err != nil {
			if prev, perr := table.Entry(ds.res.level); perr == nil {
				f.platform.Voltage.ScaleVoltage(ds.vdd, prev.ID, prev.VSel)
				f.log.Info("reverted voltage after failed clock change", "vdd", ds.vdd.String(), "level", ds.res.level.String())
				for _, o := range f.observers {
					o.VoltageReverted(ds.vdd, ds.res.level)
				}
			}
			return domain.Failed, fmt.Errorf("%s: set rate %d: %w", ds.vdd, next.Rate, err)
		}
	}

	ds.res.level = f.platform.OPP.CurrentOPP(ds.vdd)
	return domain.Changed, nil
}
