package hw

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/socpm/pmres/internal/domain"
)

// PowerDomainRegistry holds the chip's power domains by name.
type PowerDomainRegistry struct {
	domains map[string]*PowerDomain
}

func newPowerDomainRegistry(t *trace, log logr.Logger, names []string) *PowerDomainRegistry {
	r := &PowerDomainRegistry{domains: make(map[string]*PowerDomain, len(names))}
	for _, n := range names {
		r.domains[n] = &PowerDomain{name: n, state: domain.PowerOn, trace: t, log: log}
	}
	return r
}

// Lookup implements domain.PowerDomains.
func (r *PowerDomainRegistry) Lookup(name string) (domain.PowerDomain, error) {
	pd, ok := r.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPowerDomainNotFound, name)
	}
	return pd, nil
}

// State returns the programmed state of a domain, PowerOn if unknown.
func (r *PowerDomainRegistry) State(name string) domain.PowerState {
	pd, ok := r.domains[name]
	if !ok {
		return domain.PowerOn
	}
	return pd.State()
}

// PowerDomain is one commandable domain.
type PowerDomain struct {
	mu    sync.Mutex
	name  string
	state domain.PowerState
	trace *trace
	log   logr.Logger
}

// Name implements domain.PowerDomain.
func (p *PowerDomain) Name() string { return p.name }

// SetState implements domain.PowerDomain.
func (p *PowerDomain) SetState(s domain.PowerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.trace.add(Event{Kind: EventPowerState, Target: p.name, Value: uint64(s)})
	p.log.V(2).Info("power domain state", "domain", p.name, "state", s.String())
}

// State returns the last commanded state.
func (p *PowerDomain) State() domain.PowerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
