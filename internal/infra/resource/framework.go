package resource

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/socpm/pmres/internal/domain"
)

// Platform bundles the SoC collaborators the controllers drive.
type Platform struct {
	Clocks       domain.ClockSource
	Voltage      domain.VoltageScaler
	PowerDomains domain.PowerDomains
	QoS          domain.Constraints
	CPUFreq      domain.FreqNotifier
	OPP          domain.OPPSource
}

func (p Platform) validate() error {
	switch {
	case p.Clocks == nil:
		return errors.New("platform: no clock source")
	case p.Voltage == nil:
		return errors.New("platform: no voltage scaler")
	case p.PowerDomains == nil:
		return errors.New("platform: no power domain registry")
	case p.QoS == nil:
		return errors.New("platform: no constraint service")
	case p.CPUFreq == nil:
		return errors.New("platform: no cpufreq notifier")
	case p.OPP == nil:
		return errors.New("platform: no current-OPP source")
	}
	return nil
}

// Policy holds the board-specific transition rules.
type Policy struct {
	// OffMode enables the deepest power-domain state.
	OffMode bool
	// ElevatedOPPID is the first compute OPP id that needs a faster interconnect.
	ElevatedOPPID uint8
	// ElevatedThroughput is requested from VDD2 for those OPPs, in KiB/s.
	ElevatedThroughput domain.Level
}

// DefaultPolicy returns the OMAP3 rules: VDD1 OPP3 and above keep the
// interconnect at 100 MHz or more (100 MHz * 4 bytes = 400000 KiB/s).
func DefaultPolicy() Policy {
	return Policy{
		OffMode:            true,
		ElevatedOPPID:      3,
		ElevatedThroughput: 400000,
	}
}

// Option configures a Framework.
type Option func(*Framework)

// WithLogger sets the framework logger.
func WithLogger(log logr.Logger) Option {
	return func(f *Framework) { f.log = log }
}

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(f *Framework) { f.policy = p }
}

// WithObserver adds a transition observer.
func WithObserver(o Observer) Option {
	return func(f *Framework) { f.observers = append(f.observers, o) }
}

// WithClock overrides time.Now for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Framework) { f.now = now }
}

// Framework is the resource dispatch table and the state every controller
// shares. Each instance is independent.
//
// Public methods serialize on one mutex. Controllers re-enter the dispatch
// path for dependent requests without taking it again; the active call
// chain plus the dependency graph bound that recursion.
type Framework struct {
	mu        sync.Mutex
	platform  Platform
	tables    domain.Tables
	policy    Policy
	log       logr.Logger
	observers []Observer
	now       func() time.Time

	resources map[string]*Resource
	order     []string
	graph     *DependencyGraph
	domains   map[domain.VDD]*domainState
	active    []string
}

// New creates a framework over the platform and OPP tables. Tables may be
// empty; OPP and frequency resources then stay inert.
func New(p Platform, tables domain.Tables, opts ...Option) (*Framework, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	f := &Framework{
		platform:  p,
		tables:    tables,
		policy:    DefaultPolicy(),
		log:       logr.Discard(),
		now:       time.Now,
		resources: make(map[string]*Resource),
		graph:     NewDependencyGraph(),
		domains:   make(map[domain.VDD]*domainState),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.WithName("resource")
	return f, nil
}

// Register creates, wires and initializes resources in order. OPP
// resources must precede the frequency resources that target them.
func (f *Framework) Register(defs ...Definition) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, d := range defs {
		if err := f.register(d); err != nil {
			return err
		}
	}
	return nil
}

func (f *Framework) register(d Definition) error {
	if err := d.validate(); err != nil {
		return err
	}
	if _, ok := f.resources[d.Name]; ok {
		return fmt.Errorf("%w: %s", domain.ErrResourceExists, d.Name)
	}

	r := &Resource{name: d.Name, kind: d.Kind}
	switch d.Kind {
	case KindLatency:
		r.def = domain.NoConstraint
		r.ctrl = &latencyController{fw: f}
	case KindPowerDomainLatency:
		r.def = domain.NoConstraint
		r.ctrl = &pdLatencyController{
			fw:         f,
			domainName: d.PowerDomain,
			thresholds: append([]domain.Level(nil), d.Thresholds...),
		}
	case KindOPP:
		if _, ok := f.domains[d.VDD]; ok {
			return fmt.Errorf("%w: %s already has an OPP resource", domain.ErrResourceExists, d.VDD)
		}
		ds := &domainState{vdd: d.VDD, res: r}
		f.domains[d.VDD] = ds
		if d.VDD == domain.VDD1 {
			r.def = 1
		}
		r.ctrl = &oppController{fw: f, ds: ds}
		if err := f.linkDomains(); err != nil {
			return err
		}
	case KindFrequency:
		ds, ok := f.domains[d.Table.VDD()]
		if !ok {
			return fmt.Errorf("%s: %w: no OPP resource for %s", d.Name, domain.ErrResourceNotFound, d.Table.VDD())
		}
		if err := f.graph.Add(d.Name, ds.res.name); err != nil {
			return err
		}
		r.ctrl = &freqController{fw: f, table: d.Table, ds: ds, client: d.Name + "-dev"}
	}

	if err := r.ctrl.Init(r); err != nil {
		return fmt.Errorf("init %s: %w", d.Name, err)
	}
	f.resources[d.Name] = r
	f.order = append(f.order, d.Name)
	f.log.V(1).Info("registered resource", "resource", d.Name, "kind", d.Kind.String(), "level", r.level.String())
	return nil
}

// linkDomains adds the compute -> interconnect edge once both exist.
func (f *Framework) linkDomains() error {
	cpu, ok1 := f.domains[domain.VDD1]
	bus, ok2 := f.domains[domain.VDD2]
	if !ok1 || !ok2 {
		return nil
	}
	return f.graph.Add(cpu.res.name, bus.res.name)
}

// Request records client's request for level on the named resource and
// drives the resource to the aggregate of all requests.
func (f *Framework) Request(name, client string, level domain.Level) (domain.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatch(domain.OpRequest, name, client, level)
}

// Release drops client's request; the resource falls back to the
// remaining requests or its default level.
func (f *Framework) Release(name, client string) (domain.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatch(domain.OpRelease, name, client, 0)
}

// dispatch is the lock-free request path shared by public calls and
// controllers issuing dependent requests.
func (f *Framework) dispatch(op, name, client string, level domain.Level) (domain.Outcome, error) {
	r, ok := f.resources[name]
	if !ok {
		return domain.Failed, fmt.Errorf("%w: %s", domain.ErrResourceNotFound, name)
	}
	if err := f.checkNested(name); err != nil {
		return domain.Failed, err
	}

	switch op {
	case domain.OpRelease:
		if !r.dropRequest(client) {
			return domain.Failed, fmt.Errorf("%s: %w: %s", name, domain.ErrClientNotFound, client)
		}
	default:
		if err := r.ctrl.Validate(r, level); err != nil {
			return domain.Failed, err
		}
		r.setRequest(client, level)
	}

	target := r.target()
	from := r.level

	f.active = append(f.active, name)
	outcome, err := r.ctrl.SetLevel(r, target)
	f.active = f.active[:len(f.active)-1]

	f.emit(op, r, client, target, from, outcome, err)
	return outcome, err
}

// checkNested rejects a dependent request that is not an edge of the graph
// or that re-enters a resource already mid-transition.
func (f *Framework) checkNested(name string) error {
	if len(f.active) == 0 {
		return nil
	}
	for _, n := range f.active {
		if n == name {
			return fmt.Errorf("%w: %s re-entered via %v", domain.ErrDependencyCycle, name, f.active)
		}
	}
	parent := f.active[len(f.active)-1]
	if !f.graph.Allows(parent, name) {
		return fmt.Errorf("%w: %s may not request %s", domain.ErrDependencyCycle, parent, name)
	}
	return nil
}

func (f *Framework) emit(op string, r *Resource, client string, requested, from domain.Level, outcome domain.Outcome, err error) {
	t := domain.Transition{
		ID:        uuid.NewString(),
		At:        f.now(),
		Op:        op,
		Resource:  r.name,
		Client:    client,
		Requested: requested,
		From:      from,
		To:        r.level,
		Outcome:   outcome,
	}
	if err != nil {
		t.Error = err.Error()
		f.log.Error(err, "transition failed", "resource", r.name, "client", client, "requested", requested.String())
	} else {
		f.log.V(1).Info("transition", "op", op, "resource", r.name, "client", client,
			"from", from.String(), "to", r.level.String(), "outcome", outcome.String())
	}
	for _, o := range f.observers {
		o.TransitionObserved(t)
	}
}

// Get returns a snapshot of the named resource.
func (f *Framework) Get(name string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resources[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", domain.ErrResourceNotFound, name)
	}
	return r.snapshot(), nil
}

// List returns snapshots of every resource in registration order.
func (f *Framework) List() []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Snapshot, 0, len(f.order))
	for _, n := range f.order {
		out = append(out, f.resources[n].snapshot())
	}
	return out
}

// Dependencies returns the dependency graph edges.
func (f *Framework) Dependencies() []Edge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.graph.Edges()
}

// TablesLoaded reports whether the OPP tables were supplied.
func (f *Framework) TablesLoaded() bool {
	return f.tables.Loaded()
}
