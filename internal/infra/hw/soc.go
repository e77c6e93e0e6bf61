// Package hw simulates the SoC collaborators of the resource framework:
// PRCM virtual clocks, SmartReflex voltage control, power domains, the
// PM QoS constraint manager and the cpufreq notifier chain. Every action
// lands in one ordered trace so callers can check sequencing.
package hw

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/socpm/pmres/internal/domain"
)

// EventKind classifies a trace entry.
type EventKind int

const (
	EventVoltage EventKind = iota
	EventClockRate
	EventPowerState
	EventQoSAdd
	EventQoSUpdate
	EventQoSRemove
	EventFreqPre
	EventFreqPost
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventVoltage:
		return "voltage"
	case EventClockRate:
		return "clock_rate"
	case EventPowerState:
		return "power_state"
	case EventQoSAdd:
		return "qos_add"
	case EventQoSUpdate:
		return "qos_update"
	case EventQoSRemove:
		return "qos_remove"
	case EventFreqPre:
		return "freq_pre"
	case EventFreqPost:
		return "freq_post"
	default:
		return "unknown"
	}
}

// Event is one collaborator action. Target names the clock, domain or
// requester; Value and Aux carry the kind-specific payload (rate, vsel,
// state, bound, old/new kHz).
type Event struct {
	Kind   EventKind
	Target string
	Value  uint64
	Aux    uint64
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s,%d,%d)", e.Kind, e.Target, e.Value, e.Aux)
}

type trace struct {
	mu     sync.Mutex
	events []Event
}

func (t *trace) add(e Event) {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
}

// SoC is a simulated OMAP3-class chip.
type SoC struct {
	Clocks       *ClockTree
	SmartReflex  *SmartReflex
	PowerDomains *PowerDomainRegistry
	QoS          *QoSManager
	CPUFreq      *NotifierChain
	PRCM         *PRCM

	trace *trace
}

// New builds a SoC booted at the given OPP levels. Power domains are
// created for every name in pwrdms.
func New(tables domain.Tables, boot map[domain.VDD]domain.Level, pwrdms []string, log logr.Logger) *SoC {
	t := &trace{}
	log = log.WithName("hw")
	prcm := &PRCM{current: make(map[domain.VDD]domain.Level)}
	for v, l := range boot {
		prcm.current[v] = l
	}
	s := &SoC{
		PRCM:         prcm,
		SmartReflex:  &SmartReflex{trace: t, log: log, vsel: make(map[domain.VDD]uint8)},
		PowerDomains: newPowerDomainRegistry(t, log, pwrdms),
		QoS:          &QoSManager{trace: t, log: log, bounds: make(map[string]domain.Level)},
		CPUFreq:      &NotifierChain{trace: t},
		trace:        t,
	}
	s.Clocks = &ClockTree{clocks: make(map[string]*VirtualClock)}
	for _, v := range domain.VDDs {
		name := v.ClockName()
		s.Clocks.clocks[name] = &VirtualClock{name: name, vdd: v, table: tables.ForVDD(v), prcm: prcm, trace: t, log: log}
	}
	for v, l := range boot {
		if e, err := tables.ForVDD(v).Entry(l); err == nil {
			s.SmartReflex.vsel[v] = e.VSel
		}
	}
	return s
}

// Events returns a copy of the trace.
func (s *SoC) Events() []Event {
	s.trace.mu.Lock()
	defer s.trace.mu.Unlock()
	return append([]Event(nil), s.trace.events...)
}

// ResetTrace clears the trace.
func (s *SoC) ResetTrace() {
	s.trace.mu.Lock()
	s.trace.events = nil
	s.trace.mu.Unlock()
}

// PRCM holds the operating point each voltage domain runs at. Virtual
// clock rate changes update it.
type PRCM struct {
	mu      sync.Mutex
	current map[domain.VDD]domain.Level
}

// CurrentOPP implements domain.OPPSource.
func (p *PRCM) CurrentOPP(vdd domain.VDD) domain.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current[vdd]
}

// Force sets the running OPP behind the framework's back, as firmware or
// another agent might.
func (p *PRCM) Force(vdd domain.VDD, l domain.Level) {
	p.mu.Lock()
	p.current[vdd] = l
	p.mu.Unlock()
}

// SmartReflex records the selector programmed on each domain.
type SmartReflex struct {
	mu    sync.Mutex
	trace *trace
	log   logr.Logger
	vsel  map[domain.VDD]uint8
}

// ScaleVoltage implements domain.VoltageScaler.
func (s *SmartReflex) ScaleVoltage(vdd domain.VDD, oppID uint8, vsel uint8) {
	s.mu.Lock()
	s.vsel[vdd] = vsel
	s.mu.Unlock()
	s.trace.add(Event{Kind: EventVoltage, Target: vdd.String(), Value: uint64(vsel), Aux: uint64(oppID)})
	s.log.V(2).Info("voltage scaled", "vdd", vdd.String(), "opp", oppID, "vsel", vsel)
}

// VSel returns the selector currently programmed on vdd.
func (s *SmartReflex) VSel(vdd domain.VDD) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vsel[vdd]
}

// NotifierChain records cpufreq transitions and fans them out to subscribers.
type NotifierChain struct {
	mu    sync.Mutex
	trace *trace
	subs  []func(phase domain.FreqPhase, cpu int, oldKHz, newKHz uint64)
}

// Subscribe registers fn for every notification.
func (n *NotifierChain) Subscribe(fn func(phase domain.FreqPhase, cpu int, oldKHz, newKHz uint64)) {
	n.mu.Lock()
	n.subs = append(n.subs, fn)
	n.mu.Unlock()
}

// NotifyTransition implements domain.FreqNotifier.
func (n *NotifierChain) NotifyTransition(phase domain.FreqPhase, cpu int, oldKHz, newKHz uint64) {
	kind := EventFreqPre
	if phase == domain.FreqPostChange {
		kind = EventFreqPost
	}
	n.trace.add(Event{Kind: kind, Target: fmt.Sprintf("cpu%d", cpu), Value: oldKHz, Aux: newKHz})

	n.mu.Lock()
	subs := append([]func(domain.FreqPhase, int, uint64, uint64){}, n.subs...)
	n.mu.Unlock()
	for _, fn := range subs {
		fn(phase, cpu, oldKHz, newKHz)
	}
}
