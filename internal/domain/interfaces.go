package domain

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// The controller core treats the SoC as black boxes behind these
// boundaries. infra/hw implements them.

// Clock is a rate-settable clock handle.
type Clock interface {
	Name() string
	SetRate(rate uint64) error
	Rate() uint64
}

// ClockSource resolves clock handles by name.
type ClockSource interface {
	Clock(name string) (Clock, error)
}

// VoltageScaler programs a voltage domain to a selector code. Best effort:
// the hardware path reports no result.
type VoltageScaler interface {
	ScaleVoltage(vdd VDD, oppID uint8, vsel uint8)
}

// PowerDomain is a commandable power-domain handle.
type PowerDomain interface {
	Name() string
	SetState(state PowerState)
}

// PowerDomains resolves power domains by name.
type PowerDomains interface {
	Lookup(name string) (PowerDomain, error)
}

// Constraints is the latency QoS service, keyed by requester name.
type Constraints interface {
	Add(name string, bound Level) error
	Update(name string, bound Level) error
	Remove(name string) error
}

// FreqNotifier receives compute-domain frequency transitions in kHz.
type FreqNotifier interface {
	NotifyTransition(phase FreqPhase, cpu int, oldKHz, newKHz uint64)
}

// OPPSource reports the operating point each domain is actually running.
// It is authoritative: controllers read it back after every transition.
type OPPSource interface {
	CurrentOPP(vdd VDD) Level
}
