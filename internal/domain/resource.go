// Package domain holds the pure data model of the shared-resource controller:
// levels, voltage domains, operating-point tables, power-domain states and
// the transition records emitted by the framework. No infrastructure here.
package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Level is the magnitude a resource is held at. Its unit depends on the
// resource kind: microseconds for latency resources, a power-state ordinal
// for power-domain latency resources, an OPP index for VDD1, a throughput
// in KiB/s for VDD2 requests and Hz for frequency resources.
type Level uint32

// NoConstraint is the default latency level: the caller tolerates any wakeup latency.
const NoConstraint Level = math.MaxUint32

// String renders NoConstraint symbolically.
func (l Level) String() string {
	if l == NoConstraint {
		return "none"
	}
	return fmt.Sprintf("%d", uint32(l))
}

// ParseLevel is the inverse of Level.String.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "none") {
		return NoConstraint, nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse level %q: %w", s, err)
	}
	return Level(v), nil
}

// VDD identifies one of the two coupled voltage domains.
type VDD int

const (
	VDD1 VDD = iota + 1 // compute (MPU/DSP)
	VDD2                // interconnect (L3)
)

// VDDs lists the managed voltage domains in dependency order.
var VDDs = []VDD{VDD1, VDD2}

// String returns the canonical domain name.
func (v VDD) String() string {
	switch v {
	case VDD1:
		return "vdd1"
	case VDD2:
		return "vdd2"
	default:
		return fmt.Sprintf("vdd(%d)", int(v))
	}
}

// ClockName returns the PRCM virtual clock that selects the domain's OPP.
func (v VDD) ClockName() string {
	if v == VDD2 {
		return "virt_vdd2_prcm_set"
	}
	return "virt_vdd1_prcm_set"
}

// Valid reports whether v names a managed domain.
func (v VDD) Valid() bool {
	return v == VDD1 || v == VDD2
}

// ParseVDD accepts "vdd1"/"vdd2" (case-insensitive) or "1"/"2".
func ParseVDD(s string) (VDD, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vdd1", "1", "compute", "mpu":
		return VDD1, nil
	case "vdd2", "2", "interconnect", "l3", "core":
		return VDD2, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDomain, s)
}

// PowerState is a power-domain sleep state ordinal, deepest first.
type PowerState int

const (
	PowerOff      PowerState = iota // deepest: context lost
	PowerRet                        // retention
	PowerInactive                   // clocks gated, logic powered
	PowerOn
)

// PowerStateCount bounds the power-domain latency threshold tables.
const PowerStateCount = 4

// String returns a human-readable power state.
func (s PowerState) String() string {
	switch s {
	case PowerOff:
		return "off"
	case PowerRet:
		return "retention"
	case PowerInactive:
		return "inactive"
	case PowerOn:
		return "on"
	default:
		return "unknown"
	}
}

// Outcome is the result of a level change, distinguishing the no-op cases
// that a bare success code would conflate.
type Outcome int

const (
	Unchanged   Outcome = iota // target equals current level
	Changed                    // transition applied
	Locked                     // domain locked, request ignored
	Unavailable                // operating-point tables not loaded
	Failed                     // collaborator failure, see the error
)

// String returns the outcome name used in logs, metrics and the journal.
func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case Locked:
		return "locked"
	case Unavailable:
		return "unavailable"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Noop reports whether the outcome left the resource untouched by choice.
func (o Outcome) Noop() bool {
	return o == Unchanged || o == Locked || o == Unavailable
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) Outcome {
	switch s {
	case "changed":
		return Changed
	case "locked":
		return Locked
	case "unavailable":
		return Unavailable
	case "failed":
		return Failed
	default:
		return Unchanged
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	*o = ParseOutcome(string(b))
	return nil
}

// Transition operations.
const (
	OpRequest = "request"
	OpRelease = "release"
	OpSetOPP  = "set_opp"
)

// Transition records one level-change attempt on a resource.
type Transition struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Op        string    `json:"op"`
	Resource  string    `json:"resource"`
	Client    string    `json:"client"`
	Requested Level     `json:"requested"`
	From      Level     `json:"from"`
	To        Level     `json:"to"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
}

// FreqPhase brackets a compute-domain clock change for cpufreq observers.
type FreqPhase int

const (
	FreqPreChange FreqPhase = iota
	FreqPostChange
)

// String returns "pre" or "post".
func (p FreqPhase) String() string {
	if p == FreqPreChange {
		return "pre"
	}
	return "post"
}
