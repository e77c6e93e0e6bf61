// Package resource implements the shared-resource framework: a dispatch
// table of named, leveled resources and the controllers that move them
// between levels against the SoC collaborators.
package resource

import (
	"fmt"

	"github.com/socpm/pmres/internal/domain"
)

// Kind selects a resource's controller. It is fixed at registration.
type Kind int

const (
	KindLatency            Kind = iota // CPU/DMA wakeup latency via the QoS service
	KindPowerDomainLatency             // latency bound mapped to a power-domain state
	KindOPP                            // voltage-domain operating point
	KindFrequency                      // clock rate mapped onto a domain OPP
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindLatency:
		return "latency"
	case KindPowerDomainLatency:
		return "pd_latency"
	case KindOPP:
		return "opp"
	case KindFrequency:
		return "frequency"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindLatency, KindPowerDomainLatency, KindOPP, KindFrequency} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown resource kind %q", s)
}

// latencyKind reports whether lower levels are more restrictive, so the
// effective level of several requests is their minimum.
func (k Kind) latencyKind() bool {
	return k == KindLatency || k == KindPowerDomainLatency
}

// Definition describes a resource to register.
type Definition struct {
	Name string
	Kind Kind

	// VDD is the voltage domain of OPP resources.
	VDD domain.VDD

	// Table is the OPP table a frequency resource reverse-maps rates through.
	// Its domain follows from the table.
	Table domain.TableID

	// PowerDomain and Thresholds describe power-domain latency resources.
	// Thresholds are wakeup latencies indexed by power state, deepest first.
	PowerDomain string
	Thresholds  []domain.Level
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("resource definition has no name")
	}
	switch d.Kind {
	case KindLatency, KindFrequency:
	case KindOPP:
		if !d.VDD.Valid() {
			return fmt.Errorf("%s: %w: %v", d.Name, domain.ErrInvalidDomain, d.VDD)
		}
	case KindPowerDomainLatency:
		if d.PowerDomain == "" {
			return fmt.Errorf("%s: no power domain", d.Name)
		}
		if len(d.Thresholds) == 0 || len(d.Thresholds) > domain.PowerStateCount {
			return fmt.Errorf("%s: need 1..%d latency thresholds, got %d",
				d.Name, domain.PowerStateCount, len(d.Thresholds))
		}
	default:
		return fmt.Errorf("%s: unknown kind %d", d.Name, d.Kind)
	}
	return nil
}

// Controller moves one resource between levels.
type Controller interface {
	// Init seeds the resource's level from the hardware.
	Init(r *Resource) error
	// SetLevel drives the resource to level, the aggregate of its requests.
	SetLevel(r *Resource, level domain.Level) (domain.Outcome, error)
	// Validate screens a requested level before it is recorded.
	Validate(r *Resource, level domain.Level) error
}

type request struct {
	client string
	level  domain.Level
}

// Resource is a named, leveled quantity and its outstanding client requests.
type Resource struct {
	name  string
	kind  Kind
	level domain.Level
	def   domain.Level // target when no requests remain
	users []request
	ctrl  Controller
}

// Name returns the resource name.
func (r *Resource) Name() string { return r.name }

// Kind returns the resource kind.
func (r *Resource) Kind() Kind { return r.kind }

// Level returns the current level.
func (r *Resource) Level() domain.Level { return r.level }

// Users returns the number of clients holding a request.
func (r *Resource) Users() int { return len(r.users) }

// holds reports whether client has an outstanding request.
func (r *Resource) holds(client string) bool {
	for _, u := range r.users {
		if u.client == client {
			return true
		}
	}
	return false
}

// setRequest records or replaces client's request.
func (r *Resource) setRequest(client string, level domain.Level) {
	for i := range r.users {
		if r.users[i].client == client {
			r.users[i].level = level
			return
		}
	}
	r.users = append(r.users, request{client: client, level: level})
}

// dropRequest removes client's request, reporting whether it existed.
func (r *Resource) dropRequest(client string) bool {
	for i, u := range r.users {
		if u.client == client {
			r.users = append(r.users[:i], r.users[i+1:]...)
			return true
		}
	}
	return false
}

// target aggregates outstanding requests: the tightest bound for latency
// kinds, the highest demand for performance kinds.
func (r *Resource) target() domain.Level {
	if len(r.users) == 0 {
		return r.def
	}
	t := r.users[0].level
	for _, u := range r.users[1:] {
		if r.kind.latencyKind() {
			t = min(t, u.level)
		} else {
			t = max(t, u.level)
		}
	}
	return t
}

// ClientRequest is one client's outstanding request.
type ClientRequest struct {
	Client string       `json:"client"`
	Level  domain.Level `json:"level"`
}

// Snapshot is a read-only copy of a resource's state.
type Snapshot struct {
	Name     string          `json:"name"`
	Kind     string          `json:"kind"`
	Level    domain.Level    `json:"level"`
	Default  domain.Level    `json:"default"`
	Users    int             `json:"users"`
	Requests []ClientRequest `json:"requests"`
}

func (r *Resource) snapshot() Snapshot {
	s := Snapshot{
		Name:     r.name,
		Kind:     r.kind.String(),
		Level:    r.level,
		Default:  r.def,
		Users:    len(r.users),
		Requests: make([]ClientRequest, 0, len(r.users)),
	}
	for _, u := range r.users {
		s.Requests = append(s.Requests, ClientRequest{Client: u.client, Level: u.level})
	}
	return s
}
