package resource

import "github.com/socpm/pmres/internal/domain"

// Observer is told about every level-change attempt and about the
// compensating actions taken by the OPP controller. Calls happen with the
// framework lock held; implementations must not call back into it.
type Observer interface {
	TransitionObserved(t domain.Transition)
	VoltageReverted(vdd domain.VDD, level domain.Level)
	LockChanged(vdd domain.VDD, count int)
}

// NopObserver ignores everything. Embed it to implement part of Observer.
type NopObserver struct{}

func (NopObserver) TransitionObserved(domain.Transition)     {}
func (NopObserver) VoltageReverted(domain.VDD, domain.Level) {}
func (NopObserver) LockChanged(domain.VDD, int)              {}

// Recorder keeps transitions in memory. Handy for tests and the CLI.
type Recorder struct {
	NopObserver
	Transitions []domain.Transition
	Reverts     []domain.VDD
}

// TransitionObserved appends t.
func (r *Recorder) TransitionObserved(t domain.Transition) {
	r.Transitions = append(r.Transitions, t)
}

// VoltageReverted records the domain.
func (r *Recorder) VoltageReverted(vdd domain.VDD, _ domain.Level) {
	r.Reverts = append(r.Reverts, vdd)
}

// For returns the transitions recorded for one resource.
func (r *Recorder) For(name string) []domain.Transition {
	var out []domain.Transition
	for _, t := range r.Transitions {
		if t.Resource == name {
			out = append(out, t)
		}
	}
	return out
}
