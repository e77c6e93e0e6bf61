package hw

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/socpm/pmres/internal/domain"
)

// QoSManager is the CPU/DMA latency constraint list. The effective bound
// is the tightest registered requirement.
type QoSManager struct {
	mu       sync.Mutex
	trace    *trace
	log      logr.Logger
	bounds   map[string]domain.Level
	failures int
}

// FailNext makes the next n calls fail.
func (q *QoSManager) FailNext(n int) {
	q.mu.Lock()
	q.failures = n
	q.mu.Unlock()
}

func (q *QoSManager) injected(op, name string) error {
	if q.failures > 0 {
		q.failures--
		return fmt.Errorf("%w: %s %s: injected failure", domain.ErrConstraint, op, name)
	}
	return nil
}

// Add implements domain.Constraints.
func (q *QoSManager) Add(name string, bound domain.Level) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.injected("add", name); err != nil {
		return err
	}
	if _, ok := q.bounds[name]; ok {
		return fmt.Errorf("%w: %s already registered", domain.ErrConstraint, name)
	}
	q.bounds[name] = bound
	q.trace.add(Event{Kind: EventQoSAdd, Target: name, Value: uint64(bound)})
	q.log.V(2).Info("qos requirement added", "name", name, "bound", bound.String())
	return nil
}

// Update implements domain.Constraints.
func (q *QoSManager) Update(name string, bound domain.Level) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.injected("update", name); err != nil {
		return err
	}
	if _, ok := q.bounds[name]; !ok {
		return fmt.Errorf("%w: %s not registered", domain.ErrConstraint, name)
	}
	q.bounds[name] = bound
	q.trace.add(Event{Kind: EventQoSUpdate, Target: name, Value: uint64(bound)})
	return nil
}

// Remove implements domain.Constraints.
func (q *QoSManager) Remove(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.injected("remove", name); err != nil {
		return err
	}
	if _, ok := q.bounds[name]; !ok {
		return fmt.Errorf("%w: %s not registered", domain.ErrConstraint, name)
	}
	delete(q.bounds, name)
	q.trace.add(Event{Kind: EventQoSRemove, Target: name})
	return nil
}

// Bound returns name's registered bound.
func (q *QoSManager) Bound(name string) (domain.Level, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.bounds[name]
	return b, ok
}

// Effective returns the tightest registered bound, NoConstraint if none.
func (q *QoSManager) Effective() domain.Level {
	q.mu.Lock()
	defer q.mu.Unlock()
	eff := domain.NoConstraint
	for _, b := range q.bounds {
		eff = min(eff, b)
	}
	return eff
}
