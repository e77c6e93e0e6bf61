// Package metrics provides Prometheus metrics for the resource controller:
// resource levels and users, transition outcomes, domain locks, voltage
// rollbacks, cpufreq notifications and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/socpm/pmres/internal/domain"
	"github.com/socpm/pmres/internal/infra/resource"
)

// ─── Resources ──────────────────────────────────────────────────────────────

// ResourceLevel tracks the current level of each resource.
var ResourceLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pmres",
	Name:      "resource_level",
	Help:      "Current level of the resource in its own unit.",
}, []string{"resource", "kind"})

// ResourceUsers tracks outstanding client requests per resource.
var ResourceUsers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pmres",
	Name:      "resource_users",
	Help:      "Number of clients holding a request on the resource.",
}, []string{"resource"})

// ─── Transitions ────────────────────────────────────────────────────────────

// Transitions counts level-change attempts by resource and outcome.
var Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pmres",
	Name:      "transitions_total",
	Help:      "Level-change attempts by outcome.",
}, []string{"resource", "outcome"})

// ─── Voltage Domains ────────────────────────────────────────────────────────

// DomainLocks tracks the lock count of each voltage domain.
var DomainLocks = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pmres",
	Name:      "domain_locks",
	Help:      "Lock count of the voltage domain.",
}, []string{"vdd"})

// VoltageRollbacks counts voltages restored after a failed clock change.
var VoltageRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pmres",
	Name:      "voltage_rollbacks_total",
	Help:      "Voltage reverts after a failed clock change.",
}, []string{"vdd"})

// CPUFreqNotifications counts cpufreq transition notifications by phase.
var CPUFreqNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pmres",
	Name:      "cpufreq_notifications_total",
	Help:      "cpufreq transition notifications sent.",
}, []string{"phase"})

// CPUFrequency tracks the last announced compute frequency in kHz.
var CPUFrequency = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "pmres",
	Name:      "cpu_frequency_khz",
	Help:      "Compute frequency announced by the last post-change notification.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "pmres",
	Name:      "health_check_status",
	Help:      "Health check status (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pmres",
	Name:      "health_recoveries_total",
	Help:      "Auto-recovery attempts by check.",
}, []string{"check"})

// ─── Adapters ───────────────────────────────────────────────────────────────

// Observer feeds framework events into the metrics above.
type Observer struct{}

// TransitionObserved counts t by outcome.
func (Observer) TransitionObserved(t domain.Transition) {
	Transitions.WithLabelValues(t.Resource, t.Outcome.String()).Inc()
}

// VoltageReverted counts a rollback.
func (Observer) VoltageReverted(vdd domain.VDD, _ domain.Level) {
	VoltageRollbacks.WithLabelValues(vdd.String()).Inc()
}

// LockChanged records the new lock count.
func (Observer) LockChanged(vdd domain.VDD, count int) {
	DomainLocks.WithLabelValues(vdd.String()).Set(float64(count))
}

// FreqNotified is a cpufreq notifier-chain subscriber.
func FreqNotified(phase domain.FreqPhase, _ int, _, newKHz uint64) {
	CPUFreqNotifications.WithLabelValues(phase.String()).Inc()
	if phase == domain.FreqPostChange {
		CPUFrequency.Set(float64(newKHz))
	}
}

// RecordSnapshots refreshes the per-resource gauges. NoConstraint levels
// are reported as -1.
func RecordSnapshots(snaps []resource.Snapshot) {
	for _, s := range snaps {
		v := float64(s.Level)
		if s.Level == domain.NoConstraint {
			v = -1
		}
		ResourceLevel.WithLabelValues(s.Name, s.Kind).Set(v)
		ResourceUsers.WithLabelValues(s.Name).Set(float64(s.Users))
	}
}
