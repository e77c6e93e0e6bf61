package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socpm/pmres/internal/domain"
	"github.com/socpm/pmres/internal/infra/hw"
)

func kinds(events []hw.Event) []hw.EventKind {
	out := make([]hw.EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func TestLatency_AddUpdateRemove(t *testing.T) {
	f := newDefaultFixture(t)

	_, err := f.fw.Request("mpu_latency", "a", 100)
	require.NoError(t, err)
	_, err = f.fw.Request("mpu_latency", "a", 30)
	require.NoError(t, err)

	b, ok := f.soc.QoS.Bound("mpu_latency")
	require.True(t, ok)
	assert.Equal(t, domain.Level(30), b)

	out, err := f.fw.Release("mpu_latency", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Changed, out)
	assert.Equal(t, domain.NoConstraint, level(t, f.fw, "mpu_latency"))
	_, ok = f.soc.QoS.Bound("mpu_latency")
	assert.False(t, ok)

	assert.Equal(t, []hw.EventKind{hw.EventQoSAdd, hw.EventQoSUpdate, hw.EventQoSRemove}, kinds(f.soc.Events()))

	// A fresh request after removal registers again.
	_, err = f.fw.Request("mpu_latency", "b", 20)
	require.NoError(t, err)
	b, ok = f.soc.QoS.Bound("mpu_latency")
	require.True(t, ok)
	assert.Equal(t, domain.Level(20), b)
}

func TestLatency_ResourcesAreIndependentRequirements(t *testing.T) {
	f := newDefaultFixture(t)

	_, err := f.fw.Request("mpu_latency", "a", 100)
	require.NoError(t, err)
	_, err = f.fw.Request("core_latency", "a", 60)
	require.NoError(t, err)

	assert.Equal(t, domain.Level(60), f.soc.QoS.Effective())
	assert.Equal(t, domain.Level(100), level(t, f.fw, "mpu_latency"))
}

func TestLatency_ConstraintFailureKeepsLevel(t *testing.T) {
	f := newDefaultFixture(t)
	f.soc.QoS.FailNext(1)

	out, err := f.fw.Request("mpu_latency", "a", 100)
	assert.ErrorIs(t, err, domain.ErrConstraint)
	assert.Equal(t, domain.Failed, out)
	assert.Equal(t, domain.Level(100), level(t, f.fw, "mpu_latency"))

	got := f.rec.For("mpu_latency")
	require.Len(t, got, 1)
	assert.Equal(t, domain.Failed, got[0].Outcome)
	assert.NotEmpty(t, got[0].Error)
}

func TestLatency_RemoveFailureStillReleases(t *testing.T) {
	f := newDefaultFixture(t)

	_, err := f.fw.Request("mpu_latency", "a", 100)
	require.NoError(t, err)
	f.soc.QoS.FailNext(1)

	out, err := f.fw.Release("mpu_latency", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Changed, out)
	assert.Equal(t, domain.NoConstraint, level(t, f.fw, "mpu_latency"))

	got := f.rec.For("mpu_latency")
	require.Len(t, got, 2)
	assert.Equal(t, domain.Changed, got[1].Outcome)
	assert.Empty(t, got[1].Error)
}

func TestPowerDomainLatency_SelectsState(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		latency  domain.Level
		want     domain.PowerState
	}{
		{"loose bound allows off", "per_pwrdm_latency", 5000, domain.PowerOff},
		{"retention", "per_pwrdm_latency", 800, domain.PowerRet},
		{"inactive", "per_pwrdm_latency", 300, domain.PowerInactive},
		{"tight bound keeps on", "per_pwrdm_latency", 50, domain.PowerOn},
		{"first threshold below wins", "test_pwrdm_latency", 60, domain.PowerOff},
		{"no threshold below falls back to off", "test_pwrdm_latency", 5, domain.PowerOff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDefaultFixture(t)
			_, err := f.fw.Request(tt.resource, "a", tt.latency)
			require.NoError(t, err)
			assert.Equal(t, domain.Level(tt.want), level(t, f.fw, tt.resource))

			pd := "per_pwrdm"
			if tt.resource == "test_pwrdm_latency" {
				pd = "test_pwrdm"
			}
			assert.Equal(t, tt.want, f.soc.PowerDomains.State(pd))
		})
	}
}

func TestPowerDomainLatency_OffModeDisabled(t *testing.T) {
	p := DefaultPolicy()
	p.OffMode = false
	f := newFixture(t, testTables(), p)

	assert.Equal(t, domain.Level(domain.PowerRet), level(t, f.fw, "per_pwrdm_latency"))

	_, err := f.fw.Request("per_pwrdm_latency", "a", 5000)
	require.NoError(t, err)
	assert.Equal(t, domain.PowerRet, f.soc.PowerDomains.State("per_pwrdm"))

	_, err = f.fw.Request("per_pwrdm_latency", "a", 300)
	require.NoError(t, err)
	assert.Equal(t, domain.PowerInactive, f.soc.PowerDomains.State("per_pwrdm"))
}

func TestPowerDomainLatency_ReleaseRestoresDeepestState(t *testing.T) {
	f := newDefaultFixture(t)

	_, err := f.fw.Request("per_pwrdm_latency", "a", 50)
	require.NoError(t, err)
	_, err = f.fw.Request("per_pwrdm_latency", "b", 300)
	require.NoError(t, err)
	assert.Equal(t, domain.PowerOn, f.soc.PowerDomains.State("per_pwrdm"))

	_, err = f.fw.Release("per_pwrdm_latency", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PowerInactive, f.soc.PowerDomains.State("per_pwrdm"))

	_, err = f.fw.Release("per_pwrdm_latency", "b")
	require.NoError(t, err)
	assert.Equal(t, domain.PowerOff, f.soc.PowerDomains.State("per_pwrdm"))
}

func TestFrequency_MapsRateOntoDomain(t *testing.T) {
	f := newDefaultFixture(t)

	_, err := f.fw.Request("mpu_freq", "cpufreq", 400000000)
	require.NoError(t, err)
	assert.Equal(t, domain.Level(400000000), level(t, f.fw, "mpu_freq"))
	assert.Equal(t, domain.Level(3), level(t, f.fw, "vdd1_opp"))

	_, err = f.fw.Request("dsp_freq", "codec", 400000000)
	require.NoError(t, err)
	assert.Equal(t, domain.Level(4), level(t, f.fw, "vdd1_opp"))

	cpu, err := f.fw.Get("vdd1_opp")
	require.NoError(t, err)
	assert.ElementsMatch(t, []ClientRequest{
		{Client: "mpu_freq-dev", Level: 3},
		{Client: "dsp_freq-dev", Level: 4},
	}, cpu.Requests)

	_, err = f.fw.Release("dsp_freq", "codec")
	require.NoError(t, err)
	assert.Equal(t, domain.Level(3), level(t, f.fw, "vdd1_opp"))

	_, err = f.fw.Release("mpu_freq", "cpufreq")
	require.NoError(t, err)
	assert.Equal(t, domain.Level(1), level(t, f.fw, "vdd1_opp"))
	cpu, err = f.fw.Get("vdd1_opp")
	require.NoError(t, err)
	assert.Zero(t, cpu.Users)
}

func TestFrequency_InterconnectRateBecomesThroughput(t *testing.T) {
	f := newDefaultFixture(t)

	_, err := f.fw.Request("l3_freq", "gfx", 166000000)
	require.NoError(t, err)

	bus, err := f.fw.Get("vdd2_opp")
	require.NoError(t, err)
	assert.Equal(t, domain.Level(3), bus.Level)
	require.Len(t, bus.Requests, 1)
	assert.Equal(t, ClientRequest{Client: "l3_freq-dev", Level: 664000}, bus.Requests[0])
}

func TestFrequency_DownstreamFailureStillCommits(t *testing.T) {
	f := newDefaultFixture(t)
	f.soc.Clocks.Get(domain.VDD1.ClockName()).FailNext(1)

	out, err := f.fw.Request("mpu_freq", "cpufreq", 600000000)
	assert.ErrorIs(t, err, domain.ErrClockRate)
	assert.Equal(t, domain.Failed, out)
	assert.Equal(t, domain.Level(600000000), level(t, f.fw, "mpu_freq"))
	assert.Equal(t, domain.Level(2), level(t, f.fw, "vdd1_opp"))
}

func TestFrequency_LockedDomainReportsLocked(t *testing.T) {
	f := newDefaultFixture(t)
	_, err := f.fw.Lock(domain.VDD1, 1)
	require.NoError(t, err)
	f.soc.ResetTrace()

	out, err := f.fw.Request("mpu_freq", "cpufreq", 600000000)
	require.NoError(t, err)
	assert.Equal(t, domain.Locked, out)
	assert.Equal(t, domain.Level(600000000), level(t, f.fw, "mpu_freq"))
	assert.Equal(t, domain.Level(2), level(t, f.fw, "vdd1_opp"))
	assert.Empty(t, f.soc.Events())

	ts := f.rec.For("mpu_freq")
	require.NotEmpty(t, ts)
	assert.Equal(t, domain.Locked, ts[len(ts)-1].Outcome)
}

func TestFrequency_SameOPPReportsUnchanged(t *testing.T) {
	f := newDefaultFixture(t)

	// 200 MHz maps to OPP2, which VDD1 already runs.
	out, err := f.fw.Request("mpu_freq", "cpufreq", 200000000)
	require.NoError(t, err)
	assert.Equal(t, domain.Unchanged, out)
	assert.Equal(t, domain.Level(200000000), level(t, f.fw, "mpu_freq"))
	assert.Equal(t, domain.Level(2), level(t, f.fw, "vdd1_opp"))

	out, err = f.fw.Request("mpu_freq", "cpufreq", 500000000)
	require.NoError(t, err)
	assert.Equal(t, domain.Changed, out)
	assert.Equal(t, domain.Level(3), level(t, f.fw, "vdd1_opp"))
}

func TestFrequency_NestedRequestsFollowGraph(t *testing.T) {
	f := newDefaultFixture(t)

	// A frequency resource may reach VDD2 only through VDD1.
	f.fw.mu.Lock()
	f.fw.active = []string{"mpu_freq"}
	_, err := f.fw.dispatch(domain.OpRequest, "vdd2_opp", "x", 400000)
	f.fw.active = nil
	f.fw.mu.Unlock()
	assert.ErrorIs(t, err, domain.ErrDependencyCycle)

	f.fw.mu.Lock()
	f.fw.active = []string{"vdd1_opp"}
	_, err = f.fw.dispatch(domain.OpRequest, "vdd1_opp", "x", 3)
	f.fw.active = nil
	f.fw.mu.Unlock()
	assert.ErrorIs(t, err, domain.ErrDependencyCycle)
}
