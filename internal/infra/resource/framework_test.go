package resource

import (
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socpm/pmres/internal/domain"
	"github.com/socpm/pmres/internal/infra/hw"
)

func testTables() domain.Tables {
	return domain.Tables{
		MPU: domain.NewOPPTable(
			domain.OPP{ID: 1, Rate: 125000000, VSel: 0x1e},
			domain.OPP{ID: 2, Rate: 250000000, VSel: 0x26},
			domain.OPP{ID: 3, Rate: 500000000, VSel: 0x30},
			domain.OPP{ID: 4, Rate: 550000000, VSel: 0x36},
			domain.OPP{ID: 5, Rate: 600000000, VSel: 0x3c},
		),
		DSP: domain.NewOPPTable(
			domain.OPP{ID: 1, Rate: 90000000, VSel: 0x1e},
			domain.OPP{ID: 2, Rate: 180000000, VSel: 0x26},
			domain.OPP{ID: 3, Rate: 360000000, VSel: 0x30},
			domain.OPP{ID: 4, Rate: 400000000, VSel: 0x36},
			domain.OPP{ID: 5, Rate: 430000000, VSel: 0x3c},
		),
		L3: domain.NewOPPTable(
			domain.OPP{ID: 1, Rate: 41500000, VSel: 0x1e},
			domain.OPP{ID: 2, Rate: 83000000, VSel: 0x24},
			domain.OPP{ID: 3, Rate: 166000000, VSel: 0x2c},
		),
	}
}

func testDefinitions() []Definition {
	return []Definition{
		{Name: "vdd1_opp", Kind: KindOPP, VDD: domain.VDD1},
		{Name: "vdd2_opp", Kind: KindOPP, VDD: domain.VDD2},
		{Name: "mpu_freq", Kind: KindFrequency, Table: domain.TableMPU},
		{Name: "dsp_freq", Kind: KindFrequency, Table: domain.TableDSP},
		{Name: "l3_freq", Kind: KindFrequency, Table: domain.TableL3},
		{Name: "mpu_latency", Kind: KindLatency},
		{Name: "core_latency", Kind: KindLatency},
		{Name: "per_pwrdm_latency", Kind: KindPowerDomainLatency, PowerDomain: "per_pwrdm",
			Thresholds: []domain.Level{1000, 500, 100, 0}},
		{Name: "test_pwrdm_latency", Kind: KindPowerDomainLatency, PowerDomain: "test_pwrdm",
			Thresholds: []domain.Level{10, 50, 200}},
	}
}

type fixture struct {
	fw  *Framework
	soc *hw.SoC
	rec *Recorder
}

func platformFor(soc *hw.SoC) Platform {
	return Platform{
		Clocks:       soc.Clocks,
		Voltage:      soc.SmartReflex,
		PowerDomains: soc.PowerDomains,
		QoS:          soc.QoS,
		CPUFreq:      soc.CPUFreq,
		OPP:          soc.PRCM,
	}
}

func newFixture(t *testing.T, tables domain.Tables, policy Policy) *fixture {
	t.Helper()
	log := testr.New(t)
	boot := map[domain.VDD]domain.Level{domain.VDD1: 2, domain.VDD2: 2}
	soc := hw.New(tables, boot, []string{"per_pwrdm", "test_pwrdm"}, log)
	rec := &Recorder{}
	fw, err := New(platformFor(soc), tables, WithLogger(log), WithPolicy(policy), WithObserver(rec))
	require.NoError(t, err)
	require.NoError(t, fw.Register(testDefinitions()...))
	soc.ResetTrace()
	return &fixture{fw: fw, soc: soc, rec: rec}
}

func newDefaultFixture(t *testing.T) *fixture {
	return newFixture(t, testTables(), DefaultPolicy())
}

func level(t *testing.T, fw *Framework, name string) domain.Level {
	t.Helper()
	s, err := fw.Get(name)
	require.NoError(t, err)
	return s.Level
}

func TestNew_RejectsIncompletePlatform(t *testing.T) {
	_, err := New(Platform{}, testTables())
	assert.Error(t, err)
}

func TestRegister_InitialLevels(t *testing.T) {
	f := newDefaultFixture(t)

	assert.Equal(t, domain.Level(2), level(t, f.fw, "vdd1_opp"))
	assert.Equal(t, domain.Level(2), level(t, f.fw, "vdd2_opp"))
	assert.Equal(t, domain.Level(250000000), level(t, f.fw, "mpu_freq"))
	assert.Equal(t, domain.Level(180000000), level(t, f.fw, "dsp_freq"))
	assert.Equal(t, domain.Level(83000000), level(t, f.fw, "l3_freq"))
	assert.Equal(t, domain.NoConstraint, level(t, f.fw, "mpu_latency"))
	assert.Equal(t, domain.Level(domain.PowerOff), level(t, f.fw, "per_pwrdm_latency"))
	assert.Equal(t, domain.PowerOff, f.soc.PowerDomains.State("per_pwrdm"))

	for _, s := range f.fw.List() {
		assert.Zero(t, s.Users, s.Name)
	}
}

func TestRegister_Errors(t *testing.T) {
	f := newDefaultFixture(t)

	err := f.fw.Register(Definition{Name: "mpu_latency", Kind: KindLatency})
	assert.ErrorIs(t, err, domain.ErrResourceExists)

	err = f.fw.Register(Definition{Name: "other_vdd1", Kind: KindOPP, VDD: domain.VDD1})
	assert.ErrorIs(t, err, domain.ErrResourceExists)

	err = f.fw.Register(Definition{Name: "bad_pd", Kind: KindPowerDomainLatency, PowerDomain: "nope",
		Thresholds: []domain.Level{1}})
	assert.ErrorIs(t, err, domain.ErrPowerDomainNotFound)

	err = f.fw.Register(Definition{Name: "too_many", Kind: KindPowerDomainLatency, PowerDomain: "per_pwrdm",
		Thresholds: []domain.Level{5, 4, 3, 2, 1}})
	assert.Error(t, err)
}

func TestRegister_FrequencyNeedsDomain(t *testing.T) {
	soc := hw.New(testTables(), nil, nil, testr.New(t))
	fw, err := New(platformFor(soc), testTables())
	require.NoError(t, err)

	err = fw.Register(Definition{Name: "mpu_freq", Kind: KindFrequency, Table: domain.TableMPU})
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestDispatch_UnknownResourceAndClient(t *testing.T) {
	f := newDefaultFixture(t)

	out, err := f.fw.Request("gpu_opp", "a", 1)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	assert.Equal(t, domain.Failed, out)

	_, err = f.fw.Release("mpu_latency", "nobody")
	assert.ErrorIs(t, err, domain.ErrClientNotFound)

	_, err = f.fw.Get("gpu_opp")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestDispatch_SameLevelIsNoop(t *testing.T) {
	f := newDefaultFixture(t)

	for _, tc := range []struct {
		name  string
		level domain.Level
	}{
		{"mpu_latency", 100},
		{"per_pwrdm_latency", 300},
		{"vdd1_opp", 4},
		{"vdd2_opp", 400000},
		{"mpu_freq", 500000000},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.fw.Request(tc.name, "client", tc.level)
			require.NoError(t, err)
			before := level(t, f.fw, tc.name)
			f.soc.ResetTrace()

			out, err := f.fw.Request(tc.name, "client", tc.level)
			require.NoError(t, err)
			assert.Equal(t, domain.Unchanged, out)
			assert.Equal(t, before, level(t, f.fw, tc.name))
			assert.Empty(t, f.soc.Events())
		})
	}
}

func TestDispatch_AggregatesRequests(t *testing.T) {
	f := newDefaultFixture(t)

	_, err := f.fw.Request("mpu_latency", "a", 100)
	require.NoError(t, err)
	_, err = f.fw.Request("mpu_latency", "b", 40)
	require.NoError(t, err)
	assert.Equal(t, domain.Level(40), level(t, f.fw, "mpu_latency"))

	s, err := f.fw.Get("mpu_latency")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Users)

	_, err = f.fw.Release("mpu_latency", "b")
	require.NoError(t, err)
	assert.Equal(t, domain.Level(100), level(t, f.fw, "mpu_latency"))

	_, err = f.fw.Request("vdd1_opp", "a", 3)
	require.NoError(t, err)
	_, err = f.fw.Request("vdd1_opp", "b", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.Level(5), level(t, f.fw, "vdd1_opp"))

	_, err = f.fw.Release("vdd1_opp", "b")
	require.NoError(t, err)
	assert.Equal(t, domain.Level(3), level(t, f.fw, "vdd1_opp"))

	_, err = f.fw.Release("vdd1_opp", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.Level(1), level(t, f.fw, "vdd1_opp"))
}

func TestDispatch_ObserversSeeTransitions(t *testing.T) {
	f := newDefaultFixture(t)

	_, err := f.fw.Request("mpu_latency", "a", 100)
	require.NoError(t, err)

	got := f.rec.For("mpu_latency")
	require.Len(t, got, 1)
	assert.Equal(t, domain.OpRequest, got[0].Op)
	assert.Equal(t, "a", got[0].Client)
	assert.Equal(t, domain.NoConstraint, got[0].From)
	assert.Equal(t, domain.Level(100), got[0].To)
	assert.Equal(t, domain.Changed, got[0].Outcome)
	assert.NotEmpty(t, got[0].ID)
}

func TestDependencyGraph_RejectsCycles(t *testing.T) {
	g := NewDependencyGraph()
	require.NoError(t, g.Add("mpu_freq", "vdd1_opp"))
	require.NoError(t, g.Add("vdd1_opp", "vdd2_opp"))

	assert.ErrorIs(t, g.Add("vdd2_opp", "vdd1_opp"), domain.ErrDependencyCycle)
	assert.ErrorIs(t, g.Add("vdd2_opp", "mpu_freq"), domain.ErrDependencyCycle)
	assert.ErrorIs(t, g.Add("vdd1_opp", "vdd1_opp"), domain.ErrDependencyCycle)
	assert.True(t, g.Allows("vdd1_opp", "vdd2_opp"))
	assert.False(t, g.Allows("vdd2_opp", "vdd1_opp"))
	assert.Len(t, g.Edges(), 2)
}

func TestFramework_DependencyEdges(t *testing.T) {
	f := newDefaultFixture(t)

	assert.ElementsMatch(t, []Edge{
		{From: "dsp_freq", To: "vdd1_opp"},
		{From: "l3_freq", To: "vdd2_opp"},
		{From: "mpu_freq", To: "vdd1_opp"},
		{From: "vdd1_opp", To: "vdd2_opp"},
	}, f.fw.Dependencies())
}

func TestFramework_TablesUnavailable(t *testing.T) {
	f := newFixture(t, domain.Tables{}, DefaultPolicy())
	assert.False(t, f.fw.TablesLoaded())

	for _, name := range []string{"vdd1_opp", "vdd2_opp", "mpu_freq"} {
		out, err := f.fw.Request(name, "a", 3)
		require.NoError(t, err, name)
		assert.Equal(t, domain.Unavailable, out, name)
		assert.True(t, out.Noop())
	}
	assert.Empty(t, f.soc.Events())

	// Latency resources do not depend on the tables.
	out, err := f.fw.Request("mpu_latency", "a", 10)
	require.NoError(t, err)
	assert.Equal(t, domain.Changed, out)
}
