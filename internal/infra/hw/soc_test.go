package hw

import (
	"errors"
	"testing"

	"github.com/go-logr/logr/testr"

	"github.com/socpm/pmres/internal/domain"
)

func testTables() domain.Tables {
	return domain.Tables{
		MPU: domain.NewOPPTable(
			domain.OPP{ID: 1, Rate: 125000000, VSel: 0x1e},
			domain.OPP{ID: 2, Rate: 250000000, VSel: 0x26},
			domain.OPP{ID: 3, Rate: 500000000, VSel: 0x30},
		),
		DSP: domain.NewOPPTable(
			domain.OPP{ID: 1, Rate: 90000000, VSel: 0x1e},
			domain.OPP{ID: 2, Rate: 180000000, VSel: 0x26},
			domain.OPP{ID: 3, Rate: 360000000, VSel: 0x30},
		),
		L3: domain.NewOPPTable(
			domain.OPP{ID: 1, Rate: 41500000, VSel: 0x1e},
			domain.OPP{ID: 2, Rate: 83000000, VSel: 0x24},
		),
	}
}

func newTestSoC(t *testing.T) *SoC {
	t.Helper()
	boot := map[domain.VDD]domain.Level{domain.VDD1: 2, domain.VDD2: 1}
	return New(testTables(), boot, []string{"iva2_pwrdm", "dss_pwrdm"}, testr.New(t))
}

func TestNew_BootState(t *testing.T) {
	s := newTestSoC(t)

	if got := s.PRCM.CurrentOPP(domain.VDD1); got != 2 {
		t.Errorf("VDD1 OPP = %d, want 2", got)
	}
	if got := s.SmartReflex.VSel(domain.VDD1); got != 0x26 {
		t.Errorf("VDD1 vsel = %#x, want 0x26", got)
	}
	if got := s.SmartReflex.VSel(domain.VDD2); got != 0x1e {
		t.Errorf("VDD2 vsel = %#x, want 0x1e", got)
	}
	if got := s.PowerDomains.State("iva2_pwrdm"); got != domain.PowerOn {
		t.Errorf("iva2 state = %v, want on", got)
	}
	if len(s.Events()) != 0 {
		t.Errorf("boot should not trace events, got %v", s.Events())
	}
}

func TestVirtualClock_SetRate(t *testing.T) {
	s := newTestSoC(t)
	clk, err := s.Clocks.Clock(domain.VDD1.ClockName())
	if err != nil {
		t.Fatalf("Clock() error: %v", err)
	}

	if err := clk.SetRate(500000000); err != nil {
		t.Fatalf("SetRate() error: %v", err)
	}
	if got := s.PRCM.CurrentOPP(domain.VDD1); got != 3 {
		t.Errorf("VDD1 OPP = %d, want 3", got)
	}
	if got := clk.Rate(); got != 500000000 {
		t.Errorf("Rate() = %d, want 500000000", got)
	}

	if err := clk.SetRate(300000000); !errors.Is(err, domain.ErrClockRate) {
		t.Errorf("unsupported rate error = %v, want ErrClockRate", err)
	}
	if got := s.PRCM.CurrentOPP(domain.VDD1); got != 3 {
		t.Errorf("failed SetRate moved the OPP to %d", got)
	}
}

func TestVirtualClock_FailNext(t *testing.T) {
	s := newTestSoC(t)
	clk := s.Clocks.Get(domain.VDD2.ClockName())
	clk.FailNext(1)

	if err := clk.SetRate(83000000); !errors.Is(err, domain.ErrClockRate) {
		t.Fatalf("first SetRate() = %v, want injected failure", err)
	}
	if err := clk.SetRate(83000000); err != nil {
		t.Fatalf("second SetRate() error: %v", err)
	}
	if got := s.PRCM.CurrentOPP(domain.VDD2); got != 2 {
		t.Errorf("VDD2 OPP = %d, want 2", got)
	}
}

func TestClockTree_Unknown(t *testing.T) {
	s := newTestSoC(t)
	if _, err := s.Clocks.Clock("dpll9"); !errors.Is(err, domain.ErrClockNotFound) {
		t.Errorf("Clock(dpll9) error = %v, want ErrClockNotFound", err)
	}
}

func TestTraceOrdering(t *testing.T) {
	s := newTestSoC(t)
	s.SmartReflex.ScaleVoltage(domain.VDD1, 3, 0x30)
	s.Clocks.Get(domain.VDD1.ClockName()).SetRate(500000000)
	pd, _ := s.PowerDomains.Lookup("dss_pwrdm")
	pd.SetState(domain.PowerRet)

	events := s.Events()
	want := []EventKind{EventVoltage, EventClockRate, EventPowerState}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %d", events, len(want))
	}
	for i, k := range want {
		if events[i].Kind != k {
			t.Errorf("event %d = %s, want %s", i, events[i].Kind, k)
		}
	}
	if events[0].Value != 0x30 || events[0].Aux != 3 {
		t.Errorf("voltage event = %v", events[0])
	}

	s.ResetTrace()
	if len(s.Events()) != 0 {
		t.Error("ResetTrace() should clear the trace")
	}
}

func TestPowerDomains(t *testing.T) {
	s := newTestSoC(t)

	if _, err := s.PowerDomains.Lookup("gpu_pwrdm"); !errors.Is(err, domain.ErrPowerDomainNotFound) {
		t.Errorf("Lookup(gpu_pwrdm) error = %v, want ErrPowerDomainNotFound", err)
	}
	pd, err := s.PowerDomains.Lookup("iva2_pwrdm")
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	pd.SetState(domain.PowerOff)
	if got := s.PowerDomains.State("iva2_pwrdm"); got != domain.PowerOff {
		t.Errorf("iva2 state = %v, want off", got)
	}
}

func TestQoSManager(t *testing.T) {
	s := newTestSoC(t)
	q := s.QoS

	if got := q.Effective(); got != domain.NoConstraint {
		t.Errorf("empty Effective() = %v, want none", got)
	}
	if err := q.Add("mpu_latency", 100); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := q.Add("mpu_latency", 50); !errors.Is(err, domain.ErrConstraint) {
		t.Errorf("duplicate Add() error = %v, want ErrConstraint", err)
	}
	if err := q.Add("core_latency", 300); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if got := q.Effective(); got != 100 {
		t.Errorf("Effective() = %d, want 100", got)
	}

	if err := q.Update("core_latency", 20); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if b, ok := q.Bound("core_latency"); !ok || b != 20 {
		t.Errorf("Bound(core_latency) = %d, %v", b, ok)
	}
	if err := q.Update("dma_latency", 20); !errors.Is(err, domain.ErrConstraint) {
		t.Errorf("Update(unregistered) error = %v", err)
	}

	if err := q.Remove("core_latency"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := q.Remove("core_latency"); !errors.Is(err, domain.ErrConstraint) {
		t.Errorf("second Remove() error = %v", err)
	}
	if got := q.Effective(); got != 100 {
		t.Errorf("Effective() after remove = %d, want 100", got)
	}
}

func TestQoSManager_FailNext(t *testing.T) {
	s := newTestSoC(t)
	s.QoS.FailNext(1)

	if err := s.QoS.Add("mpu_latency", 10); !errors.Is(err, domain.ErrConstraint) {
		t.Fatalf("Add() = %v, want injected failure", err)
	}
	if _, ok := s.QoS.Bound("mpu_latency"); ok {
		t.Error("failed Add() should not register the bound")
	}
	if err := s.QoS.Add("mpu_latency", 10); err != nil {
		t.Errorf("Add() after injection error: %v", err)
	}
}

func TestNotifierChain(t *testing.T) {
	s := newTestSoC(t)

	var got []domain.FreqPhase
	s.CPUFreq.Subscribe(func(phase domain.FreqPhase, cpu int, oldKHz, newKHz uint64) {
		got = append(got, phase)
	})
	s.CPUFreq.NotifyTransition(domain.FreqPreChange, 0, 250000, 500000)
	s.CPUFreq.NotifyTransition(domain.FreqPostChange, 0, 250000, 500000)

	if len(got) != 2 || got[0] != domain.FreqPreChange || got[1] != domain.FreqPostChange {
		t.Errorf("subscriber saw %v", got)
	}
	events := s.Events()
	if len(events) != 2 || events[0].Kind != EventFreqPre || events[0].Target != "cpu0" {
		t.Errorf("events = %v", events)
	}
	if events[1].Value != 250000 || events[1].Aux != 500000 {
		t.Errorf("post event = %v", events[1])
	}
}
