// Package daemon manages the pmres daemon lifecycle and configuration.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/socpm/pmres/internal/domain"
	"github.com/socpm/pmres/internal/infra/resource"
)

// Config holds all daemon configuration.
type Config struct {
	Board     BoardConfig     `toml:"board"`
	API       APIConfig       `toml:"api"`
	Journal   JournalConfig   `toml:"journal"`
	Health    HealthConfig    `toml:"health"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
}

// BoardConfig describes the SoC the simulator boots and the resources the
// framework registers on it.
type BoardConfig struct {
	Name string `toml:"name"`

	// OffMode enables the deepest power-domain state.
	OffMode bool `toml:"off_mode"`
	// ElevatedOPP is the first VDD1 OPP id that holds VDD2 at ElevatedThroughput KiB/s.
	ElevatedOPP        uint8  `toml:"elevated_opp"`
	ElevatedThroughput uint32 `toml:"elevated_throughput"`

	// BootVDD1 and BootVDD2 are the OPP levels the PRCM starts at.
	BootVDD1 uint32 `toml:"boot_vdd1"`
	BootVDD2 uint32 `toml:"boot_vdd2"`

	MPU []domain.OPP `toml:"mpu"`
	DSP []domain.OPP `toml:"dsp"`
	L3  []domain.OPP `toml:"l3"`

	// Latency lists the wakeup-latency resources forwarded to the QoS service.
	Latency      []string            `toml:"latency"`
	PowerDomains []PowerDomainConfig `toml:"power_domain"`
}

// PowerDomainConfig is one power-domain latency resource. Thresholds are
// wakeup latencies in µs per state, deepest first.
type PowerDomainConfig struct {
	Domain     string   `toml:"domain"`
	Resource   string   `toml:"resource"`
	Thresholds []uint32 `toml:"thresholds"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// JournalConfig controls the SQLite transition journal.
type JournalConfig struct {
	Dir string `toml:"dir"`
	// Keep is how many transitions `pmres journal` shows by default.
	Keep int `toml:"keep"`
}

// HealthConfig controls the health checker.
type HealthConfig struct {
	Interval string `toml:"interval"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus      bool   `toml:"prometheus"`
	RefreshInterval string `toml:"refresh_interval"`
}

// LoggingConfig controls logging behavior. Verbosity feeds logr V-levels:
// 1 traces every transition, 2 every collaborator call.
type LoggingConfig struct {
	Verbosity int `toml:"verbosity"`
}

// DefaultConfig returns an OMAP3430-class board and local service settings.
func DefaultConfig() Config {
	return Config{
		Board: DefaultBoard(),
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 7420,
		},
		Journal: JournalConfig{
			Dir:  pmresHome(),
			Keep: 50,
		},
		Health: HealthConfig{
			Interval: "30s",
		},
		Telemetry: TelemetryConfig{
			Prometheus:      true,
			RefreshInterval: "5s",
		},
	}
}

// DefaultBoard returns the OMAP3430 operating points and power domains.
func DefaultBoard() BoardConfig {
	return BoardConfig{
		Name:               "omap3430",
		OffMode:            true,
		ElevatedOPP:        3,
		ElevatedThroughput: 400000,
		BootVDD1:           3,
		BootVDD2:           3,
		MPU: []domain.OPP{
			{ID: 1, Rate: 125000000, VSel: 0x1e},
			{ID: 2, Rate: 250000000, VSel: 0x26},
			{ID: 3, Rate: 500000000, VSel: 0x30},
			{ID: 4, Rate: 550000000, VSel: 0x36},
			{ID: 5, Rate: 600000000, VSel: 0x3c},
		},
		DSP: []domain.OPP{
			{ID: 1, Rate: 90000000, VSel: 0x1e},
			{ID: 2, Rate: 180000000, VSel: 0x26},
			{ID: 3, Rate: 360000000, VSel: 0x30},
			{ID: 4, Rate: 400000000, VSel: 0x36},
			{ID: 5, Rate: 430000000, VSel: 0x3c},
		},
		L3: []domain.OPP{
			{ID: 1, Rate: 41500000, VSel: 0x1e},
			{ID: 2, Rate: 83000000, VSel: 0x24},
			{ID: 3, Rate: 166000000, VSel: 0x2c},
		},
		Latency: []string{"mpu_latency", "core_latency"},
		PowerDomains: []PowerDomainConfig{
			{Domain: "iva2_pwrdm", Resource: "iva2_pwrdm_latency", Thresholds: []uint32{1100, 350, 0}},
			{Domain: "sgx_pwrdm", Resource: "sgx_pwrdm_latency", Thresholds: []uint32{1000, 300, 0}},
			{Domain: "dss_pwrdm", Resource: "dss_pwrdm_latency", Thresholds: []uint32{70, 20, 0}},
			{Domain: "cam_pwrdm", Resource: "cam_pwrdm_latency", Thresholds: []uint32{850, 35, 0}},
			{Domain: "per_pwrdm", Resource: "per_pwrdm_latency", Thresholds: []uint32{200, 110, 0}},
			{Domain: "neon_pwrdm", Resource: "neon_pwrdm_latency", Thresholds: []uint32{200, 35, 0}},
			{Domain: "usbhost_pwrdm", Resource: "usbhost_pwrdm_latency", Thresholds: []uint32{800, 150, 0}},
			{Domain: "emu_pwrdm", Resource: "emu_pwrdm_latency", Thresholds: []uint32{1000, 100, 0}},
		},
	}
}

// Tables builds the OPP tables.
func (b BoardConfig) Tables() domain.Tables {
	return domain.Tables{
		MPU: domain.NewOPPTable(b.MPU...),
		DSP: domain.NewOPPTable(b.DSP...),
		L3:  domain.NewOPPTable(b.L3...),
	}
}

// Boot returns the boot OPP level per domain.
func (b BoardConfig) Boot() map[domain.VDD]domain.Level {
	return map[domain.VDD]domain.Level{
		domain.VDD1: domain.Level(b.BootVDD1),
		domain.VDD2: domain.Level(b.BootVDD2),
	}
}

// PowerDomainNames lists the power domains the simulator creates.
func (b BoardConfig) PowerDomainNames() []string {
	names := make([]string, 0, len(b.PowerDomains))
	for _, pd := range b.PowerDomains {
		names = append(names, pd.Domain)
	}
	return names
}

// Policy returns the framework transition rules.
func (b BoardConfig) Policy() resource.Policy {
	return resource.Policy{
		OffMode:            b.OffMode,
		ElevatedOPPID:      b.ElevatedOPP,
		ElevatedThroughput: domain.Level(b.ElevatedThroughput),
	}
}

// Definitions returns the resources in registration order: OPP resources
// before the frequency resources that target them.
func (b BoardConfig) Definitions() []resource.Definition {
	defs := []resource.Definition{
		{Name: "vdd1_opp", Kind: resource.KindOPP, VDD: domain.VDD1},
		{Name: "vdd2_opp", Kind: resource.KindOPP, VDD: domain.VDD2},
		{Name: "mpu_freq", Kind: resource.KindFrequency, Table: domain.TableMPU},
		{Name: "dsp_freq", Kind: resource.KindFrequency, Table: domain.TableDSP},
		{Name: "l3_freq", Kind: resource.KindFrequency, Table: domain.TableL3},
	}
	for _, name := range b.Latency {
		defs = append(defs, resource.Definition{Name: name, Kind: resource.KindLatency})
	}
	for _, pd := range b.PowerDomains {
		th := make([]domain.Level, len(pd.Thresholds))
		for i, v := range pd.Thresholds {
			th[i] = domain.Level(v)
		}
		name := pd.Resource
		if name == "" {
			name = pd.Domain + "_latency"
		}
		defs = append(defs, resource.Definition{
			Name:        name,
			Kind:        resource.KindPowerDomainLatency,
			PowerDomain: pd.Domain,
			Thresholds:  th,
		})
	}
	return defs
}

// Validate checks the board tables and power-domain descriptions. An
// entirely empty table set is allowed: OPP resources then stay inert.
func (b BoardConfig) Validate() error {
	tables := b.Tables()
	if len(b.MPU)+len(b.DSP)+len(b.L3) > 0 {
		if err := tables.Validate(); err != nil {
			return err
		}
		if _, err := tables.MPU.Entry(domain.Level(b.BootVDD1)); err != nil {
			return fmt.Errorf("boot_vdd1: %w", err)
		}
		if _, err := tables.L3.Entry(domain.Level(b.BootVDD2)); err != nil {
			return fmt.Errorf("boot_vdd2: %w", err)
		}
	}
	var errs []error
	for _, pd := range b.PowerDomains {
		if pd.Domain == "" {
			errs = append(errs, errors.New("power_domain entry without domain"))
		}
		if len(pd.Thresholds) == 0 || len(pd.Thresholds) > domain.PowerStateCount {
			errs = append(errs, fmt.Errorf("%s: need 1..%d thresholds, got %d",
				pd.Domain, domain.PowerStateCount, len(pd.Thresholds)))
		}
	}
	return errors.Join(errs...)
}

// ConfigPath returns $PMRES_HOME/config.toml.
func ConfigPath() string {
	return filepath.Join(pmresHome(), "config.toml")
}

// LoadConfig reads config from ~/.pmres/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := ConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	// Tables given in the file replace the defaults rather than merging.
	cfg.Board.MPU, cfg.Board.DSP, cfg.Board.L3 = nil, nil, nil
	cfg.Board.PowerDomains = nil
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	def := DefaultBoard()
	if !md.IsDefined("board", "mpu") && !md.IsDefined("board", "dsp") && !md.IsDefined("board", "l3") {
		cfg.Board.MPU, cfg.Board.DSP, cfg.Board.L3 = def.MPU, def.DSP, def.L3
	}
	if !md.IsDefined("board", "power_domain") {
		cfg.Board.PowerDomains = def.PowerDomains
	}

	if err := cfg.Board.Validate(); err != nil {
		return cfg, fmt.Errorf("board: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.pmres/config.toml.
func SaveConfig(cfg Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// pmresHome returns the pmres data directory.
func pmresHome() string {
	if env := os.Getenv("PMRES_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pmres")
}

// Home is exported for use by other packages.
func Home() string {
	return pmresHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
