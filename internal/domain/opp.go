package domain

import "fmt"

// OPP is one operating point: a frequency and the voltage selector that
// sustains it.
type OPP struct {
	ID   uint8  `json:"id" toml:"id"`
	Rate uint64 `json:"rate" toml:"rate"` // Hz
	VSel uint8  `json:"vsel" toml:"vsel"`
}

// OPPTable is indexed by level. Index 0 is a placeholder; valid levels
// start at 1 and rates increase with the level.
type OPPTable []OPP

// NewOPPTable prepends the unused level-0 slot to entries.
func NewOPPTable(entries ...OPP) OPPTable {
	t := make(OPPTable, 0, len(entries)+1)
	t = append(t, OPP{})
	return append(t, entries...)
}

// Max returns the highest valid level, or 0 for an empty table.
func (t OPPTable) Max() Level {
	if len(t) < 2 {
		return 0
	}
	return Level(len(t) - 1)
}

// Entry returns the operating point at level l.
func (t OPPTable) Entry(l Level) (OPP, error) {
	if l < 1 || l > t.Max() {
		return OPP{}, fmt.Errorf("%w: %d (max %d)", ErrInvalidLevel, l, t.Max())
	}
	return t[l], nil
}

// Rate returns the clock rate of level l in Hz.
func (t OPPTable) Rate(l Level) (uint64, error) {
	e, err := t.Entry(l)
	if err != nil {
		return 0, err
	}
	return e.Rate, nil
}

// LevelForRate returns the lowest level whose rate is at least rate,
// clamping to the highest level when none is fast enough.
func (t OPPTable) LevelForRate(rate uint64) Level {
	top := t.Max()
	for l := Level(1); l <= top; l++ {
		if t[l].Rate >= rate {
			return l
		}
	}
	return top
}

// LevelForThroughput maps a bus throughput in KiB/s to the lowest level
// whose rate sustains it. The bus moves 4 bytes per cycle.
func (t OPPTable) LevelForThroughput(tput Level) Level {
	return t.LevelForRate(ThroughputToRate(tput))
}

// ThroughputToRate converts KiB/s to the bus rate in Hz.
func ThroughputToRate(tput Level) uint64 {
	return uint64(tput) * 1000 / 4
}

// RateToThroughput converts a bus rate in Hz to KiB/s.
func RateToThroughput(rate uint64) Level {
	return Level(rate * 4 / 1000)
}

// Validate checks that the table has at least one level and strictly
// increasing rates.
func (t OPPTable) Validate() error {
	if t.Max() == 0 {
		return fmt.Errorf("%w: no operating points", ErrInvalidTable)
	}
	for l := 2; l < len(t); l++ {
		if t[l].Rate <= t[l-1].Rate {
			return fmt.Errorf("%w: level %d rate %d not above level %d rate %d",
				ErrInvalidTable, l, t[l].Rate, l-1, t[l-1].Rate)
		}
	}
	return nil
}

// TableID selects one of the board OPP tables.
type TableID int

const (
	TableMPU TableID = iota
	TableDSP
	TableL3
)

// String returns the table name.
func (id TableID) String() string {
	switch id {
	case TableMPU:
		return "mpu"
	case TableDSP:
		return "dsp"
	case TableL3:
		return "l3"
	default:
		return "unknown"
	}
}

// VDD returns the voltage domain the table's clock belongs to.
func (id TableID) VDD() VDD {
	if id == TableL3 {
		return VDD2
	}
	return VDD1
}

// Tables carries the externally supplied OPP tables. MPU and DSP share
// VDD1 level indices; L3 drives VDD2.
type Tables struct {
	MPU OPPTable
	DSP OPPTable
	L3  OPPTable
}

// Loaded reports whether every table is present.
func (t Tables) Loaded() bool {
	return t.MPU.Max() > 0 && t.DSP.Max() > 0 && t.L3.Max() > 0
}

// Get returns the table for id.
func (t Tables) Get(id TableID) OPPTable {
	switch id {
	case TableMPU:
		return t.MPU
	case TableDSP:
		return t.DSP
	case TableL3:
		return t.L3
	default:
		return nil
	}
}

// ForVDD returns the table driving the domain's clock.
func (t Tables) ForVDD(v VDD) OPPTable {
	if v == VDD2 {
		return t.L3
	}
	return t.MPU
}

// Validate validates every table.
func (t Tables) Validate() error {
	for _, id := range []TableID{TableMPU, TableDSP, TableL3} {
		if err := t.Get(id).Validate(); err != nil {
			return fmt.Errorf("%s table: %w", id, err)
		}
	}
	if t.DSP.Max() != t.MPU.Max() {
		return fmt.Errorf("%w: dsp table has %d levels, mpu has %d",
			ErrInvalidTable, t.DSP.Max(), t.MPU.Max())
	}
	return nil
}
