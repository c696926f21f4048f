package generator

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"factory-edge/internal/faults"
	telemetry "factory-edge/internal/telemetry/domain"
)

// Machine state enum values carried in the "state" metric.
const (
	StateRun   = 0
	StateStop  = 1
	StateFault = 2
)

// Generator synthesizes per-machine telemetry for every cycle. Active
// faults skew the readings: bearing_fault raises temperature,
// vibration and defect counts and forces the machine state to fault;
// energy_spike multiplies the energy reading.
type Generator struct {
	tenant string
	plant  string
	layout Layout
	state  *faults.State
	rng    *rand.Rand
	now    func() time.Time
}

// Option configures the generator.
type Option func(*Generator)

// WithRand overrides the random source (tests).
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) {
		if rng != nil {
			g.rng = rng
		}
	}
}

// WithNow overrides the time source (tests).
func WithNow(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// New constructs a generator.
func New(tenant, plant string, layout Layout, state *faults.State, opts ...Option) (*Generator, error) {
	if tenant == "" || plant == "" {
		return nil, errors.New("generator: empty tenant or plant")
	}
	if state == nil {
		return nil, errors.New("generator: nil fault state")
	}
	if err := layout.validate(); err != nil {
		return nil, err
	}
	gen := &Generator{
		tenant: tenant,
		plant:  plant,
		layout: layout,
		state:  state,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(gen)
	}
	return gen, nil
}

// Generate produces the points for all machines on all lines, in a
// stable line/machine order.
func (g *Generator) Generate() []telemetry.Point {
	lineIDs := make([]string, 0, len(g.layout))
	for lineID := range g.layout {
		lineIDs = append(lineIDs, lineID)
	}
	sort.Strings(lineIDs)

	bearingFault := g.state.IsActive(faults.BearingFault)
	energySpike := g.state.IsActive(faults.EnergySpike)

	var points []telemetry.Point
	for _, lineID := range lineIDs {
		line := g.layout[lineID]
		for _, machineID := range line.Machines {
			points = append(points, g.machinePoints(lineID, machineID, line, bearingFault, energySpike)...)
		}
	}
	return points
}

func (g *Generator) machinePoints(lineID, machineID string, line LineConfig, bearingFault, energySpike bool) []telemetry.Point {
	points := make([]telemetry.Point, 0, 6)

	temp := line.BaseTemp + g.rng.NormFloat64()*2
	if bearingFault {
		temp += g.uniform(15, 25) // overheating from the bad bearing
	}
	points = append(points, g.point(lineID, machineID, "temp", round(temp, 2), "°C"))

	vibration := line.BaseVibration + g.rng.NormFloat64()*0.3
	if bearingFault {
		vibration += g.uniform(5, 10)
	}
	points = append(points, g.point(lineID, machineID, "vibration_rms", round(vibration, 3), "mm/s"))

	energy := line.BaseEnergy + g.rng.NormFloat64()
	if energySpike {
		energy *= g.uniform(2.5, 4.0)
	}
	points = append(points, g.point(lineID, machineID, "energy_kw", round(energy, 2), "kW"))

	goodCount := g.randInt(8, 15)
	badCount := g.randInt(0, 2)
	if bearingFault {
		badCount += g.randInt(3, 8)
	}
	points = append(points, g.point(lineID, machineID, "good_count", float64(goodCount), "units"))
	points = append(points, g.point(lineID, machineID, "bad_count", float64(badCount), "units"))

	state := StateRun
	if bearingFault {
		state = StateFault
	} else if g.rng.Float64() > 0.95 {
		state = StateStop
	}
	points = append(points, g.point(lineID, machineID, "state", float64(state), "enum"))

	return points
}

func (g *Generator) point(lineID, machineID, metric string, value float64, unit string) telemetry.Point {
	return telemetry.Point{
		ID:      telemetry.NewPointID(),
		TS:      telemetry.NewTime(g.now()),
		Tenant:  g.tenant,
		Plant:   g.plant,
		Line:    lineID,
		Machine: machineID,
		Metric:  metric,
		Value:   value,
		Unit:    unit,
		Quality: 100,
	}
}

func (g *Generator) uniform(low, high float64) float64 {
	return low + g.rng.Float64()*(high-low)
}

// randInt returns an int in [low, high] inclusive.
func (g *Generator) randInt(low, high int) int {
	return low + g.rng.Intn(high-low+1)
}

func round(value float64, decimals int) float64 {
	factor := math.Pow10(decimals)
	return math.Round(value*factor) / factor
}
