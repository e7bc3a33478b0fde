package sensors

import (
	"context"
	"math"
	"math/rand"
	"sync"
)

// SimulatorConfig holds the parameters of the simulated sensor set
type SimulatorConfig struct {
	BaselineCM     float64 // distance reported while the river is calm
	NoiseCM        float64 // peak-to-peak jitter added to each distance sample
	RisePerSample  float64 // distance lost on every Measure call (scripted flood)
	MinDistanceCM  float64 // the distance never drops below this
	TemperatureC   float64
	HumidityPct    float64
	RainRaw        int
	ClimateFailure bool // when set, climate reads return NaN
	Seed           int64
}

// DefaultSimulatorConfig returns a calm river with a dry rain plate
func DefaultSimulatorConfig(baselineCM float64) SimulatorConfig {
	return SimulatorConfig{
		BaselineCM:    baselineCM,
		NoiseCM:       0.5,
		MinDistanceCM: 2.0,
		TemperatureC:  27.0,
		HumidityPct:   80.0,
		RainRaw:       4095,
		Seed:          1,
	}
}

// Simulator implements DistanceSensor, ClimateSensor and RainSensor so the
// sensor node can run on a host without hardware attached
type Simulator struct {
	mu       sync.Mutex
	cfg      SimulatorConfig
	rng      *rand.Rand
	distance float64
}

// NewSimulator creates a simulator starting at the configured baseline
func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		distance: cfg.BaselineCM,
	}
}

// Measure returns the current simulated distance
func (s *Simulator) Measure(ctx context.Context) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.distance = math.Max(s.cfg.MinDistanceCM, s.distance-s.cfg.RisePerSample)
	jitter := 0.0
	if s.cfg.NoiseCM > 0 {
		jitter = (s.rng.Float64() - 0.5) * s.cfg.NoiseCM
	}
	return NewReading(s.distance + jitter)
}

// Read returns the simulated temperature and humidity
func (s *Simulator) Read(ctx context.Context) (Reading, Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.ClimateFailure {
		return NewReading(math.NaN()), NewReading(math.NaN())
	}
	return NewReading(s.cfg.TemperatureC), NewReading(s.cfg.HumidityPct)
}

// ReadRaw returns the simulated rain ADC value
func (s *Simulator) ReadRaw(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.RainRaw, nil
}
