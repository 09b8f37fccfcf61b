package telemetry

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/settings"
)

// Sampler acquires one reading of the sensor classes in mask.
type Sampler interface {
	Sample(ctx context.Context, mask settings.SensorMask) (Reading, error)
}

// SimulatedSampler produces plausible values for bench nodes without sensor
// hardware. Values drift slowly around fixed baselines.
type SimulatedSampler struct {
	mu  sync.Mutex
	rng *rand.Rand

	soil, temp, hum float64
}

// NewSimulatedSampler creates a sampler. A zero seed uses the clock.
func NewSimulatedSampler(seed int64) *SimulatedSampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// #nosec G404 G115 -- simulated sensor values
	return &SimulatedSampler{
		rng:  rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1)),
		soil: 45,
		temp: 24,
		hum:  50,
	}
}

func (s *SimulatedSampler) Sample(ctx context.Context, mask settings.SensorMask) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var r Reading
	if mask.Has(settings.SensorSoil) {
		s.soil = s.walk(s.soil, 2, 20, 70)
		r.SoilMoisture = ptr(round1(s.soil))
	}
	if mask.Has(settings.SensorTemperature) {
		s.temp = s.walk(s.temp, 0.3, 22, 26)
		s.hum = s.walk(s.hum, 1, 45, 55)
		r.Temperature = ptr(round1(s.temp))
		r.Humidity = ptr(round1(s.hum))
	}
	if mask.Has(settings.SensorUV) {
		r.UVIndex = ptr(round1(s.rng.Float64() * 3))
	}
	if mask.Has(settings.SensorRain) {
		r.Rain = ptr(round1(s.rng.Float64() * 5))
	}
	return r, nil
}

// walk moves v by up to ±step, kept inside [lo, hi].
func (s *SimulatedSampler) walk(v, step, lo, hi float64) float64 {
	v += (s.rng.Float64()*2 - 1) * step
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
