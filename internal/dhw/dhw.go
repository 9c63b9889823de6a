// Package dhw generates stochastic domestic hot water draw-off profiles.
package dhw

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	DefaultHorizon    = 24 * time.Hour
	DefaultResolution = time.Minute
	DefaultSeed       = 42

	meanEvents       = 5.0
	morningPeak      = 7 * 3600.0
	eveningPeak      = 19 * 3600.0
	peakSpread       = 3600.0
	meanDuration     = 300.0
	minFlow, maxFlow = 0.3, 0.5
)

var ErrInvalidGrid = errors.New("horizon must span at least 2 resolution steps")

// Event is one draw-off. Start may fall outside the horizon.
type Event struct {
	Start    float64 `json:"start_s"`
	Duration float64 `json:"duration_s"`
	Rate     float64 `json:"rate_kg_s"`
	Morning  bool    `json:"morning"`
}

// Generator draws a day of events around a morning and an evening peak.
// The same seed always yields the same Flow.
type Generator struct {
	Horizon    time.Duration
	Resolution time.Duration
	Seed       uint64
}

func NewGenerator(seed uint64) Generator {
	return Generator{Horizon: DefaultHorizon, Resolution: DefaultResolution, Seed: seed}
}

// Profile is a discretised flow rate in kg/s with a monotone interpolant over hours.
type Profile struct {
	Resolution time.Duration
	Flow       []float64
	Events     []Event

	fb interp.FritschButland
}

func (g Generator) Generate() (*Profile, error) {
	if g.Horizon <= 0 || g.Resolution <= 0 {
		return nil, ErrInvalidGrid
	}
	bins := int(g.Horizon / g.Resolution)
	if bins < 2 {
		return nil, fmt.Errorf("%v over %v: %w", g.Horizon, g.Resolution, ErrInvalidGrid)
	}
	step := g.Resolution.Seconds()

	src := rand.NewPCG(g.Seed, g.Seed)
	rnd := rand.New(src)
	count := distuv.Poisson{Lambda: meanEvents, Src: src}
	duration := distuv.Exponential{Rate: 1 / meanDuration, Src: src}
	rate := distuv.Uniform{Min: minFlow, Max: maxFlow, Src: src}

	flow := make([]float64, bins)
	n := int(count.Rand())
	events := make([]Event, 0, n)
	for range n {
		ev := Event{Morning: rnd.Float64() > 0.5}
		peak := eveningPeak
		if ev.Morning {
			peak = morningPeak
		}
		ev.Start = distuv.Normal{Mu: peak, Sigma: peakSpread, Src: src}.Rand()
		ev.Duration = duration.Rand()
		ev.Rate = rate.Rand()
		events = append(events, ev)

		lo, hi := span(int(ev.Start/step), int((ev.Start+ev.Duration)/step), bins)
		for i := lo; i < hi; i++ {
			flow[i] += ev.Rate
		}
	}

	hours := make([]float64, bins)
	for i := range hours {
		hours[i] = float64(i) * step / 3600
	}

	p := &Profile{Resolution: g.Resolution, Flow: flow, Events: events}
	if err := p.fb.Fit(hours, flow); err != nil {
		return nil, err
	}
	return p, nil
}

// span resolves a [start, end) bin range the way a sequence slice does:
// negative bounds count back from the end, both bounds clamp into [0, n]
// and an inverted range is empty. Events before midnight therefore either
// wrap to the end of the day or vanish, and late events are cut at the horizon.
func span(start, end, n int) (int, int) {
	return clampIndex(start, n), clampIndex(end, n)
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
		if i < 0 {
			return 0
		}
	}
	if i > n {
		return n
	}
	return i
}

// Sample returns the draw-off rate in kg/s at a time in hours. Times outside
// the horizon hold the end values.
func (p *Profile) Sample(hours float64) float64 {
	return p.fb.Predict(hours)
}
