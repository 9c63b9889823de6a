package simulator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Agrid-Dev/tanksim/internal/params"
)

// MaxIncrements bounds the number of runs one sweep stages.
const MaxIncrements = 10_000

// SweepSpec varies one parameter over Increments evenly spaced values from
// Lower to Upper inclusive.
type SweepSpec struct {
	Key        params.Key `json:"key"`
	Lower      float64    `json:"lower"`
	Upper      float64    `json:"upper"`
	Increments int        `json:"increments"`
	Celsius    bool       `json:"celsius,omitempty"`
}

func (s SweepSpec) Values() ([]float64, error) {
	if s.Increments < 2 || s.Increments > MaxIncrements {
		return nil, fmt.Errorf("%d increments, want 2..%d: %w", s.Increments, MaxIncrements, ErrInvalidSweep)
	}
	if !finite(s.Lower) || !finite(s.Upper) {
		return nil, fmt.Errorf("non-finite bounds: %w", ErrInvalidSweep)
	}
	step := (s.Upper - s.Lower) / float64(s.Increments-1)
	values := make([]float64, s.Increments)
	for i := range values {
		values[i] = s.Lower + float64(i)*step
	}
	return values, nil
}

// SweepPoint is the outcome of one run of a sweep.
type SweepPoint struct {
	Value                 float64 `json:"value"`
	ResultID              string  `json:"result_id"`
	TotalEnergy           float64 `json:"total_energy_consumption"`
	Efficiency            float64 `json:"total_system_efficiency"`
	MaxOutput             float64 `json:"heat_pump_maximum_output"`
	FinalTankTemperatureC float64 `json:"final_tank_temperature_C"`
}

// FlowFactory returns the draw-off profile for the i-th run of a sweep, which
// is recorded with seed base.Seed+i. A nil profile runs without draw-off.
type FlowFactory func(i int) (FlowProfile, error)

// Sweep runs one simulation per value with at most limit runs in flight. Each
// run gets its own copy of the parameters; base is left untouched. Points are
// returned in value order. The first failure cancels the remaining runs.
func Sweep(ctx context.Context, spec SweepSpec, base Inputs, flows FlowFactory, limit int) ([]SweepPoint, error) {
	values, err := spec.Values()
	if err != nil {
		return nil, err
	}

	inputs := make([]Inputs, len(values))
	for i, v := range values {
		p, err := base.Params.With(params.Override{
			Category: spec.Key.Category,
			Name:     spec.Key.Name,
			Value:    v,
			Celsius:  spec.Celsius,
		})
		if err != nil {
			return nil, err
		}
		in := base
		in.Params = p
		in.DHW = nil
		if flows != nil {
			if in.DHW, err = flows(i); err != nil {
				return nil, fmt.Errorf("sweep value %g: %w", v, err)
			}
			in.Seed = base.Seed + uint64(i)
		}
		inputs[i] = in
	}

	points := make([]SweepPoint, len(values))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range inputs {
		g.Go(func() error {
			res, err := Run(ctx, inputs[i])
			if err != nil {
				return fmt.Errorf("sweep value %g: %w", values[i], err)
			}
			points[i] = SweepPoint{
				Value:                 values[i],
				ResultID:              res.ID,
				TotalEnergy:           res.Totals.EnergyConsumption,
				Efficiency:            res.Totals.Efficiency,
				MaxOutput:             res.Totals.MaxOutput,
				FinalTankTemperatureC: res.FinalTankTemperatureC(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}
