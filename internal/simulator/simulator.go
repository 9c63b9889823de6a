// Package simulator integrates the tank temperature under hysteresis control
// of the heat pump and aggregates the run into a result record.
package simulator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Agrid-Dev/tanksim/internal/ambient"
	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/performance"
	"github.com/Agrid-Dev/tanksim/internal/thermal"
)

// FlowProfile samples a hot water draw-off rate in kg/s at a time in hours.
type FlowProfile interface {
	Sample(hours float64) float64
}

type Options struct {
	InletTemperatureK     float64 `koanf:"inlet_temperature_k" json:"inlet_temperature_K"`
	HeightRadiusRatio     float64 `koanf:"height_radius_ratio" json:"height_radius_ratio"`
	CondenserTemperatureK float64 `koanf:"condenser_temperature_k" json:"condenser_temperature_K"`
}

func DefaultOptions() Options {
	return Options{
		InletTemperatureK:     300,
		HeightRadiusRatio:     2,
		CondenserTemperatureK: thermal.CondenserTemperatureK,
	}
}

func (o Options) Validate() error {
	if !(o.InletTemperatureK > 0) || !(o.HeightRadiusRatio > 0) || !(o.CondenserTemperatureK > 0) {
		return ErrInvalidOptions
	}
	return nil
}

// Inputs is everything one run reads. None of it is modified.
type Inputs struct {
	Params  params.ParameterSet
	Model   performance.Model
	Ambient ambient.Profile
	// DHW is nil when draw-off is disabled.
	DHW     FlowProfile
	Seed    uint64
	Options Options
}

// TimeSeries channels are indexed by step. Index 0 holds the initial tank
// temperature and mode only; every other channel stays zero there.
type TimeSeries struct {
	Time            []float64
	TankTemperature []float64
	HeatLoad        []float64
	HeatLoss        []float64
	HeatTransfer    []float64
	COP             []float64
	Power           []float64
	DHW             []float64
	Mode            []Mode
}

func newTimeSeries(n int, dhw bool) TimeSeries {
	s := TimeSeries{
		Time:            make([]float64, n),
		TankTemperature: make([]float64, n),
		HeatLoad:        make([]float64, n),
		HeatLoss:        make([]float64, n),
		HeatTransfer:    make([]float64, n),
		COP:             make([]float64, n),
		Power:           make([]float64, n),
		Mode:            make([]Mode, n),
	}
	if dhw {
		s.DHW = make([]float64, n)
	}
	return s
}

// Run integrates the tank temperature with a fixed explicit Euler step.
// Every step reads the previous temperature and time; the pump mode is
// updated from the previous temperature before the heat balance is taken.
func Run(ctx context.Context, in Inputs) (*Result, error) {
	p := in.Params
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := in.Options.Validate(); err != nil {
		return nil, err
	}
	if in.Ambient == nil {
		return nil, ErrNoAmbient
	}
	ctrl, err := NewHysteresis(p.HeatPump.OnThresholdK, p.HeatPump.OffThresholdK)
	if err != nil {
		return nil, &params.ConfigurationError{
			Category: params.CategoryHeatPump,
			Name:     "on_temperature_threshold_K",
			Reason:   err.Error(),
			Err:      params.ErrInvalidValue,
		}
	}

	radius, height, err := thermal.TankDimensions(thermal.TankVolume(p.Tank.WaterMass), in.Options.HeightRadiusRatio)
	if err != nil {
		return nil, &params.ConfigurationError{
			Category: params.CategoryTank,
			Name:     "mass_of_water",
			Reason:   err.Error(),
			Err:      err,
		}
	}
	tankArea := thermal.TankSurfaceArea(radius, height)

	n := p.Simulation.TimePoints
	total := p.Simulation.TotalTimeSeconds
	step := total / float64(n-1)

	s := newTimeSeries(n, in.DHW != nil)
	for i := range s.Time {
		s.Time[i] = float64(i) * step
	}
	s.Time[n-1] = total

	mode := ctrl.Initial(p.InitialConditions.TankTemperatureK)
	s.TankTemperature[0] = p.InitialConditions.TankTemperatureK
	s.Mode[0] = mode

	b := p.Building
	hp := p.HeatPump
	for i := 1; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, &StepError{Step: i, Time: s.Time[i-1], Err: err}
		}

		t := s.Time[i-1]
		tank := s.TankTemperature[i-1]
		hours := t / 3600

		tAmb := in.Ambient.Sample(hours)

		var draw float64
		if in.DHW != nil {
			draw = in.DHW.Sample(hours) * thermal.WaterSpecificHeat * (tank - in.Options.InletTemperatureK)
			s.DHW[i] = draw
		}

		mode = ctrl.Update(mode, tank)

		load := thermal.HeatLoad(b.WallArea, b.WallU, b.RoofArea, b.RoofU, b.IndoorSetpointK, tAmb)
		loss := thermal.HeatLoss(p.Tank.LossCoefficient, tankArea, tank, tAmb)

		var transfer, cop, power float64
		if mode == ModeOn {
			transfer = thermal.HeatTransfer(hp.CondenserU, hp.CondenserArea, hp.CondenserTemperature, tank)
			cop, err = in.Model.COP(in.Options.CondenserTemperatureK - tAmb)
			if err != nil {
				return nil, &StepError{Step: i, Time: t, Err: err}
			}
			if cop > 0 {
				power = transfer / cop
			}
		}

		s.HeatLoad[i] = load
		s.HeatLoss[i] = loss
		s.HeatTransfer[i] = transfer
		s.COP[i] = cop
		s.Power[i] = power
		s.Mode[i] = mode

		next := tank + step*(transfer-load-loss-draw)/p.Tank.ThermalCapacity
		if !finite(next) {
			return nil, &StepError{Step: i, Time: t, Err: ErrDiverged}
		}
		s.TankTemperature[i] = next
	}

	totals, err := Aggregate(s)
	if err != nil {
		return nil, err
	}

	return &Result{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		DHWEnabled: in.DHW != nil,
		Seed:       in.Seed,
		Params:     p,
		Model:      in.Model,
		Series:     s,
		Totals:     totals,
	}, nil
}
