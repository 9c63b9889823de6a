package simulator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/performance"
	"github.com/Agrid-Dev/tanksim/internal/thermal"
)

// DHWOff replaces the DHW channel in a record when draw-off was disabled.
const DHWOff = "DHW Simulation Off"

// Totals are integrated over the whole run. Energies are J, MaxOutput W and
// Efficiency is 100·load/transfer.
type Totals struct {
	EnergyConsumption float64 `json:"total_energy_consumption"`
	HeatTransfer      float64 `json:"total_heat_transfer"`
	HeatLoad          float64 `json:"total_heat_load"`
	HeatLoss          float64 `json:"total_heat_loss"`
	Efficiency        float64 `json:"total_system_efficiency"`
	MaxOutput         float64 `json:"heat_pump_maximum_output"`
}

// Aggregate integrates a finished series. A run that never transferred heat
// has no efficiency and fails with thermal.ErrDivisionByZero.
func Aggregate(s TimeSeries) (Totals, error) {
	var (
		t   Totals
		err error
	)
	if t.EnergyConsumption, err = thermal.TotalEnergyConsumption(s.Power, s.Time); err != nil {
		return Totals{}, fmt.Errorf("energy consumption: %w", err)
	}
	if t.HeatTransfer, err = thermal.TotalHeatTransfer(s.HeatTransfer, s.Time); err != nil {
		return Totals{}, fmt.Errorf("heat transfer: %w", err)
	}
	if t.HeatLoad, err = thermal.TotalHeatLoad(s.HeatLoad, s.Time); err != nil {
		return Totals{}, fmt.Errorf("heat load: %w", err)
	}
	if t.HeatLoss, err = thermal.TotalHeatLoss(s.HeatLoss, s.Time); err != nil {
		return Totals{}, fmt.Errorf("heat loss: %w", err)
	}
	if t.Efficiency, err = thermal.TotalEfficiency(t.HeatLoad, t.HeatTransfer); err != nil {
		return Totals{}, fmt.Errorf("system efficiency: %w", err)
	}
	if t.MaxOutput, err = thermal.MaxThermalOutput(s.Power, s.COP); err != nil {
		return Totals{}, fmt.Errorf("maximum output: %w", err)
	}
	return t, nil
}

// Result is one finished run. It is never modified after Run returns.
type Result struct {
	ID         string
	CreatedAt  time.Time
	DHWEnabled bool
	Seed       uint64
	Params     params.ParameterSet
	Model      performance.Model
	Series     TimeSeries
	Totals     Totals
}

func (r *Result) FinalTankTemperatureC() float64 {
	return thermal.KelvinToCelsius(r.Series.TankTemperature[len(r.Series.TankTemperature)-1])
}

// Summary carries the scalar outcome of a run without its time series.
type Summary struct {
	ID                    string    `json:"id"`
	CreatedAt             time.Time `json:"created_at"`
	DHW                   bool      `json:"dhw"`
	Seed                  uint64    `json:"seed"`
	FinalTankTemperatureC float64   `json:"final_tank_temperature_C"`
	Totals
}

func (r *Result) Summary() Summary {
	return Summary{
		ID:                    r.ID,
		CreatedAt:             r.CreatedAt,
		DHW:                   r.DHWEnabled,
		Seed:                  r.Seed,
		FinalTankTemperatureC: r.FinalTankTemperatureC(),
		Totals:                r.Totals,
	}
}

// DHWChannel is either the per-step draw-off in W or, when draw-off was
// disabled, the DHWOff marker. It encodes as a number array or a string.
type DHWChannel struct {
	Enabled bool
	Values  []float64
}

func (c DHWChannel) MarshalJSON() ([]byte, error) {
	if !c.Enabled {
		return json.Marshal(DHWOff)
	}
	if c.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Values)
}

func (c *DHWChannel) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s != DHWOff {
			return fmt.Errorf("dhw channel: unexpected marker %q", s)
		}
		*c = DHWChannel{}
		return nil
	}
	var v []float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("dhw channel: %w", err)
	}
	*c = DHWChannel{Enabled: true, Values: v}
	return nil
}

// Record is the persisted and exported form of a result. Time is in hours and
// temperatures in degrees Celsius.
type Record struct {
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	Time         []float64  `json:"time"`
	Temperature  []float64  `json:"temperature"`
	HeatLoad     []float64  `json:"heat_load"`
	HeatLoss     []float64  `json:"heat_loss"`
	HeatTransfer []float64  `json:"heat_transfer"`
	COP          []float64  `json:"COP"`
	Power        []float64  `json:"power_consumption"`
	TotalEnergy  float64    `json:"total_energy_consumption"`
	Efficiency   float64    `json:"total_system_efficiency"`
	MaxOutput    float64    `json:"heat_pump_maximum_output"`
	DHW          DHWChannel `json:"dhw_heat_loss"`
}

func (r *Result) Record() Record {
	s := r.Series
	hours := make([]float64, len(s.Time))
	for i, t := range s.Time {
		hours[i] = t / 3600
	}
	celsius := make([]float64, len(s.TankTemperature))
	for i, k := range s.TankTemperature {
		celsius[i] = thermal.KelvinToCelsius(k)
	}

	rec := Record{
		ID:           r.ID,
		CreatedAt:    r.CreatedAt,
		Time:         hours,
		Temperature:  celsius,
		HeatLoad:     clone(s.HeatLoad),
		HeatLoss:     clone(s.HeatLoss),
		HeatTransfer: clone(s.HeatTransfer),
		COP:          clone(s.COP),
		Power:        clone(s.Power),
		TotalEnergy:  r.Totals.EnergyConsumption,
		Efficiency:   r.Totals.Efficiency,
		MaxOutput:    r.Totals.MaxOutput,
	}
	if r.DHWEnabled {
		rec.DHW = DHWChannel{Enabled: true, Values: clone(s.DHW)}
	}
	return rec
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
