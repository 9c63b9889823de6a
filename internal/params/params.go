// Package params holds the physical constants of one simulation run.
//
// A ParameterSet is a plain value: copying it copies every parameter, so a
// scenario is staged with With instead of mutating shared configuration.
package params

import (
	"fmt"
	"math"
	"strings"
)

const (
	CategoryBuilding   = "building_properties"
	CategoryHeatPump   = "heat_pump"
	CategoryTank       = "hot_water_tank"
	CategoryInitial    = "initial_conditions"
	CategorySimulation = "simulation_parameters"

	zeroCelsius = 273.15

	// MaxTimePoints bounds the grid a single run allocates.
	MaxTimePoints = 10_000_000
)

type Building struct {
	WallArea        float64 `koanf:"wall_area" json:"wall_area"`
	WallU           float64 `koanf:"wall_U_value" json:"wall_U_value"`
	RoofArea        float64 `koanf:"roof_area" json:"roof_area"`
	RoofU           float64 `koanf:"roof_U_value" json:"roof_U_value"`
	IndoorSetpointK float64 `koanf:"indoor_setpoint_temperature_K" json:"indoor_setpoint_temperature_K"`
}

type HeatPump struct {
	CondenserU           float64 `koanf:"overall_heat_transfer_coefficient" json:"overall_heat_transfer_coefficient"`
	CondenserArea        float64 `koanf:"heat_transfer_area" json:"heat_transfer_area"`
	CondenserTemperature float64 `koanf:"fixed_condenser_temperature_K" json:"fixed_condenser_temperature_K"`
	OnThresholdK         float64 `koanf:"on_temperature_threshold_K" json:"on_temperature_threshold_K"`
	OffThresholdK        float64 `koanf:"off_temperature_threshold_K" json:"off_temperature_threshold_K"`
}

type Tank struct {
	WaterMass       float64 `koanf:"mass_of_water" json:"mass_of_water"`
	LossCoefficient float64 `koanf:"heat_loss_coefficient" json:"heat_loss_coefficient"`
	ThermalCapacity float64 `koanf:"total_thermal_capacity" json:"total_thermal_capacity"`
}

type InitialConditions struct {
	TankTemperatureK float64 `koanf:"initial_tank_temperature_K" json:"initial_tank_temperature_K"`
}

type Simulation struct {
	TotalTimeSeconds float64 `koanf:"total_time_seconds" json:"total_time_seconds"`
	TimePoints       int     `koanf:"time_points" json:"time_points"`
}

// ParameterSet groups every constant the integrator reads, by category.
type ParameterSet struct {
	Building          Building          `koanf:"building_properties" json:"building_properties"`
	HeatPump          HeatPump          `koanf:"heat_pump" json:"heat_pump"`
	Tank              Tank              `koanf:"hot_water_tank" json:"hot_water_tank"`
	InitialConditions InitialConditions `koanf:"initial_conditions" json:"initial_conditions"`
	Simulation        Simulation        `koanf:"simulation_parameters" json:"simulation_parameters"`
}

// Defaults describes a 200 l tank heated by a small air-source heat pump over one day
// at one-minute steps.
func Defaults() ParameterSet {
	return ParameterSet{
		Building: Building{
			WallArea:        132,
			WallU:           0.51,
			RoofArea:        90,
			RoofU:           0.3,
			IndoorSetpointK: 293.15,
		},
		HeatPump: HeatPump{
			CondenserU:           300,
			CondenserArea:        0.5,
			CondenserTemperature: 338.15,
			OnThresholdK:         313.15,
			OffThresholdK:        333.15,
		},
		Tank: Tank{
			WaterMass:       200,
			LossCoefficient: 0.8,
			ThermalCapacity: 200 * 4186,
		},
		InitialConditions: InitialConditions{
			TankTemperatureK: 318.15,
		},
		Simulation: Simulation{
			TotalTimeSeconds: 86400,
			TimePoints:       1441,
		},
	}
}

type rule int

const (
	anyFinite rule = iota
	nonNegative
	positive
)

type descriptor struct {
	category string
	name     string
	rule     rule
	integer  bool
	max      float64
	get      func(*ParameterSet) float64
	set      func(*ParameterSet, float64)
}

func floatField(category, name string, r rule, ptr func(*ParameterSet) *float64) descriptor {
	return descriptor{
		category: category,
		name:     name,
		rule:     r,
		get:      func(p *ParameterSet) float64 { return *ptr(p) },
		set:      func(p *ParameterSet, v float64) { *ptr(p) = v },
	}
}

var descriptors = []descriptor{
	floatField(CategoryBuilding, "wall_area", nonNegative, func(p *ParameterSet) *float64 { return &p.Building.WallArea }),
	floatField(CategoryBuilding, "wall_U_value", nonNegative, func(p *ParameterSet) *float64 { return &p.Building.WallU }),
	floatField(CategoryBuilding, "roof_area", nonNegative, func(p *ParameterSet) *float64 { return &p.Building.RoofArea }),
	floatField(CategoryBuilding, "roof_U_value", nonNegative, func(p *ParameterSet) *float64 { return &p.Building.RoofU }),
	floatField(CategoryBuilding, "indoor_setpoint_temperature_K", positive, func(p *ParameterSet) *float64 { return &p.Building.IndoorSetpointK }),

	floatField(CategoryHeatPump, "overall_heat_transfer_coefficient", nonNegative, func(p *ParameterSet) *float64 { return &p.HeatPump.CondenserU }),
	floatField(CategoryHeatPump, "heat_transfer_area", nonNegative, func(p *ParameterSet) *float64 { return &p.HeatPump.CondenserArea }),
	floatField(CategoryHeatPump, "fixed_condenser_temperature_K", positive, func(p *ParameterSet) *float64 { return &p.HeatPump.CondenserTemperature }),
	floatField(CategoryHeatPump, "on_temperature_threshold_K", positive, func(p *ParameterSet) *float64 { return &p.HeatPump.OnThresholdK }),
	floatField(CategoryHeatPump, "off_temperature_threshold_K", positive, func(p *ParameterSet) *float64 { return &p.HeatPump.OffThresholdK }),

	floatField(CategoryTank, "mass_of_water", positive, func(p *ParameterSet) *float64 { return &p.Tank.WaterMass }),
	floatField(CategoryTank, "heat_loss_coefficient", nonNegative, func(p *ParameterSet) *float64 { return &p.Tank.LossCoefficient }),
	floatField(CategoryTank, "total_thermal_capacity", positive, func(p *ParameterSet) *float64 { return &p.Tank.ThermalCapacity }),

	floatField(CategoryInitial, "initial_tank_temperature_K", positive, func(p *ParameterSet) *float64 { return &p.InitialConditions.TankTemperatureK }),

	floatField(CategorySimulation, "total_time_seconds", positive, func(p *ParameterSet) *float64 { return &p.Simulation.TotalTimeSeconds }),
	{
		category: CategorySimulation,
		name:     "time_points",
		rule:     positive,
		integer:  true,
		max:      MaxTimePoints,
		get:      func(p *ParameterSet) float64 { return float64(p.Simulation.TimePoints) },
		set:      func(p *ParameterSet, v float64) { p.Simulation.TimePoints = int(v) },
	},
}

func find(category, name string) (descriptor, bool) {
	for _, d := range descriptors {
		if d.category == category && d.name == name {
			return d, true
		}
	}
	// names arrive lowercased from env vars and query strings
	for _, d := range descriptors {
		if strings.EqualFold(d.category, category) && strings.EqualFold(d.name, name) {
			return d, true
		}
	}
	return descriptor{}, false
}

// Key addresses one parameter.
type Key struct {
	Category string `json:"category"`
	Name     string `json:"name"`
}

func (k Key) String() string {
	return k.Category + "." + k.Name
}

// ParseKey splits "category.name".
func ParseKey(s string) (Key, error) {
	category, name, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || category == "" || name == "" {
		return Key{}, notFound(s, "")
	}
	d, found := find(category, name)
	if !found {
		return Key{}, notFound(category, name)
	}
	return Key{Category: d.category, Name: d.name}, nil
}

// Keys lists every addressable parameter in declaration order.
func Keys() []Key {
	keys := make([]Key, 0, len(descriptors))
	for _, d := range descriptors {
		keys = append(keys, Key{Category: d.category, Name: d.name})
	}
	return keys
}

// Canonical returns the declared spelling of a key matched case-insensitively.
func Canonical(category, name string) (Key, bool) {
	d, ok := find(category, name)
	if !ok {
		return Key{}, false
	}
	return Key{Category: d.category, Name: d.name}, true
}

// Lookup returns the value stored under (category, name).
func (p ParameterSet) Lookup(category, name string) (float64, error) {
	d, ok := find(category, name)
	if !ok {
		return 0, notFound(category, name)
	}
	return d.get(&p), nil
}

// Override replaces one parameter for a single run. Celsius is accepted for
// temperature parameters only (names ending in _K) and converted on the way in.
type Override struct {
	Category string  `json:"category"`
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Celsius  bool    `json:"celsius,omitempty"`
}

// With returns a copy of p with o applied; p itself is never modified.
func (p ParameterSet) With(o Override) (ParameterSet, error) {
	d, ok := find(o.Category, o.Name)
	if !ok {
		return p, notFound(o.Category, o.Name)
	}
	v := o.Value
	if o.Celsius {
		if !strings.HasSuffix(d.name, "_K") {
			return p, invalid(d.category, d.name, "celsius override on a non-temperature parameter")
		}
		v += zeroCelsius
	}
	if err := d.check(v); err != nil {
		return p, err
	}
	next := p
	d.set(&next, v)
	return next, nil
}

// WithAll applies overrides in order.
func (p ParameterSet) WithAll(overrides ...Override) (ParameterSet, error) {
	next := p
	for _, o := range overrides {
		var err error
		if next, err = next.With(o); err != nil {
			return p, err
		}
	}
	return next, nil
}

func (d descriptor) check(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid(d.category, d.name, "value must be finite")
	}
	if d.integer && v != math.Trunc(v) {
		return invalid(d.category, d.name, "value must be an integer")
	}
	switch d.rule {
	case positive:
		if v <= 0 {
			return invalid(d.category, d.name, "value must be positive")
		}
	case nonNegative:
		if v < 0 {
			return invalid(d.category, d.name, "value must not be negative")
		}
	}
	if d.max > 0 && v > d.max {
		return invalid(d.category, d.name, fmt.Sprintf("value must not exceed %g", d.max))
	}
	return nil
}

// Validate checks every parameter once, before a run starts.
func (p ParameterSet) Validate() error {
	for _, d := range descriptors {
		if err := d.check(d.get(&p)); err != nil {
			return err
		}
	}
	if p.Simulation.TimePoints < 2 {
		return invalid(CategorySimulation, "time_points", "at least 2 time points are required")
	}
	if p.HeatPump.OnThresholdK >= p.HeatPump.OffThresholdK {
		return invalid(CategoryHeatPump, "on_temperature_threshold_K", "on threshold must be below the off threshold")
	}
	return nil
}
