// Package thermal holds the heat balance formulae of a heat-pump-fed hot water
// tank. Every function is pure; temperatures are Kelvin, powers Watts, times seconds.
package thermal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// WaterSpecificHeat in J/(kg·K).
	WaterSpecificHeat = 4186.0
	// WaterDensity in kg/m³.
	WaterDensity = 1000.0
	// CondenserTemperatureK is the fixed condenser temperature the COP model is evaluated at (65 °C).
	CondenserTemperatureK = 338.15

	zeroCelsius = 273.15
)

func KelvinToCelsius(k float64) float64 { return k - zeroCelsius }

func CelsiusToKelvin(c float64) float64 { return c + zeroCelsius }

// COP evaluates a + b/deltaT.
func COP(deltaT, a, b float64) (float64, error) {
	if deltaT == 0 {
		return 0, fmt.Errorf("cop at deltaT 0: %w", ErrDivisionByZero)
	}
	return a + b/deltaT, nil
}

// HeatLoad is the building demand on the heating system. It is positive when
// ambient is below the indoor setpoint.
func HeatLoad(wallArea, wallU, roofArea, roofU, indoorSetpoint, ambient float64) float64 {
	d := ambient - indoorSetpoint
	return -(wallArea*wallU*d + roofArea*roofU*d)
}

// HeatTransfer from the condenser into the tank. Gating on pump mode is left to the caller.
func HeatTransfer(u, area, condenser, tank float64) float64 {
	return u * area * (condenser - tank)
}

// HeatLoss through the tank envelope.
func HeatLoss(u, area, tank, ambient float64) float64 {
	return u * area * (tank - ambient)
}

// TankVolume in m³ for a mass of water in kg.
func TankVolume(waterMass float64) float64 {
	return waterMass / WaterDensity
}

// TankDimensions solves V = πr²h with h = ratio·r.
func TankDimensions(volume, ratio float64) (radius, height float64, err error) {
	if !(volume > 0) || !(ratio > 0) {
		return 0, 0, fmt.Errorf("volume %g ratio %g: %w", volume, ratio, ErrInvalidGeometry)
	}
	radius = math.Cbrt(volume / (math.Pi * ratio))
	return radius, ratio * radius, nil
}

// TankSurfaceArea of a closed cylinder.
func TankSurfaceArea(radius, height float64) float64 {
	return 2*math.Pi*radius*height + 2*math.Pi*radius*radius
}

// integrate is the left-endpoint rule shared by every total: the value at the
// start of each interval times its width, the first interval not counted.
// The last sample is never counted, so totals sit one step below a sum over
// values[1:].
func integrate(values, times []float64) (float64, error) {
	if len(values) == 0 || len(values) != len(times) {
		return 0, fmt.Errorf("%d values, %d times: %w", len(values), len(times), ErrSeriesMismatch)
	}
	var total float64
	for i := 2; i < len(values); i++ {
		total += values[i-1] * (times[i] - times[i-1])
	}
	return total, nil
}

// TotalEnergyConsumption integrates electrical power (W) into J.
func TotalEnergyConsumption(power, times []float64) (float64, error) {
	return integrate(power, times)
}

func TotalHeatTransfer(transfer, times []float64) (float64, error) {
	return integrate(transfer, times)
}

func TotalHeatLoss(loss, times []float64) (float64, error) {
	return integrate(loss, times)
}

func TotalHeatLoad(load, times []float64) (float64, error) {
	return integrate(load, times)
}

// TotalEfficiency is 100·load/transfer. It exceeds 100 whenever the building
// asks for more heat than the pump moves into the tank.
func TotalEfficiency(totalLoad, totalTransfer float64) (float64, error) {
	if totalTransfer == 0 {
		return 0, fmt.Errorf("efficiency with no heat transferred: %w", ErrDivisionByZero)
	}
	return 100 * totalLoad / totalTransfer, nil
}

// MaxThermalOutput multiplies the two maxima, which need not occur at the same step.
func MaxThermalOutput(power, cop []float64) (float64, error) {
	if len(power) == 0 || len(cop) == 0 {
		return 0, fmt.Errorf("max output over empty series: %w", ErrSeriesMismatch)
	}
	return floats.Max(power) * floats.Max(cop), nil
}
