package thermal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linspace(stop float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * stop / float64(n-1)
	}
	return out
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestCOP(t *testing.T) {
	got, err := COP(50, 3, 100)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)

	_, err = COP(0, 3, 100)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestCOPMonotonicInBOverDeltaT(t *testing.T) {
	a, b := 1.2, 40.0
	deltas := []float64{80, 60, 45, 30, 20, 10, 5}
	prev := math.Inf(-1)
	for _, d := range deltas {
		got, err := COP(d, a, b)
		require.NoError(t, err)
		assert.Greater(t, got, prev, "deltaT %v", d)
		prev = got
	}
}

func TestHeatLoadSign(t *testing.T) {
	assert.Greater(t, HeatLoad(100, 0.5, 50, 0.3, 293.15, 273.15), 0.0)
	assert.Less(t, HeatLoad(100, 0.5, 50, 0.3, 293.15, 303.15), 0.0)
	assert.Zero(t, HeatLoad(0, 0.5, 0, 0.3, 293.15, 273.15))
	assert.InDelta(t, 100*0.5*20+50*0.3*20, HeatLoad(100, 0.5, 50, 0.3, 293.15, 273.15), 1e-9)
}

func TestHeatTransferAndLoss(t *testing.T) {
	assert.InDelta(t, 300*0.5*20, HeatTransfer(300, 0.5, 338.15, 318.15), 1e-9)
	assert.InDelta(t, 2*1.5*30, HeatLoss(2, 1.5, 310, 280), 1e-9)
}

func TestTankGeometryRoundTrip(t *testing.T) {
	for _, v := range []float64{0.05, 0.2, 1, 12.5} {
		for _, ratio := range []float64{0.5, 1, 2, 4.5} {
			r, h, err := TankDimensions(v, ratio)
			require.NoError(t, err)
			assert.InEpsilon(t, v, math.Pi*r*r*h, 1e-12)
			assert.InEpsilon(t, ratio*r, h, 1e-12)
			assert.InEpsilon(t, 2*math.Pi*r*h+2*math.Pi*r*r, TankSurfaceArea(r, h), 1e-12)
		}
	}

	assert.Equal(t, 0.2, TankVolume(200))

	_, _, err := TankDimensions(0, 2)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
	_, _, err = TankDimensions(0.2, -1)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
	_, _, err = TankDimensions(math.NaN(), 2)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestLeftEndpointIntegralSkipsFirstInterval(t *testing.T) {
	const v = 2.5

	tests := []struct {
		n    int
		d    float64
		want float64
	}{
		{2, 3600, 0},
		{3, 3600, v * 3600 / 2},
		{10, 9000, v * 9000 * 8 / 9},
	}

	for _, tt := range tests {
		times := linspace(tt.d, tt.n)
		values := constant(v, tt.n)

		for name, fn := range map[string]func(v, t []float64) (float64, error){
			"energy":   TotalEnergyConsumption,
			"transfer": TotalHeatTransfer,
			"loss":     TotalHeatLoss,
			"load":     TotalHeatLoad,
		} {
			got, err := fn(values, times)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "%s n=%d", name, tt.n)
		}
	}
}

func TestIntegralUsesIntervalStartValue(t *testing.T) {
	times := []float64{0, 10, 30, 60}
	values := []float64{100, 1, 2, 1000}
	// 1·(30−10) + 2·(60−30)
	got, err := TotalEnergyConsumption(values, times)
	require.NoError(t, err)
	assert.Equal(t, 80.0, got)
}

func TestIntegralSeriesMismatch(t *testing.T) {
	_, err := TotalHeatLoss([]float64{1, 2}, []float64{0})
	assert.ErrorIs(t, err, ErrSeriesMismatch)
	_, err = TotalHeatLoss(nil, nil)
	assert.ErrorIs(t, err, ErrSeriesMismatch)
}

func TestTotalEfficiency(t *testing.T) {
	got, err := TotalEfficiency(300, 200)
	require.NoError(t, err)
	assert.Equal(t, 150.0, got)

	_, err = TotalEfficiency(300, 0)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMaxThermalOutputUsesIndependentMaxima(t *testing.T) {
	power := []float64{0, 100, 400, 200}
	cop := []float64{0, 4, 2, 3}
	got, err := MaxThermalOutput(power, cop)
	require.NoError(t, err)
	// 400·4 even though no single step reaches it
	assert.Equal(t, 1600.0, got)

	_, err = MaxThermalOutput(nil, cop)
	assert.ErrorIs(t, err, ErrSeriesMismatch)
}

func TestCelsiusKelvin(t *testing.T) {
	assert.InDelta(t, 65, KelvinToCelsius(CondenserTemperatureK), 1e-9)
	assert.InDelta(t, 300, CelsiusToKelvin(KelvinToCelsius(300)), 1e-9)
}
