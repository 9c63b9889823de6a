// Package performance calibrates the heat pump COP curve COP = a + b/ΔT from
// manufacturer observations taken at one fixed condenser temperature.
package performance

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/Agrid-Dev/tanksim/internal/thermal"
)

const (
	maxIterations = 200
	// MINPACK defaults
	ftol = 1.49012e-08
	xtol = 1.49012e-08
)

// Observation is one manufacturer data point.
type Observation struct {
	OutdoorTempC float64 `yaml:"outdoor_temp_C" json:"outdoor_temp_C"`
	COP          float64 `yaml:"COP_noisy" json:"COP_noisy"`
}

// Model is a fitted COP curve. StdErr is the mean of the per-coefficient
// standard errors, not a goodness of fit.
type Model struct {
	A                     float64 `json:"a"`
	B                     float64 `json:"b"`
	StdErr                float64 `json:"std_err"`
	CondenserTemperatureC float64 `json:"condenser_temperature_C"`
	Observations          int     `json:"observations"`
}

// COP evaluates the curve at deltaT = condenser − outdoor.
func (m Model) COP(deltaT float64) (float64, error) {
	return thermal.COP(deltaT, m.A, m.B)
}

// Fixed builds a model with known coefficients, skipping calibration.
func Fixed(a, b float64) Model {
	return Model{A: a, B: b, CondenserTemperatureC: thermal.KelvinToCelsius(thermal.CondenserTemperatureK)}
}

type dataFile struct {
	Observations []Observation `yaml:"heat_pump_cop_data"`
}

// LoadObservations reads a manufacturer YAML file of the form
//
//	heat_pump_cop_data:
//	  - outdoor_temp_C: -5
//	    COP_noisy: 2.4
func LoadObservations(path string) ([]Observation, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read cop data %s", path)
	}
	var f dataFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrapf(err, "parse cop data %s", path)
	}
	return f.Observations, nil
}

// Fit calibrates a and b by Levenberg–Marquardt over all observations at once,
// starting from a = b = 1.
func Fit(obs []Observation, condenserTempC float64) (Model, error) {
	n := len(obs)
	if n < 2 {
		return Model{}, &DataError{Index: -1, Reason: "at least 2 observations are required"}
	}
	if !finite(condenserTempC) {
		return Model{}, &DataError{Index: -1, Reason: "condenser temperature must be finite"}
	}

	x := make([]float64, n) // 1/ΔT
	y := make([]float64, n)
	for i, o := range obs {
		if !finite(o.OutdoorTempC) || !finite(o.COP) {
			return Model{}, &DataError{Index: i, Reason: "non-finite value"}
		}
		dT := condenserTempC - o.OutdoorTempC
		if dT == 0 {
			return Model{}, &DataError{Index: i, Reason: "outdoor temperature equals condenser temperature"}
		}
		x[i] = 1 / dT
		y[i] = o.COP
	}

	jac := mat.NewDense(n, 2, nil)
	for i := range x {
		jac.Set(i, 0, 1)
		jac.Set(i, 1, x[i])
	}

	p, ssr, err := levenbergMarquardt(jac, x, y, [2]float64{1, 1})
	if err != nil {
		return Model{}, err
	}

	stdErr, err := standardError(jac, ssr, n)
	if err != nil {
		return Model{}, err
	}

	return Model{
		A:                     p[0],
		B:                     p[1],
		StdErr:                stdErr,
		CondenserTemperatureC: condenserTempC,
		Observations:          n,
	}, nil
}

func residuals(p [2]float64, x, y []float64) (*mat.VecDense, float64) {
	r := mat.NewVecDense(len(x), nil)
	var ssr float64
	for i := range x {
		ri := y[i] - (p[0] + p[1]*x[i])
		r.SetVec(i, ri)
		ssr += ri * ri
	}
	return r, ssr
}

// levenbergMarquardt minimises the residual sum of squares. The Jacobian of
// a + b·x does not depend on (a, b), so it is built once by the caller.
func levenbergMarquardt(jac *mat.Dense, x, y []float64, p [2]float64) ([2]float64, float64, error) {
	var jtj mat.Dense
	jtj.Mul(jac.T(), jac)

	lambda := 1e-3
	r, cost := residuals(p, x, y)

	for iter := 0; iter < maxIterations; iter++ {
		var g mat.VecDense
		g.MulVec(jac.T(), r)

		accepted := false
		for lambda < 1e16 {
			a := mat.DenseCopyOf(&jtj)
			for k := 0; k < 2; k++ {
				a.Set(k, k, jtj.At(k, k)*(1+lambda))
			}

			var step mat.VecDense
			if err := step.SolveVec(a, &g); err != nil && singular(err) {
				lambda *= 10
				continue
			}

			next := [2]float64{p[0] + step.AtVec(0), p[1] + step.AtVec(1)}
			nr, nextCost := residuals(next, x, y)
			if nextCost <= cost {
				improvement := cost - nextCost
				p, r, cost = next, nr, nextCost
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
				if improvement <= ftol*cost || mat.Norm(&step, 2) <= xtol*(math.Hypot(p[0], p[1])+xtol) {
					return p, cost, nil
				}
				break
			}
			lambda *= 10
		}
		if !accepted {
			// no downhill step left: p is a minimum to working precision
			return p, cost, nil
		}
	}
	return p, cost, errors.WithMessagef(ErrNoConvergence, "after %d iterations", maxIterations)
}

// standardError averages sqrt(diag(cov)) with cov = (JᵀJ)⁻¹·SSR/(n−2).
// Two observations leave no degrees of freedom and give +Inf.
func standardError(jac *mat.Dense, ssr float64, n int) (float64, error) {
	if n <= 2 {
		return math.Inf(1), nil
	}
	var jtj, inv mat.Dense
	jtj.Mul(jac.T(), jac)
	if err := inv.Inverse(&jtj); err != nil && singular(err) {
		return 0, &DataError{Index: -1, Reason: "observations do not determine both coefficients"}
	}

	scale := ssr / float64(n-2)
	se := make([]float64, 2)
	for k := range se {
		se[k] = math.Sqrt(inv.At(k, k) * scale)
	}
	return stat.Mean(se, nil), nil
}

// singular reports whether a gonum solve failed outright. A finite
// mat.Condition only warns about precision and the result is still usable.
func singular(err error) bool {
	var cond mat.Condition
	if errors.As(err, &cond) {
		return math.IsInf(float64(cond), 1)
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
