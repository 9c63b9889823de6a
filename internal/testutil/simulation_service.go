package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/performance"
	"github.com/Agrid-Dev/tanksim/internal/ports"
	"github.com/Agrid-Dev/tanksim/internal/simulator"
)

// FakeSimulationService is a reusable fake implementing ports.SimulationService.
// Put ONLY what multiple test packages need here.
type FakeSimulationService struct {
	mu sync.Mutex

	Params    params.ParameterSet
	PerfModel performance.Model

	RunCalls []ports.RunRequest
	RunErr   error

	SweepCalls  []ports.SweepRequest
	SweepPoints []simulator.SweepPoint
	SweepErr    error

	latest  *simulator.Result
	results map[string]*simulator.Result
	order   []string
}

func NewFakeSimulationService() *FakeSimulationService {
	return &FakeSimulationService{
		Params:    params.Defaults(),
		PerfModel: performance.Fixed(3, 50),
		results:   map[string]*simulator.Result{},
	}
}

// FakeResult builds a small finished run whose final tank temperature is
// finalC degrees Celsius.
func FakeResult(id string, finalC float64) *simulator.Result {
	return &simulator.Result{
		ID:        id,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Params:    params.Defaults(),
		Series: simulator.TimeSeries{
			Time:            []float64{0, 3600},
			TankTemperature: []float64{318.15, finalC + 273.15},
			HeatLoad:        []float64{0, 1000},
			HeatLoss:        []float64{0, 50},
			HeatTransfer:    []float64{0, 2000},
			COP:             []float64{0, 4},
			Power:           []float64{0, 500},
			Mode:            []simulator.Mode{simulator.ModeOff, simulator.ModeOn},
		},
		Totals: simulator.Totals{
			EnergyConsumption: 3.6e6,
			HeatTransfer:      7.2e6,
			HeatLoad:          3.6e6,
			HeatLoss:          1.8e5,
			Efficiency:        50,
			MaxOutput:         2000,
		},
	}
}

func (f *FakeSimulationService) Parameters() params.ParameterSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Params
}

func (f *FakeSimulationService) Model() performance.Model {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PerfModel
}

func (f *FakeSimulationService) Run(_ context.Context, req ports.RunRequest) (*simulator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RunCalls = append(f.RunCalls, req)
	if f.RunErr != nil {
		return nil, f.RunErr
	}
	p, err := f.Params.WithAll(req.Overrides...)
	if err != nil {
		return nil, err
	}
	res := FakeResult(fmt.Sprintf("run-%d", len(f.RunCalls)), 50+float64(len(f.RunCalls)))
	res.Params = p
	res.DHWEnabled = req.DHW
	if req.Seed != nil {
		res.Seed = *req.Seed
	}
	f.put(res)
	return res, nil
}

// SetRunErr makes later Run calls fail with err.
func (f *FakeSimulationService) SetRunErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RunErr = err
}

// SetLatest installs res as the latest run without recording a call.
func (f *FakeSimulationService) SetLatest(res *simulator.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(res)
}

func (f *FakeSimulationService) put(res *simulator.Result) {
	f.latest = res
	f.results[res.ID] = res
	f.order = append(f.order, res.ID)
}

func (f *FakeSimulationService) Sweep(_ context.Context, req ports.SweepRequest) ([]simulator.SweepPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SweepCalls = append(f.SweepCalls, req)
	if f.SweepErr != nil {
		return nil, f.SweepErr
	}
	return f.SweepPoints, nil
}

func (f *FakeSimulationService) Latest() *simulator.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *FakeSimulationService) Record(_ context.Context, id string) (simulator.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[id]
	if !ok {
		return simulator.Record{}, ports.ErrResultNotFound
	}
	return res.Record(), nil
}

func (f *FakeSimulationService) Results(_ context.Context, limit int) ([]simulator.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []simulator.Summary{}
	for i := len(f.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, f.results[f.order[i]].Summary())
	}
	return out, nil
}

// Calls returns the number of Run calls so far.
func (f *FakeSimulationService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.RunCalls)
}

var _ ports.SimulationService = (*FakeSimulationService)(nil)
