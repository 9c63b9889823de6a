// Package service binds the immutable inputs of a deployment (parameters,
// calibrated COP model and ambient profile) and runs simulations against them.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Agrid-Dev/tanksim/internal/ambient"
	"github.com/Agrid-Dev/tanksim/internal/dhw"
	"github.com/Agrid-Dev/tanksim/internal/logger"
	"github.com/Agrid-Dev/tanksim/internal/metrics"
	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/performance"
	"github.com/Agrid-Dev/tanksim/internal/ports"
	"github.com/Agrid-Dev/tanksim/internal/simulator"
	"github.com/Agrid-Dev/tanksim/internal/store"
)

var ErrResultNotFound = ports.ErrResultNotFound

// ResultStore persists finished runs. store.Store implements it.
type ResultStore interface {
	Save(ctx context.Context, res *simulator.Result) error
	Get(ctx context.Context, id string) (simulator.Record, error)
	List(ctx context.Context, limit int) ([]simulator.Summary, error)
}

type Config struct {
	Params  params.ParameterSet
	Model   performance.Model
	Ambient ambient.Profile
	Options simulator.Options

	// Seed seeds the DHW generator when a request does not carry one.
	Seed uint64
	// DHWHorizon and DHWResolution default to one day at one minute.
	DHWHorizon    time.Duration
	DHWResolution time.Duration
	// SweepConcurrency bounds parallel runs of a sweep; 0 means unbounded.
	SweepConcurrency int

	// Store and Metrics are optional.
	Store   ResultStore
	Metrics *metrics.Metrics
}

type Service struct {
	cfg Config

	mu     sync.RWMutex
	latest *simulator.Result
}

var _ ports.SimulationService = (*Service)(nil)

func New(cfg Config) (*Service, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Ambient == nil {
		return nil, simulator.ErrNoAmbient
	}
	if cfg.Options == (simulator.Options{}) {
		cfg.Options = simulator.DefaultOptions()
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.DHWHorizon <= 0 {
		cfg.DHWHorizon = dhw.DefaultHorizon
	}
	if cfg.DHWResolution <= 0 {
		cfg.DHWResolution = dhw.DefaultResolution
	}
	if cfg.SweepConcurrency < 0 {
		cfg.SweepConcurrency = 0
	}
	return &Service{cfg: cfg}, nil
}

func (s *Service) Parameters() params.ParameterSet {
	return s.cfg.Params
}

func (s *Service) Model() performance.Model {
	return s.cfg.Model
}

func (s *Service) Latest() *simulator.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Service) seed(req *uint64) uint64 {
	if req != nil {
		return *req
	}
	return s.cfg.Seed
}

func (s *Service) flow(seed uint64) (simulator.FlowProfile, error) {
	p, err := dhw.Generator{
		Horizon:    s.cfg.DHWHorizon,
		Resolution: s.cfg.DHWResolution,
		Seed:       seed,
	}.Generate()
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) inputs(overrides []params.Override, seed uint64) (simulator.Inputs, error) {
	p, err := s.cfg.Params.WithAll(overrides...)
	if err != nil {
		return simulator.Inputs{}, err
	}
	return simulator.Inputs{
		Params:  p,
		Model:   s.cfg.Model,
		Ambient: s.cfg.Ambient,
		Seed:    seed,
		Options: s.cfg.Options,
	}, nil
}

// Run simulates one scenario, makes it the latest result and persists it.
// A persistence failure is logged; the result is still returned.
func (s *Service) Run(ctx context.Context, req ports.RunRequest) (*simulator.Result, error) {
	start := time.Now()
	res, err := s.run(ctx, req)
	s.cfg.Metrics.Observe(metrics.KindRun, time.Since(start), err)
	if err != nil {
		logger.L().Warnw("simulation failed", "error", err)
		return nil, err
	}

	s.mu.Lock()
	s.latest = res
	s.mu.Unlock()

	s.cfg.Metrics.SetLatest(res.Totals.EnergyConsumption, res.FinalTankTemperatureC(), res.Totals.Efficiency)
	logger.L().Infow("simulation finished",
		"id", res.ID,
		"dhw", res.DHWEnabled,
		"energy_J", res.Totals.EnergyConsumption,
		"efficiency_pct", res.Totals.Efficiency,
		"final_tank_C", res.FinalTankTemperatureC(),
		"took", time.Since(start),
	)

	if s.cfg.Store != nil {
		if err := s.cfg.Store.Save(ctx, res); err != nil {
			s.cfg.Metrics.StoreError()
			logger.L().Errorw("failed to persist result", "id", res.ID, "error", err)
		}
	}
	return res, nil
}

func (s *Service) run(ctx context.Context, req ports.RunRequest) (*simulator.Result, error) {
	seed := s.seed(req.Seed)
	in, err := s.inputs(req.Overrides, seed)
	if err != nil {
		return nil, err
	}
	if req.DHW {
		if in.DHW, err = s.flow(seed); err != nil {
			return nil, err
		}
	}
	return simulator.Run(ctx, in)
}

// Sweep runs one simulation per value of the swept parameter. Sweep runs do
// not replace the latest result and are not persisted.
func (s *Service) Sweep(ctx context.Context, req ports.SweepRequest) ([]simulator.SweepPoint, error) {
	start := time.Now()
	points, err := s.sweep(ctx, req)
	s.cfg.Metrics.Observe(metrics.KindSweep, time.Since(start), err)
	if err != nil {
		logger.L().Warnw("sweep failed", "key", req.Key.String(), "error", err)
		return nil, err
	}
	logger.L().Infow("sweep finished", "key", req.Key.String(), "runs", len(points), "took", time.Since(start))
	return points, nil
}

func (s *Service) sweep(ctx context.Context, req ports.SweepRequest) ([]simulator.SweepPoint, error) {
	seed := s.seed(req.Seed)
	base, err := s.inputs(req.Overrides, seed)
	if err != nil {
		return nil, err
	}
	var flows simulator.FlowFactory
	if req.DHW {
		flows = func(i int) (simulator.FlowProfile, error) {
			return s.flow(seed + uint64(i))
		}
	}
	return simulator.Sweep(ctx, req.SweepSpec, base, flows, s.cfg.SweepConcurrency)
}

// Record returns the boundary record of a run, from memory for the latest
// run and from the store otherwise.
func (s *Service) Record(ctx context.Context, id string) (simulator.Record, error) {
	if latest := s.Latest(); latest != nil && latest.ID == id {
		return latest.Record(), nil
	}
	if s.cfg.Store == nil {
		return simulator.Record{}, ErrResultNotFound
	}
	rec, err := s.cfg.Store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return simulator.Record{}, ErrResultNotFound
	}
	return rec, err
}

// Results lists stored summaries newest first. Without a store only the
// latest run is known.
func (s *Service) Results(ctx context.Context, limit int) ([]simulator.Summary, error) {
	if s.cfg.Store == nil {
		if latest := s.Latest(); latest != nil {
			return []simulator.Summary{latest.Summary()}, nil
		}
		return []simulator.Summary{}, nil
	}
	return s.cfg.Store.List(ctx, limit)
}
