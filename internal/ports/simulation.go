package ports

import (
	"context"
	"errors"

	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/performance"
	"github.com/Agrid-Dev/tanksim/internal/simulator"
)

// ErrResultNotFound is returned by Record for an unknown run ID.
var ErrResultNotFound = errors.New("result not found")

// RunRequest stages one scenario. A nil Seed uses the configured default.
type RunRequest struct {
	Overrides []params.Override `json:"overrides,omitempty"`
	DHW       bool              `json:"dhw"`
	Seed      *uint64           `json:"seed,omitempty"`
}

type SweepRequest struct {
	simulator.SweepSpec
	Overrides []params.Override `json:"overrides,omitempty"`
	DHW       bool              `json:"dhw"`
	Seed      *uint64           `json:"seed,omitempty"`
}

// SimulationService is the port used by controllers (HTTP/MQTT/Modbus/Kafka).
type SimulationService interface {
	Parameters() params.ParameterSet
	Model() performance.Model
	Run(ctx context.Context, req RunRequest) (*simulator.Result, error)
	Sweep(ctx context.Context, req SweepRequest) ([]simulator.SweepPoint, error)
	// Latest returns nil until the first run completes.
	Latest() *simulator.Result
	Record(ctx context.Context, id string) (simulator.Record, error)
	Results(ctx context.Context, limit int) ([]simulator.Summary, error)
}
