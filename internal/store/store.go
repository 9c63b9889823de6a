// Package store persists finished simulation results.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	pkgerrors "github.com/pkg/errors"

	"github.com/Agrid-Dev/tanksim/internal/simulator"
)

var ErrNotFound = errors.New("result not found")

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id                        TEXT PRIMARY KEY,
	created_at                TIMESTAMP NOT NULL,
	dhw                       BOOLEAN NOT NULL,
	seed                      BIGINT NOT NULL,
	final_tank_temperature_c  DOUBLE PRECISION NOT NULL,
	total_energy_consumption  DOUBLE PRECISION NOT NULL,
	total_heat_transfer       DOUBLE PRECISION NOT NULL,
	total_heat_load           DOUBLE PRECISION NOT NULL,
	total_heat_loss           DOUBLE PRECISION NOT NULL,
	total_system_efficiency   DOUBLE PRECISION NOT NULL,
	heat_pump_maximum_output  DOUBLE PRECISION NOT NULL,
	record                    TEXT NOT NULL
)`

type row struct {
	ID           string    `db:"id"`
	CreatedAt    time.Time `db:"created_at"`
	DHW          bool      `db:"dhw"`
	Seed         int64     `db:"seed"`
	FinalTempC   float64   `db:"final_tank_temperature_c"`
	Energy       float64   `db:"total_energy_consumption"`
	HeatTransfer float64   `db:"total_heat_transfer"`
	HeatLoad     float64   `db:"total_heat_load"`
	HeatLoss     float64   `db:"total_heat_loss"`
	Efficiency   float64   `db:"total_system_efficiency"`
	MaxOutput    float64   `db:"heat_pump_maximum_output"`
	Record       string    `db:"record"`
}

func (r row) summary() simulator.Summary {
	return simulator.Summary{
		ID:                    r.ID,
		CreatedAt:             r.CreatedAt.UTC(),
		DHW:                   r.DHW,
		Seed:                  uint64(r.Seed),
		FinalTankTemperatureC: r.FinalTempC,
		Totals: simulator.Totals{
			EnergyConsumption: r.Energy,
			HeatTransfer:      r.HeatTransfer,
			HeatLoad:          r.HeatLoad,
			HeatLoss:          r.HeatLoss,
			Efficiency:        r.Efficiency,
			MaxOutput:         r.MaxOutput,
		},
	}
}

type Store struct {
	db *sqlx.DB
}

// Open connects with driver "sqlite3" or "postgres" and creates the results
// table when missing.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open %s store", driver)
	}
	if driver == "sqlite3" {
		// an in-memory database lives and dies with its single connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrapf(err, "connect %s store", driver)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "create results table")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, res *simulator.Result) error {
	rec, err := json.Marshal(res.Record())
	if err != nil {
		return pkgerrors.Wrapf(err, "encode result %s", res.ID)
	}
	sum := res.Summary()
	r := row{
		ID:           sum.ID,
		CreatedAt:    sum.CreatedAt,
		DHW:          sum.DHW,
		Seed:         int64(sum.Seed),
		FinalTempC:   sum.FinalTankTemperatureC,
		Energy:       sum.EnergyConsumption,
		HeatTransfer: sum.HeatTransfer,
		HeatLoad:     sum.HeatLoad,
		HeatLoss:     sum.HeatLoss,
		Efficiency:   sum.Efficiency,
		MaxOutput:    sum.MaxOutput,
		Record:       string(rec),
	}

	const q = `INSERT INTO results (id, created_at, dhw, seed, final_tank_temperature_c,
		total_energy_consumption, total_heat_transfer, total_heat_load, total_heat_loss,
		total_system_efficiency, heat_pump_maximum_output, record)
	VALUES (:id, :created_at, :dhw, :seed, :final_tank_temperature_c,
		:total_energy_consumption, :total_heat_transfer, :total_heat_load, :total_heat_loss,
		:total_system_efficiency, :heat_pump_maximum_output, :record)`
	if _, err := s.db.NamedExecContext(ctx, q, r); err != nil {
		return pkgerrors.Wrapf(err, "save result %s", res.ID)
	}
	return nil
}

// Get returns the stored record of a run.
func (s *Store) Get(ctx context.Context, id string) (simulator.Record, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, s.db.Rebind(`SELECT record FROM results WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return simulator.Record{}, ErrNotFound
	}
	if err != nil {
		return simulator.Record{}, pkgerrors.Wrapf(err, "get result %s", id)
	}
	var rec simulator.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return simulator.Record{}, pkgerrors.Wrapf(err, "decode result %s", id)
	}
	return rec, nil
}

// List returns the newest summaries first.
func (s *Store) List(ctx context.Context, limit int) ([]simulator.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []row
	q := s.db.Rebind(`SELECT id, created_at, dhw, seed, final_tank_temperature_c,
		total_energy_consumption, total_heat_transfer, total_heat_load, total_heat_loss,
		total_system_efficiency, heat_pump_maximum_output, '' AS record
	FROM results ORDER BY created_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, pkgerrors.Wrap(err, "list results")
	}
	out := make([]simulator.Summary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.summary())
	}
	return out, nil
}
