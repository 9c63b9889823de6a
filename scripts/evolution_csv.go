package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"github.com/Agrid-Dev/tanksim/internal/ambient"
	"github.com/Agrid-Dev/tanksim/internal/dhw"
	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/performance"
	"github.com/Agrid-Dev/tanksim/internal/simulator"
	"github.com/Agrid-Dev/tanksim/internal/thermal"
)

const copDataFile = "configs/heat_pump_cop.yaml"

// loadModel fits the COP curve to the data at path. Only a missing file falls
// back to the fixed curve; an unreadable or invalid one is an error.
func loadModel(path string) (performance.Model, error) {
	obs, err := performance.LoadObservations(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "%s not found, using the fixed COP curve\n", path)
		return performance.Fixed(1.5, 80), nil
	}
	if err != nil {
		return performance.Model{}, fmt.Errorf("failed to load COP data: %w", err)
	}
	model, err := performance.Fit(obs, 65)
	if err != nil {
		return performance.Model{}, fmt.Errorf("failed to calibrate: %w", err)
	}
	return model, nil
}

// SimulateTank runs one day with default parameters and writes the tank
// evolution to filename, one row per time step.
func SimulateTank(filename string, withDHW bool, seed uint64) error {
	model, err := loadModel(copDataFile)
	if err != nil {
		return err
	}

	in := simulator.Inputs{
		Params:  params.Defaults(),
		Model:   model,
		Ambient: ambient.Constant(280),
		Seed:    seed,
		Options: simulator.DefaultOptions(),
	}
	if withDHW {
		flow, err := dhw.NewGenerator(seed).Generate()
		if err != nil {
			return fmt.Errorf("failed to generate draw-off: %v", err)
		}
		in.DHW = flow
	}

	res, err := simulator.Run(context.Background(), in)
	if err != nil {
		return fmt.Errorf("failed to simulate: %v", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Hour", "Tank", "Mode", "COP", "Power", "HeatTransfer", "HeatLoss", "DHW", "OnThreshold", "OffThreshold"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	s := res.Series
	hp := res.Params.HeatPump
	for i := range s.Time {
		draw := 0.0
		if s.DHW != nil {
			draw = s.DHW[i]
		}
		if err := writer.Write([]string{
			fmt.Sprintf("%.4f", s.Time[i]/3600),
			fmt.Sprintf("%.2f", thermal.KelvinToCelsius(s.TankTemperature[i])),
			s.Mode[i].String(),
			fmt.Sprintf("%.3f", s.COP[i]),
			fmt.Sprintf("%.1f", s.Power[i]),
			fmt.Sprintf("%.1f", s.HeatTransfer[i]),
			fmt.Sprintf("%.1f", s.HeatLoss[i]),
			fmt.Sprintf("%.1f", draw),
			fmt.Sprintf("%.2f", thermal.KelvinToCelsius(hp.OnThresholdK)),
			fmt.Sprintf("%.2f", thermal.KelvinToCelsius(hp.OffThresholdK)),
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %v", err)
		}
	}
	return nil
}

func main() {
	if err := SimulateTank("tanksim.csv", true, dhw.DefaultSeed); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
