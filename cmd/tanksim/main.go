package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pborman/getopt/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Agrid-Dev/tanksim/cmd/app"
	"github.com/Agrid-Dev/tanksim/internal/ambient"
	httpctrl "github.com/Agrid-Dev/tanksim/internal/controllers/http"
	kafkactrl "github.com/Agrid-Dev/tanksim/internal/controllers/kafka"
	modbusctrl "github.com/Agrid-Dev/tanksim/internal/controllers/modbus"
	mqttctrl "github.com/Agrid-Dev/tanksim/internal/controllers/mqtt"
	"github.com/Agrid-Dev/tanksim/internal/logger"
	"github.com/Agrid-Dev/tanksim/internal/metrics"
	"github.com/Agrid-Dev/tanksim/internal/performance"
	"github.com/Agrid-Dev/tanksim/internal/ports"
	"github.com/Agrid-Dev/tanksim/internal/service"
	"github.com/Agrid-Dev/tanksim/internal/store"
)

func main() {
	configPath := getopt.StringLong("config", 'c', "configs/config.yaml", "config file pathname (.yaml/.yml/.json)")
	logLevel := getopt.StringLong("log-level", 'l', "", "log levels: debug, info, warn, error")
	output := getopt.StringLong("output", 'o', "", "write the JSON result to this file instead of stdout")
	sweep := getopt.StringLong("sweep", 0, "", "run a sweep: category.name=lower,upper,increments[,C]")
	serve := getopt.BoolLong("serve", 0, "run the enabled controllers until interrupted")
	withDHW := getopt.BoolLong("dhw", 0, "enable domestic hot water draw-off")
	var seed uint64
	seedOpt := getopt.FlagLong(&seed, "seed", 0, "DHW seed (default from config)")
	help := getopt.BoolLong("help", 'h', "display help")
	getopt.Parse()

	if *help {
		getopt.Usage()
		return
	}
	defer logger.Close()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		logger.L().Fatalf("config: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	lvl, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.L().Fatalf("%v", err)
	}
	logger.SetLogLevel(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	svc, closeStore, err := build(ctx, cfg, m)
	if err != nil {
		logger.L().Fatalf("%v", err)
	}
	defer closeStore()

	var reqSeed *uint64
	if seedOpt.Seen() {
		reqSeed = &seed
	}

	switch {
	case *serve:
		err = serveAll(ctx, svc, cfg, m)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case *sweep != "":
		err = runSweep(ctx, svc, *sweep, *withDHW, reqSeed, *output)
	default:
		err = runOnce(ctx, svc, *withDHW, reqSeed, *output)
	}
	if err != nil {
		logger.L().Errorf("%v", err)
		logger.Close()
		os.Exit(1)
	}
}

// build calibrates the COP model, loads the ambient profile and opens the
// store. Calibration errors abort before any run.
func build(ctx context.Context, cfg app.Config, m *metrics.Metrics) (*service.Service, func(), error) {
	model := performance.Fixed(cfg.Calibration.FixedA, cfg.Calibration.FixedB)
	if cfg.Calibration.DataFile != "" {
		obs, err := performance.LoadObservations(cfg.Calibration.DataFile)
		if err != nil {
			return nil, nil, err
		}
		if model, err = performance.Fit(obs, cfg.Calibration.CondenserTemperatureC); err != nil {
			return nil, nil, err
		}
		logger.L().Infow("heat pump calibrated",
			"file", cfg.Calibration.DataFile, "a", model.A, "b", model.B, "std_err", model.StdErr)
	}

	var amb ambient.Profile = ambient.Constant(cfg.Ambient.ConstantTemperatureK)
	if cfg.Ambient.CSVFile != "" {
		series, err := ambient.LoadCSV(cfg.Ambient.CSVFile)
		if err != nil {
			return nil, nil, err
		}
		amb = series
	}

	closeStore := func() {}
	var results service.ResultStore
	if cfg.Store.Enabled {
		st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		results = st
		closeStore = func() {
			if err := st.Close(); err != nil {
				logger.L().Warnw("close store", "error", err)
			}
		}
	}

	svc, err := service.New(service.Config{
		Params:           cfg.Parameters,
		Model:            model,
		Ambient:          amb,
		Options:          cfg.Simulation,
		Seed:             cfg.DHW.Seed,
		DHWHorizon:       cfg.DHW.Horizon,
		DHWResolution:    cfg.DHW.Resolution,
		SweepConcurrency: cfg.Sweep.Concurrency,
		Store:            results,
		Metrics:          m,
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return svc, closeStore, nil
}

func runOnce(ctx context.Context, svc *service.Service, withDHW bool, seed *uint64, output string) error {
	res, err := svc.Run(ctx, ports.RunRequest{DHW: withDHW, Seed: seed})
	if err != nil {
		return err
	}
	if output == "" {
		return writeJSON(os.Stdout, res.Summary())
	}
	return writeFile(output, res.Record())
}

func runSweep(ctx context.Context, svc *service.Service, arg string, withDHW bool, seed *uint64, output string) error {
	spec, err := app.ParseSweep(arg)
	if err != nil {
		return err
	}
	points, err := svc.Sweep(ctx, ports.SweepRequest{SweepSpec: spec, DHW: withDHW, Seed: seed})
	if err != nil {
		return err
	}
	if output == "" {
		return writeJSON(os.Stdout, points)
	}
	return writeFile(output, points)
}

// serveAll runs every enabled controller until ctx is canceled or one fails.
func serveAll(ctx context.Context, svc *service.Service, cfg app.Config, m *metrics.Metrics) error {
	g, ctx := errgroup.WithContext(ctx)
	c := cfg.Controllers
	started := 0

	if c.HTTP.Enabled {
		var mh http.Handler
		if c.HTTP.Metrics {
			mh = m.Handler()
		}
		srv := httpctrl.New(svc, c.HTTP.Addr, mh)
		logger.L().Infow("http listening", "addr", c.HTTP.Addr)
		g.Go(func() error { return srv.Run(ctx) })
		started++
	}
	if c.MQTT.Enabled {
		ctrl, err := mqttctrl.New(svc, mqttctrl.Config{
			Instance:        cfg.Instance,
			BrokerURL:       c.MQTT.BrokerURL,
			ClientID:        c.MQTT.ClientID,
			BaseTopic:       c.MQTT.BaseTopic,
			QoS:             c.MQTT.QoS,
			RetainResult:    c.MQTT.RetainResult,
			PublishInterval: c.MQTT.PublishInterval,
			Username:        c.MQTT.Username,
			Password:        c.MQTT.Password,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return ctrl.Run(ctx) })
		started++
	}
	if c.Modbus.Enabled {
		ctrl, err := modbusctrl.New(svc, modbusctrl.Config{Addr: c.Modbus.Addr, UnitID: c.Modbus.UnitID})
		if err != nil {
			return err
		}
		g.Go(func() error { return ctrl.Run(ctx) })
		started++
	}
	if c.Kafka.Enabled {
		pub, err := kafkactrl.New(svc, kafkactrl.Config{
			Brokers:      c.Kafka.Brokers,
			Topic:        c.Kafka.Topic,
			PollInterval: c.Kafka.PollInterval,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return pub.Run(ctx) })
		started++
	}
	if started == 0 {
		return errors.New("--serve: no controller is enabled")
	}
	return g.Wait()
}

func writeJSON(f *os.File, v any) error {
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeJSON(f, v); err != nil {
		_ = f.Close()
		return err
	}
	logger.L().Infow("result written", "path", path)
	return f.Close()
}
