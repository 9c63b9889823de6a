package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"github.com/Agrid-Dev/tanksim/internal/dhw"
	"github.com/Agrid-Dev/tanksim/internal/logger"
	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/simulator"
)

// EnvPrefix marks the environment variables read by LoadConfig, e.g.
// TANKSIM_CONTROLLERS_HTTP_ADDR or TANKSIM_PARAMETERS_HOT_WATER_TANK_MASS_OF_WATER.
const EnvPrefix = "TANKSIM_"

type Config struct {
	LogLevel string `koanf:"log_level"`
	Instance string `koanf:"instance"`

	Parameters  params.ParameterSet `koanf:"parameters"`
	Simulation  simulator.Options   `koanf:"simulation"`
	Calibration CalibrationConfig   `koanf:"calibration"`
	Ambient     AmbientConfig       `koanf:"ambient"`
	DHW         DHWConfig           `koanf:"dhw"`
	Sweep       SweepConfig         `koanf:"sweep"`
	Store       StoreConfig         `koanf:"store"`

	Controllers ControllersConfig `koanf:"controllers"`
}

// CalibrationConfig selects the COP model. With an empty DataFile the fixed
// curve FixedA + FixedB/ΔT is used instead of a fit.
type CalibrationConfig struct {
	DataFile              string  `koanf:"data_file"`
	CondenserTemperatureC float64 `koanf:"condenser_temperature_c"`
	FixedA                float64 `koanf:"fixed_a"`
	FixedB                float64 `koanf:"fixed_b"`
}

// AmbientConfig selects the outdoor temperature. A CSVFile wins over the
// constant.
type AmbientConfig struct {
	CSVFile              string  `koanf:"csv_file"`
	ConstantTemperatureK float64 `koanf:"constant_temperature_k"`
}

type DHWConfig struct {
	Seed       uint64        `koanf:"seed"`
	Horizon    time.Duration `koanf:"horizon"`
	Resolution time.Duration `koanf:"resolution"`
}

type SweepConfig struct {
	Concurrency int `koanf:"concurrency"`
}

type StoreConfig struct {
	Enabled bool   `koanf:"enabled"`
	Driver  string `koanf:"driver"`
	DSN     string `koanf:"dsn"`
}

type ControllersConfig struct {
	HTTP   HTTPConfig   `koanf:"http"`
	MQTT   MQTTConfig   `koanf:"mqtt"`
	Modbus ModbusConfig `koanf:"modbus"`
	Kafka  KafkaConfig  `koanf:"kafka"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Metrics bool   `koanf:"metrics"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	RetainResult    bool          `koanf:"retain_result"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
}

type ModbusConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	UnitID  byte   `koanf:"unit_id"`
}

type KafkaConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Brokers      []string      `koanf:"brokers"`
	Topic        string        `koanf:"topic"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

func Default() Config {
	return Config{
		LogLevel:   "info",
		Instance:   "default",
		Parameters: params.Defaults(),
		Simulation: simulator.DefaultOptions(),
		Calibration: CalibrationConfig{
			DataFile:              "configs/heat_pump_cop.yaml",
			CondenserTemperatureC: 65,
			FixedA:                1.5,
			FixedB:                80,
		},
		Ambient: AmbientConfig{ConstantTemperatureK: 280},
		DHW: DHWConfig{
			Seed:       dhw.DefaultSeed,
			Horizon:    dhw.DefaultHorizon,
			Resolution: dhw.DefaultResolution,
		},
		Sweep: SweepConfig{Concurrency: 4},
		Store: StoreConfig{Driver: "sqlite3", DSN: "tanksim.db"},
		Controllers: ControllersConfig{
			HTTP:   HTTPConfig{Addr: ":8080", Metrics: true},
			MQTT:   MQTTConfig{BrokerURL: "tcp://localhost:1883", PublishInterval: time.Second},
			Modbus: ModbusConfig{Addr: "127.0.0.1:1502", UnitID: 1},
			Kafka:  KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "tanksim.results", PollInterval: time.Second},
		},
	}
}

// LoadConfig layers the defaults, the file at path and TANKSIM_* environment
// variables. An empty path or a missing file leaves the defaults in place,
// except for the physical parameters: every one of them must be set by the
// file or the environment, and a missing or non-numeric value fails with a
// *params.ConfigurationError naming it.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "load defaults")
	}
	k.Delete("parameters")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			parser, err := parserFor(path)
			if err != nil {
				return Config{}, err
			}
			if err := k.Load(file.Provider(path), parser); err != nil {
				return Config{}, errors.Wrapf(err, "read config %s", path)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "stat config %s", path)
		} else {
			logger.L().Infow("config file not found, reading parameters from the environment", "path", path)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = envKeyTransform(strings.TrimPrefix(key, EnvPrefix))
			if key == "controllers.kafka.brokers" {
				return key, strings.Split(value, ",")
			}
			return key, value
		},
	}), nil)
	if err != nil {
		return Config{}, errors.Wrap(err, "load environment")
	}

	ps, err := loadParameters(k)
	if err != nil {
		return Config{}, err
	}
	k.Delete("parameters")

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg.Parameters = ps
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadParameters reads every declared parameter from k.
func loadParameters(k *koanf.Koanf) (params.ParameterSet, error) {
	var ps params.ParameterSet
	for _, key := range params.Keys() {
		path := "parameters." + key.String()
		if !k.Exists(path) {
			return ps, &params.ConfigurationError{Category: key.Category, Name: key.Name, Err: params.ErrNotFound}
		}
		v, ok := number(k.Get(path))
		if !ok {
			return ps, &params.ConfigurationError{
				Category: key.Category,
				Name:     key.Name,
				Reason:   "value is not a number",
				Err:      params.ErrInvalidValue,
			}
		}
		var err error
		if ps, err = ps.With(params.Override{Category: key.Category, Name: key.Name, Value: v}); err != nil {
			return ps, err
		}
	}
	return ps, nil
}

// number accepts what the yaml, json and env providers produce for a numeric field.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, errors.Errorf("unsupported config extension %q", ext)
	}
}

func (c Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if err := c.Parameters.Validate(); err != nil {
		return err
	}
	if err := c.Simulation.Validate(); err != nil {
		return err
	}
	if c.Store.Enabled && c.Store.Driver != "sqlite3" && c.Store.Driver != "postgres" {
		return errors.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Controllers.MQTT.QoS > 1 {
		return errors.New("mqtt qos must be 0 or 1")
	}
	return nil
}

var sections = []string{"calibration", "ambient", "simulation", "dhw", "sweep", "store"}

// envKeyTransform maps an unprefixed environment name to a config path:
// CONTROLLERS_HTTP_ADDR -> controllers.http.addr, STORE_DSN -> store.dsn and
// PARAMETERS_BUILDING_PROPERTIES_WALL_U_VALUE -> parameters.building_properties.wall_U_value.
// Unknown names are lower-cased and passed through.
func envKeyTransform(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(k, "parameters_"); ok {
		return parameterKey(rest, k)
	}
	if rest, ok := strings.CutPrefix(k, "controllers_"); ok {
		ctrl, field, ok := strings.Cut(rest, "_")
		if !ok {
			return k
		}
		return "controllers." + ctrl + "." + field
	}
	for _, s := range sections {
		if rest, ok := strings.CutPrefix(k, s+"_"); ok {
			return s + "." + rest
		}
	}
	return k
}

// parameterKey resolves "<category>_<name>" to its canonical spelling, which
// keeps the upper-case letters of names like wall_U_value.
func parameterKey(rest, fallback string) string {
	seen := map[string]bool{}
	for _, key := range params.Keys() {
		if seen[key.Category] {
			continue
		}
		seen[key.Category] = true
		name, ok := strings.CutPrefix(rest, key.Category+"_")
		if !ok {
			continue
		}
		if canon, ok := params.Canonical(key.Category, name); ok {
			return "parameters." + canon.Category + "." + canon.Name
		}
	}
	return fallback
}
