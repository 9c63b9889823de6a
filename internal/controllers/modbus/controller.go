package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/tanksim/internal/logger"
	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/ports"
	"github.com/Agrid-Dev/tanksim/internal/thermal"
)

// Register map.
//
//	Coil 0   staged DHW flag
//	Coil 1   write 0xFF00 to run with the staged values (reads 0)
//	HR 0     staged on threshold, °C × 100
//	HR 1     staged off threshold, °C × 100
//	IR 0     latest final tank temperature, °C × 100
//	IR 1     latest energy consumption, kWh × 100
//	IR 2     latest system efficiency, % × 10
//	IR 3     latest heat pump maximum output, kW × 100
//
// Input registers read 0 until the first run completes.
const (
	coilDHW = iota
	coilRun
	coilCount
)

const (
	hrOnThreshold = iota
	hrOffThreshold
	hrCount
)

const (
	irFinalTemperature = iota
	irEnergy
	irEfficiency
	irMaxOutput
	irCount
)

const (
	TemperatureScale = 100
	EnergyScale      = 100
	EfficiencyScale  = 10
	PowerScale       = 100
)

// Config for the Modbus controller.
type Config struct {
	Addr   string
	UnitID byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
}

type Controller struct {
	svc ports.SimulationService
	cfg Config

	mu      sync.Mutex
	dhw     bool
	onTemp  uint16
	offTemp uint16

	serv *mbserver.Server
}

func New(svc ports.SimulationService, cfg Config) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	hp := svc.Parameters().HeatPump
	return &Controller{
		svc:     svc,
		cfg:     cfg,
		onTemp:  encodeSigned(thermal.KelvinToCelsius(hp.OnThresholdK), TemperatureScale),
		offTemp: encodeSigned(thermal.KelvinToCelsius(hp.OffThresholdK), TemperatureScale),
	}, nil
}

// Run starts the Modbus server and blocks until ctx is canceled. A run
// triggered through coil 1 executes inside the write request and uses ctx.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers before listening; mbserver reads the table from its
	// connection goroutines.
	serv.RegisterFunctionHandler(1, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return c.readCoils(frame.GetData())
	})
	serv.RegisterFunctionHandler(3, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return c.readRegisters(frame.GetData(), hrCount, c.holding)
	})
	serv.RegisterFunctionHandler(4, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return c.readRegisters(frame.GetData(), irCount, c.inputs())
	})
	serv.RegisterFunctionHandler(5, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return c.writeCoil(ctx, frame.GetData())
	})
	serv.RegisterFunctionHandler(6, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		addr := int(binary.BigEndian.Uint16(data[0:2]))
		value := binary.BigEndian.Uint16(data[2:4])
		if ex := c.writeHolding(addr, []uint16{value}); ex != &mbserver.Success {
			return []byte{}, ex
		}
		resp := make([]byte, 4)
		copy(resp, data[0:4])
		return resp, &mbserver.Success
	})
	serv.RegisterFunctionHandler(16, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		d := frame.GetData()
		if len(d) < 5 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := binary.BigEndian.Uint16(d[0:2])
		quantity := binary.BigEndian.Uint16(d[2:4])
		byteCount := int(d[4])
		if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
			return []byte{}, &mbserver.IllegalDataValue
		}
		values := make([]uint16, quantity)
		for i := range values {
			values[i] = binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
		}
		if ex := c.writeHolding(int(start), values); ex != &mbserver.Success {
			return []byte{}, ex
		}
		resp := make([]byte, 4)
		binary.BigEndian.PutUint16(resp[0:2], start)
		binary.BigEndian.PutUint16(resp[2:4], quantity)
		return resp, &mbserver.Success
	})

	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	logger.L().Infow("modbus listening", "addr", c.cfg.Addr, "unit_id", c.cfg.UnitID)

	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

func (c *Controller) readCoils(data []byte) ([]byte, *mbserver.Exception) {
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > 2000 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start+qty > coilCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	c.mu.Lock()
	dhw := c.dhw
	c.mu.Unlock()

	var bits byte
	for i := 0; i < qty; i++ {
		if start+i == coilDHW && dhw {
			bits |= 1 << i
		}
	}
	// response: byte count (1) + coil bytes
	return []byte{1, bits}, &mbserver.Success
}

// readRegisters serves qty registers from a table of size n through get.
func (c *Controller) readRegisters(data []byte, n int, get func(addr int) uint16) ([]byte, *mbserver.Exception) {
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > 125 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start+qty > n {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	byteCount := qty * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i := 0; i < qty; i++ {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], get(start+i))
	}
	return resp, &mbserver.Success
}

func (c *Controller) holding(addr int) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if addr == hrOnThreshold {
		return c.onTemp
	}
	return c.offTemp
}

// inputs snapshots the latest result so one read is consistent.
func (c *Controller) inputs() func(addr int) uint16 {
	var regs [irCount]uint16
	if res := c.svc.Latest(); res != nil {
		regs[irFinalTemperature] = encodeSigned(res.FinalTankTemperatureC(), TemperatureScale)
		regs[irEnergy] = encodeUnsigned(res.Totals.EnergyConsumption/3.6e6, EnergyScale)
		regs[irEfficiency] = encodeSigned(res.Totals.Efficiency, EfficiencyScale)
		regs[irMaxOutput] = encodeUnsigned(res.Totals.MaxOutput/1000, PowerScale)
	}
	return func(addr int) uint16 { return regs[addr] }
}

func (c *Controller) writeHolding(start int, values []uint16) *mbserver.Exception {
	if start < 0 || start+len(values) > hrCount {
		return &mbserver.IllegalDataAddress
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, v := range values {
		switch start + i {
		case hrOnThreshold:
			c.onTemp = v
		case hrOffThreshold:
			c.offTemp = v
		}
	}
	return &mbserver.Success
}

func (c *Controller) writeCoil(ctx context.Context, data []byte) ([]byte, *mbserver.Exception) {
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	var on bool
	switch value {
	case 0x0000:
		on = false
	case 0xFF00:
		on = true
	default:
		return []byte{}, &mbserver.IllegalDataValue
	}

	switch addr {
	case coilDHW:
		c.mu.Lock()
		c.dhw = on
		c.mu.Unlock()
	case coilRun:
		if on {
			if ex := c.trigger(ctx); ex != &mbserver.Success {
				return []byte{}, ex
			}
		}
	default:
		return []byte{}, &mbserver.IllegalDataAddress
	}

	// echo request (address + value)
	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

func (c *Controller) trigger(ctx context.Context) *mbserver.Exception {
	_, err := c.svc.Run(ctx, c.request())
	switch {
	case err == nil:
		return &mbserver.Success
	case isConfigError(err):
		logger.L().Warnw("modbus run rejected", "error", err)
		return &mbserver.IllegalDataValue
	default:
		logger.L().Errorw("modbus run failed", "error", err)
		return &mbserver.SlaveDeviceFailure
	}
}

// request builds a run from the staged registers.
func (c *Controller) request() ports.RunRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ports.RunRequest{
		DHW: c.dhw,
		Overrides: []params.Override{
			{Category: params.CategoryHeatPump, Name: "on_temperature_threshold_K", Value: decodeSigned(c.onTemp, TemperatureScale), Celsius: true},
			{Category: params.CategoryHeatPump, Name: "off_temperature_threshold_K", Value: decodeSigned(c.offTemp, TemperatureScale), Celsius: true},
		},
	}
}

func isConfigError(err error) bool {
	var cfgErr *params.ConfigurationError
	return errors.As(err, &cfgErr) || errors.Is(err, params.ErrInvalidValue) || errors.Is(err, params.ErrNotFound)
}

func encodeSigned(v float64, scale int) uint16 {
	r := min(max(int(math.Round(v*float64(scale))), math.MinInt16), math.MaxInt16)
	return uint16(int16(r))
}

func decodeSigned(u uint16, scale int) float64 {
	return float64(int16(u)) / float64(scale)
}

func encodeUnsigned(v float64, scale int) uint16 {
	return uint16(min(max(int(math.Round(v*float64(scale))), 0), math.MaxUint16))
}
