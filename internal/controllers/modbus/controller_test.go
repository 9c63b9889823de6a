package modbusctrl

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/testutil"
)

func findFreeTCPAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	a := l.Addr().String()
	_ = l.Close()
	return a
}

const startupDelay = 50 * time.Millisecond

func startController(t *testing.T, svc *testutil.FakeSimulationService) modbus.Client {
	t.Helper()
	addr := findFreeTCPAddr(t)

	ctrl, err := New(svc, Config{Addr: addr, UnitID: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go func() {
		_ = ctrl.Run(t.Context())
	}()
	time.Sleep(startupDelay)

	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = 2 * time.Second
	if err := handler.Connect(); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = handler.Close() })
	return modbus.NewClient(handler)
}

func reg(b []byte, i int) uint16 { return binary.BigEndian.Uint16(b[i*2 : i*2+2]) }

func TestNewValidation(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	if _, err := New(svc, Config{}); err == nil {
		t.Fatal("expected error when UnitID missing")
	}
	c, err := New(svc, Config{UnitID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.Addr != "127.0.0.1:1502" {
		t.Fatalf("expected default addr, got %q", c.cfg.Addr)
	}
	if decodeSigned(c.onTemp, TemperatureScale) != 40 || decodeSigned(c.offTemp, TemperatureScale) != 60 {
		t.Fatalf("expected staged thresholds 40/60, got %v/%v",
			decodeSigned(c.onTemp, TemperatureScale), decodeSigned(c.offTemp, TemperatureScale))
	}
}

func TestModbusControllerRun(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	client := startController(t, svc)

	// Staged thresholds from the parameter set.
	res, err := client.ReadHoldingRegisters(0, 2)
	if err != nil {
		t.Fatalf("read holding: %v", err)
	}
	if reg(res, 0) != 4000 || reg(res, 1) != 6000 {
		t.Fatalf("expected 4000/6000, got %d/%d", reg(res, 0), reg(res, 1))
	}

	// No result yet.
	res, err = client.ReadInputRegisters(0, 4)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	for i := 0; i < 4; i++ {
		if reg(res, i) != 0 {
			t.Fatalf("expected IR %d = 0 before any run, got %d", i, reg(res, i))
		}
	}

	// Stage 45 °C / 58.5 °C and the DHW flag, then trigger.
	if _, err := client.WriteMultipleRegisters(0, 2, []byte{0x11, 0x94, 0x16, 0xDA}); err != nil {
		t.Fatalf("write registers: %v", err)
	}
	if _, err := client.WriteSingleCoil(0, 0xFF00); err != nil {
		t.Fatalf("write dhw coil: %v", err)
	}
	coils, err := client.ReadCoils(0, 2)
	if err != nil {
		t.Fatalf("read coils: %v", err)
	}
	if coils[0] != 0x01 {
		t.Fatalf("expected only the dhw coil set, got %08b", coils[0])
	}
	if _, err := client.WriteSingleCoil(1, 0xFF00); err != nil {
		t.Fatalf("trigger run: %v", err)
	}

	if svc.Calls() != 1 {
		t.Fatalf("expected 1 run, got %d", svc.Calls())
	}
	req := svc.RunCalls[0]
	if !req.DHW || len(req.Overrides) != 2 {
		t.Fatalf("unexpected request %+v", req)
	}
	if o := req.Overrides[0]; o.Name != "on_temperature_threshold_K" || o.Value != 45 || !o.Celsius {
		t.Fatalf("unexpected on override %+v", o)
	}
	if o := req.Overrides[1]; o.Name != "off_temperature_threshold_K" || o.Value != 58.5 || !o.Celsius {
		t.Fatalf("unexpected off override %+v", o)
	}

	// The fake finishes its first run at 51 °C with 1 kWh, 50 % and 2 kW.
	res, err = client.ReadInputRegisters(0, 4)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if reg(res, 0) != 5100 {
		t.Fatalf("expected final temperature 5100, got %d", reg(res, 0))
	}
	if reg(res, 1) != 100 {
		t.Fatalf("expected energy 100, got %d", reg(res, 1))
	}
	if reg(res, 2) != 500 {
		t.Fatalf("expected efficiency 500, got %d", reg(res, 2))
	}
	if reg(res, 3) != 200 {
		t.Fatalf("expected max output 200, got %d", reg(res, 3))
	}

	// Writing zero to the trigger coil does not run.
	if _, err := client.WriteSingleCoil(1, 0x0000); err != nil {
		t.Fatalf("write coil: %v", err)
	}
	if svc.Calls() != 1 {
		t.Fatalf("expected still 1 run, got %d", svc.Calls())
	}
}

func TestModbusControllerExceptions(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	client := startController(t, svc)

	if _, err := client.ReadHoldingRegisters(1, 2); err == nil {
		t.Fatal("expected illegal address for HR 1..2")
	}
	if _, err := client.ReadInputRegisters(0, 5); err == nil {
		t.Fatal("expected illegal address for IR 0..4")
	}
	if _, err := client.WriteSingleRegister(2, 1); err == nil {
		t.Fatal("expected illegal address for HR 2")
	}
	if _, err := client.WriteSingleCoil(2, 0xFF00); err == nil {
		t.Fatal("expected illegal address for coil 2")
	}

	svc.SetRunErr(errors.New("boom"))
	if _, err := client.WriteSingleCoil(1, 0xFF00); err == nil {
		t.Fatal("expected device failure when the run fails")
	}
}

func TestTriggerMapsConfigurationErrors(t *testing.T) {
	svc := testutil.NewFakeSimulationService()
	c, _ := New(svc, Config{UnitID: 1})

	svc.RunErr = &params.ConfigurationError{Category: params.CategoryHeatPump, Name: "on_temperature_threshold_K", Err: params.ErrInvalidValue}
	if ex := c.trigger(t.Context()); *ex != 3 {
		t.Fatalf("expected illegal data value, got %v", *ex)
	}
	svc.RunErr = errors.New("boom")
	if ex := c.trigger(t.Context()); *ex != 4 {
		t.Fatalf("expected device failure, got %v", *ex)
	}
}

func TestEncoding(t *testing.T) {
	tests := []struct {
		name  string
		v     float64
		scale int
		want  uint16
	}{
		{"signed", 25.75, TemperatureScale, 2575},
		{"negative", -1.5, TemperatureScale, uint16(0xFF6A)},
		{"clamped high", 1000, TemperatureScale, 32767},
		{"clamped low", -1000, TemperatureScale, 0x8000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := encodeSigned(tc.v, tc.scale); got != tc.want {
				t.Fatalf("encodeSigned(%v) = %d, want %d", tc.v, got, tc.want)
			}
		})
	}
	if got := decodeSigned(encodeSigned(-12.34, TemperatureScale), TemperatureScale); got != -12.34 {
		t.Fatalf("round trip = %v", got)
	}
	if got := encodeUnsigned(-3, EnergyScale); got != 0 {
		t.Fatalf("expected negative clamp to 0, got %d", got)
	}
	if got := encodeUnsigned(1e6, EnergyScale); got != 65535 {
		t.Fatalf("expected clamp to 65535, got %d", got)
	}
}
