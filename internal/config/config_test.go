package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/cape-poller/internal/engine"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cape.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadNoArgs(t *testing.T) {
	cfg, err := Load(newFlagSet(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendSysfs {
		t.Errorf("Backend: got %q, want sysfs", cfg.Backend)
	}
	if cfg.LEDPins[0] != 61 || cfg.ButtonPins[1] != 112 {
		t.Errorf("pins: got %v / %v", cfg.LEDPins, cfg.ButtonPins)
	}
	if cfg.ButtonIntervalMs != 500 {
		t.Errorf("ButtonIntervalMs: got %d, want 500", cfg.ButtonIntervalMs)
	}
	if cfg.DriverNode != DefaultDriverNode {
		t.Errorf("DriverNode: got %q", cfg.DriverNode)
	}
	if cfg.PrintState {
		t.Error("PrintState should default to false")
	}
}

func TestLoadPeriphBackend(t *testing.T) {
	cfg, err := Load(newFlagSet(), []string{"-backend", "periph"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendPeriph {
		t.Errorf("Backend: got %q, want periph", cfg.Backend)
	}
}

func TestLoadFlags(t *testing.T) {
	args := []string{
		"-backend", "cdev",
		"-leds", "1,2,3,4",
		"-buttons", "5, 6, 7, 8",
		"-poll", "50ms",
		"-led-intervals", "1s,2s,3s,4s",
		"-pattern", "chase",
		"-broker", "",
		"-print-state",
	}
	cfg, err := Load(newFlagSet(), args)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendCdev {
		t.Errorf("Backend: got %q, want cdev", cfg.Backend)
	}
	if cfg.LEDPins[3] != 4 || cfg.ButtonPins[0] != 5 {
		t.Errorf("pins: got %v / %v", cfg.LEDPins, cfg.ButtonPins)
	}
	if cfg.ButtonIntervalMs != 50 {
		t.Errorf("ButtonIntervalMs: got %d, want 50", cfg.ButtonIntervalMs)
	}
	if cfg.LEDIntervalsMs[2] != 3000 {
		t.Errorf("LEDIntervalsMs: got %v", cfg.LEDIntervalsMs)
	}
	if cfg.Pattern != "chase" {
		t.Errorf("Pattern: got %q, want chase", cfg.Pattern)
	}
	if cfg.Broker != "" {
		t.Errorf("Broker: got %q, want empty", cfg.Broker)
	}
	if !cfg.PrintState {
		t.Error("expected PrintState=true")
	}
}

func TestLoadRejectsSubMillisecond(t *testing.T) {
	for _, args := range [][]string{
		{"-poll", "500us"},
		{"-delay", "1500us"},
		{"-adc-interval", "10ms500us"},
		{"-heartbeat", "1ns"},
	} {
		_, err := Load(newFlagSet(), args)
		if !errors.Is(err, errSubMillisecond) {
			t.Errorf("%v: got %v, want whole-millisecond error", args, err)
		}
	}

	if _, err := Load(newFlagSet(), []string{"-led-intervals", "1s,2s,250us,4s"}); err == nil {
		t.Error("-led-intervals with 250us: expected error")
	}

	cfg, err := Load(newFlagSet(), []string{"-poll", "1500ms"})
	if err != nil {
		t.Fatalf("whole milliseconds: %v", err)
	}
	if cfg.ButtonIntervalMs != 1500 {
		t.Errorf("ButtonIntervalMs: got %d, want 1500", cfg.ButtonIntervalMs)
	}
}

func TestLoadFileThenFlags(t *testing.T) {
	path := writeConfig(t, `{"adc_interval_ms": 250, "pattern": "mirror", "http_addr": ":9000"}`)

	cfg, err := Load(newFlagSet(), []string{"-config", path, "-http", ":7000"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ADCIntervalMs != 250 {
		t.Errorf("ADCIntervalMs: got %d, want 250 from file", cfg.ADCIntervalMs)
	}
	if cfg.Pattern != "mirror" {
		t.Errorf("Pattern: got %q, want mirror from file", cfg.Pattern)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Errorf("HTTPAddr: got %q, flag should override file", cfg.HTTPAddr)
	}
	if cfg.ButtonIntervalMs != 500 {
		t.Errorf("ButtonIntervalMs: got %d, want default 500", cfg.ButtonIntervalMs)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := Load(newFlagSet(), []string{"-config", filepath.Join(t.TempDir(), "missing.json")})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadFileMalformed(t *testing.T) {
	path := writeConfig(t, `{"pattern": `)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadBadFlagValue(t *testing.T) {
	if _, err := Load(newFlagSet(), []string{"-leds", "1,x,3,4"}); err == nil {
		t.Error("expected error for non-numeric pin")
	}
	if _, err := Load(newFlagSet(), []string{"-led-intervals", "1s,soon"}); err == nil {
		t.Error("expected error for bad interval")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"backend", func(c *Config) { c.Backend = "mmap" }, "backend"},
		{"led count", func(c *Config) { c.LEDPins = []int{1, 2} }, "led pins"},
		{"button count", func(c *Config) { c.ButtonPins = nil }, "button pins"},
		{"duplicate pin", func(c *Config) { c.ButtonPins[0] = c.LEDPins[0] }, "used twice"},
		{"negative pin", func(c *Config) { c.LEDPins[1] = -1 }, "negative"},
		{"led interval", func(c *Config) { c.LEDIntervalsMs = []int64{1, 0, 1, 1} }, "led interval 1"},
		{"poll", func(c *Config) { c.ButtonIntervalMs = 0 }, "button interval"},
		{"vref", func(c *Config) { c.ADCVref = 0 }, "vref"},
		{"bits", func(c *Config) { c.ADCBits = 0 }, "bits"},
		{"pattern", func(c *Config) { c.Pattern = "strobe" }, "unknown pattern"},
		{"buffer", func(c *Config) { c.EventBuffer = 0 }, "event buffer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.LEDPins = append([]int(nil), cfg.LEDPins...)
			cfg.ButtonPins = append([]int(nil), cfg.ButtonPins...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := Default()
	cfg.LEDPins = []int{10, 11, 12, 13}
	cfg.LEDIntervalsMs = []int64{100, 200, 300, 400}
	cfg.ADCIntervalMs = 0
	cfg.Pattern = "chase"

	ec := cfg.Engine()
	if ec.LEDPins != [4]int{10, 11, 12, 13} {
		t.Errorf("LEDPins: got %v", ec.LEDPins)
	}
	if ec.LEDIntervals[3] != 400*time.Millisecond {
		t.Errorf("LEDIntervals[3]: got %v", ec.LEDIntervals[3])
	}
	if ec.ADCInterval != 0 {
		t.Errorf("ADCInterval: got %v, want 0", ec.ADCInterval)
	}
	if ec.Pattern != engine.PatternChase {
		t.Errorf("Pattern: got %q", ec.Pattern)
	}
	if ec.InitialDelay != time.Second {
		t.Errorf("InitialDelay: got %v", ec.InitialDelay)
	}
}

func TestDefaultSlicesAreIndependent(t *testing.T) {
	a := Default()
	a.LEDPins[0] = 99
	if Default().LEDPins[0] == 99 {
		t.Error("Default should return fresh pin slices")
	}
}
