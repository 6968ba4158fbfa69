// Package config loads daemon settings from defaults, an optional JSON file
// and command-line flags, in that order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/cape-poller/internal/adc"
	"github.com/sweeney/cape-poller/internal/engine"
	"github.com/sweeney/cape-poller/internal/gpio"
	"github.com/sweeney/cape-poller/internal/logic"
)

// Backend names.
const (
	BackendSysfs  = "sysfs"
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
)

// DefaultDriverNode is the device node of the kernel LED driver.
const DefaultDriverNode = "/dev/led0"

// Config is the full daemon configuration. Durations are milliseconds in
// JSON and Go durations on the command line.
type Config struct {
	Backend    string `json:"backend"`
	GPIORoot   string `json:"gpio_root"`
	Chip       string `json:"chip"`
	LEDPins    []int  `json:"led_pins"`
	ButtonPins []int  `json:"button_pins"`

	ADCPath string  `json:"adc_path"`
	ADCVref float64 `json:"adc_vref"`
	ADCBits int     `json:"adc_bits"`

	InitialDelayMs   int64   `json:"initial_delay_ms"`
	ButtonIntervalMs int64   `json:"button_interval_ms"`
	ADCIntervalMs    int64   `json:"adc_interval_ms"`
	LEDIntervalsMs   []int64 `json:"led_intervals_ms"`
	HeartbeatMs      int64   `json:"heartbeat_ms"`
	Pattern          string  `json:"pattern"`
	EventBuffer      int     `json:"event_buffer"`

	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	HTTPAddr string `json:"http_addr"`
	// WSBroker is "=broker" to derive from Broker, "off" to disable, or a URL.
	WSBroker string `json:"ws_broker"`

	DriverNode string `json:"driver_node"`
	PrintState bool   `json:"-"`
}

// Default returns the stock configuration for the cape.
func Default() Config {
	ec := engine.DefaultConfig()
	intervals := make([]int64, logic.NumChannels)
	for i, d := range ec.LEDIntervals {
		intervals[i] = d.Milliseconds()
	}
	return Config{
		Backend:          BackendSysfs,
		GPIORoot:         gpio.DefaultSysfsRoot,
		Chip:             "gpiochip0",
		LEDPins:          append([]int(nil), gpio.DefaultLEDPins[:]...),
		ButtonPins:       append([]int(nil), gpio.DefaultButtonPins[:]...),
		ADCPath:          adc.DefaultPath,
		ADCVref:          adc.DefaultReferenceVoltage,
		ADCBits:          adc.DefaultBits,
		InitialDelayMs:   ec.InitialDelay.Milliseconds(),
		ButtonIntervalMs: ec.ButtonInterval.Milliseconds(),
		ADCIntervalMs:    ec.ADCInterval.Milliseconds(),
		LEDIntervalsMs:   intervals,
		HeartbeatMs:      (15 * time.Minute).Milliseconds(),
		Pattern:          string(ec.Pattern),
		EventBuffer:      ec.EventBuffer,
		Broker:           "tcp://localhost:1883",
		ClientID:         "cape-poller",
		HTTPAddr:         ":8080",
		WSBroker:         "=broker",
		DriverNode:       DefaultDriverNode,
	}
}

// LoadFile reads a JSON file on top of the defaults. Keys absent from the
// file keep their default values.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load registers the daemon flags on fs, parses args, applies the JSON file
// named by -config and then every flag that was set explicitly. The result
// is validated.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	def := Default()
	over := def

	path := fs.String("config", "", "Path to JSON config file")
	fs.StringVar(&over.Backend, "backend", def.Backend, "GPIO backend: sysfs, cdev or periph")
	fs.StringVar(&over.GPIORoot, "gpio-root", def.GPIORoot, "sysfs GPIO root")
	fs.StringVar(&over.Chip, "chip", def.Chip, "GPIO chip for the cdev backend")
	fs.Var((*pinList)(&over.LEDPins), "leds", "Comma-separated LED pin numbers")
	fs.Var((*pinList)(&over.ButtonPins), "buttons", "Comma-separated button pin numbers")
	fs.StringVar(&over.ADCPath, "adc", def.ADCPath, "ADC channel file (empty to disable)")
	fs.Float64Var(&over.ADCVref, "vref", def.ADCVref, "ADC reference voltage")
	fs.IntVar(&over.ADCBits, "bits", def.ADCBits, "ADC resolution in bits")
	delay := fs.Duration("delay", ms(def.InitialDelayMs), "Delay before the first task firing")
	poll := fs.Duration("poll", ms(def.ButtonIntervalMs), "Button polling interval (whole milliseconds)")
	adcInterval := fs.Duration("adc-interval", ms(def.ADCIntervalMs), "ADC sampling interval (0 to disable)")
	ledIntervals := durationList(def.LEDIntervalsMs)
	fs.Var(&ledIntervals, "led-intervals", "Comma-separated blink intervals, one per LED")
	heartbeat := fs.Duration("heartbeat", ms(def.HeartbeatMs), "Heartbeat interval (0 to disable)")
	fs.StringVar(&over.Pattern, "pattern", def.Pattern, "LED pattern: blink, chase or mirror")
	fs.IntVar(&over.EventBuffer, "event-buffer", def.EventBuffer, "Event channel capacity")
	fs.StringVar(&over.Broker, "broker", def.Broker, "MQTT broker address (empty to disable)")
	fs.StringVar(&over.ClientID, "client-id", def.ClientID, "MQTT client id")
	fs.StringVar(&over.HTTPAddr, "http", def.HTTPAddr, "HTTP status address (empty to disable)")
	fs.StringVar(&over.WSBroker, "ws-broker", def.WSBroker, `MQTT websocket URL for live UI ("=broker" derives from --broker, "off" disables)`)
	fs.StringVar(&over.DriverNode, "driver-node", def.DriverNode, "Kernel LED driver node to warn about")
	fs.BoolVar(&over.PrintState, "print-state", false, "Print current button and LED state and exit")

	if err := fs.Parse(args); err != nil {
		return def, err
	}

	cfg := def
	if *path != "" {
		var err error
		if cfg, err = LoadFile(*path); err != nil {
			return cfg, err
		}
	}

	var errs []error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = over.Backend
		case "gpio-root":
			cfg.GPIORoot = over.GPIORoot
		case "chip":
			cfg.Chip = over.Chip
		case "leds":
			cfg.LEDPins = over.LEDPins
		case "buttons":
			cfg.ButtonPins = over.ButtonPins
		case "adc":
			cfg.ADCPath = over.ADCPath
		case "vref":
			cfg.ADCVref = over.ADCVref
		case "bits":
			cfg.ADCBits = over.ADCBits
		case "delay":
			cfg.InitialDelayMs = millis(f.Name, *delay, &errs)
		case "poll":
			cfg.ButtonIntervalMs = millis(f.Name, *poll, &errs)
		case "adc-interval":
			cfg.ADCIntervalMs = millis(f.Name, *adcInterval, &errs)
		case "led-intervals":
			cfg.LEDIntervalsMs = []int64(ledIntervals)
		case "heartbeat":
			cfg.HeartbeatMs = millis(f.Name, *heartbeat, &errs)
		case "pattern":
			cfg.Pattern = over.Pattern
		case "event-buffer":
			cfg.EventBuffer = over.EventBuffer
		case "broker":
			cfg.Broker = over.Broker
		case "client-id":
			cfg.ClientID = over.ClientID
		case "http":
			cfg.HTTPAddr = over.HTTPAddr
		case "ws-broker":
			cfg.WSBroker = over.WSBroker
		case "driver-node":
			cfg.DriverNode = over.DriverNode
		case "print-state":
			cfg.PrintState = over.PrintState
		case "config":
		default:
			errs = append(errs, fmt.Errorf("config: unhandled flag %q", f.Name))
		}
	})
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}

	return cfg, cfg.Validate()
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSysfs, BackendCdev, BackendPeriph:
	default:
		errs = append(errs, fmt.Errorf("backend %q: want sysfs, cdev or periph", c.Backend))
	}
	if len(c.LEDPins) != logic.NumChannels {
		errs = append(errs, fmt.Errorf("led pins: got %d, want %d", len(c.LEDPins), logic.NumChannels))
	}
	if len(c.ButtonPins) != logic.NumChannels {
		errs = append(errs, fmt.Errorf("button pins: got %d, want %d", len(c.ButtonPins), logic.NumChannels))
	}
	seen := make(map[int]bool)
	for _, p := range append(append([]int(nil), c.LEDPins...), c.ButtonPins...) {
		if p < 0 {
			errs = append(errs, fmt.Errorf("pin %d: must not be negative", p))
		}
		if seen[p] {
			errs = append(errs, fmt.Errorf("pin %d: used twice", p))
		}
		seen[p] = true
	}
	if len(c.LEDIntervalsMs) != logic.NumChannels {
		errs = append(errs, fmt.Errorf("led intervals: got %d, want %d", len(c.LEDIntervalsMs), logic.NumChannels))
	}
	for i, v := range c.LEDIntervalsMs {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("led interval %d: must be > 0", i))
		}
	}
	if c.ButtonIntervalMs <= 0 {
		errs = append(errs, errors.New("button interval must be > 0"))
	}
	if c.InitialDelayMs < 0 {
		errs = append(errs, errors.New("initial delay must not be negative"))
	}
	if c.ADCIntervalMs < 0 {
		errs = append(errs, errors.New("adc interval must not be negative"))
	}
	if c.HeartbeatMs < 0 {
		errs = append(errs, errors.New("heartbeat must not be negative"))
	}
	if c.ADCVref <= 0 {
		errs = append(errs, errors.New("adc vref must be > 0"))
	}
	if c.ADCBits < 1 || c.ADCBits > 31 {
		errs = append(errs, fmt.Errorf("adc bits %d: want 1..31", c.ADCBits))
	}
	if c.EventBuffer < 1 {
		errs = append(errs, errors.New("event buffer must be >= 1"))
	}
	if _, err := engine.ParsePattern(c.Pattern); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Engine converts the timing and pin settings for the control engine.
// Call Validate first.
func (c Config) Engine() engine.Config {
	ec := engine.DefaultConfig()
	copy(ec.LEDPins[:], c.LEDPins)
	copy(ec.ButtonPins[:], c.ButtonPins)
	for i := 0; i < logic.NumChannels && i < len(c.LEDIntervalsMs); i++ {
		ec.LEDIntervals[i] = ms(c.LEDIntervalsMs[i])
	}
	ec.InitialDelay = c.InitialDelay()
	ec.ButtonInterval = ms(c.ButtonIntervalMs)
	ec.ADCInterval = ms(c.ADCIntervalMs)
	ec.Pattern = engine.Pattern(c.Pattern)
	ec.EventBuffer = c.EventBuffer
	return ec
}

// InitialDelay returns the delay before the first firing of every task.
func (c Config) InitialDelay() time.Duration { return ms(c.InitialDelayMs) }

// Heartbeat returns the heartbeat interval; zero disables heartbeats.
func (c Config) Heartbeat() time.Duration { return ms(c.HeartbeatMs) }

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }

// pinList is a comma-separated list of pin numbers.
type pinList []int

func (p *pinList) String() string {
	if p == nil {
		return ""
	}
	parts := make([]string, len(*p))
	for i, v := range *p {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (p *pinList) Set(s string) error {
	var out []int
	for _, part := range parseCSV(s) {
		v, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("invalid pin %q: %w", part, err)
		}
		out = append(out, v)
	}
	*p = out
	return nil
}

// durationList is a comma-separated list of Go durations, stored as ms.
type durationList []int64

func (d *durationList) String() string {
	if d == nil {
		return ""
	}
	parts := make([]string, len(*d))
	for i, v := range *d {
		parts[i] = ms(v).String()
	}
	return strings.Join(parts, ",")
}

func (d *durationList) Set(s string) error {
	var out []int64
	for _, part := range parseCSV(s) {
		v, err := time.ParseDuration(part)
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", part, err)
		}
		if v%time.Millisecond != 0 {
			return fmt.Errorf("invalid interval %q: %w", part, errSubMillisecond)
		}
		out = append(out, v.Milliseconds())
	}
	*d = out
	return nil
}

var errSubMillisecond = errors.New("not a whole number of milliseconds")

// millis converts a flag duration to milliseconds, rejecting values that
// would be truncated.
func millis(name string, d time.Duration, errs *[]error) int64 {
	if d%time.Millisecond != 0 {
		*errs = append(*errs, fmt.Errorf("-%s %v: %w", name, d, errSubMillisecond))
	}
	return d.Milliseconds()
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
