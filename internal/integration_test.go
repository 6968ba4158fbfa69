package internal

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/cape-poller/internal/adc"
	"github.com/sweeney/cape-poller/internal/engine"
	"github.com/sweeney/cape-poller/internal/gpio"
	"github.com/sweeney/cape-poller/internal/lifecycle"
	"github.com/sweeney/cape-poller/internal/logic"
	"github.com/sweeney/cape-poller/internal/mqtt"
	"github.com/sweeney/cape-poller/internal/registers"
	"github.com/sweeney/cape-poller/internal/scheduler"
)

// daemon is the daemon minus its outer surfaces: fake GPIO, real scheduler,
// real supervisor and a fake MQTT publisher draining the event channel.
type daemon struct {
	tx    *gpio.FakeTransactor
	lines *gpio.Lines
	regs  *registers.Registers
	sched *scheduler.Scheduler
	sup   *lifecycle.Supervisor
	eng   *engine.Engine
	pub   *mqtt.FakePublisher
	cfg   engine.Config

	drained chan struct{}
}

func fastConfig(pattern engine.Pattern) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Pattern = pattern
	cfg.InitialDelay = 0
	cfg.ButtonInterval = 5 * time.Millisecond
	cfg.ADCInterval = 10 * time.Millisecond
	cfg.LEDIntervals = [logic.NumChannels]time.Duration{20 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond}
	cfg.EventBuffer = 256
	return cfg
}

func startDaemon(t *testing.T, cfg engine.Config, sampler engine.Sampler) *daemon {
	t.Helper()
	d := &daemon{
		tx:      gpio.NewFakeTransactor(),
		regs:    registers.New(),
		sched:   scheduler.New(),
		sup:     lifecycle.New(),
		pub:     mqtt.NewFakePublisher(),
		cfg:     cfg,
		drained: make(chan struct{}),
	}
	d.lines = gpio.NewLines(d.tx)
	d.eng = engine.New(cfg, d.lines, d.regs, sampler, d.sup)

	if err := d.eng.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := d.eng.Register(d.sched); err != nil {
		t.Fatalf("register: %v", err)
	}

	d.sup.OnShutdown("stop tasks", func() error {
		d.sched.StopAll()
		return nil
	})
	d.sup.OnShutdown("release lines", d.lines.ReleaseAll)
	d.sup.OnShutdown("close events", func() error {
		d.eng.CloseEvents()
		return nil
	})

	go func() {
		defer close(d.drained)
		for ev := range d.eng.Events() {
			d.pub.Publish(ev)
		}
	}()

	if err := d.sched.StartAll(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		d.sup.RequestShutdown(lifecycle.Reason{Source: "test"})
		d.sup.Shutdown()
	})
	return d
}

// wait blocks until shutdown completes and the publisher has drained.
func (d *daemon) wait(t *testing.T) lifecycle.Reason {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := d.sup.Wait(ctx)
	select {
	case <-d.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("event channel was not closed")
	}
	return r
}

func (d *daemon) press(i int)   { d.tx.Drive(d.cfg.ButtonPins[i], gpio.Raw(true)) }
func (d *daemon) release(i int) { d.tx.Drive(d.cfg.ButtonPins[i], gpio.Raw(false)) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (d *daemon) assertReleased(t *testing.T) {
	t.Helper()
	for i, pin := range d.cfg.LEDPins {
		if n := d.tx.UnexportCalls(pin); n != 1 {
			t.Errorf("LED %d: unexported %d times, want 1", i, n)
		}
		if gpio.Logical(d.tx.Level(pin)) {
			t.Errorf("LED %d left lit after shutdown", i)
		}
	}
	for i, pin := range d.cfg.ButtonPins {
		if n := d.tx.UnexportCalls(pin); n != 1 {
			t.Errorf("button %d: unexported %d times, want 1", i, n)
		}
	}
}

func countEvents(events []logic.Event, typ logic.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// TestIntegrationFullFlow drives every button through the real scheduler and
// checks mode, direction, shutdown and release end to end.
func TestIntegrationFullFlow(t *testing.T) {
	d := startDaemon(t, fastConfig(engine.PatternMirror), nil)

	d.press(1)
	waitFor(t, "mode 2", func() bool { return d.regs.Mode() == 2 })
	d.release(1)
	waitFor(t, "button 1 released", func() bool { return !d.regs.Snapshot().Buttons[1] })

	d.press(3)
	waitFor(t, "direction reversed", func() bool { return d.regs.Direction() })
	waitFor(t, "LED 3 mirrors button 3", func() bool { return d.regs.LED(3) })
	d.release(3)

	d.press(0)
	r := d.wait(t)

	if r.Source != "button0" {
		t.Errorf("reason: got %+v, want button0", r)
	}
	if r.ExitCode() != 0 {
		t.Errorf("exit code: got %d, want 0", r.ExitCode())
	}
	d.assertReleased(t)

	events := d.pub.Events()
	if n := countEvents(events, logic.EventModeChanged); n != 1 {
		t.Errorf("MODE_CHANGED events: got %d, want 1", n)
	}
	if n := countEvents(events, logic.EventDirectionChanged); n != 1 {
		t.Errorf("DIRECTION_CHANGED events: got %d, want 1", n)
	}
	if n := countEvents(events, logic.EventShutdownRequested); n != 1 {
		t.Errorf("SHUTDOWN_REQUESTED events: got %d, want 1", n)
	}
	if n := countEvents(events, logic.EventButtonEdge); n != 3 {
		t.Errorf("BUTTON_EDGE events: got %d, want 3", n)
	}

	// Verify JSON payloads
	for i, payload := range d.pub.Payloads() {
		var parsed mqtt.Payload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Errorf("payload %d: invalid JSON: %v", i, err)
		}
		if parsed.Cape.Timestamp == "" {
			t.Errorf("payload %d: missing timestamp", i)
		}
		if parsed.Cape.Event == "" {
			t.Errorf("payload %d: missing event", i)
		}
	}
}

// TestIntegrationEdgeTogglesLED checks that a press flips its LED within the
// same firing while the blinkers keep running.
func TestIntegrationEdgeTogglesLED(t *testing.T) {
	cfg := fastConfig(engine.PatternBlink)
	// LED 2 blinks once at start and then only the button toggles it.
	cfg.LEDIntervals[2] = time.Hour
	d := startDaemon(t, cfg, nil)

	waitFor(t, "LED 2 first blink", func() bool { return d.regs.LED(2) })
	d.press(2)
	waitFor(t, "button edge event", func() bool {
		return d.regs.Snapshot().Buttons[2]
	})

	d.sup.RequestShutdown(lifecycle.SignalReason(syscall.SIGTERM))
	r := d.wait(t)

	var found bool
	for _, e := range d.pub.Events() {
		if e.Type != logic.EventButtonEdge || e.Button != 2 {
			continue
		}
		found = true
		if e.LED {
			t.Error("LED 2 after edge: got ON, want OFF")
		}
	}
	if !found {
		t.Fatal("no BUTTON_EDGE for button 2")
	}
	if r.ExitCode() != 128+int(syscall.SIGTERM) {
		t.Errorf("exit code: got %d", r.ExitCode())
	}
	d.assertReleased(t)
}

// TestIntegrationConcurrentShutdown races a signal against button 0 and
// checks every line is released exactly once.
func TestIntegrationConcurrentShutdown(t *testing.T) {
	d := startDaemon(t, fastConfig(engine.PatternBlink), nil)
	time.Sleep(30 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		d.press(0)
	}()
	go func() {
		defer wg.Done()
		d.sup.RequestShutdown(lifecycle.SignalReason(syscall.SIGINT))
	}()
	go func() {
		defer wg.Done()
		d.sup.Shutdown()
	}()
	wg.Wait()

	d.wait(t)
	d.assertReleased(t)

	// Further releases are no-ops.
	if err := d.lines.ReleaseAll(); err != nil {
		t.Errorf("second ReleaseAll: %v", err)
	}
	d.assertReleased(t)
}

// TestIntegrationChaseLightsOneLED checks the chase sequencer keeps exactly
// one LED lit while it runs.
func TestIntegrationChaseLightsOneLED(t *testing.T) {
	cfg := fastConfig(engine.PatternChase)
	cfg.ADCInterval = 0
	d := startDaemon(t, cfg, nil)

	waitFor(t, "chase to light an LED", func() bool {
		for _, on := range d.regs.Snapshot().LEDs {
			if on {
				return true
			}
		}
		return false
	})

	for i := 0; i < 20; i++ {
		lit := 0
		for _, on := range d.regs.Snapshot().LEDs {
			if on {
				lit++
			}
		}
		if lit != 1 {
			t.Fatalf("sample %d: %d LEDs lit, want 1", i, lit)
		}
		time.Sleep(5 * time.Millisecond)
	}

	d.sup.RequestShutdown(lifecycle.SignalReason(syscall.SIGTERM))
	d.wait(t)
	d.assertReleased(t)
}

// TestIntegrationADCToPayload reads a real channel file through the sampler
// and checks the published voltage.
func TestIntegrationADCToPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in_voltage4_raw")
	if err := os.WriteFile(path, []byte("2048\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sampler, err := adc.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sampler.Close()

	d := startDaemon(t, fastConfig(engine.PatternBlink), sampler)
	waitFor(t, "an ADC sample", func() bool {
		return !d.regs.Snapshot().ADC.Time.IsZero()
	})

	d.sup.RequestShutdown(lifecycle.SignalReason(syscall.SIGTERM))
	d.wait(t)

	if got := d.regs.Snapshot().ADC.Volts; math.Abs(got-0.9002) > 0.001 {
		t.Errorf("register volts: got %.4f, want 0.9002", got)
	}

	var found bool
	for _, payload := range d.pub.Payloads() {
		var parsed mqtt.Payload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if parsed.Cape.ADC == nil {
			continue
		}
		found = true
		if parsed.Cape.ADC.Raw != 2048 {
			t.Errorf("payload raw: got %d, want 2048", parsed.Cape.ADC.Raw)
		}
	}
	if !found {
		t.Error("no ADC_SAMPLE payload published")
	}
}
