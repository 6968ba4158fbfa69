// Package engine wires the cape's periodic tasks: the button poller, the LED
// blinkers or chase sequencer, and the ADC sampler. Tasks share state only
// through registers.Registers and gpio.Lines, and report what they did on a
// buffered event channel that never blocks a task.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/cape-poller/internal/adc"
	"github.com/sweeney/cape-poller/internal/gpio"
	"github.com/sweeney/cape-poller/internal/lifecycle"
	"github.com/sweeney/cape-poller/internal/logic"
	"github.com/sweeney/cape-poller/internal/registers"
	"github.com/sweeney/cape-poller/internal/scheduler"
)

// Pattern selects what drives the LEDs.
type Pattern string

const (
	// PatternBlink toggles each LED at its own interval.
	PatternBlink Pattern = "blink"
	// PatternChase lights one LED at a time, stepping at a mode-dependent rate.
	PatternChase Pattern = "chase"
	// PatternMirror makes every LED follow its button.
	PatternMirror Pattern = "mirror"
)

// ParsePattern validates a pattern name.
func ParsePattern(s string) (Pattern, error) {
	switch p := Pattern(s); p {
	case PatternBlink, PatternChase, PatternMirror:
		return p, nil
	}
	return "", fmt.Errorf("engine: unknown pattern %q (want blink, chase or mirror)", s)
}

// Config holds pins and timings.
type Config struct {
	LEDPins      [logic.NumChannels]int
	ButtonPins   [logic.NumChannels]int
	InitialDelay time.Duration
	LEDIntervals [logic.NumChannels]time.Duration
	// ButtonInterval is the button polling period.
	ButtonInterval time.Duration
	// ADCInterval is the sampling period; 0 disables the ADC task.
	ADCInterval time.Duration
	Pattern     Pattern
	// EventBuffer is the capacity of the event channel.
	EventBuffer int
}

// DefaultConfig returns the cape's pins and the stock timings.
func DefaultConfig() Config {
	return Config{
		LEDPins:        gpio.DefaultLEDPins,
		ButtonPins:     gpio.DefaultButtonPins,
		InitialDelay:   time.Second,
		LEDIntervals:   [logic.NumChannels]time.Duration{time.Second, 500 * time.Millisecond, 250 * time.Millisecond, 125 * time.Millisecond},
		ButtonInterval: 500 * time.Millisecond,
		ADCInterval:    time.Second,
		Pattern:        PatternBlink,
		EventBuffer:    64,
	}
}

// Sampler reads the ADC channel.
type Sampler interface {
	Read() (adc.Reading, error)
}

// ShutdownRequester receives the button 0 shutdown request.
type ShutdownRequester interface {
	RequestShutdown(lifecycle.Reason)
}

// Engine owns the task callbacks.
type Engine struct {
	cfg      Config
	lines    *gpio.Lines
	regs     *registers.Registers
	sampler  Sampler
	shutdown ShutdownRequester
	now      func() time.Time

	events    chan logic.Event
	closeOnce sync.Once
	dropped   atomic.Int64

	// chase is only touched by the chase task's goroutine.
	chase    logic.Chase
	chaseLit bool
}

// New creates an Engine. sampler may be nil, in which case no ADC task is
// registered.
func New(cfg Config, lines *gpio.Lines, regs *registers.Registers, sampler Sampler, shutdown ShutdownRequester) *Engine {
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = 1
	}
	return &Engine{
		cfg:      cfg,
		lines:    lines,
		regs:     regs,
		sampler:  sampler,
		shutdown: shutdown,
		now:      time.Now,
		events:   make(chan logic.Event, cfg.EventBuffer),
	}
}

// Setup exports the LEDs as dark outputs and the buttons as inputs. On error
// some lines may already be exported; the caller releases them through
// gpio.Lines.ReleaseAll.
func (e *Engine) Setup() error {
	for i, pin := range e.cfg.LEDPins {
		if err := e.lines.Export(pin, gpio.Out, gpio.Raw(false)); err != nil {
			return fmt.Errorf("LED %d: %w", i, err)
		}
	}
	for i, pin := range e.cfg.ButtonPins {
		if err := e.lines.Export(pin, gpio.In, gpio.Low); err != nil {
			return fmt.Errorf("button %d: %w", i, err)
		}
	}
	e.regs.SetLEDs([logic.NumChannels]bool{})
	return nil
}

// Register adds the tasks for the configured pattern to s.
func (e *Engine) Register(s *scheduler.Scheduler) error {
	if _, err := s.Register("buttons", e.cfg.InitialDelay, e.cfg.ButtonInterval, e.pollButtons); err != nil {
		return err
	}

	switch e.cfg.Pattern {
	case PatternBlink:
		for i := range e.cfg.LEDPins {
			i := i
			name := fmt.Sprintf("led%d", i)
			if _, err := s.Register(name, e.cfg.InitialDelay, e.cfg.LEDIntervals[i], func(ctx context.Context) {
				e.blink(ctx, i)
			}); err != nil {
				return err
			}
		}
	case PatternChase:
		if _, err := s.Register("chase", e.cfg.InitialDelay, logic.ChaseTick, e.stepChase); err != nil {
			return err
		}
	case PatternMirror:
		// LEDs are driven by the button task.
	default:
		return fmt.Errorf("engine: unknown pattern %q", e.cfg.Pattern)
	}

	if e.sampler != nil && e.cfg.ADCInterval > 0 {
		if _, err := s.Register("adc", e.cfg.InitialDelay, e.cfg.ADCInterval, e.sampleADC); err != nil {
			return err
		}
	}
	return nil
}

// Events returns the event channel. It is closed by CloseEvents.
func (e *Engine) Events() <-chan logic.Event {
	return e.events
}

// CloseEvents closes the event channel. Call it only after every task has
// stopped.
func (e *Engine) CloseEvents() {
	e.closeOnce.Do(func() { close(e.events) })
}

// Dropped returns how many events were discarded because the channel was full.
func (e *Engine) Dropped() int64 {
	return e.dropped.Load()
}

func (e *Engine) emit(ev logic.Event) {
	select {
	case e.events <- ev:
	default:
		if e.dropped.Add(1) == 1 {
			log.Printf("engine: event buffer full, dropping %s", ev.Type)
		}
	}
}

func (e *Engine) event(t logic.EventType) logic.Event {
	return logic.Event{
		Timestamp: e.now(),
		Type:      t,
		Button:    -1,
		Mode:      e.regs.Mode(),
		Direction: e.regs.Direction(),
	}
}

// pollButtons reads every button, finds rising edges and acts on them.
// A read error skips the cycle without touching the stored sample.
func (e *Engine) pollButtons(ctx context.Context) {
	var cur [logic.NumChannels]bool
	for i, pin := range e.cfg.ButtonPins {
		v, err := e.lines.Get(pin)
		if err != nil {
			log.Printf("engine: read button %d: %v", i, err)
			return
		}
		cur[i] = gpio.Logical(v)
	}

	edges := e.regs.ObserveButtons(cur)

	if e.cfg.Pattern == PatternMirror {
		for i, pressed := range cur {
			e.setLED(i, pressed)
		}
	}

	for i, edge := range edges {
		if !edge {
			continue
		}
		on := cur[i]
		if e.cfg.Pattern != PatternMirror {
			var err error
			if on, err = e.toggleLED(i); err != nil {
				log.Printf("engine: toggle LED %d: %v", i, err)
				continue
			}
		}
		ev := e.event(logic.EventButtonEdge)
		ev.Button = i
		ev.LED = on
		e.emit(ev)
	}

	if edges[0] {
		log.Printf("engine: button 0 pressed, requesting shutdown")
		e.emit(e.event(logic.EventShutdownRequested))
		e.shutdown.RequestShutdown(lifecycle.Reason{Source: "button0"})
	}
	if edges[1] {
		if m, changed := e.regs.IncreaseMode(); changed {
			log.Printf("engine: mode %d", m)
			e.emit(e.event(logic.EventModeChanged))
		}
	}
	if edges[2] {
		if m, changed := e.regs.DecreaseMode(); changed {
			log.Printf("engine: mode %d", m)
			e.emit(e.event(logic.EventModeChanged))
		}
	}
	if edges[3] {
		d := e.regs.ToggleDirection()
		log.Printf("engine: direction reversed=%v", d)
		e.emit(e.event(logic.EventDirectionChanged))
	}
}

func (e *Engine) toggleLED(i int) (bool, error) {
	lvl, err := e.lines.ToggleWith(e.cfg.LEDPins[i], func(l gpio.Level) {
		e.recordLED(i, gpio.Logical(l))
	})
	if err != nil {
		return false, err
	}
	return gpio.Logical(lvl), nil
}

func (e *Engine) setLED(i int, on bool) {
	err := e.lines.SetWith(e.cfg.LEDPins[i], gpio.Raw(on), func(gpio.Level) {
		e.recordLED(i, on)
	})
	if err != nil {
		log.Printf("engine: set LED %d: %v", i, err)
	}
}

// recordLED runs under the LED's line lock so the register follows the pin.
func (e *Engine) recordLED(i int, on bool) {
	if err := e.regs.SetLED(i, on); err != nil {
		log.Printf("engine: record LED %d: %v", i, err)
	}
}

func (e *Engine) blink(_ context.Context, i int) {
	if _, err := e.toggleLED(i); err != nil {
		log.Printf("engine: blink LED %d: %v", i, err)
	}
}

// stepChase advances the chase sequencer by one base tick. The direction flag
// cleared walks LEDs in ascending index order.
func (e *Engine) stepChase(context.Context) {
	moved := e.chase.Tick(e.regs.Mode(), !e.regs.Direction())
	if !moved && e.chaseLit {
		return
	}
	e.chaseLit = true
	for i, on := range e.chase.Pattern() {
		e.setLED(i, on)
	}
}

func (e *Engine) sampleADC(context.Context) {
	r, err := e.sampler.Read()
	if err != nil {
		log.Printf("engine: adc sample: %v", err)
		return
	}
	e.regs.SetADC(r)
	ev := e.event(logic.EventADCSample)
	ev.Timestamp = r.Time
	ev.Raw = r.Raw
	ev.Volts = r.Volts
	e.emit(ev)
}
