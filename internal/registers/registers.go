// Package registers holds the state shared by every periodic task: LED and
// button states, the latest ADC reading, the operating mode and the chase
// direction. All access goes through one RWMutex; readers get value snapshots.
package registers

import (
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/cape-poller/internal/adc"
	"github.com/sweeney/cape-poller/internal/logic"
)

// Snapshot is a point-in-time view of the registers.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	LEDs      [logic.NumChannels]bool
	Buttons   [logic.NumChannels]bool
	ADC       adc.Reading
	Mode      logic.Mode
	Direction bool
}

// Registers is the shared state block.
type Registers struct {
	mu   sync.RWMutex
	snap Snapshot
}

// New creates registers with every LED off, every button released, mode 1 and
// the direction flag cleared.
func New() *Registers {
	return &Registers{
		snap: Snapshot{Mode: logic.MinMode},
	}
}

func checkIndex(i int) error {
	if i < 0 || i >= logic.NumChannels {
		return fmt.Errorf("registers: index %d out of range", i)
	}
	return nil
}

// SetLED records the state of LED i.
func (r *Registers) SetLED(i int, on bool) error {
	if err := checkIndex(i); err != nil {
		return err
	}
	r.mu.Lock()
	r.snap.LEDs[i] = on
	r.mu.Unlock()
	return nil
}

// SetLEDs records the state of every LED at once.
func (r *Registers) SetLEDs(leds [logic.NumChannels]bool) {
	r.mu.Lock()
	r.snap.LEDs = leds
	r.mu.Unlock()
}

// LED returns the recorded state of LED i.
func (r *Registers) LED(i int) bool {
	if checkIndex(i) != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.LEDs[i]
}

// ObserveButtons stores a new button sample and returns the rising edges
// against the previous sample. Both happen under one lock, so concurrent
// observers never see the same edge twice.
func (r *Registers) ObserveButtons(cur [logic.NumChannels]bool) [logic.NumChannels]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	edges := logic.RisingEdges(r.snap.Buttons, cur)
	r.snap.Buttons = cur
	return edges
}

// SetADC stores the latest ADC reading.
func (r *Registers) SetADC(reading adc.Reading) {
	r.mu.Lock()
	r.snap.ADC = reading
	r.mu.Unlock()
}

// IncreaseMode raises the mode by one, saturating at the maximum.
// It returns the new mode and whether it changed.
func (r *Registers) IncreaseMode() (logic.Mode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.snap.Mode
	r.snap.Mode = prev.Inc()
	return r.snap.Mode, r.snap.Mode != prev
}

// DecreaseMode lowers the mode by one, saturating at the minimum.
// It returns the new mode and whether it changed.
func (r *Registers) DecreaseMode() (logic.Mode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.snap.Mode
	r.snap.Mode = prev.Dec()
	return r.snap.Mode, r.snap.Mode != prev
}

// ToggleDirection inverts the direction flag and returns the new value.
func (r *Registers) ToggleDirection() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Direction = !r.snap.Direction
	return r.snap.Direction
}

// Mode returns the operating mode.
func (r *Registers) Mode() logic.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.Mode
}

// Direction returns the direction flag.
func (r *Registers) Direction() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.Direction
}

// Snapshot returns a copy of every register.
func (r *Registers) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// ADCAge returns how long ago the stored ADC reading was taken, or 0 if none.
func (s Snapshot) ADCAge(now time.Time) time.Duration {
	if s.ADC.Time.IsZero() {
		return 0
	}
	return now.Sub(s.ADC.Time)
}
