package gpio

import (
	"fmt"
	"log"
	"strconv"
	"sync"

	periphgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/sweeney/cape-poller/internal/sysfs"
)

// PeriphTransactor drives GPIO through periph.io's host drivers. Pins are
// looked up by kernel number in the periph registry; periph does its own
// sysfs export when a pin is first configured.
type PeriphTransactor struct {
	mu   sync.Mutex
	pins map[int]periphgpio.PinIO
}

// NewPeriphTransactor loads the periph host drivers.
func NewPeriphTransactor() (*PeriphTransactor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &PeriphTransactor{pins: make(map[int]periphgpio.PinIO)}, nil
}

func (p *PeriphTransactor) pin(pin int) (periphgpio.PinIO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io, ok := p.pins[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d: %w", pin, ErrNotExported)
	}
	return io, nil
}

// Export resolves the pin in the periph registry.
func (p *PeriphTransactor) Export(pin int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pins[pin]; ok {
		log.Printf("gpio: pin %d already exported", pin)
		return nil
	}
	io := gpioreg.ByName(strconv.Itoa(pin))
	if io == nil {
		return fmt.Errorf("gpio: pin %d not in periph registry: %w", pin, sysfs.ErrResourceUnavailable)
	}
	p.pins[pin] = io
	return nil
}

// Unexport halts the pin and forgets it.
func (p *PeriphTransactor) Unexport(pin int) error {
	p.mu.Lock()
	io, ok := p.pins[pin]
	delete(p.pins, pin)
	p.mu.Unlock()
	if !ok {
		log.Printf("gpio: pin %d not exported, nothing to unexport", pin)
		return nil
	}
	if err := io.Halt(); err != nil {
		return fmt.Errorf("halt pin %d: %w", pin, err)
	}
	return nil
}

// SetDirection configures the pin. Outputs start dark.
func (p *PeriphTransactor) SetDirection(pin int, dir Direction) error {
	io, err := p.pin(pin)
	if err != nil {
		return err
	}
	switch dir {
	case In:
		err = io.In(periphgpio.PullNoChange, periphgpio.NoEdge)
	case Out:
		err = io.Out(Raw(false))
	default:
		return fmt.Errorf("gpio: invalid direction %q", dir)
	}
	if err != nil {
		return fmt.Errorf("configure pin %d %s: %w", pin, dir, err)
	}
	return nil
}

// SetValue drives the pin.
func (p *PeriphTransactor) SetValue(pin int, level Level) error {
	io, err := p.pin(pin)
	if err != nil {
		return err
	}
	if err := io.Out(level); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// GetValue reads the pin level.
func (p *PeriphTransactor) GetValue(pin int) (Level, error) {
	io, err := p.pin(pin)
	if err != nil {
		return Low, err
	}
	return io.Read(), nil
}
