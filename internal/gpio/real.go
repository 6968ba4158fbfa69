//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// CdevTransactor drives GPIO through the Linux GPIO character device.
// An exported pin is a held line request; unexport closes the request.
type CdevTransactor struct {
	chip *gpiocdev.Chip

	mu    sync.Mutex
	lines map[int]*gpiocdev.Line
}

// NewCdevTransactor opens the named chip (e.g. "gpiochip0").
func NewCdevTransactor(chipName string) (*CdevTransactor, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("cape-poller"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &CdevTransactor{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

func (c *CdevTransactor) line(pin int) (*gpiocdev.Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d: %w", pin, ErrNotExported)
	}
	return l, nil
}

// Export requests the line as an input.
func (c *CdevTransactor) Export(pin int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lines[pin]; ok {
		log.Printf("gpio: pin %d already exported", pin)
		return nil
	}
	l, err := c.chip.RequestLine(pin, gpiocdev.AsInput)
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}
	c.lines[pin] = l
	return nil
}

// Unexport releases the line request.
func (c *CdevTransactor) Unexport(pin int) error {
	c.mu.Lock()
	l, ok := c.lines[pin]
	delete(c.lines, pin)
	c.mu.Unlock()
	if !ok {
		log.Printf("gpio: pin %d not exported, nothing to unexport", pin)
		return nil
	}
	if err := l.Close(); err != nil {
		return fmt.Errorf("close pin %d: %w", pin, err)
	}
	return nil
}

// SetDirection reconfigures the line. Outputs start at the inactive level.
func (c *CdevTransactor) SetDirection(pin int, dir Direction) error {
	l, err := c.line(pin)
	if err != nil {
		return err
	}
	switch dir {
	case In:
		return l.Reconfigure(gpiocdev.AsInput)
	case Out:
		return l.Reconfigure(gpiocdev.AsOutput(levelInt(Raw(false))))
	default:
		return fmt.Errorf("gpio: invalid direction %q", dir)
	}
}

// SetValue drives the line.
func (c *CdevTransactor) SetValue(pin int, level Level) error {
	l, err := c.line(pin)
	if err != nil {
		return err
	}
	return l.SetValue(levelInt(level))
}

// GetValue reads the line.
func (c *CdevTransactor) GetValue(pin int) (Level, error) {
	l, err := c.line(pin)
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v != 0, nil
}

// Close releases any remaining line requests and the chip.
func (c *CdevTransactor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for pin, l := range c.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(c.lines, pin)
	}
	if err := c.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}

	return errors.Join(errs...)
}

func levelInt(l Level) int {
	if l == High {
		return 1
	}
	return 0
}
