package gpio

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// Line is one exported GPIO line.
type Line struct {
	Pin       int
	Direction Direction
	Last      Level

	mu       sync.Mutex // serializes every operation on this pin
	released bool
}

// Lines owns the set of exported lines and serializes access per pin.
// It guarantees each line is unexported at most once.
type Lines struct {
	tx Transactor

	mu    sync.Mutex
	lines map[int]*Line
	order []int
}

// NewLines creates an empty line set backed by tx.
func NewLines(tx Transactor) *Lines {
	return &Lines{
		tx:    tx,
		lines: make(map[int]*Line),
	}
}

// Export exports pin, configures its direction and, for outputs, drives initial.
// The line is tracked as soon as the export succeeds, so ReleaseAll covers
// lines whose configuration failed.
func (ls *Lines) Export(pin int, dir Direction, initial Level) error {
	ls.mu.Lock()
	if _, ok := ls.lines[pin]; ok {
		ls.mu.Unlock()
		return fmt.Errorf("gpio: pin %d already managed", pin)
	}
	l := &Line{Pin: pin, Direction: dir}
	l.mu.Lock()
	defer l.mu.Unlock()
	ls.lines[pin] = l
	ls.order = append(ls.order, pin)
	ls.mu.Unlock()

	if err := ls.tx.Export(pin); err != nil {
		l.released = true
		ls.forget(pin)
		return fmt.Errorf("export pin %d: %w", pin, err)
	}
	if err := ls.tx.SetDirection(pin, dir); err != nil {
		return fmt.Errorf("set direction pin %d: %w", pin, err)
	}
	if dir == Out {
		if err := ls.tx.SetValue(pin, initial); err != nil {
			return fmt.Errorf("set initial value pin %d: %w", pin, err)
		}
		l.Last = initial
	}
	return nil
}

func (ls *Lines) forget(pin int) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.lines, pin)
	for i, p := range ls.order {
		if p == pin {
			ls.order = append(ls.order[:i], ls.order[i+1:]...)
			break
		}
	}
}

func (ls *Lines) line(pin int) (*Line, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	l, ok := ls.lines[pin]
	if !ok {
		return nil, fmt.Errorf("pin %d: %w", pin, ErrNotExported)
	}
	return l, nil
}

// Set drives an output line.
func (ls *Lines) Set(pin int, level Level) error {
	return ls.SetWith(pin, level, nil)
}

// SetWith drives an output line and calls written with the new level while
// the line is still locked, so callers can mirror the level elsewhere in the
// same order the writes reached the pin.
func (ls *Lines) SetWith(pin int, level Level, written func(Level)) error {
	l, err := ls.line(pin)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return fmt.Errorf("pin %d: %w", pin, ErrReleased)
	}
	if l.Direction != Out {
		return fmt.Errorf("pin %d: %w", pin, ErrNotOutput)
	}
	if err := ls.tx.SetValue(pin, level); err != nil {
		return err
	}
	l.Last = level
	if written != nil {
		written(level)
	}
	return nil
}

// Get reads a line.
func (ls *Lines) Get(pin int) (Level, error) {
	l, err := ls.line(pin)
	if err != nil {
		return Low, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return Low, fmt.Errorf("pin %d: %w", pin, ErrReleased)
	}
	v, err := ls.tx.GetValue(pin)
	if err != nil {
		return Low, err
	}
	l.Last = v
	return v, nil
}

// Toggle reads an output line and writes back the inverse as one step.
// It returns the level written.
func (ls *Lines) Toggle(pin int) (Level, error) {
	return ls.ToggleWith(pin, nil)
}

// ToggleWith is Toggle with a written callback, as in SetWith.
func (ls *Lines) ToggleWith(pin int, written func(Level)) (Level, error) {
	l, err := ls.line(pin)
	if err != nil {
		return Low, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return Low, fmt.Errorf("pin %d: %w", pin, ErrReleased)
	}
	if l.Direction != Out {
		return Low, fmt.Errorf("pin %d: %w", pin, ErrNotOutput)
	}
	v, err := ls.tx.GetValue(pin)
	if err != nil {
		return Low, fmt.Errorf("read pin %d: %w", pin, err)
	}
	next := !v
	if err := ls.tx.SetValue(pin, next); err != nil {
		return Low, fmt.Errorf("write pin %d: %w", pin, err)
	}
	l.Last = next
	if written != nil {
		written(next)
	}
	return next, nil
}

// Pins returns the managed pins in export order.
func (ls *Lines) Pins() []int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]int, len(ls.order))
	copy(out, ls.order)
	return out
}

// ReleaseAll unexports every managed line exactly once. Outputs are driven to
// the inactive level first so LEDs are left dark. It waits for any operation
// in flight on a line, and later operations on released lines fail with
// ErrReleased. Calling it again is a no-op.
func (ls *Lines) ReleaseAll() error {
	ls.mu.Lock()
	lines := make([]*Line, 0, len(ls.order))
	for _, pin := range ls.order {
		lines = append(lines, ls.lines[pin])
	}
	ls.mu.Unlock()

	var errs []error
	for _, l := range lines {
		l.mu.Lock()
		if l.released {
			l.mu.Unlock()
			continue
		}
		l.released = true
		if l.Direction == Out {
			if err := ls.tx.SetValue(l.Pin, Raw(false)); err != nil {
				errs = append(errs, fmt.Errorf("reset pin %d: %w", l.Pin, err))
			}
		}
		if err := ls.tx.Unexport(l.Pin); err != nil {
			errs = append(errs, fmt.Errorf("unexport pin %d: %w", l.Pin, err))
		} else {
			log.Printf("gpio: released pin %d", l.Pin)
		}
		l.mu.Unlock()
	}

	return errors.Join(errs...)
}
