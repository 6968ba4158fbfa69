// Package gpio provides GPIO line access with hardware abstraction.
// The sysfs implementation uses the /sys/class/gpio export convention.
// The cdev implementation uses the Linux GPIO character device.
// The periph implementation goes through periph.io host drivers.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"

	periphgpio "periph.io/x/conn/v3/gpio"
)

// Level is the raw electrical level of a line.
type Level = periphgpio.Level

const (
	Low  = periphgpio.Low
	High = periphgpio.High
)

// Direction is the configured direction of a line, spelled as sysfs expects it.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// Transactor performs single GPIO operations against the host.
type Transactor interface {
	// Export reserves the pin for user-space control.
	// Exporting an already exported pin is logged and returns nil.
	Export(pin int) error

	// Unexport releases the pin.
	// Unexporting a pin that is not exported is logged and returns nil.
	Unexport(pin int) error

	// SetDirection configures the pin as input or output.
	SetDirection(pin int, dir Direction) error

	// SetValue drives an output pin.
	SetValue(pin int, level Level) error

	// GetValue reads the pin level. Valid for either direction.
	GetValue(pin int) (Level, error)
}

var (
	// ErrNotExported is returned when operating on a pin that is not exported.
	ErrNotExported = errors.New("gpio: pin not exported")

	// ErrNotOutput is returned when driving a pin configured as input.
	ErrNotOutput = errors.New("gpio: pin is not an output")

	// ErrReleased is returned for operations on a line after ReleaseAll.
	ErrReleased = errors.New("gpio: line released")
)

// Active is the raw level of a lit LED and of a pressed button.
// The cape wires both active-low: "0" is ON/pressed, "1" is OFF/released.
const Active = Low

// Logical converts a raw level to ON/pressed (true) or OFF/released (false).
func Logical(l Level) bool {
	return l == Active
}

// Raw converts a logical state to the raw level that represents it.
func Raw(on bool) Level {
	if on {
		return Active
	}
	return !Active
}

// Pin definitions for the BBB-BFH-Cape (kernel GPIO numbering).
var (
	DefaultLEDPins    = [4]int{61, 44, 68, 67}
	DefaultButtonPins = [4]int{49, 112, 51, 7}
)

func levelString(l Level) string {
	if l == High {
		return "1"
	}
	return "0"
}

func parseLevel(b byte) (Level, error) {
	switch b {
	case '0':
		return Low, nil
	case '1':
		return High, nil
	default:
		return Low, fmt.Errorf("gpio: unexpected value byte %q", b)
	}
}
