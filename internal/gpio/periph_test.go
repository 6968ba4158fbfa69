package gpio

import (
	"errors"
	"strconv"
	"testing"

	periphgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/sweeney/cape-poller/internal/sysfs"
)

// newPeriphTest registers a gpiotest pin under num and returns a transactor
// that skips host driver loading.
func newPeriphTest(t *testing.T, num int) (*PeriphTransactor, *gpiotest.Pin) {
	t.Helper()
	pin := &gpiotest.Pin{N: "CAPE_TEST_" + strconv.Itoa(num), Num: num, L: High}
	if err := gpioreg.Register(pin); err != nil {
		t.Fatalf("register test pin: %v", err)
	}
	return &PeriphTransactor{pins: make(map[int]periphgpio.PinIO)}, pin
}

func TestPeriphRoundTrip(t *testing.T) {
	p, pin := newPeriphTest(t, 4061)

	if err := p.Export(4061); err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := p.SetDirection(4061, Out); err != nil {
		t.Fatalf("direction: %v", err)
	}
	if pin.L != Raw(false) {
		t.Errorf("output should start dark, got %v", pin.L)
	}
	if err := p.SetValue(4061, Low); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := p.GetValue(4061)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != Low {
		t.Errorf("GetValue = %v, want Low", got)
	}
	if err := p.Unexport(4061); err != nil {
		t.Fatalf("unexport: %v", err)
	}
	if _, err := p.GetValue(4061); !errors.Is(err, ErrNotExported) {
		t.Errorf("after unexport: got %v, want ErrNotExported", err)
	}
}

func TestPeriphExportTwice(t *testing.T) {
	p, _ := newPeriphTest(t, 4062)
	if err := p.Export(4062); err != nil {
		t.Fatal(err)
	}
	if err := p.Export(4062); err != nil {
		t.Errorf("second export: %v", err)
	}
}

func TestPeriphUnknownPin(t *testing.T) {
	p := &PeriphTransactor{pins: make(map[int]periphgpio.PinIO)}

	if err := p.Export(4999); !errors.Is(err, sysfs.ErrResourceUnavailable) {
		t.Errorf("export unknown pin: got %v, want ErrResourceUnavailable", err)
	}
	if err := p.SetValue(4999, High); !errors.Is(err, ErrNotExported) {
		t.Errorf("set unexported pin: got %v, want ErrNotExported", err)
	}
	if err := p.Unexport(4999); err != nil {
		t.Errorf("unexport unexported pin: %v", err)
	}
}

func TestPeriphInvalidDirection(t *testing.T) {
	p, _ := newPeriphTest(t, 4063)
	if err := p.Export(4063); err != nil {
		t.Fatal(err)
	}
	if err := p.SetDirection(4063, Direction("sideways")); err == nil {
		t.Error("expected error for invalid direction")
	}
}
