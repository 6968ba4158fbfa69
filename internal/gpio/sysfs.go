package gpio

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/sweeney/cape-poller/internal/sysfs"
)

// DefaultSysfsRoot is the kernel's GPIO sysfs class directory.
const DefaultSysfsRoot = "/sys/class/gpio"

// SysfsTransactor drives GPIO through the sysfs pseudo-filesystem.
// Each operation opens its attribute, performs one read or write, and closes it.
type SysfsTransactor struct {
	Root string
}

// NewSysfsTransactor creates a transactor rooted at root (DefaultSysfsRoot if empty).
func NewSysfsTransactor(root string) *SysfsTransactor {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &SysfsTransactor{Root: root}
}

func (s *SysfsTransactor) lineDir(pin int) string {
	return filepath.Join(s.Root, "gpio"+strconv.Itoa(pin))
}

// Export writes the pin number to the export attribute.
func (s *SysfsTransactor) Export(pin int) error {
	if sysfs.Exists(s.lineDir(pin)) {
		log.Printf("gpio: pin %d already exported", pin)
		return nil
	}
	err := sysfs.Write(filepath.Join(s.Root, "export"), strconv.Itoa(pin))
	if errors.Is(err, syscall.EBUSY) {
		log.Printf("gpio: pin %d busy on export, assuming exported", pin)
		return nil
	}
	return err
}

// Unexport writes the pin number to the unexport attribute.
func (s *SysfsTransactor) Unexport(pin int) error {
	if !sysfs.Exists(s.lineDir(pin)) {
		log.Printf("gpio: pin %d not exported, nothing to unexport", pin)
		return nil
	}
	err := sysfs.Write(filepath.Join(s.Root, "unexport"), strconv.Itoa(pin))
	if errors.Is(err, syscall.EINVAL) {
		log.Printf("gpio: pin %d rejected by unexport, assuming released", pin)
		return nil
	}
	return err
}

// SetDirection writes "in" or "out" to the pin's direction attribute.
func (s *SysfsTransactor) SetDirection(pin int, dir Direction) error {
	if dir != In && dir != Out {
		return fmt.Errorf("gpio: invalid direction %q", dir)
	}
	return sysfs.Write(filepath.Join(s.lineDir(pin), "direction"), string(dir))
}

// SetValue writes "0" or "1" to the pin's value attribute.
func (s *SysfsTransactor) SetValue(pin int, level Level) error {
	return sysfs.Write(filepath.Join(s.lineDir(pin), "value"), levelString(level))
}

// GetValue reads one character from the pin's value attribute.
func (s *SysfsTransactor) GetValue(pin int) (Level, error) {
	b, err := sysfs.ReadByte(filepath.Join(s.lineDir(pin), "value"))
	if err != nil {
		return Low, err
	}
	return parseLevel(b)
}
