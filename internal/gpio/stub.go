//go:build !linux

package gpio

import "errors"

var errCdevUnsupported = errors.New("gpio: character device not supported on this platform (requires Linux)")

// CdevTransactor is not available on non-Linux platforms.
type CdevTransactor struct{}

// NewCdevTransactor returns an error on non-Linux platforms.
func NewCdevTransactor(chipName string) (*CdevTransactor, error) {
	return nil, errCdevUnsupported
}

func (c *CdevTransactor) Export(pin int) error { return errCdevUnsupported }
func (c *CdevTransactor) Unexport(pin int) error { return errCdevUnsupported }
func (c *CdevTransactor) SetDirection(pin int, dir Direction) error { return errCdevUnsupported }
func (c *CdevTransactor) SetValue(pin int, level Level) error { return errCdevUnsupported }
func (c *CdevTransactor) GetValue(pin int) (Level, error) { return Low, errCdevUnsupported }

// Close is a no-op on non-Linux platforms.
func (c *CdevTransactor) Close() error {
	return nil
}
