// Package adc samples a single IIO ADC channel exposed as a sysfs attribute.
package adc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/cape-poller/internal/sysfs"
)

// DefaultPath is AIN4 of the BeagleBone's on-chip ADC.
const DefaultPath = "/sys/bus/iio/devices/iio:device0/in_voltage4_raw"

const (
	DefaultReferenceVoltage = 1.8
	DefaultBits             = 12
)

// ErrParse is returned when the channel file does not hold a decimal integer.
var ErrParse = errors.New("adc: malformed sample")

// Reading is one converted sample.
type Reading struct {
	Raw   int
	Volts float64
	Time  time.Time
}

// Potential returns the reading as a periph electric potential.
func (r Reading) Potential() physic.ElectricPotential {
	return physic.ElectricPotential(math.Round(r.Volts * float64(physic.Volt)))
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithReferenceVoltage sets the full-scale voltage.
func WithReferenceVoltage(v float64) Option {
	return func(s *Sampler) { s.vref = v }
}

// WithBits sets the converter resolution.
func WithBits(n int) Option {
	return func(s *Sampler) { s.bits = n }
}

// Sampler reads one ADC channel. The channel file is kept open and re-read
// from offset 0 on every sample. It is safe for concurrent use.
type Sampler struct {
	path string
	vref float64
	bits int

	mu  sync.Mutex
	f   *os.File
	buf [32]byte
	now func() time.Time
}

// Open opens the channel file at path.
func Open(path string, opts ...Option) (*Sampler, error) {
	s := &Sampler{
		path: path,
		vref: DefaultReferenceVoltage,
		bits: DefaultBits,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bits <= 0 || s.bits > 31 {
		return nil, fmt.Errorf("adc: invalid resolution %d bits", s.bits)
	}
	if s.vref <= 0 {
		return nil, fmt.Errorf("adc: invalid reference voltage %v", s.vref)
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sampler) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return &sysfs.IOError{Op: "read", Path: s.path, Err: err}
	}
	s.f = f
	return nil
}

// Path returns the channel file path.
func (s *Sampler) Path() string {
	return s.path
}

// Convert maps a raw count to volts: raw * Vref / (2^bits - 1).
func (s *Sampler) Convert(raw int) float64 {
	return Convert(raw, s.vref, s.bits)
}

// Convert maps a raw count to volts for the given reference and resolution.
func Convert(raw int, vref float64, bits int) float64 {
	return float64(raw) * vref / float64(int(1)<<bits-1)
}

// Sample reads and converts one value.
func (s *Sampler) Sample() (float64, error) {
	r, err := s.Read()
	if err != nil {
		return 0, err
	}
	return r.Volts, nil
}

// Read reads one value and returns the raw count, voltage and time.
// After an I/O error the file is closed and reopened on the next call.
func (s *Sampler) Read() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		if err := s.open(); err != nil {
			return Reading{}, err
		}
	}

	n, err := s.f.ReadAt(s.buf[:], 0)
	if err != nil && err != io.EOF {
		s.f.Close()
		s.f = nil
		return Reading{}, &sysfs.IOError{Op: "read", Path: s.path, Err: err}
	}
	if n == len(s.buf) && err == nil {
		return Reading{}, fmt.Errorf("%s: sample longer than %d bytes: %w", s.path, len(s.buf), ErrParse)
	}

	text := bytes.TrimSpace(s.buf[:n])
	raw, err := strconv.Atoi(string(text))
	if err != nil || raw < 0 {
		return Reading{}, fmt.Errorf("%s: %q: %w", s.path, text, ErrParse)
	}

	return Reading{
		Raw:   raw,
		Volts: s.Convert(raw),
		Time:  s.now(),
	}, nil
}

// Close closes the channel file.
func (s *Sampler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
