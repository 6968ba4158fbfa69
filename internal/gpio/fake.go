package gpio

import (
	"fmt"
	"sync"
)

// FakeTransactor is an in-memory Transactor for tests.
// It is safe for concurrent use.
type FakeTransactor struct {
	mu sync.Mutex

	exported map[int]bool
	dirs     map[int]Direction
	levels   map[int]Level

	exportCalls   map[int]int
	unexportCalls map[int]int

	exportErrors map[int]error
	readError    error
	writeError   error
	onRead       func(pin int)
}

// NewFakeTransactor creates an empty FakeTransactor. Unset lines read High,
// which is the released/dark level on the cape.
func NewFakeTransactor() *FakeTransactor {
	return &FakeTransactor{
		exported:      make(map[int]bool),
		dirs:          make(map[int]Direction),
		levels:        make(map[int]Level),
		exportCalls:   make(map[int]int),
		unexportCalls: make(map[int]int),
		exportErrors:  make(map[int]error),
	}
}

// Export marks the pin exported.
func (f *FakeTransactor) Export(pin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportCalls[pin]++
	if err := f.exportErrors[pin]; err != nil {
		return err
	}
	f.exported[pin] = true
	if _, ok := f.levels[pin]; !ok {
		f.levels[pin] = High
	}
	return nil
}

// Unexport marks the pin released.
func (f *FakeTransactor) Unexport(pin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unexportCalls[pin]++
	delete(f.exported, pin)
	delete(f.dirs, pin)
	return nil
}

// SetDirection records the pin direction.
func (f *FakeTransactor) SetDirection(pin int, dir Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exported[pin] {
		return fmt.Errorf("pin %d: %w", pin, ErrNotExported)
	}
	if f.writeError != nil {
		return f.writeError
	}
	f.dirs[pin] = dir
	return nil
}

// SetValue stores the level of an output pin.
func (f *FakeTransactor) SetValue(pin int, level Level) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exported[pin] {
		return fmt.Errorf("pin %d: %w", pin, ErrNotExported)
	}
	if f.dirs[pin] != Out {
		return fmt.Errorf("pin %d: %w", pin, ErrNotOutput)
	}
	if f.writeError != nil {
		return f.writeError
	}
	f.levels[pin] = level
	return nil
}

// GetValue returns the stored level.
func (f *FakeTransactor) GetValue(pin int) (Level, error) {
	f.mu.Lock()
	hook := f.onRead
	if !f.exported[pin] {
		f.mu.Unlock()
		return Low, fmt.Errorf("pin %d: %w", pin, ErrNotExported)
	}
	if f.readError != nil {
		err := f.readError
		f.mu.Unlock()
		return Low, err
	}
	v := f.levels[pin]
	f.mu.Unlock()

	if hook != nil {
		hook(pin)
	}
	return v, nil
}

// Drive sets the level an input pin reads, as external hardware would.
func (f *FakeTransactor) Drive(pin int, level Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[pin] = level
}

// Level returns the current stored level of pin.
func (f *FakeTransactor) Level(pin int) Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// Direction returns the recorded direction of pin.
func (f *FakeTransactor) Direction(pin int) Direction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirs[pin]
}

// Exported reports whether pin is currently exported.
func (f *FakeTransactor) Exported(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exported[pin]
}

// ExportCalls returns how many times Export was called for pin.
func (f *FakeTransactor) ExportCalls(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exportCalls[pin]
}

// UnexportCalls returns how many times Unexport was called for pin.
func (f *FakeTransactor) UnexportCalls(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unexportCalls[pin]
}

// FailExport makes Export of pin return err.
func (f *FakeTransactor) FailExport(pin int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportErrors[pin] = err
}

// SetReadError makes every GetValue return err (nil clears it).
func (f *FakeTransactor) SetReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readError = err
}

// SetWriteError makes every SetValue and SetDirection return err (nil clears it).
func (f *FakeTransactor) SetWriteError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeError = err
}

// OnRead registers a hook called after every successful GetValue, outside the
// fake's lock. Tests use it to widen race windows.
func (f *FakeTransactor) OnRead(hook func(pin int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRead = hook
}
