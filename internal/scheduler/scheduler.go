// Package scheduler runs callbacks periodically, one goroutine per task.
//
// Firings of one task never overlap. When a callback overruns one or more of
// its deadlines those deadlines are skipped and counted; the next firing is the
// first deadline still in the future on the task's original grid.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxTasks bounds the number of tasks a Scheduler accepts.
const DefaultMaxTasks = 16

var (
	// ErrTimerCreation is returned when a task cannot be registered.
	ErrTimerCreation = errors.New("scheduler: timer creation failed")

	// ErrAlreadyStarted is returned when starting a task twice.
	ErrAlreadyStarted = errors.New("scheduler: task already started")

	// ErrStopped is returned when starting a task after StopAll.
	ErrStopped = errors.New("scheduler: stopped")
)

// Interval builds a period from a seconds and nanoseconds pair.
func Interval(sec, nsec int64) time.Duration {
	return time.Duration(sec)*time.Second + time.Duration(nsec)
}

// Task is a registered periodic callback.
type Task struct {
	Name         string
	InitialDelay time.Duration
	// Interval 0 fires once after InitialDelay.
	Interval time.Duration

	cb      func(context.Context)
	owner   *Scheduler
	started atomic.Bool
	fired   atomic.Int64
	skipped atomic.Int64
}

// Fired returns how many times the callback has been invoked.
func (t *Task) Fired() int64 {
	return t.fired.Load()
}

// Skipped returns how many deadlines were dropped because the callback overran.
func (t *Task) Skipped() int64 {
	return t.skipped.Load()
}

// Stats is a point-in-time view of a task's counters.
type Stats struct {
	Name     string
	Interval time.Duration
	Fired    int64
	Skipped  int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxTasks sets how many tasks may be registered.
func WithMaxTasks(n int) Option {
	return func(s *Scheduler) { s.maxTasks = n }
}

// Scheduler owns a set of tasks and their goroutines.
type Scheduler struct {
	maxTasks int

	mu      sync.Mutex
	tasks   []*Task
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty Scheduler.
func New(opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		maxTasks: DefaultMaxTasks,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a task. It does not start firing until Start.
// The callback receives a context that is cancelled by StopAll.
// Callbacks must not call StopAll.
func (s *Scheduler) Register(name string, initialDelay, interval time.Duration, cb func(context.Context)) (*Task, error) {
	if cb == nil {
		return nil, fmt.Errorf("task %s: nil callback: %w", name, ErrTimerCreation)
	}
	if initialDelay < 0 || interval < 0 {
		return nil, fmt.Errorf("task %s: negative delay or interval: %w", name, ErrTimerCreation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("task %s: scheduler stopped: %w", name, ErrTimerCreation)
	}
	if len(s.tasks) >= s.maxTasks {
		return nil, fmt.Errorf("task %s: limit of %d tasks reached: %w", name, s.maxTasks, ErrTimerCreation)
	}

	t := &Task{
		Name:         name,
		InitialDelay: initialDelay,
		Interval:     interval,
		cb:           cb,
		owner:        s,
	}
	s.tasks = append(s.tasks, t)
	return t, nil
}

// Start begins firing t.
func (s *Scheduler) Start(t *Task) error {
	if t == nil || t.owner != s {
		return fmt.Errorf("scheduler: task not registered here")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("task %s: %w", t.Name, ErrStopped)
	}
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("task %s: %w", t.Name, ErrAlreadyStarted)
	}
	s.wg.Add(1)
	go s.run(t)
	return nil
}

// StartAll starts every registered task that is not yet running.
func (s *Scheduler) StartAll() error {
	s.mu.Lock()
	tasks := make([]*Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, t := range tasks {
		if t.started.Load() {
			continue
		}
		if err := s.Start(t); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every task and waits until no callback is running.
// Calling it again returns immediately.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Stats returns counters for every registered task in registration order.
func (s *Scheduler) Stats() []Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, Stats{
			Name:     t.Name,
			Interval: t.Interval,
			Fired:    t.Fired(),
			Skipped:  t.Skipped(),
		})
	}
	return out
}

func (s *Scheduler) run(t *Task) {
	defer s.wg.Done()

	next := time.Now().Add(t.InitialDelay)
	timer := time.NewTimer(t.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}
		if s.ctx.Err() != nil {
			return
		}

		t.fired.Add(1)
		s.invoke(t)

		if t.Interval == 0 {
			return
		}

		next = next.Add(t.Interval)
		if now := time.Now(); !next.After(now) {
			missed := now.Sub(next)/t.Interval + 1
			next = next.Add(missed * t.Interval)
			t.skipped.Add(int64(missed))
		}
		timer.Reset(time.Until(next))
	}
}

func (s *Scheduler) invoke(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: task %s panicked: %v", t.Name, r)
		}
	}()
	t.cb(s.ctx)
}
