// Package lifecycle coordinates daemon shutdown.
//
// A shutdown can be requested from any goroutine, including a signal watcher
// or a scheduler callback. Requesting only sets a flag and wakes the
// supervisor; the registered cleanup steps run later on the goroutine that
// called Wait, exactly once, in registration order.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// Reason describes why shutdown was requested.
type Reason struct {
	// Signal is set when a signal triggered the shutdown.
	Signal os.Signal
	// Source names a non-signal trigger, e.g. "button0".
	Source string
}

// SignalReason returns the Reason for a received signal.
func SignalReason(sig os.Signal) Reason {
	return Reason{Signal: sig}
}

// String returns the signal name (SIGINT, SIGTERM) or the source.
func (r Reason) String() string {
	if r.Signal == nil {
		return r.Source
	}
	switch r.Signal {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return r.Signal.String()
}

// ExitCode is 128 plus the signal number for signal shutdowns and 0 otherwise.
func (r Reason) ExitCode() int {
	if sig, ok := r.Signal.(syscall.Signal); ok {
		return 128 + int(sig)
	}
	return 0
}

// Step is one named cleanup action.
type Step struct {
	Name string
	Fn   func() error
}

// Supervisor owns the shutdown flag and the cleanup steps.
type Supervisor struct {
	requested atomic.Bool
	wake      chan struct{}

	mu     sync.Mutex
	reason Reason
	steps  []Step

	once sync.Once
	errs []error
}

// New creates a Supervisor with no cleanup steps.
func New() *Supervisor {
	return &Supervisor{wake: make(chan struct{}, 1)}
}

// OnShutdown appends a cleanup step.
func (s *Supervisor) OnShutdown(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, Step{Name: name, Fn: fn})
}

// RequestShutdown records the first reason given and wakes Wait.
// It never blocks and is safe from any goroutine.
func (s *Supervisor) RequestShutdown(r Reason) {
	if !s.requested.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.reason = r
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Requested reports whether shutdown has been requested.
func (s *Supervisor) Requested() bool {
	return s.requested.Load()
}

// Reason returns the reason of the first request.
func (s *Supervisor) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Watch turns every signal received on sig into a shutdown request until ctx
// is done. Run it on its own goroutine.
func (s *Supervisor) Watch(ctx context.Context, sig <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-sig:
			if !ok {
				return
			}
			log.Printf("lifecycle: received %v", v)
			s.RequestShutdown(SignalReason(v))
		}
	}
}

// Wait blocks until shutdown is requested or ctx is done, then runs the
// cleanup steps. A cancelled ctx counts as a request with source "context".
func (s *Supervisor) Wait(ctx context.Context) Reason {
	select {
	case <-s.wake:
	case <-ctx.Done():
		s.RequestShutdown(Reason{Source: "context"})
	}
	s.Shutdown()
	return s.Reason()
}

// Shutdown runs the cleanup steps exactly once. Concurrent callers block until
// the first run has finished. A failing step is logged and the next one runs.
func (s *Supervisor) Shutdown() []error {
	s.once.Do(func() {
		s.mu.Lock()
		steps := make([]Step, len(s.steps))
		copy(steps, s.steps)
		s.mu.Unlock()

		for _, st := range steps {
			if err := st.Fn(); err != nil {
				log.Printf("lifecycle: %s: %v", st.Name, err)
				s.errs = append(s.errs, fmt.Errorf("%s: %w", st.Name, err))
			}
		}
	})
	return s.errs
}
