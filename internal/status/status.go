// Package status provides a thread-safe status tracker for the cape-poller daemon.
// It is read by the HTTP handlers and by the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/cape-poller/internal/logic"
	"github.com/sweeney/cape-poller/internal/registers"
	"github.com/sweeney/cape-poller/internal/scheduler"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Backend     string
	Pattern     string
	PollMs      int64
	ADCMs       int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
}

// RegisterReader supplies the shared register block.
type RegisterReader interface {
	Snapshot() registers.Snapshot
}

// TaskLister supplies scheduler task counters.
type TaskLister interface {
	Stats() []scheduler.Stats
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Registers     registers.Snapshot
	Tasks         []scheduler.Stats
	Counts        logic.EventCounts
	Dropped       int64
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. Registers and task
// counters are read live from their owners on every Snapshot.
type Tracker struct {
	regs  RegisterReader
	tasks TaskLister

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
// regs and tasks may be nil.
func NewTracker(startTime time.Time, cfg Config, regs RegisterReader, tasks TaskLister) *Tracker {
	return &Tracker{
		regs:  regs,
		tasks: tasks,
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the published event counts and the number of dropped events.
// Called by the event publisher after every event.
func (t *Tracker) Update(counts logic.EventCounts, dropped int64) {
	t.mu.Lock()
	t.snap.Counts = counts
	t.snap.Dropped = dropped
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if t.regs != nil {
		s.Registers = t.regs.Snapshot()
	}
	if t.tasks != nil {
		s.Tasks = t.tasks.Stats()
	}
	s.Now = time.Now()
	return s
}
