package logic

import "time"

// Tally counts published events and decides when a heartbeat is due.
// It is not safe for concurrent use; the event publisher owns it.
type Tally struct {
	startTime     time.Time
	counts        EventCounts
	lastHeartbeat time.Time
}

// NewTally creates a Tally. The startTime is used for calculating uptime in
// heartbeat events.
func NewTally(startTime time.Time) *Tally {
	return &Tally{
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Record counts e.
func (t *Tally) Record(e Event) {
	switch e.Type {
	case EventButtonEdge:
		if e.Button >= 0 && e.Button < NumChannels {
			t.counts.Edges[e.Button]++
		}
	case EventModeChanged:
		t.counts.Mode++
	case EventDirectionChanged:
		t.counts.Direction++
	case EventADCSample:
		t.counts.ADCSamples++
	}
}

// Counts returns the counts so far.
func (t *Tally) Counts() EventCounts {
	return t.counts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (t *Tally) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(t.lastHeartbeat) < interval {
		return nil
	}

	t.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(t.startTime),
		Counts:    t.counts,
	}
}
