// Package logic contains the pure control logic for the cape: button edge
// detection, operating mode clamping, chase stepping and event types.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// NumChannels is the number of LEDs and of buttons on the cape.
const NumChannels = 4

// EventType identifies what happened in the control loop.
type EventType string

const (
	EventButtonEdge        EventType = "BUTTON_EDGE"
	EventModeChanged       EventType = "MODE_CHANGED"
	EventDirectionChanged  EventType = "DIRECTION_CHANGED"
	EventADCSample         EventType = "ADC_SAMPLE"
	EventShutdownRequested EventType = "SHUTDOWN_REQUESTED"
)

// Event is a control loop occurrence to be published.
// Fields not relevant to Type are left at their zero value.
type Event struct {
	Timestamp time.Time
	Type      EventType

	// Button is the index of the button for BUTTON_EDGE, -1 otherwise.
	Button int
	// LED is the state the button's LED was toggled to (true = lit).
	LED bool

	Mode      Mode
	Direction bool

	Raw   int
	Volts float64
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	Edges      [NumChannels]int
	Mode       int
	Direction  int
	ADCSamples int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
