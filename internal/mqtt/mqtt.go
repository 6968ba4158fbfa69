// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/cape-poller/internal/logic"
)

// Topic is the MQTT topic for control loop events.
const Topic = "cape/poller/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "cape/poller/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a control loop event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "button0" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Cape CapePayload `json:"cape"`
}

// CapePayload contains the event details plus the mode and direction at the
// time of the event.
type CapePayload struct {
	Timestamp string         `json:"timestamp"`
	Event     string         `json:"event"`
	Mode      int            `json:"mode"`
	Direction string         `json:"direction"`
	Button    *ButtonPayload `json:"button,omitempty"`
	ADC       *ADCPayload    `json:"adc,omitempty"`
}

// ButtonPayload describes a button edge and the LED state it produced.
type ButtonPayload struct {
	Index int    `json:"index"`
	LED   string `json:"led"`
}

// ADCPayload describes one ADC sample.
type ADCPayload struct {
	Raw   int     `json:"raw"`
	Volts float64 `json:"volts"`
}

// DirectionString renders the chase direction flag: cleared walks LEDs in
// ascending index order, set walks them in descending order.
func DirectionString(reversed bool) string {
	if reversed {
		return "REVERSE"
	}
	return "FORWARD"
}

// OnOff renders a logical LED state.
func OnOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// FormatPayload creates the JSON payload for a control loop event.
func FormatPayload(event logic.Event) ([]byte, error) {
	inner := CapePayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Type),
		Mode:      int(event.Mode),
		Direction: DirectionString(event.Direction),
	}
	switch event.Type {
	case logic.EventButtonEdge:
		inner.Button = &ButtonPayload{Index: event.Button, LED: OnOff(event.LED)}
	case logic.EventADCSample:
		inner.ADC = &ADCPayload{Raw: event.Raw, Volts: event.Volts}
	}
	return json.Marshal(Payload{Cape: inner})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// NopPublisher discards everything. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(logic.Event) error { return nil }
func (NopPublisher) PublishSystem(SystemEvent) error { return nil }
func (NopPublisher) Close() error { return nil }
func (NopPublisher) IsConnected() bool { return false }
