package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/cape-poller/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	LEDs          []string     `json:"leds"`
	Buttons       []string     `json:"buttons"`
	Mode          int          `json:"mode"`
	Direction     string       `json:"direction"`
	ADC           *ADCJSON     `json:"adc,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Tasks         []TaskJSON   `json:"tasks,omitempty"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// ADCJSON is the latest ADC reading.
type ADCJSON struct {
	Raw       int     `json:"raw"`
	Volts     float64 `json:"volts"`
	Timestamp string  `json:"timestamp"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Edges      []int `json:"button_edges"`
	Mode       int   `json:"mode_changes"`
	Direction  int   `json:"direction_changes"`
	ADCSamples int   `json:"adc_samples"`
	Dropped    int64 `json:"dropped"`
}

// TaskJSON is the JSON representation of one scheduler task.
type TaskJSON struct {
	Name       string `json:"name"`
	IntervalMs int64  `json:"interval_ms"`
	Fired      int64  `json:"fired"`
	Skipped    int64  `json:"skipped"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Backend     string `json:"backend"`
	Pattern     string `json:"pattern"`
	PollMs      int64  `json:"poll_ms"`
	ADCMs       int64  `json:"adc_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	WSBroker    string `json:"ws_broker,omitempty"`
}

// LEDState renders a logical LED state.
func LEDState(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// ButtonState renders a logical button state.
func ButtonState(pressed bool) string {
	if pressed {
		return "PRESSED"
	}
	return "RELEASED"
}

// DirectionState renders the chase direction flag.
func DirectionState(reversed bool) string {
	if reversed {
		return "REVERSE"
	}
	return "FORWARD"
}

func buildInner(snap Snapshot) StatusInner {
	regs := snap.Registers
	leds := make([]string, logic.NumChannels)
	buttons := make([]string, logic.NumChannels)
	for i := 0; i < logic.NumChannels; i++ {
		leds[i] = LEDState(regs.LEDs[i])
		buttons[i] = ButtonState(regs.Buttons[i])
	}

	inner := StatusInner{
		LEDs:          leds,
		Buttons:       buttons,
		Mode:          int(regs.Mode),
		Direction:     DirectionState(regs.Direction),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Edges:      snap.Counts.Edges[:],
			Mode:       snap.Counts.Mode,
			Direction:  snap.Counts.Direction,
			ADCSamples: snap.Counts.ADCSamples,
			Dropped:    snap.Dropped,
		},
		Config: ConfigJSON{
			Backend:     snap.Config.Backend,
			Pattern:     snap.Config.Pattern,
			PollMs:      snap.Config.PollMs,
			ADCMs:       snap.Config.ADCMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			WSBroker:    snap.Config.WSBroker,
		},
	}

	if !regs.ADC.Time.IsZero() {
		inner.ADC = &ADCJSON{
			Raw:       regs.ADC.Raw,
			Volts:     regs.ADC.Volts,
			Timestamp: regs.ADC.Time.UTC().Format(time.RFC3339),
		}
	}

	for _, task := range snap.Tasks {
		inner.Tasks = append(inner.Tasks, TaskJSON{
			Name:       task.Name,
			IntervalMs: task.Interval.Milliseconds(),
			Fired:      task.Fired,
			Skipped:    task.Skipped,
		})
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
