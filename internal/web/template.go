package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/cape-poller/internal/mqtt"
	"github.com/sweeney/cape-poller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"led":       status.LEDState,
	"button":    status.ButtonState,
	"direction": status.DirectionState,
	"ms":        func(d time.Duration) int64 { return d.Milliseconds() },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Cape Poller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Cape Poller{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Channels</h2>
<table>
<tr><th>Channel</th><td>LED</td><td>Button</td></tr>
{{range $i, $on := .Registers.LEDs}}<tr><th>{{$i}}</th><td id="led-{{$i}}" class="{{if $on}}on{{else}}off{{end}}">{{led $on}}</td><td>{{button (index $.Registers.Buttons $i)}}</td></tr>
{{end}}</table>

<h2>Control</h2>
<table>
<tr><th>Mode</th><td id="mode">{{.Registers.Mode}}</td></tr>
<tr><th>Direction</th><td id="direction">{{direction .Registers.Direction}}</td></tr>
<tr><th>Pattern</th><td>{{.Config.Pattern}}</td></tr>
<tr><th>ADC</th><td id="adc">{{if .Registers.ADC.Time.IsZero}}no sample{{else}}{{printf "%.3f" .Registers.ADC.Volts}} V ({{.Registers.ADC.Raw}}){{end}}</td></tr>
</table>

<h2>Tasks</h2>
<table>
<tr><th>Name</th><td>Interval</td><td>Fired</td><td>Skipped</td></tr>
{{range .Tasks}}<tr><th>{{.Name}}</th><td>{{ms .Interval}}ms</td><td>{{.Fired}}</td><td>{{.Skipped}}</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
{{range $i, $n := .Counts.Edges}}<tr><th>Button {{$i}} edges</th><td>{{$n}}</td></tr>
{{end}}<tr><th>Mode changes</th><td>{{.Counts.Mode}}</td></tr>
<tr><th>Direction changes</th><td>{{.Counts.Direction}}</td></tr>
<tr><th>ADC samples</th><td>{{.Counts.ADCSamples}}</td></tr>
<tr><th>Dropped</th><td>{{.Dropped}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Backend</th><td>{{.Config.Backend}}</td></tr>
<tr><th>Button poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>ADC</th><td>{{if eq .Config.ADCMs 0}}disabled{{else}}{{.Config.ADCMs}}ms{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt@5/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Topic}}";
  var dot = document.getElementById("live-dot");

  function setText(id, text) {
    var el = document.getElementById(id);
    if (el) el.textContent = text;
  }

  function setLED(i, state) {
    var el = document.getElementById("led-" + i);
    if (!el) return;
    el.textContent = state;
    el.className = state === "ON" ? "on" : "off";
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (!msg.cape) return;
      setText("mode", msg.cape.mode);
      setText("direction", msg.cape.direction);
      if (msg.cape.button) {
        setLED(msg.cape.button.index, msg.cape.button.led);
      }
      if (msg.cape.adc) {
        setText("adc", msg.cape.adc.volts.toFixed(3) + " V (" + msg.cape.adc.raw + ")");
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Topic  string
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Topic:    mqtt.Topic,
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
