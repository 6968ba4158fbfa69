// Command cape-poller drives the LEDs, buttons and ADC of a BeagleBone cape
// with independently scheduled periodic tasks and publishes what happens to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/cape-poller/internal/adc"
	"github.com/sweeney/cape-poller/internal/config"
	"github.com/sweeney/cape-poller/internal/engine"
	"github.com/sweeney/cape-poller/internal/gpio"
	"github.com/sweeney/cape-poller/internal/lifecycle"
	"github.com/sweeney/cape-poller/internal/logic"
	"github.com/sweeney/cape-poller/internal/mqtt"
	"github.com/sweeney/cape-poller/internal/registers"
	"github.com/sweeney/cape-poller/internal/scheduler"
	"github.com/sweeney/cape-poller/internal/status"
	"github.com/sweeney/cape-poller/internal/sysfs"
	"github.com/sweeney/cape-poller/internal/web"
)

// statusRefresh is how often the publisher refreshes the status tracker and
// checks for a due heartbeat.
const statusRefresh = time.Second

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}

	code, err := run(cfg, signalChannel())
	if err != nil {
		log.Printf("fatal: %v", err)
	}
	os.Exit(code)
}

func signalChannel() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}

// publisher is what the daemon needs from an MQTT client.
type publisher interface {
	mqtt.Publisher
	mqtt.ConnectionStatus
}

// run starts the daemon and blocks until shutdown. It returns the process
// exit code; a non-nil error means startup failed.
func run(cfg config.Config, sig <-chan os.Signal) (int, error) {
	warnDriverNode(cfg.DriverNode)

	tx, closeTx, err := newTransactor(cfg)
	if err != nil {
		return 1, err
	}
	defer func() {
		if err := closeTx(); err != nil {
			log.Printf("gpio: close: %v", err)
		}
	}()

	lines := gpio.NewLines(tx)
	regs := registers.New()
	sup := lifecycle.New()

	var sampler engine.Sampler
	if cfg.ADCPath != "" {
		s, err := adc.Open(cfg.ADCPath, adc.WithReferenceVoltage(cfg.ADCVref), adc.WithBits(cfg.ADCBits))
		if err != nil {
			return 1, fmt.Errorf("open adc: %w", err)
		}
		defer s.Close()
		sampler = s
	}

	ecfg := cfg.Engine()
	eng := engine.New(ecfg, lines, regs, sampler, sup)
	if err := eng.Setup(); err != nil {
		releaseLines(lines)
		return 1, fmt.Errorf("setup gpio: %w", err)
	}

	if cfg.PrintState {
		err := printState(os.Stdout, lines, ecfg, sampler)
		releaseLines(lines)
		if err != nil {
			return 1, err
		}
		return 0, nil
	}

	sched := scheduler.New()
	if err := eng.Register(sched); err != nil {
		releaseLines(lines)
		return 1, fmt.Errorf("register tasks: %w", err)
	}

	pub := newPublisher(cfg)
	defer pub.Close()

	ws := resolveWSBroker(cfg.WSBroker, cfg.Broker)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg, ws), regs, sched)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := pub.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Cleanup runs on the supervisor's goroutine, in this order.
	sup.OnShutdown("stop tasks", func() error {
		sched.StopAll()
		return nil
	})
	sup.OnShutdown("release lines", lines.ReleaseAll)
	sup.OnShutdown("close events", func() error {
		eng.CloseEvents()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sup.Watch(gctx, sig)
		return nil
	})

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()
	g.Go(func() error {
		runPublisher(eng.Events(), pub, pub, tracker, eng.Dropped, sup.Reason, cfg.Heartbeat(), time.Now, ticker.C)
		return nil
	})

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Shutdown(context.Background())
		})
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	if err := sched.StartAll(); err != nil {
		sup.RequestShutdown(lifecycle.Reason{Source: "startup"})
		sup.Wait(ctx)
		cancel()
		g.Wait()
		return 1, fmt.Errorf("start tasks: %w", err)
	}

	log.Printf("started: backend=%s pattern=%s poll=%v adc=%v broker=%s heartbeat=%v",
		cfg.Backend, cfg.Pattern, ecfg.ButtonInterval, ecfg.ADCInterval, cfg.Broker, cfg.Heartbeat())

	reason := sup.Wait(ctx)
	log.Printf("shutdown complete: %s", reason)

	cancel()
	if err := g.Wait(); err != nil {
		log.Printf("shutdown: %v", err)
	}
	return reason.ExitCode(), nil
}

// runPublisher drains events to MQTT and keeps the status tracker current.
// It returns after events is closed and the SHUTDOWN event is published.
func runPublisher(events <-chan logic.Event, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, dropped func() int64, reason func() lifecycle.Reason, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time) {
	tally := logic.NewTally(now())

	refresh := func() {
		if tracker == nil {
			return
		}
		tracker.Update(tally.Counts(), dropped())
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				refresh()
				r := reason().String()
				event := mqtt.SystemEvent{
					Timestamp: now(),
					Event:     "SHUTDOWN",
					Reason:    r,
					Retained:  true,
				}
				if tracker != nil {
					event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", r)
				}
				if err := publisher.PublishSystem(event); err != nil {
					log.Printf("failed to publish shutdown event: %v", err)
				} else {
					log.Printf("published shutdown event")
				}
				return
			}

			tally.Record(ev)
			if ev.Type != logic.EventADCSample {
				log.Printf("event: %s (button=%d mode=%d reversed=%v)", ev.Type, ev.Button, ev.Mode, ev.Direction)
			}
			if err := publisher.Publish(ev); err != nil {
				log.Printf("publish error: %v", err)
				// Don't crash on publish failure
			}
			refresh()

		case <-tick:
			t := now()
			refresh()

			hb := tally.CheckHeartbeat(t, heartbeat)
			if hb == nil {
				continue
			}
			log.Printf("heartbeat: uptime=%v edges=%v mode_changes=%d adc_samples=%d",
				hb.Uptime, hb.Counts.Edges, hb.Counts.Mode, hb.Counts.ADCSamples)

			hbEvent := mqtt.SystemEvent{
				Timestamp: hb.Timestamp,
				Event:     "HEARTBEAT",
			}
			if tracker != nil {
				// Refresh network info for heartbeat
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
				hbEvent.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")
			}
			if err := publisher.PublishSystem(hbEvent); err != nil {
				log.Printf("heartbeat publish error: %v", err)
			}
		}
	}
}

func newTransactor(cfg config.Config) (gpio.Transactor, func() error, error) {
	switch cfg.Backend {
	case config.BackendCdev:
		c, err := gpio.NewCdevTransactor(cfg.Chip)
		if err != nil {
			return nil, nil, fmt.Errorf("init gpio: %w", err)
		}
		return c, c.Close, nil
	case config.BackendPeriph:
		p, err := gpio.NewPeriphTransactor()
		if err != nil {
			return nil, nil, fmt.Errorf("init gpio: %w", err)
		}
		return p, func() error { return nil }, nil
	default:
		return gpio.NewSysfsTransactor(cfg.GPIORoot), func() error { return nil }, nil
	}
}

func newPublisher(cfg config.Config) publisher {
	if cfg.Broker == "" {
		log.Printf("mqtt: no broker configured, publishing disabled")
		return mqtt.NopPublisher{}
	}
	return mqtt.NewRealPublisher(cfg.Broker, cfg.ClientID)
}

func releaseLines(lines *gpio.Lines) {
	if err := lines.ReleaseAll(); err != nil {
		log.Printf("gpio: release: %v", err)
	}
}

// warnDriverNode logs when the kernel LED driver is loaded. It drives the
// same LEDs and must not run alongside the daemon.
func warnDriverNode(path string) {
	if path != "" && sysfs.Exists(path) {
		log.Printf("warning: %s exists; the kernel LED driver and this daemon must not drive the LEDs at the same time", path)
	}
}

func statusConfig(cfg config.Config, ws string) status.Config {
	return status.Config{
		Backend:     cfg.Backend,
		Pattern:     cfg.Pattern,
		PollMs:      cfg.ButtonIntervalMs,
		ADCMs:       cfg.ADCIntervalMs,
		HeartbeatMs: cfg.HeartbeatMs,
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTPAddr,
		WSBroker:    ws,
	}
}

// printState reads every button and LED once and writes a one-line summary.
func printState(w io.Writer, lines *gpio.Lines, cfg engine.Config, sampler engine.Sampler) error {
	var parts []string
	for i, pin := range cfg.ButtonPins {
		v, err := lines.Get(pin)
		if err != nil {
			return fmt.Errorf("read button %d: %w", i, err)
		}
		parts = append(parts, fmt.Sprintf("BTN%d: %s", i, status.ButtonState(gpio.Logical(v))))
	}
	for i, pin := range cfg.LEDPins {
		v, err := lines.Get(pin)
		if err != nil {
			return fmt.Errorf("read LED %d: %w", i, err)
		}
		parts = append(parts, fmt.Sprintf("LED%d: %s", i, status.LEDState(gpio.Logical(v))))
	}
	if sampler != nil {
		r, err := sampler.Read()
		if err != nil {
			return fmt.Errorf("read adc: %w", err)
		}
		parts = append(parts, fmt.Sprintf("ADC: %d (%.4fV)", r.Raw, r.Volts))
	}
	_, err := fmt.Fprintln(w, strings.Join(parts, ", "))
	return err
}

// Network env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" || ws == "" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	if broker == "" {
		return ""
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse --broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
