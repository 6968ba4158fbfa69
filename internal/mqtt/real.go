package mqtt

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/cape-poller/internal/logic"
)

// bufferCapacity is how many messages are kept while the broker is unreachable.
const bufferCapacity = 256

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are buffered and replayed, oldest first, after reconnection.
type RealPublisher struct {
	client paho.Client
	topic  string
	now    func() time.Time

	connected     atomic.Bool
	everConnected atomic.Bool

	mu  sync.Mutex
	buf *ringBuffer
}

// offlineWill is the retained message the broker publishes if the
// connection drops without a clean disconnect.
func offlineWill(now time.Time) []byte {
	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: now,
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		log.Printf("mqtt: format will: %v", err)
	}
	return will
}

// NewRealPublisher creates a publisher for the given broker. Connection happens
// in the background and is retried until it succeeds; publishing before then
// is buffered.
func NewRealPublisher(broker, clientID string) *RealPublisher {
	p := &RealPublisher{
		topic: Topic,
		now:   time.Now,
		buf:   newRingBuffer(bufferCapacity),
	}

	will := offlineWill(p.now())

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	p.client.Connect()
	log.Printf("mqtt: connecting to %s as %s", broker, clientID)
	return p
}

func (p *RealPublisher) onConnect(paho.Client) {
	p.connected.Store(true)
	reconnect := p.everConnected.Swap(true)
	log.Printf("mqtt: connected")

	go func() {
		p.flush()
		if reconnect {
			if err := p.PublishSystem(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"}); err != nil {
				log.Printf("mqtt: publish reconnected event: %v", err)
			}
		}
	}()
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.connected.Store(false)
	log.Printf("mqtt: connection lost: %v", err)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.connected.Load()
}

// Publish sends a control loop event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.send(bufferedMsg{topic: p.topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) so lifecycle events survive a flaky link
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	if !p.IsConnected() {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return nil
	}
	if err := p.publish(msg); err != nil {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays buffered messages. Messages that fail again are re-buffered.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs, dropped := p.buf.drainAll()
	p.mu.Unlock()
	if len(msgs) == 0 {
		return
	}
	log.Printf("mqtt: replaying %d buffered messages (%d dropped while offline)", len(msgs), dropped)

	for i, msg := range msgs {
		if err := p.publish(msg); err != nil {
			log.Printf("mqtt: replay failed: %v", err)
			p.mu.Lock()
			for _, rest := range msgs[i:] {
				p.buf.push(rest)
			}
			p.mu.Unlock()
			return
		}
	}
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
