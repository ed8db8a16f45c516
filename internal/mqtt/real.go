package mqtt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/fermentation-pi/internal/sensor"
)

// DefaultBufferSize is how many messages are held while disconnected.
const DefaultBufferSize = 256

const publishTimeout = 5 * time.Second

var errPublishTimeout = errors.New("mqtt: publish timeout")

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int
	// OnConnectionChange, if set, is called on connect and connection loss.
	OnConnectionChange func(connected bool)
}

// transport is the part of a broker connection the publisher needs.
type transport interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// RealPublisher publishes to an MQTT broker. Messages published while the
// connection is down are held in a bounded backlog and replayed, in order,
// when it comes back.
type RealPublisher struct {
	client paho.Client
	conn   transport
	now    func() time.Time

	mu      sync.Mutex
	backlog *backlog
	everUp  bool
	// live is set once the backlog has been replayed on the current
	// connection. Until then new messages queue behind it.
	live bool
}

// NewRealPublisher starts connecting to the broker in the background and
// returns immediately. The broker publishes a retained SHUTDOWN event with
// reason MQTT_DISCONNECT if the daemon drops off without saying goodbye.
func NewRealPublisher(o Options) *RealPublisher {
	if o.ClientID == "" {
		o.ClientID = "fermentation-pi"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{backlog: newBacklog(o.BufferSize), now: time.Now}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventShutdown, Reason: "MQTT_DISCONNECT"})
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Printf("mqtt: connected to %s", o.Broker)
			p.connectionUp()
			if o.OnConnectionChange != nil {
				o.OnConnectionChange(true)
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
			p.connectionDown()
			if o.OnConnectionChange != nil {
				o.OnConnectionChange(false)
			}
		})

	p.client = paho.NewClient(opts)
	p.conn = pahoTransport{p.client}
	p.client.Connect()
	return p
}

func newPublisher(conn transport, size int) *RealPublisher {
	return &RealPublisher{conn: conn, backlog: newBacklog(size), now: time.Now}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.conn.IsConnectionOpen()
}

// PublishReading sends a reading at QoS 0.
func (p *RealPublisher) PublishReading(at time.Time, r sensor.Reading) error {
	payload, err := FormatReadingPayload(at, r)
	if err != nil {
		return fmt.Errorf("format reading payload: %w", err)
	}
	return p.publish(message{topic: TopicReadings, payload: payload})
}

// PublishSystem sends a lifecycle event at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(message{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// publish sends m, or holds it in the backlog while disconnected or while
// the backlog is being replayed. A send that fails on an open connection is
// returned to the caller, not held.
func (p *RealPublisher) publish(m message) error {
	p.mu.Lock()
	if !p.live || !p.conn.IsConnectionOpen() {
		p.backlog.push(m)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.conn.Publish(m.topic, m.qos, m.retained, m.payload); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// connectionUp replays the backlog and, after a reconnect, announces it.
// Messages published during the replay join the backlog and are sent in
// turn; direct sends resume only once it is empty.
func (p *RealPublisher) connectionUp() {
	p.mu.Lock()
	p.live = false
	reconnect := p.everUp
	p.everUp = true
	p.mu.Unlock()

	var pending []message
	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: EventReconnected})
		pending = append(pending, message{topic: TopicSystem, payload: payload, qos: 1})
	}

	replayed := 0
	for {
		p.mu.Lock()
		msgs, dropped := p.backlog.drain()
		if len(pending) == 0 && len(msgs) == 0 {
			p.live = true
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		if dropped > 0 {
			log.Printf("mqtt: backlog overflowed, %d messages dropped", dropped)
		}
		msgs = append(pending, msgs...)
		pending = nil
		for i, m := range msgs {
			if err := p.conn.Publish(m.topic, m.qos, m.retained, m.payload); err != nil {
				log.Printf("mqtt: replay failed, re-queueing %d messages: %v", len(msgs)-i, err)
				p.requeue(msgs[i:])
				return
			}
			replayed++
		}
	}
	if replayed > 0 {
		log.Printf("mqtt: replayed %d messages", replayed)
	}
}

// requeue puts msgs back ahead of anything queued since they were drained.
func (p *RealPublisher) requeue(msgs []message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	newer, _ := p.backlog.drain()
	for _, m := range msgs {
		p.backlog.push(m)
	}
	for _, m := range newer {
		p.backlog.push(m)
	}
}

// connectionDown sends new messages to the backlog until the next replay.
func (p *RealPublisher) connectionDown() {
	p.mu.Lock()
	p.live = false
	p.mu.Unlock()
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backlog.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	if p.client != nil {
		p.client.Disconnect(1000)
	}
	return nil
}

type pahoTransport struct {
	client paho.Client
}

func (t pahoTransport) IsConnectionOpen() bool {
	return t.client.IsConnectionOpen()
}

func (t pahoTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := t.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errPublishTimeout
	}
	return token.Error()
}
