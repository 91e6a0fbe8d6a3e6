// Package emitter publishes pipeline outputs to the MQTT broker:
// canonical classifications, event envelopes, retained last images,
// liveness and operation status, and Home Assistant discovery
// documents. Publish failures are isolated per target and surface as
// logs and counters, never as pipeline errors.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/pastukhov/yaic/internal/discovery"
)

const publishTimeout = 2 * time.Second

// Config contains broker and topic settings for the emitter.
type Config struct {
	Broker   string
	ClientID string
	Topics   discovery.Topics
	QoS      map[string]byte // per topic class; missing classes default to 1

	// OnConnect runs on every (re)connection, for subscriptions and
	// retained re-publishes.
	OnConnect func()

	// OnPublishError is invoked with the target class of every failed
	// publish (metrics hook).
	OnPublishError func(target string)
}

// Emitter wraps the paho client with topic and stats bookkeeping.
type Emitter struct {
	cfg    Config
	Client mqtt.Client // exported for the control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// New creates an emitter; Connect must be called before publishing.
func New(cfg Config) *Emitter {
	return &Emitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection with auto-reconnect.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(fmt.Sprintf("%s-%s", e.cfg.ClientID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
		if e.cfg.OnConnect != nil {
			e.cfg.OnConnect()
		}
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// Disconnect closes the broker connection.
func (e *Emitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// Subscribe registers a message handler on a topic pattern.
func (e *Emitter) Subscribe(pattern string, qos byte, handler mqtt.MessageHandler) error {
	token := e.Client.Subscribe(pattern, qos, handler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for %s", pattern)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe failed for %s: %w", pattern, err)
	}
	return nil
}

// publish sends one message and waits for the broker acknowledgement.
func (e *Emitter) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("message published", "topic", topic, "qos", qos, "size", len(payload))
	return nil
}

// qos returns the configured QoS for a topic class, defaulting to 1.
func (e *Emitter) qos(class string) byte {
	if q, ok := e.cfg.QoS[class]; ok {
		return q
	}
	return 1
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns a snapshot of emitter statistics.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
