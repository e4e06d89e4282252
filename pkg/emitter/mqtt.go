// Package emitter publishes monitor results to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/teslashibe/go-scenewatch/internal/log"
	"github.com/teslashibe/go-scenewatch/pkg/monitor"
	"github.com/teslashibe/go-scenewatch/pkg/scene"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// Config holds broker settings.
type Config struct {
	Broker         string        `yaml:"broker" json:"broker"` // host:port, or a full URL
	TopicPrefix    string        `yaml:"topic_prefix" json:"topic_prefix"`
	QoS            byte          `yaml:"qos" json:"qos"`
	Username       string        `yaml:"username" json:"username"`
	Password       string        `yaml:"password" json:"-"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout" json:"publish_timeout"`
}

// DefaultConfig returns settings with publishing disabled.
func DefaultConfig() Config {
	return Config{
		TopicPrefix:    "scenewatch",
		ConnectTimeout: 5 * time.Second,
		PublishTimeout: 2 * time.Second,
	}
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool {
	return c.Broker != ""
}

// DiffMessage is the JSON payload of a diff event.
type DiffMessage struct {
	Instance  string     `json:"instance_id"`
	Cycle     uint64     `json:"cycle"`
	FrameSeq  uint64     `json:"frame_seq"`
	UpdatedAt time.Time  `json:"updated_at"`
	Diff      scene.Diff `json:"diff"`
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Emitter publishes results under <prefix>/<instance>/<kind>.
type Emitter struct {
	cfg      Config
	instance string
	client   mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// New creates an emitter. Call Connect before publishing.
func New(cfg Config, instanceID string) *Emitter {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "scenewatch"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &Emitter{
		cfg:       cfg,
		instance:  instanceID,
		published: make(map[string]uint64),
	}
}

// Topic returns the topic for a report kind.
func (e *Emitter) Topic(kind string) string {
	return fmt.Sprintf("%s/%s/%s", e.cfg.TopicPrefix, e.instance, kind)
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection. The client reconnects on its
// own after a lost connection.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(fmt.Sprintf("%s-%s", e.instance, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		log.Info("mqtt connection established", "component", "emitter", "broker", e.cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		log.Warn("mqtt connection lost, will auto-reconnect", "component", "emitter",
			"broker", e.cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	log.Info("connecting to mqtt broker", "component", "emitter", "broker", e.cfg.Broker)

	token := client.Connect()
	if err := wait(ctx, token, e.cfg.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("emitter: connect %s: %w", e.cfg.Broker, err)
	}

	e.mu.Lock()
	e.client = client
	e.connected = true
	e.mu.Unlock()
	return nil
}

// Publish sends a monitor result to the diff topic. It implements
// monitor.Sink.
func (e *Emitter) Publish(ctx context.Context, r monitor.Result) error {
	return e.PublishJSON(ctx, "diff", DiffMessage{
		Instance:  e.instance,
		Cycle:     r.Cycle,
		FrameSeq:  r.FrameSeq,
		UpdatedAt: r.UpdatedAt,
		Diff:      r.Diff,
	})
}

// PublishJSON encodes v and sends it to the topic for kind.
func (e *Emitter) PublishJSON(ctx context.Context, kind string, v any) error {
	e.mu.RLock()
	client, connected := e.client, e.connected
	e.mu.RUnlock()
	if client == nil || !connected {
		e.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: encode %s: %w", kind, err)
	}

	topic := e.Topic(kind)
	token := client.Publish(topic, e.cfg.QoS, false, payload)
	if err := wait(ctx, token, e.cfg.PublishTimeout); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	log.Debug("published", "component", "emitter", "topic", topic, "size", len(payload))
	return nil
}

// Close disconnects from the broker.
func (e *Emitter) Close() error {
	e.mu.Lock()
	client := e.client
	e.client = nil
	e.connected = false
	e.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		log.Info("mqtt disconnected", "component", "emitter")
	}
	return nil
}

// Stats returns emitter statistics.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *Emitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// wait blocks until token completes, ctx ends or timeout passes.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timeout")
	}
}
