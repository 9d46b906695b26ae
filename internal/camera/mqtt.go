package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kozaktomas/facecam/internal/config"
)

// MQTTEmitter publishes frame results to an MQTT broker.
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	camera string
	client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// EmitterStats contains emitter statistics
type EmitterStats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// NewMQTTEmitter creates an emitter for the given camera name.
func NewMQTTEmitter(cfg config.MQTTConfig, camera string) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg, camera: camera}
}

// brokerURL adds the tcp scheme when the broker is given as host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Topic returns the topic results are published to.
func (e *MQTTEmitter) Topic() string {
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(e.cfg.Topic, "/"), e.camera)
}

// Connect establishes connection to the broker. The client reconnects on its own afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	clientID := e.cfg.ClientID
	if clientID == "" {
		clientID = "facecam-" + e.camera
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		log.Printf("mqtt connected to %s as %s", e.cfg.Broker, clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		log.Printf("mqtt connection lost, reconnecting: %v", err)
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// Publish sends result as JSON. Image bytes are never included.
func (e *MQTTEmitter) Publish(result *FrameResult) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	token := e.client.Publish(e.Topic(), 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() EmitterStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EmitterStats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
