// Package mqtt provides MQTT publishing for display field values.
package mqtt

import (
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"bikelink/config"
	"bikelink/logging"
)

// writeJob represents a pending write operation.
type writeJob struct {
	client    pahomqtt.Client
	rootTopic string
	device    string
	field     string
	payload   []byte
	err       error // pre-resolved error for invalid requests
	handler   WriteHandler
}

// MaxWriteWorkers is the maximum number of concurrent write goroutines per publisher.
const MaxWriteWorkers = 2

// MaxWriteQueueSize is the maximum number of pending write jobs per publisher.
const MaxWriteQueueSize = 50

// Publisher handles MQTT connection and publishes field values to a single broker.
type Publisher struct {
	config    *config.MQTTConfig
	rootTopic string
	client    pahomqtt.Client
	running   bool
	mu        sync.RWMutex

	// Track last published values to detect changes
	lastValues map[string]string
	lastMu     sync.RWMutex

	writeHandler WriteHandler

	// Worker pool for bounded write goroutines
	writeQueue chan writeJob
	wg         sync.WaitGroup
	stopChan   chan struct{}
}

// FieldMessage is the JSON structure published to MQTT.
type FieldMessage struct {
	Device    string `json:"device"`
	Field     string `json:"field"`
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}

// WriteRequest is the JSON structure for incoming write requests. Payload
// is the raw identifier payload, hex-encoded.
type WriteRequest struct {
	Device  string `json:"device"`
	Field   string `json:"field"`
	Payload string `json:"payload"`
}

// WriteResponse is the JSON structure for write responses.
type WriteResponse struct {
	Device    string `json:"device"`
	Field     string `json:"field"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteHandler is a callback for handling write requests.
type WriteHandler func(device, field string, payload []byte) error

// NewPublisher creates a new MQTT publisher for a single broker. The root
// topic is the namespace, extended by the config's selector when set.
func NewPublisher(cfg *config.MQTTConfig, namespace string) *Publisher {
	root := namespace
	if cfg.Selector != "" {
		root = namespace + "/" + cfg.Selector
	}
	return &Publisher{
		config:     cfg,
		rootTopic:  root,
		lastValues: make(map[string]string),
		writeQueue: make(chan writeJob, MaxWriteQueueSize),
		stopChan:   make(chan struct{}),
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start connects to the MQTT broker.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	// Build options WITHOUT holding the lock
	opts := pahomqtt.NewClientOptions()

	if p.config.UseTLS {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port))
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	}

	opts.SetClientID(p.config.ClientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	logging.DebugLog("mqtt", "connecting to broker %s:%d", p.config.Broker, p.config.Port)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logging.DebugLog("mqtt", "connection timeout")
		return fmt.Errorf("connection timeout")
	}
	if token.Error() != nil {
		logging.DebugError("mqtt", "connect", token.Error())
		return token.Error()
	}

	logging.DebugConnectSuccess("mqtt", p.Address(), "broker connected")

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	// Clear last values to force republish of all values
	p.lastMu.Lock()
	p.lastValues = make(map[string]string)
	p.lastMu.Unlock()

	p.startWriteWorkers()
	p.subscribeWriteTopic()

	return nil
}

func (p *Publisher) startWriteWorkers() {
	// Workers hold onto the channels of their generation: Stop replaces the
	// fields, and a worker re-reading them could latch onto the new stop
	// channel and never exit.
	p.mu.RLock()
	stop := p.stopChan
	queue := p.writeQueue
	p.mu.RUnlock()

	for i := 0; i < MaxWriteWorkers; i++ {
		p.wg.Add(1)
		go p.writeWorker(stop, queue)
	}
}

// writeWorker processes write jobs from the queue.
func (p *Publisher) writeWorker(stop chan struct{}, queue chan writeJob) {
	defer p.wg.Done()

	for {
		select {
		case <-stop:
			return
		case job, ok := <-queue:
			if !ok {
				return
			}
			writeErr := job.err
			if writeErr == nil {
				if job.handler != nil {
					logging.DebugLog("mqtt", "executing write: %s/%s", job.device, job.field)
					writeErr = job.handler(job.device, job.field, job.payload)
					if writeErr != nil {
						logging.DebugError("mqtt", "write", writeErr)
					}
				} else {
					writeErr = fmt.Errorf("no write handler configured")
				}
			}
			p.publishWriteResponse(job.client, job.rootTopic, job.device, job.field, writeErr)
		}
	}
}

// Stop disconnects from the MQTT broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}

	p.running = false
	client := p.client
	p.client = nil

	// Save old channels and create new ones while holding lock
	oldStopChan := p.stopChan
	p.stopChan = make(chan struct{})
	p.writeQueue = make(chan writeJob, MaxWriteQueueSize)
	p.mu.Unlock()

	close(oldStopChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logging.DebugLog("mqtt", "timeout waiting for write workers to stop")
	}

	// Disconnect OUTSIDE the lock to prevent blocking
	client.Disconnect(500)
}

// BuildTopic constructs the full topic path for a field.
func (p *Publisher) BuildTopic(device, field string) string {
	return fmt.Sprintf("%s/%s/fields/%s", p.rootTopic, device, field)
}

// Publish sends a field value to MQTT if it has changed.
func (p *Publisher) Publish(device, field, value string, force bool) bool {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return false
	}

	cacheKey := device + "/" + field

	p.lastMu.RLock()
	lastValue, exists := p.lastValues[cacheKey]
	p.lastMu.RUnlock()

	if exists && !force && lastValue == value {
		return false
	}

	msg := FieldMessage{
		Device:    device,
		Field:     field,
		Value:     value,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	token := client.Publish(p.BuildTopic(device, field), 1, true, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return false
	}
	if token.Error() != nil {
		return false
	}

	p.lastMu.Lock()
	p.lastValues[cacheKey] = value
	p.lastMu.Unlock()

	return true
}

// PublishHealth sends a device health summary to the health topic.
func (p *Publisher) PublishHealth(device, status string, lastErr error) bool {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()

	if !running || client == nil {
		return false
	}

	body := map[string]string{
		"device":    device,
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if lastErr != nil {
		body["error"] = lastErr.Error()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return false
	}

	topic := fmt.Sprintf("%s/%s/health", p.rootTopic, device)
	token := client.Publish(topic, 1, true, payload)
	return token.WaitTimeout(2*time.Second) && token.Error() == nil
}

// Address returns the broker address string.
func (p *Publisher) Address() string {
	if p.config.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.MQTTConfig {
	return p.config
}

// SetWriteHandler sets the callback for handling write requests.
func (p *Publisher) SetWriteHandler(handler WriteHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHandler = handler
}

// subscribeWriteTopic subscribes to the shared write-request topic.
func (p *Publisher) subscribeWriteTopic() {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil {
		return
	}

	topic := p.rootTopic + "/write"
	token := client.Subscribe(topic, 1, p.handleWriteMessage)
	if token.WaitTimeout(2*time.Second) && token.Error() == nil {
		logging.DebugLog("mqtt", "subscribed to %s", topic)
	} else {
		logging.DebugLog("mqtt", "failed to subscribe to %s", topic)
	}
}

// handleWriteMessage parses and queues an incoming write request.
func (p *Publisher) handleWriteMessage(client pahomqtt.Client, msg pahomqtt.Message) {
	var req WriteRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		logging.DebugError("mqtt", "write request parse", err)
		return
	}

	p.mu.RLock()
	handler := p.writeHandler
	queue := p.writeQueue
	p.mu.RUnlock()

	job := writeJob{
		client:    client,
		rootTopic: p.rootTopic,
		device:    req.Device,
		field:     req.Field,
		handler:   handler,
	}

	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		job.err = fmt.Errorf("invalid payload hex: %w", err)
	} else {
		job.payload = payload
	}

	select {
	case queue <- job:
	default:
		logging.DebugLog("mqtt", "write queue full, dropping request for %s/%s", req.Device, req.Field)
	}
}

// publishWriteResponse reports the outcome of a write request.
func (p *Publisher) publishWriteResponse(client pahomqtt.Client, rootTopic, device, field string, err error) {
	resp := WriteResponse{
		Device:    device,
		Field:     field,
		Success:   err == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	payload, merr := json.Marshal(resp)
	if merr != nil {
		return
	}

	topic := fmt.Sprintf("%s/%s/write/response", rootTopic, device)
	token := client.Publish(topic, 1, false, payload)
	token.WaitTimeout(2 * time.Second)
}
