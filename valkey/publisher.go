// Package valkey provides Valkey/Redis publishing for display field values.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bikelink/config"
	"bikelink/logging"
)

// joinKey joins key segments with colons, trimming leading/trailing colons
// from each segment to avoid empty key parts.
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// FieldMessage represents a field value stored in Valkey.
type FieldMessage struct {
	Namespace string    `json:"namespace"`
	Device    string    `json:"device"`
	Field     string    `json:"field"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// WriteRequest represents a write request from the write queue. Payload is
// the raw identifier payload, hex-encoded.
type WriteRequest struct {
	Namespace string `json:"namespace"`
	Device    string `json:"device"`
	Field     string `json:"field"`
	Payload   string `json:"payload"`
}

// WriteResponse represents a response to a write request.
type WriteResponse struct {
	Namespace string    `json:"namespace"`
	Device    string    `json:"device"`
	Field     string    `json:"field"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthMessage represents a device health status stored in Valkey.
type HealthMessage struct {
	Namespace string    `json:"namespace"`
	Device    string    `json:"device"`
	Online    bool      `json:"online"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WriteHandler is a callback for processing write requests.
type WriteHandler func(device, field string, payload []byte) error

// Publisher handles publishing field values to a Valkey server.
type Publisher struct {
	config    *config.ValkeyConfig
	namespace string
	client    *redis.Client
	running   bool
	mu        sync.RWMutex

	writeHandler      WriteHandler
	onConnectCallback func()

	// Write-back processing
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPublisher creates a new Valkey publisher. The key namespace is the
// instance namespace, extended by the config's selector when set.
func NewPublisher(cfg *config.ValkeyConfig, namespace string) *Publisher {
	ns := namespace
	if cfg.Selector != "" {
		ns = joinKey(namespace, cfg.Selector)
	}
	return &Publisher{
		config:    cfg,
		namespace: ns,
		stopChan:  make(chan struct{}),
	}
}

// Start connects to the Valkey server.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}

	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Create client and test connection WITHOUT holding the lock
	client := redis.NewClient(opts)

	logging.DebugLog("valkey", "connecting to %s (DB: %d, TLS: %v)",
		p.config.Address, p.config.Database, p.config.UseTLS)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logging.DebugError("valkey", "connect", err)
		client.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", p.config.Address, err)
	}

	logging.DebugConnectSuccess("valkey", p.Address(), "server connected")

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		client.Close()
		return nil
	}

	p.client = client
	p.running = true
	p.stopChan = make(chan struct{})

	if p.config.EnableWriteback {
		p.wg.Add(1)
		go p.writebackListener()
	}

	// Call on-connect callback to publish initial values
	if p.onConnectCallback != nil {
		go p.onConnectCallback()
	}

	return nil
}

// Stop disconnects from the Valkey server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}

	p.running = false
	close(p.stopChan)

	client := p.client
	p.client = nil
	p.mu.Unlock()

	// Wait for the write-back listener with a timeout; it polls on a 1s
	// BLPop so it may take a moment to notice the stop.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
	}

	if client != nil {
		return client.Close()
	}
	return nil
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.ValkeyConfig {
	return p.config
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// Address returns the server address.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

// Publish stores a field value in Valkey under namespace:device:fields:field.
func (p *Publisher) Publish(device, field, value string) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	cfg := p.config
	p.mu.RUnlock()

	key := joinKey(p.namespace, device, "fields", field)

	msg := FieldMessage{
		Namespace: p.namespace,
		Device:    device,
		Field:     field,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal field value: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Set(ctx, key, data, cfg.KeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	if cfg.PublishChanges {
		// Device-specific channel plus the all-changes channel.
		client.Publish(ctx, joinKey(p.namespace, device, "changes"), data)
		client.Publish(ctx, joinKey(p.namespace, "_all", "changes"), data)
	}

	return nil
}

// PublishHealth publishes device health status to Valkey.
func (p *Publisher) PublishHealth(device string, online bool, status, errMsg string) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	cfg := p.config
	p.mu.RUnlock()

	key := joinKey(p.namespace, device, "health")

	msg := HealthMessage{
		Namespace: p.namespace,
		Device:    device,
		Online:    online,
		Status:    status,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal health status: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Set(ctx, key, data, cfg.KeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set health key: %w", err)
	}

	if cfg.PublishChanges {
		client.Publish(ctx, key, data)
	}

	return nil
}

// SetWriteHandler sets the callback for processing write requests.
func (p *Publisher) SetWriteHandler(handler WriteHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHandler = handler
}

// SetOnConnectCallback sets the callback invoked after connection is established.
func (p *Publisher) SetOnConnectCallback(callback func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnectCallback = callback
}

// writebackListener listens for write requests on the write queue.
func (p *Publisher) writebackListener() {
	defer p.wg.Done()

	queueKey := joinKey(p.namespace, "writes")
	responseChannel := joinKey(p.namespace, "write", "responses")

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		p.mu.RLock()
		if !p.running || p.client == nil {
			p.mu.RUnlock()
			time.Sleep(100 * time.Millisecond)
			continue
		}
		client := p.client
		p.mu.RUnlock()

		// Block waiting for write requests (with timeout for checking stop)
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		result, err := client.BLPop(ctx, 1*time.Second, queueKey).Result()
		cancel()

		if err != nil {
			if err != redis.Nil {
				logging.DebugError("valkey", "write queue", err)
			}
			continue
		}

		if len(result) < 2 {
			continue
		}

		var req WriteRequest
		if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
			logging.DebugError("valkey", "write request parse", err)
			continue
		}

		p.processWriteRequest(client, req, responseChannel)
	}
}

// processWriteRequest handles a single write request.
func (p *Publisher) processWriteRequest(client *redis.Client, req WriteRequest, responseChannel string) {
	p.mu.RLock()
	handler := p.writeHandler
	p.mu.RUnlock()

	response := WriteResponse{
		Namespace: req.Namespace,
		Device:    req.Device,
		Field:     req.Field,
		Timestamp: time.Now().UTC(),
	}

	payload, err := hex.DecodeString(req.Payload)
	switch {
	case err != nil:
		response.Error = "invalid payload hex"
	case handler == nil:
		response.Error = "no write handler configured"
	default:
		if werr := handler(req.Device, req.Field, payload); werr != nil {
			response.Error = werr.Error()
		} else {
			response.Success = true
		}
	}

	data, _ := json.Marshal(response)
	client.Publish(context.Background(), responseChannel, data)

	logging.DebugLog("valkey", "write %s:%s -> success=%v", req.Device, req.Field, response.Success)
}
