// Package devman manages display connections and the background scan loop.
package devman

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bikelink/config"
	"bikelink/display"
	"bikelink/logging"
	"bikelink/transport"
)

// ConnectionStatus reflects a managed device's lifecycle state.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ManagedDevice represents one display under management.
type ManagedDevice struct {
	Config    *config.DeviceConfig
	Client    *display.Client
	Scope     display.Scope
	Record    *display.Record
	Status    ConnectionStatus
	LastError error
	LastScan  time.Time
	mu        sync.RWMutex
}

// GetStatus returns the current connection status thread-safely.
func (d *ManagedDevice) GetStatus() ConnectionStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Status
}

// GetError returns the last connection or scan error.
func (d *ManagedDevice) GetError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.LastError
}

// GetRecord returns the most recent scan record, or nil before the first
// successful scan.
func (d *ManagedDevice) GetRecord() *display.Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Record
}

// GetConnectionMode describes how the device is attached.
func (d *ManagedDevice) GetConnectionMode() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.Client == nil {
		return "not connected"
	}
	return d.Client.ConnectionMode()
}

// FieldChange reports one field whose value differs from the previous scan.
type FieldChange struct {
	Device string
	Field  string
	Value  string
}

// ScanStats summarizes the most recent scan cycle across all devices.
type ScanStats struct {
	LastScanTime  time.Time
	FieldsScanned int
	ChangesFound  int
	LastError     error
}

// deviceWorker runs the scan loop for one device in its own goroutine.
type deviceWorker struct {
	dev      *ManagedDevice
	manager  *Manager
	pollRate time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu       sync.RWMutex
	fieldsScanned int
	changesFound  int
	lastError     error
}

func newDeviceWorker(dev *ManagedDevice, manager *Manager, pollRate time.Duration) *deviceWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &deviceWorker{
		dev:      dev,
		manager:  manager,
		pollRate: pollRate,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (w *deviceWorker) Start() {
	w.wg.Add(1)
	go w.scanLoop()
}

// Stop halts the worker and waits for it to finish.
func (w *deviceWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *deviceWorker) GetStats() (fieldsScanned, changesFound int, lastError error) {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.fieldsScanned, w.changesFound, w.lastError
}

func (w *deviceWorker) scanLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollRate)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan runs one full record read against the device. Each field either
// resolves, errors, or is marked unavailable; a transport-level failure
// flips the device into the error state for the reconnect check to pick up.
func (w *deviceWorker) scan() {
	dev := w.dev

	w.checkAutoReconnect()

	dev.mu.RLock()
	client := dev.Client
	status := dev.Status
	scope := dev.Scope
	name := dev.Config.Name
	oldFields := make(map[string]string)
	if dev.Record != nil {
		for k, v := range dev.Record.Fields {
			if v.Err == nil && !v.Unavailable {
				oldFields[k] = v.Value
			}
		}
	}
	dev.mu.RUnlock()

	if status != StatusConnected || client == nil {
		w.setStats(0, 0, nil)
		return
	}

	record, err := client.ReadAll(scope)
	if err != nil {
		dev.mu.Lock()
		dev.LastError = err
		dev.Status = StatusError
		dev.mu.Unlock()
		w.setStats(0, 0, err)
		w.manager.markStatusDirty()
		return
	}

	// A record where every single field errored usually means the device
	// went away mid-scan; drop the session so the reconnect path runs.
	if allFailed(record) {
		logging.DebugLog("devman", "%s: all fields failed, dropping session", name)
		client.Close()
		dev.mu.Lock()
		dev.Status = StatusError
		dev.LastError = fmt.Errorf("device stopped responding")
		dev.mu.Unlock()
		w.setStats(len(record.Fields), 0, dev.LastError)
		w.manager.markStatusDirty()
		return
	}

	var changes []FieldChange
	for fname, fv := range record.Fields {
		if fv.Err != nil || fv.Unavailable {
			continue
		}
		if old, existed := oldFields[fname]; !existed || old != fv.Value {
			changes = append(changes, FieldChange{Device: name, Field: fname, Value: fv.Value})
		}
	}

	dev.mu.Lock()
	dev.Record = record
	dev.LastScan = time.Now()
	dev.LastError = nil
	dev.mu.Unlock()

	w.setStats(len(record.Fields), len(changes), nil)

	if len(changes) > 0 {
		w.manager.sendChanges(changes)
	}
	w.manager.markStatusDirty()
}

func (w *deviceWorker) setStats(scanned, changed int, err error) {
	w.statsMu.Lock()
	w.fieldsScanned = scanned
	w.changesFound = changed
	w.lastError = err
	w.statsMu.Unlock()
}

func (w *deviceWorker) checkAutoReconnect() {
	dev := w.dev

	dev.mu.RLock()
	status := dev.Status
	enabled := dev.Config.Enabled
	dev.mu.RUnlock()

	if !enabled {
		return
	}
	if status == StatusConnected || status == StatusConnecting {
		return
	}

	// Runs in this worker's goroutine; blocking here is fine.
	w.manager.connectDevice(dev)
}

func allFailed(r *display.Record) bool {
	if len(r.Fields) == 0 {
		return false
	}
	for _, fv := range r.Fields {
		if fv.Err == nil && !fv.Unavailable {
			return false
		}
	}
	return true
}

// Manager owns all managed devices and their scan workers.
type Manager struct {
	devices map[string]*ManagedDevice
	workers map[string]*deviceWorker
	mu      sync.RWMutex

	pollRate      time.Duration
	batchInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onChange      func()
	onFieldChange func(changes []FieldChange)

	changeChan  chan []FieldChange
	statusDirty int32

	lastScanStats ScanStats
	statsMu       sync.RWMutex
}

// NewManager creates a device manager scanning at the given rate.
func NewManager(pollRate time.Duration) *Manager {
	if pollRate <= 0 {
		pollRate = 30 * time.Second
	}
	return &Manager{
		devices:       make(map[string]*ManagedDevice),
		workers:       make(map[string]*deviceWorker),
		pollRate:      pollRate,
		batchInterval: 100 * time.Millisecond,
		changeChan:    make(chan []FieldChange, 100),
	}
}

// SetOnChange sets a callback that fires when device status changes.
func (m *Manager) SetOnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// SetOnFieldChange sets a callback that fires when field values change.
func (m *Manager) SetOnFieldChange(fn func(changes []FieldChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFieldChange = fn
}

func (m *Manager) markStatusDirty() {
	atomic.StoreInt32(&m.statusDirty, 1)
}

// sendChanges sends field changes to the aggregator channel.
func (m *Manager) sendChanges(changes []FieldChange) {
	select {
	case m.changeChan <- changes:
	default:
		// Channel full, drop oldest and retry
		select {
		case <-m.changeChan:
		default:
		}
		select {
		case m.changeChan <- changes:
		default:
		}
	}
}

// buildTransport constructs the transport a device config describes.
func buildTransport(cfg *config.DeviceConfig) (transport.Transport, error) {
	switch cfg.Transport {
	case "tcp":
		return transport.NewTCP(cfg.Address), nil
	case "hid", "":
		vid := cfg.VendorID
		if vid == 0 {
			vid = display.VendorID
		}
		opts := []transport.HIDOption{}
		if cfg.Path != "" {
			opts = append(opts, transport.WithPath(cfg.Path))
		}
		return transport.NewHID(vid, cfg.ProductID, opts...), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// AddDevice adds a device to management.
func (m *Manager) AddDevice(cfg *config.DeviceConfig) error {
	scope, err := display.ParseScope(cfg.Scope)
	if err != nil {
		return fmt.Errorf("device %q: %w", cfg.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[cfg.Name]; exists {
		return nil
	}

	dev := &ManagedDevice{
		Config: cfg,
		Scope:  scope,
		Status: StatusDisconnected,
	}
	m.devices[cfg.Name] = dev

	// If the manager is running, start a worker for this device
	if m.ctx != nil {
		worker := newDeviceWorker(dev, m, m.pollRate)
		m.workers[cfg.Name] = worker
		worker.Start()
	}

	return nil
}

// RemoveDevice removes a device from management and disconnects it.
func (m *Manager) RemoveDevice(name string) error {
	m.mu.Lock()
	dev, exists := m.devices[name]
	worker := m.workers[name]
	if exists {
		delete(m.devices, name)
		delete(m.workers, name)
	}
	m.mu.Unlock()

	// Stop worker first (outside lock)
	if worker != nil {
		worker.Stop()
	}

	if exists && dev.Client != nil {
		dev.Client.Close()
	}

	m.markStatusDirty()
	return nil
}

// connectDevice opens the transport and performs the activation handshake
// (called from a worker goroutine or Connect).
func (m *Manager) connectDevice(dev *ManagedDevice) error {
	dev.mu.Lock()
	dev.Status = StatusConnecting
	dev.LastError = nil
	dev.mu.Unlock()
	m.markStatusDirty()

	tp, err := buildTransport(dev.Config)
	if err == nil {
		client := display.New(tp)
		if cerr := client.Connect(); cerr != nil {
			err = cerr
		} else {
			dev.mu.Lock()
			dev.Client = client
			dev.Status = StatusConnected
			dev.mu.Unlock()
			m.markStatusDirty()
			logging.DebugConnectSuccess("devman", dev.Config.Name, client.ConnectionMode())
			return nil
		}
	}

	dev.mu.Lock()
	dev.Status = StatusError
	dev.LastError = err
	dev.mu.Unlock()
	m.markStatusDirty()
	logging.DebugConnectError("devman", dev.Config.Name, err)
	return err
}

// Connect establishes a connection to the named device in the background.
func (m *Manager) Connect(name string) error {
	m.mu.RLock()
	dev, exists := m.devices[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("device not found: %s", name)
	}

	go m.connectDevice(dev)
	return nil
}

// Disconnect closes the connection to the named device.
func (m *Manager) Disconnect(name string) error {
	m.mu.RLock()
	dev, exists := m.devices[name]
	m.mu.RUnlock()

	if !exists {
		return nil
	}

	dev.mu.Lock()
	if dev.Client != nil {
		dev.Client.Close()
		dev.Client = nil
	}
	dev.Status = StatusDisconnected
	dev.LastError = nil
	dev.mu.Unlock()
	m.markStatusDirty()

	return nil
}

// GetDevice returns the managed device with the given name.
func (m *Manager) GetDevice(name string) *ManagedDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.devices[name]
}

// ListDevices returns all managed devices.
func (m *Manager) ListDevices() []*ManagedDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*ManagedDevice, 0, len(m.devices))
	for _, dev := range m.devices {
		result = append(result, dev)
	}
	return result
}

// Start begins background scanning for all devices.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return // Already running
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	for name, dev := range m.devices {
		worker := newDeviceWorker(dev, m, m.pollRate)
		m.workers[name] = worker
		worker.Start()
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.batchedUpdateLoop()

	m.wg.Add(1)
	go m.statsAggregatorLoop()
}

// Stop halts all background scanning.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}

	workers := make([]*deviceWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*deviceWorker)
	m.mu.Unlock()

	// Stop workers outside of lock
	for _, w := range workers {
		w.Stop()
	}

	m.wg.Wait()

	m.mu.Lock()
	m.ctx = nil
	m.cancel = nil
	m.mu.Unlock()
}

// batchedUpdateLoop aggregates changes and fires callbacks at a controlled
// rate.
func (m *Manager) batchedUpdateLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.batchInterval)
	defer ticker.Stop()

	var pending []FieldChange

	for {
		select {
		case <-m.ctx.Done():
			if len(pending) > 0 {
				m.flushFieldChanges(pending)
			}
			return

		case changes := <-m.changeChan:
			pending = append(pending, changes...)

		case <-ticker.C:
			if atomic.CompareAndSwapInt32(&m.statusDirty, 1, 0) {
				m.mu.RLock()
				fn := m.onChange
				m.mu.RUnlock()
				if fn != nil {
					fn()
				}
			}

			if len(pending) > 0 {
				m.flushFieldChanges(pending)
				pending = nil
			}
		}
	}
}

func (m *Manager) flushFieldChanges(changes []FieldChange) {
	m.mu.RLock()
	fn := m.onFieldChange
	m.mu.RUnlock()
	if fn != nil && len(changes) > 0 {
		fn(changes)
	}
}

func (m *Manager) statsAggregatorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.aggregateStats()
		}
	}
}

func (m *Manager) aggregateStats() {
	m.mu.RLock()
	workers := make([]*deviceWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.RUnlock()

	totalFields := 0
	totalChanges := 0
	var lastErr error

	for _, w := range workers {
		fields, changes, err := w.GetStats()
		totalFields += fields
		totalChanges += changes
		if err != nil {
			lastErr = err
		}
	}

	m.statsMu.Lock()
	m.lastScanStats = ScanStats{
		LastScanTime:  time.Now(),
		FieldsScanned: totalFields,
		ChangesFound:  totalChanges,
		LastError:     lastErr,
	}
	m.statsMu.Unlock()
}

// ReadField reads a single field from a connected device.
func (m *Manager) ReadField(deviceName, fieldName string) (display.FieldValue, error) {
	m.mu.RLock()
	dev, exists := m.devices[deviceName]
	m.mu.RUnlock()

	if !exists {
		return display.FieldValue{}, fmt.Errorf("device not found: %s", deviceName)
	}

	field, ok := display.FieldByName(fieldName)
	if !ok {
		return display.FieldValue{}, fmt.Errorf("unknown field: %s", fieldName)
	}

	dev.mu.RLock()
	client := dev.Client
	status := dev.Status
	dev.mu.RUnlock()

	if client == nil || status != StatusConnected {
		return display.FieldValue{}, fmt.Errorf("device not connected: %s", deviceName)
	}

	return client.ReadField(field), nil
}

// WriteField writes a payload to a field on a connected device.
func (m *Manager) WriteField(deviceName, fieldName string, payload []byte) error {
	m.mu.RLock()
	dev, exists := m.devices[deviceName]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("device not found: %s", deviceName)
	}

	field, ok := display.FieldByName(fieldName)
	if !ok {
		return fmt.Errorf("unknown field: %s", fieldName)
	}

	dev.mu.RLock()
	client := dev.Client
	status := dev.Status
	dev.mu.RUnlock()

	if client == nil || status != StatusConnected {
		return fmt.Errorf("device not connected: %s", deviceName)
	}

	return client.WriteField(field, payload)
}

// TriggerScan runs a scan for one device immediately, outside the ticker.
func (m *Manager) TriggerScan(name string) error {
	m.mu.RLock()
	worker, exists := m.workers[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("device not found: %s", name)
	}

	go worker.scan()
	return nil
}

// LoadFromConfig adds all devices from configuration.
func (m *Manager) LoadFromConfig(cfg *config.Config) {
	for i := range cfg.Devices {
		if err := m.AddDevice(&cfg.Devices[i]); err != nil {
			logging.DebugError("devman", cfg.Devices[i].Name, err)
		}
	}
}

// ConnectEnabled connects all devices marked as enabled.
func (m *Manager) ConnectEnabled() {
	m.mu.RLock()
	devs := make([]*ManagedDevice, 0)
	for _, dev := range m.devices {
		if dev.Config.Enabled {
			devs = append(devs, dev)
		}
	}
	m.mu.RUnlock()

	for _, dev := range devs {
		go m.connectDevice(dev)
	}
}

// DisconnectAll disconnects all devices.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.Disconnect(name)
	}
}

// GetScanStats returns the aggregated stats from all workers.
func (m *Manager) GetScanStats() ScanStats {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	return m.lastScanStats
}

// GetAllCurrentValues returns all cached field values for all devices.
// Used for the initial publish when a broker connects.
func (m *Manager) GetAllCurrentValues() []FieldChange {
	m.mu.RLock()
	devs := make([]*ManagedDevice, 0, len(m.devices))
	for _, dev := range m.devices {
		devs = append(devs, dev)
	}
	m.mu.RUnlock()

	var results []FieldChange
	for _, dev := range devs {
		dev.mu.RLock()
		name := dev.Config.Name
		if dev.Record != nil {
			for fname, fv := range dev.Record.Fields {
				if fv.Err == nil && !fv.Unavailable {
					results = append(results, FieldChange{Device: name, Field: fname, Value: fv.Value})
				}
			}
		}
		dev.mu.RUnlock()
	}
	return results
}
