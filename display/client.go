package display

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"bikelink/logging"
	"bikelink/transport"
	"bikelink/uds"
)

var (
	// ErrNotReady is returned when a field operation is attempted before
	// Connect has completed the handshake.
	ErrNotReady = errors.New("session not ready")

	// ErrWriteRejected is returned when a write transaction resolves with a
	// response that does not acknowledge the write service.
	ErrWriteRejected = errors.New("write not acknowledged")
)

// ConnectionState tracks the session lifecycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	HandshakeInFlight
	Ready
)

func (s ConnectionState) String() string {
	switch s {
	case HandshakeInFlight:
		return "handshake"
	case Ready:
		return "ready"
	default:
		return "disconnected"
	}
}

// FieldValue is the per-field result of a read. A field either decoded,
// failed with an error, or timed out on an absent sub-system (Unavailable).
type FieldValue struct {
	Value       string `json:"value,omitempty"`
	Err         error  `json:"-"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

// Record is one full scan of a device: every field in the scan scope,
// whether it resolved or not.
type Record struct {
	Scope      Scope                 `json:"-"`
	Fields     map[string]FieldValue `json:"fields"`
	LastUpdate time.Time             `json:"lastUpdate"`
}

// Client is a diagnostic session over one transport. All operations
// serialize on an internal lock: the wire protocol has no request
// correlation, so at most one transaction may be in flight per transport.
type Client struct {
	mu               sync.Mutex
	tp               transport.Transport
	state            ConnectionState
	handshakeTimeout time.Duration
	fieldTimeout     time.Duration
}

type Option func(*Client)

// WithHandshakeTimeout overrides the handshake wait.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// WithFieldTimeout caps the per-field transaction wait below the field
// table's own timeouts. Zero keeps the table values.
func WithFieldTimeout(d time.Duration) Option {
	return func(c *Client) { c.fieldTimeout = d }
}

func New(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		tp:               t,
		handshakeTimeout: uds.DefaultHandshakeTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect opens the transport and performs the activation handshake. On any
// failure the transport is closed again and the session stays disconnected.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Ready {
		return nil
	}

	if err := c.tp.Open(); err != nil {
		c.state = Disconnected
		return fmt.Errorf("open %s: %w", c.tp.Describe(), err)
	}

	c.state = HandshakeInFlight
	if err := uds.PerformHandshake(c.tp, c.handshakeTimeout); err != nil {
		c.tp.Close()
		c.state = Disconnected
		return fmt.Errorf("handshake with %s: %w", c.tp.Describe(), err)
	}

	c.state = Ready
	logging.DebugConnect("display", c.tp.Describe())
	return nil
}

// Close tears the session down. Safe to call in any state.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Disconnected {
		return nil
	}
	c.state = Disconnected
	err := c.tp.Close()
	logging.DebugDisconnect("display", c.tp.Describe(), "session closed")
	return err
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == Ready
}

// ConnectionMode describes the session for status surfaces.
func (c *Client) ConnectionMode() string {
	return "display via " + c.tp.Describe()
}

func (c *Client) capTimeout(d time.Duration) time.Duration {
	if c.fieldTimeout > 0 && c.fieldTimeout < d {
		return c.fieldTimeout
	}
	return d
}

// ReadField runs one read transaction for the field and decodes the
// payload. A transaction timeout is not an error: it yields an Unavailable
// value, which for auxiliary groups means the sub-system is absent.
func (c *Client) ReadField(f Field) FieldValue {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Ready {
		return FieldValue{Err: ErrNotReady}
	}

	resp, err := uds.Execute(c.tp, uds.ServiceReadDataByIdentifier, f.ID, nil, c.capTimeout(f.Timeout))
	if err != nil {
		if errors.Is(err, uds.ErrTimeout) {
			logging.DebugLog("display", "%s: no response, marking unavailable", f.Name)
			return FieldValue{Unavailable: true}
		}
		return FieldValue{Err: err}
	}

	return FieldValue{Value: f.Decode(resp.DataAt(f.Offset))}
}

// WriteField runs one write transaction for the field. Success is judged by
// the response echoing the write service; anything else is a rejection.
func (c *Client) WriteField(f Field, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Ready {
		return ErrNotReady
	}

	resp, err := uds.Execute(c.tp, uds.ServiceWriteDataByIdentifier, f.ID, payload, c.capTimeout(f.Timeout))
	if err != nil {
		return err
	}
	// Write acknowledgements place the echoed service one byte earlier than
	// read responses do on some firmware, so check the service slot rather
	// than the code slot.
	if resp.ServiceID != uds.PositiveWriteResponse {
		return fmt.Errorf("%w: got service 0x%02X", ErrWriteRejected, resp.ServiceID)
	}
	return nil
}

// ReadAll scans every field in the scope and returns a complete record.
// Individual failures and absences land in their FieldValue; the scan
// itself never fails once the session is ready.
func (c *Client) ReadAll(scope Scope) (*Record, error) {
	if c.State() != Ready {
		return nil, ErrNotReady
	}

	rec := &Record{
		Scope:  scope,
		Fields: make(map[string]FieldValue),
	}
	for _, f := range Fields(scope) {
		rec.Fields[f.Name] = c.ReadField(f)
	}
	rec.LastUpdate = time.Now()
	return rec, nil
}
