package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sstallion/go-hid"

	"bikelink/logging"
)

// hidInit guards one-time hidapi initialization.
var hidInit sync.Once

// HID is a Transport over a local USB HID device, backed by hidapi.
type HID struct {
	mu       sync.Mutex
	path     string // Platform device path; preferred when set
	vendorID uint16
	prodID   uint16
	dev      *hid.Device
}

// HIDOption is a functional option for configuring the HID transport.
type HIDOption func(*HID)

// WithPath selects the device by platform path instead of VID/PID.
// Required when more than one display of the same model is attached.
func WithPath(path string) HIDOption {
	return func(t *HID) {
		t.path = path
	}
}

// NewHID creates a transport for the HID device with the given vendor and
// product IDs. The device is not opened until Open is called.
func NewHID(vendorID, productID uint16, opts ...HIDOption) *HID {
	t := &HID{
		vendorID: vendorID,
		prodID:   productID,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open opens the HID device handle.
func (t *HID) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return nil
	}

	hidInit.Do(func() { hid.Init() })

	var dev *hid.Device
	var err error
	switch {
	case t.path != "":
		dev, err = hid.OpenPath(t.path)
	case t.prodID == 0:
		// No product pinned: take the first attached device of the vendor.
		var found []DeviceInfo
		found, err = Discover(t.vendorID)
		if err == nil {
			if len(found) == 0 {
				err = fmt.Errorf("no device with vendor %04X attached", t.vendorID)
			} else {
				t.prodID = found[0].ProductID
				dev, err = hid.OpenPath(found[0].Path)
			}
		}
	default:
		dev, err = hid.Open(t.vendorID, t.prodID, "")
	}
	if err != nil {
		logging.DebugConnectError("hid", t.Describe(), err)
		return fmt.Errorf("failed to open HID device %s: %w", t.Describe(), err)
	}

	t.dev = dev
	logging.DebugConnectSuccess("hid", t.Describe(), "device opened")
	return nil
}

// Write sends one output report (report-ID byte included by the caller).
func (t *HID) Write(report []byte) (int, error) {
	t.mu.Lock()
	dev := t.dev
	t.mu.Unlock()

	if dev == nil {
		return 0, ErrNotOpen
	}

	n, err := dev.Write(report)
	if err != nil {
		return n, fmt.Errorf("HID write failed: %w", err)
	}
	return n, nil
}

// Read waits up to timeout for one input report.
// hidapi signals a timeout by returning zero bytes without an error; that is
// mapped to ErrReadTimeout so callers never need to inspect lengths.
func (t *HID) Read(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	dev := t.dev
	t.mu.Unlock()

	if dev == nil {
		return nil, ErrNotOpen
	}

	buf := make([]byte, ReportSize)
	n, err := dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return nil, ErrReadTimeout
		}
		return nil, fmt.Errorf("HID read failed: %w", err)
	}
	if n == 0 {
		return nil, ErrReadTimeout
	}
	return buf[:n], nil
}

// Close closes the device handle.
func (t *HID) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return nil
	}

	err := t.dev.Close()
	t.dev = nil
	logging.DebugDisconnect("hid", t.Describe(), "closed")
	return err
}

// Describe returns a human-readable description of the device.
func (t *HID) Describe() string {
	if t.path != "" {
		return fmt.Sprintf("hid %04X:%04X (%s)", t.vendorID, t.prodID, t.path)
	}
	return fmt.Sprintf("hid %04X:%04X", t.vendorID, t.prodID)
}

// DeviceInfo describes an attached HID device found by Discover.
type DeviceInfo struct {
	Path      string
	VendorID  uint16
	ProductID uint16
	Product   string
}

// Discover enumerates attached HID devices with the given vendor ID,
// optionally filtered to a set of known product IDs. Passing no product IDs
// returns every device of that vendor.
func Discover(vendorID uint16, productIDs ...uint16) ([]DeviceInfo, error) {
	hidInit.Do(func() { hid.Init() })

	known := make(map[uint16]bool, len(productIDs))
	for _, pid := range productIDs {
		known[pid] = true
	}

	var found []DeviceInfo
	err := hid.Enumerate(vendorID, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		if len(known) > 0 && !known[info.ProductID] {
			return nil
		}
		found = append(found, DeviceInfo{
			Path:      info.Path,
			VendorID:  info.VendorID,
			ProductID: info.ProductID,
			Product:   info.ProductStr,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("HID enumeration failed: %w", err)
	}

	logging.DebugLog("hid", "DISCOVER vendor %04X: %d device(s)", vendorID, len(found))
	return found, nil
}
