// Package api provides the REST interface to managed displays.
package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"bikelink/config"
	"bikelink/devman"
	"bikelink/display"
	"bikelink/transport"
)

// Managers provides access to shared backend managers.
type Managers interface {
	GetConfig() *config.Config
	GetConfigPath() string
	GetDevMan() *devman.Manager
}

// DeviceResponse is the JSON response for device info.
type DeviceResponse struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Status    string `json:"status"`
	Mode      string `json:"mode,omitempty"`
	Scope     string `json:"scope"`
	Error     string `json:"error,omitempty"`
}

// FieldResponse is the JSON response for a field value.
type FieldResponse struct {
	Device      string `json:"device"`
	Field       string `json:"field"`
	Value       string `json:"value,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RecordResponse is the JSON response for a full device record.
type RecordResponse struct {
	Device     string                   `json:"device"`
	Fields     map[string]FieldResponse `json:"fields"`
	LastUpdate string                   `json:"lastUpdate,omitempty"`
}

// HealthResponse is the JSON structure for device health status.
type HealthResponse struct {
	Device    string `json:"device"`
	Online    bool   `json:"online"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LastScan  string `json:"lastScan,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteRequest is the JSON request for writing a field. Payload is the raw
// identifier payload, hex-encoded.
type WriteRequest struct {
	Field   string `json:"field"`
	Payload string `json:"payload"`
}

// WriteResponse is the JSON response after writing a field.
type WriteResponse struct {
	Device    string `json:"device"`
	Field     string `json:"field"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// DiscoveredResponse is the JSON response for one attached display found
// during HID enumeration.
type DiscoveredResponse struct {
	Path      string `json:"path"`
	VendorID  uint16 `json:"vendorId"`
	ProductID uint16 `json:"productId"`
	Model     string `json:"model,omitempty"`
}

// handlers holds the API handler functions.
type handlers struct {
	managers Managers
}

// NewRouter creates the REST API router.
func NewRouter(managers Managers) chi.Router {
	r := chi.NewRouter()
	h := &handlers{managers: managers}

	// Root - list devices
	r.Get("/", h.handleListDevices)

	// Enumerate attached displays not yet configured
	r.Get("/discover", h.handleDiscover)

	// Device-specific endpoints
	r.Route("/{device}", func(r chi.Router) {
		r.Get("/", h.handleDeviceDetails)
		r.Get("/health", h.handleDeviceHealth)
		r.Get("/record", h.handleRecord)
		r.Get("/fields/{field}", h.handleSingleField)
		r.Post("/scan", h.handleScan)
		r.Post("/write", h.handleWrite)
	})

	return r
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *handlers) deviceFromRequest(r *http.Request) *devman.ManagedDevice {
	name := chi.URLParam(r, "device")
	name, _ = url.PathUnescape(name)
	return h.managers.GetDevMan().GetDevice(name)
}

func deviceResponse(dev *devman.ManagedDevice) DeviceResponse {
	resp := DeviceResponse{
		Name:      dev.Config.Name,
		Transport: dev.Config.Transport,
		Status:    dev.GetStatus().String(),
		Scope:     dev.Scope.String(),
	}
	if resp.Transport == "" {
		resp.Transport = "hid"
	}
	if dev.GetStatus() == devman.StatusConnected {
		resp.Mode = dev.GetConnectionMode()
	}
	if err := dev.GetError(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (h *handlers) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := h.managers.GetDevMan().ListDevices()
	response := make([]DeviceResponse, 0, len(devices))
	for _, dev := range devices {
		response = append(response, deviceResponse(dev))
	}
	h.writeJSON(w, response)
}

func (h *handlers) handleDiscover(w http.ResponseWriter, r *http.Request) {
	found, err := transport.Discover(display.VendorID, display.ProductIDs()...)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]DiscoveredResponse, 0, len(found))
	for _, d := range found {
		response = append(response, DiscoveredResponse{
			Path:      d.Path,
			VendorID:  d.VendorID,
			ProductID: d.ProductID,
			Model:     display.ProductName(d.ProductID),
		})
	}
	h.writeJSON(w, response)
}

func (h *handlers) handleDeviceDetails(w http.ResponseWriter, r *http.Request) {
	dev := h.deviceFromRequest(r)
	if dev == nil {
		h.writeError(w, http.StatusNotFound, "device not found")
		return
	}
	h.writeJSON(w, deviceResponse(dev))
}

func (h *handlers) handleDeviceHealth(w http.ResponseWriter, r *http.Request) {
	dev := h.deviceFromRequest(r)
	if dev == nil {
		h.writeError(w, http.StatusNotFound, "device not found")
		return
	}

	status := dev.GetStatus()
	resp := HealthResponse{
		Device:    dev.Config.Name,
		Online:    status == devman.StatusConnected,
		Status:    status.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := dev.GetError(); err != nil {
		resp.Error = err.Error()
	}
	if rec := dev.GetRecord(); rec != nil {
		resp.LastScan = rec.LastUpdate.UTC().Format(time.RFC3339)
	}

	h.writeJSON(w, resp)
}

func (h *handlers) handleRecord(w http.ResponseWriter, r *http.Request) {
	dev := h.deviceFromRequest(r)
	if dev == nil {
		h.writeError(w, http.StatusNotFound, "device not found")
		return
	}

	rec := dev.GetRecord()
	if rec == nil {
		h.writeError(w, http.StatusNotFound, "no scan data yet")
		return
	}

	resp := RecordResponse{
		Device:     dev.Config.Name,
		Fields:     make(map[string]FieldResponse, len(rec.Fields)),
		LastUpdate: rec.LastUpdate.UTC().Format(time.RFC3339),
	}
	for name, fv := range rec.Fields {
		fr := FieldResponse{
			Device:      dev.Config.Name,
			Field:       name,
			Value:       fv.Value,
			Unavailable: fv.Unavailable,
		}
		if fv.Err != nil {
			fr.Error = fv.Err.Error()
		}
		resp.Fields[name] = fr
	}

	h.writeJSON(w, resp)
}

func (h *handlers) handleSingleField(w http.ResponseWriter, r *http.Request) {
	dev := h.deviceFromRequest(r)
	if dev == nil {
		h.writeError(w, http.StatusNotFound, "device not found")
		return
	}

	fieldName := chi.URLParam(r, "field")
	fieldName, _ = url.PathUnescape(fieldName)

	// Serve the cached value when a scan has already covered the field
	if rec := dev.GetRecord(); rec != nil {
		if fv, ok := rec.Fields[fieldName]; ok {
			resp := FieldResponse{
				Device:      dev.Config.Name,
				Field:       fieldName,
				Value:       fv.Value,
				Unavailable: fv.Unavailable,
			}
			if fv.Err != nil {
				resp.Error = fv.Err.Error()
			}
			h.writeJSON(w, resp)
			return
		}
	}

	// No cached value; read from the device directly
	fv, err := h.managers.GetDevMan().ReadField(dev.Config.Name, fieldName)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	resp := FieldResponse{
		Device:      dev.Config.Name,
		Field:       fieldName,
		Value:       fv.Value,
		Unavailable: fv.Unavailable,
	}
	if fv.Err != nil {
		resp.Error = fv.Err.Error()
	}
	h.writeJSON(w, resp)
}

func (h *handlers) handleScan(w http.ResponseWriter, r *http.Request) {
	dev := h.deviceFromRequest(r)
	if dev == nil {
		h.writeError(w, http.StatusNotFound, "device not found")
		return
	}

	if err := h.managers.GetDevMan().TriggerScan(dev.Config.Name); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, map[string]string{"status": "scan triggered"})
}

func (h *handlers) handleWrite(w http.ResponseWriter, r *http.Request) {
	dev := h.deviceFromRequest(r)
	if dev == nil {
		h.writeError(w, http.StatusNotFound, "device not found")
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	resp := WriteResponse{
		Device:    dev.Config.Name,
		Field:     req.Field,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		resp.Error = "invalid payload hex: " + err.Error()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(resp)
		return
	}

	if err := h.managers.GetDevMan().WriteField(dev.Config.Name, req.Field, payload); err != nil {
		resp.Error = err.Error()
		h.writeJSON(w, resp)
		return
	}

	resp.Success = true
	h.writeJSON(w, resp)
}
