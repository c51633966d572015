package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bikelink/config"
	"bikelink/devman"
	"bikelink/display"
)

type testManagers struct {
	cfg    *config.Config
	devMan *devman.Manager
}

func (m *testManagers) GetConfig() *config.Config  { return m.cfg }
func (m *testManagers) GetConfigPath() string      { return "/tmp/test-config.yaml" }
func (m *testManagers) GetDevMan() *devman.Manager { return m.devMan }

func newTestServer(t *testing.T) (*Server, *devman.Manager) {
	t.Helper()
	cfg := config.DefaultConfig()
	dm := devman.NewManager(time.Minute)
	srv := NewServer(&cfg.Web, &testManagers{cfg: cfg, devMan: dm})
	return srv, dm
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestListDevices(t *testing.T) {
	srv, dm := newTestServer(t)

	t.Run("empty list", func(t *testing.T) {
		rec := doRequest(srv, "GET", "/api/", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var devices []DeviceResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(devices) != 0 {
			t.Errorf("devices = %+v, want empty", devices)
		}
	})

	t.Run("registered device", func(t *testing.T) {
		dm.AddDevice(&config.DeviceConfig{Name: "bench", Scope: "extended"})

		rec := doRequest(srv, "GET", "/api/", "")
		var devices []DeviceResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &devices); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(devices) != 1 {
			t.Fatalf("devices = %+v", devices)
		}
		d := devices[0]
		if d.Name != "bench" || d.Status != "Disconnected" || d.Scope != "extended" {
			t.Errorf("device = %+v", d)
		}
		if d.Transport != "hid" {
			t.Errorf("empty transport should surface as %q, got %q", "hid", d.Transport)
		}
	})
}

func TestDeviceDetails(t *testing.T) {
	srv, dm := newTestServer(t)
	dm.AddDevice(&config.DeviceConfig{Name: "bench"})

	rec := doRequest(srv, "GET", "/api/bench", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var d DeviceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Name != "bench" {
		t.Errorf("device = %+v", d)
	}

	t.Run("unknown device", func(t *testing.T) {
		rec := doRequest(srv, "GET", "/api/ghost", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestDeviceHealth(t *testing.T) {
	srv, dm := newTestServer(t)
	dm.AddDevice(&config.DeviceConfig{Name: "bench"})

	rec := doRequest(srv, "GET", "/api/bench/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var h HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Device != "bench" || h.Online || h.Status != "Disconnected" {
		t.Errorf("health = %+v", h)
	}
	if h.Timestamp == "" {
		t.Error("health response missing timestamp")
	}
}

func TestRecordEndpoint(t *testing.T) {
	srv, dm := newTestServer(t)
	dm.AddDevice(&config.DeviceConfig{Name: "bench"})

	t.Run("no scan yet", func(t *testing.T) {
		rec := doRequest(srv, "GET", "/api/bench/record", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404 before the first scan", rec.Code)
		}
	})

	t.Run("cached record served", func(t *testing.T) {
		dev := dm.GetDevice("bench")
		dev.Record = &display.Record{
			Scope: display.ScopePrimary,
			Fields: map[string]display.FieldValue{
				"serialNumber": {Value: "0x37FF"},
				"currentTime":  {Unavailable: true},
			},
			LastUpdate: time.Now(),
		}

		rec := doRequest(srv, "GET", "/api/bench/record", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp RecordResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Fields["serialNumber"].Value != "0x37FF" {
			t.Errorf("serialNumber = %+v", resp.Fields["serialNumber"])
		}
		if !resp.Fields["currentTime"].Unavailable {
			t.Error("currentTime should be flagged unavailable")
		}
	})
}

func TestSingleField(t *testing.T) {
	srv, dm := newTestServer(t)
	dm.AddDevice(&config.DeviceConfig{Name: "bench"})

	t.Run("cached value", func(t *testing.T) {
		dev := dm.GetDevice("bench")
		dev.Record = &display.Record{
			Fields: map[string]display.FieldValue{
				"softwareVersion": {Value: "1.2.3.4"},
			},
		}

		rec := doRequest(srv, "GET", "/api/bench/fields/softwareVersion", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var fr FieldResponse
		json.Unmarshal(rec.Body.Bytes(), &fr)
		if fr.Value != "1.2.3.4" {
			t.Errorf("field = %+v", fr)
		}
	})

	t.Run("uncached field on disconnected device", func(t *testing.T) {
		rec := doRequest(srv, "GET", "/api/bench/fields/hardwareVersion", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestWriteEndpoint(t *testing.T) {
	srv, dm := newTestServer(t)
	dm.AddDevice(&config.DeviceConfig{Name: "bench"})

	t.Run("bad hex payload", func(t *testing.T) {
		rec := doRequest(srv, "POST", "/api/bench/write", `{"field":"currentTime","payload":"zz"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("bad json", func(t *testing.T) {
		rec := doRequest(srv, "POST", "/api/bench/write", `{notjson`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("disconnected device reports failure", func(t *testing.T) {
		rec := doRequest(srv, "POST", "/api/bench/write", `{"field":"currentTime","payload":"0e1e"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp WriteResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Success {
			t.Error("write to a disconnected device cannot succeed")
		}
		if resp.Error == "" {
			t.Error("failure response should carry an error message")
		}
	})

	t.Run("unknown device", func(t *testing.T) {
		rec := doRequest(srv, "POST", "/api/ghost/write", `{"field":"currentTime","payload":"0e1e"}`)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestScanEndpoint(t *testing.T) {
	srv, dm := newTestServer(t)
	dm.AddDevice(&config.DeviceConfig{Name: "bench"})

	// Without a running manager there is no worker, so the trigger fails.
	rec := doRequest(srv, "POST", "/api/bench/scan", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 with no worker running", rec.Code)
	}

	dm.Start()
	defer dm.Stop()

	rec = doRequest(srv, "POST", "/api/bench/scan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "scan triggered" {
		t.Errorf("response = %v", resp)
	}
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("OPTIONS", "/api/", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("CORS origin header = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
