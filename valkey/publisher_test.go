package valkey

import (
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"bikelink/config"
)

func TestJoinKey(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{"simple", []string{"bikelink", "bench", "fields", "serialNumber"}, "bikelink:bench:fields:serialNumber"},
		{"empty segment skipped", []string{"bikelink", "", "health"}, "bikelink:health"},
		{"leading colon trimmed", []string{":bikelink", "bench"}, "bikelink:bench"},
		{"trailing colon trimmed", []string{"bikelink:", "bench"}, "bikelink:bench"},
		{"only colons dropped", []string{":::", "bench"}, "bench"},
		{"single segment", []string{"bikelink"}, "bikelink"},
		{"no segments", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinKey(tt.segments...); got != tt.want {
				t.Errorf("joinKey(%v) = %q, want %q", tt.segments, got, tt.want)
			}
		})
	}
}

func TestNewPublisherNamespace(t *testing.T) {
	t.Run("without selector", func(t *testing.T) {
		p := NewPublisher(&config.ValkeyConfig{Name: "local"}, "bikelink")
		if p.namespace != "bikelink" {
			t.Errorf("namespace = %q", p.namespace)
		}
	})

	t.Run("with selector", func(t *testing.T) {
		p := NewPublisher(&config.ValkeyConfig{Name: "local", Selector: "workshop"}, "bikelink")
		if p.namespace != "bikelink:workshop" {
			t.Errorf("namespace = %q", p.namespace)
		}
	})
}

func TestPublisherAddress(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Address: "localhost:6379"}, "bikelink")
	if p.Address() != "redis://localhost:6379" {
		t.Errorf("Address = %q", p.Address())
	}

	tlsP := NewPublisher(&config.ValkeyConfig{Address: "localhost:6380", UseTLS: true}, "bikelink")
	if tlsP.Address() != "rediss://localhost:6380" {
		t.Errorf("TLS Address = %q", tlsP.Address())
	}
}

func TestPublishWhenStopped(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "local"}, "bikelink")

	if p.IsRunning() {
		t.Error("new publisher should not report running")
	}
	// Publishing while disconnected is a silent no-op, not an error.
	if err := p.Publish("bench", "serialNumber", "0x37FF"); err != nil {
		t.Errorf("Publish while stopped: %v", err)
	}
	if err := p.PublishHealth("bench", true, "Connected", ""); err != nil {
		t.Errorf("PublishHealth while stopped: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop on a never-started publisher: %v", err)
	}
}

func TestFieldMessageMarshal(t *testing.T) {
	msg := FieldMessage{
		Namespace: "bikelink",
		Device:    "bench",
		Field:     "serialNumber",
		Value:     "0x37FFD705564E313046442000",
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, f := range []string{"namespace", "device", "field", "value", "timestamp"} {
		if _, ok := decoded[f]; !ok {
			t.Errorf("missing field %q in %s", f, data)
		}
	}
}

func TestHealthMessageMarshal(t *testing.T) {
	t.Run("error omitted when empty", func(t *testing.T) {
		msg := HealthMessage{
			Namespace: "bikelink",
			Device:    "bench",
			Online:    true,
			Status:    "Connected",
			Timestamp: time.Now().UTC(),
		}
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded map[string]interface{}
		json.Unmarshal(data, &decoded)
		if _, ok := decoded["error"]; ok {
			t.Error("empty error should be omitted")
		}
	})

	t.Run("error included when set", func(t *testing.T) {
		msg := HealthMessage{Device: "bench", Status: "Error", Error: "device stopped responding"}
		data, _ := json.Marshal(msg)
		var decoded map[string]interface{}
		json.Unmarshal(data, &decoded)
		if decoded["error"] != "device stopped responding" {
			t.Errorf("error field = %v", decoded["error"])
		}
	})
}

func TestWriteRequestRoundTrip(t *testing.T) {
	raw := `{"namespace":"bikelink","device":"bench","field":"currentDate","payload":"180617"}`

	var req WriteRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Device != "bench" || req.Field != "currentDate" {
		t.Errorf("request = %+v", req)
	}

	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		t.Fatalf("hex decode: %v", err)
	}
	if len(payload) != 3 || payload[0] != 0x18 || payload[1] != 0x06 || payload[2] != 0x17 {
		t.Errorf("payload = % X", payload)
	}
}

func TestWriteQueueKeys(t *testing.T) {
	p := NewPublisher(&config.ValkeyConfig{Name: "local", Selector: "workshop"}, "bikelink")

	queueKey := joinKey(p.namespace, "writes")
	if queueKey != "bikelink:workshop:writes" {
		t.Errorf("queue key = %q", queueKey)
	}
	responseChannel := joinKey(p.namespace, "write", "responses")
	if responseChannel != "bikelink:workshop:write:responses" {
		t.Errorf("response channel = %q", responseChannel)
	}
}
