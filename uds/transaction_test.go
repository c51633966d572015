package uds

import (
	"errors"
	"testing"
	"time"

	"bikelink/transport"
)

// scriptedTransport replays canned frames, returning ErrReadTimeout once the
// script is exhausted. It records everything written.
type scriptedTransport struct {
	writes [][]byte
	reads  [][]byte
}

func (s *scriptedTransport) Open() error { return nil }
func (s *scriptedTransport) Close() error {
	return nil
}
func (s *scriptedTransport) Describe() string { return "scripted" }

func (s *scriptedTransport) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	s.writes = append(s.writes, cp)
	return len(p), nil
}

func (s *scriptedTransport) Read(timeout time.Duration) ([]byte, error) {
	if len(s.reads) == 0 {
		return nil, transport.ErrReadTimeout
	}
	frame := s.reads[0]
	s.reads = s.reads[1:]
	return frame, nil
}

func responseFrame(dataLength, serviceID, code byte, data []byte) []byte {
	frame := make([]byte, FrameSize)
	frame[0] = 0x01
	frame[3] = dataLength
	frame[4] = serviceID
	frame[5] = code
	copy(frame[6:], data)
	return frame
}

func TestExecute(t *testing.T) {
	t.Run("successful read", func(t *testing.T) {
		tp := &scriptedTransport{
			reads: [][]byte{responseFrame(0x0C, 0x62, PositiveReadResponse, []byte{0xAA})},
		}

		resp, err := Execute(tp, ServiceReadDataByIdentifier, 0xF18C, nil, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if resp.Code != PositiveReadResponse {
			t.Errorf("Code = %#02x", resp.Code)
		}

		if len(tp.writes) != 1 {
			t.Fatalf("wrote %d frames, want 1", len(tp.writes))
		}
		w := tp.writes[0]
		if len(w) != FrameSize+1 || w[0] != ReportID {
			t.Errorf("written report shape wrong: len=%d first=%#02x", len(w), w[0])
		}
		if w[6] != 0x22 || w[7] != 0xF1 || w[8] != 0x8C {
			t.Errorf("request bytes = % X", w[5:9])
		}
	})

	t.Run("timeout when no frame arrives", func(t *testing.T) {
		tp := &scriptedTransport{}

		start := time.Now()
		_, err := Execute(tp, ServiceReadDataByIdentifier, 0xF191, nil, 50*time.Millisecond)
		elapsed := time.Since(start)

		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("err = %v, want ErrTimeout", err)
		}
		if elapsed < 50*time.Millisecond {
			t.Errorf("returned after %v, before the deadline", elapsed)
		}
		if elapsed > 500*time.Millisecond {
			t.Errorf("took %v, poll loop not honoring deadline", elapsed)
		}
	})

	t.Run("negative response", func(t *testing.T) {
		tp := &scriptedTransport{
			reads: [][]byte{responseFrame(0x03, 0x7F, NegativeResponse, []byte{0x22, CodeConditionsNotCorrect})},
		}

		_, err := Execute(tp, ServiceReadDataByIdentifier, 0xF18C, nil, 100*time.Millisecond)

		var nre *NegativeResponseError
		if !errors.As(err, &nre) {
			t.Fatalf("err = %v, want NegativeResponseError", err)
		}
		if nre.Service != 0x22 || nre.Code != CodeConditionsNotCorrect {
			t.Errorf("negative response = service %#02x code %#02x", nre.Service, nre.Code)
		}
	})

	t.Run("empty positive read response", func(t *testing.T) {
		tp := &scriptedTransport{
			reads: [][]byte{responseFrame(0x00, 0x62, PositiveReadResponse, nil)},
		}

		_, err := Execute(tp, ServiceReadDataByIdentifier, 0xF18C, nil, 100*time.Millisecond)
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("err = %v, want ErrEmptyResponse", err)
		}
	})

	t.Run("malformed frame", func(t *testing.T) {
		bad := make([]byte, FrameSize)
		bad[0] = 0xFF
		tp := &scriptedTransport{reads: [][]byte{bad}}

		_, err := Execute(tp, ServiceReadDataByIdentifier, 0xF18C, nil, 100*time.Millisecond)
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("err = %v, want ErrMalformedFrame", err)
		}
	})

	t.Run("transport failure surfaces as TransportError", func(t *testing.T) {
		tp := &failingTransport{err: errors.New("device unplugged")}

		_, err := Execute(tp, ServiceReadDataByIdentifier, 0xF18C, nil, 100*time.Millisecond)

		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("err = %v, want TransportError", err)
		}
	})
}

type failingTransport struct {
	err error
}

func (f *failingTransport) Open() error      { return nil }
func (f *failingTransport) Close() error     { return nil }
func (f *failingTransport) Describe() string { return "failing" }
func (f *failingTransport) Write(p []byte) (int, error) {
	return len(p), nil
}
func (f *failingTransport) Read(timeout time.Duration) ([]byte, error) {
	return nil, f.err
}

func TestPerformHandshake(t *testing.T) {
	ack := make([]byte, FrameSize)
	copy(ack, []byte{0x00, 0x01, 0x01, 0x00})

	t.Run("acknowledged", func(t *testing.T) {
		tp := &scriptedTransport{reads: [][]byte{ack}}

		if err := PerformHandshake(tp, 100*time.Millisecond); err != nil {
			t.Fatalf("PerformHandshake: %v", err)
		}

		if len(tp.writes) != 1 {
			t.Fatalf("wrote %d frames, want exactly 1 (no retries)", len(tp.writes))
		}
		w := tp.writes[0]
		if w[0] != ReportID || w[1] != 0x00 || w[2] != 0x00 || w[3] != 0x01 || w[4] != 0x01 {
			t.Errorf("handshake report = % X", w[:5])
		}
	})

	t.Run("timeout", func(t *testing.T) {
		tp := &timeoutTransport{}

		err := PerformHandshake(tp, 50*time.Millisecond)
		if !errors.Is(err, ErrHandshakeTimeout) {
			t.Errorf("err = %v, want ErrHandshakeTimeout", err)
		}
		if tp.writeCount != 1 {
			t.Errorf("handshake written %d times, must never retry", tp.writeCount)
		}
	})

	t.Run("wrong acknowledgement", func(t *testing.T) {
		bad := make([]byte, FrameSize)
		copy(bad, []byte{0x00, 0x01, 0x00, 0x00})
		tp := &scriptedTransport{reads: [][]byte{bad}}

		if err := PerformHandshake(tp, 100*time.Millisecond); !errors.Is(err, ErrHandshakeRejected) {
			t.Errorf("err = %v, want ErrHandshakeRejected", err)
		}
	})
}

type timeoutTransport struct {
	writeCount int
}

func (tt *timeoutTransport) Open() error      { return nil }
func (tt *timeoutTransport) Close() error     { return nil }
func (tt *timeoutTransport) Describe() string { return "timeout" }
func (tt *timeoutTransport) Write(p []byte) (int, error) {
	tt.writeCount++
	return len(p), nil
}
func (tt *timeoutTransport) Read(timeout time.Duration) ([]byte, error) {
	time.Sleep(timeout)
	return nil, transport.ErrReadTimeout
}
