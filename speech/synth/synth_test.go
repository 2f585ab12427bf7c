package synth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kratos0080/Sonoria-sub001/speech"
)

func TestMockDeterministic(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	a, err := m.Synthesize(ctx, "hello world", speech.SynthesisOptions{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Synthesize(ctx, "hello world", speech.SynthesisOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Error("same text should produce same-sized audio")
	}
	if len(a) != len([]rune("hello world"))*64 {
		t.Errorf("unexpected audio size %d", len(a))
	}
	if m.CallCount() != 2 {
		t.Errorf("expected 2 calls, got %d", m.CallCount())
	}
}

func TestMockScriptedFailure(t *testing.T) {
	m := NewMock()
	boom := errors.New("boom")
	m.SetShouldFail(true, boom)

	if _, err := m.Synthesize(context.Background(), "text", speech.SynthesisOptions{}); !errors.Is(err, boom) {
		t.Errorf("expected scripted error, got %v", err)
	}

	m.SetShouldFail(false, nil)
	if _, err := m.Synthesize(context.Background(), "text", speech.SynthesisOptions{}); err != nil {
		t.Errorf("expected success after reset, got %v", err)
	}
}

func TestMockHonorsContext(t *testing.T) {
	m := NewMock()
	m.SetDelay(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := m.Synthesize(ctx, "text", speech.SynthesisOptions{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestFallbackUsesPrimary(t *testing.T) {
	primary := NewMock()
	backup := NewMock()
	f, err := NewFallback(primary, backup, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.Synthesize(context.Background(), "text", speech.SynthesisOptions{}); err != nil {
		t.Fatal(err)
	}
	if primary.CallCount() != 1 || backup.CallCount() != 0 {
		t.Errorf("expected primary only: primary=%d backup=%d", primary.CallCount(), backup.CallCount())
	}
}

func TestFallbackDegradesOnFailure(t *testing.T) {
	primary := NewMock()
	primary.SetShouldFail(true, errors.New("down"))
	backup := NewMock()
	f, err := NewFallback(primary, backup, nil)
	if err != nil {
		t.Fatal(err)
	}

	audio, err := f.Synthesize(context.Background(), "text", speech.SynthesisOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(audio) == 0 {
		t.Error("fallback returned no audio")
	}
	if backup.CallCount() != 1 {
		t.Errorf("expected one fallback call, got %d", backup.CallCount())
	}
}

func TestFallbackSwitchesPermanently(t *testing.T) {
	primary := NewMock()
	primary.SetShouldFail(true, errors.New("down"))
	backup := NewMock()
	f, err := NewFallback(primary, backup, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < DefaultMaxFailures+2; i++ {
		if _, err := f.Synthesize(context.Background(), "text", speech.SynthesisOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	// After the switch the primary stops being consulted.
	if primary.CallCount() != DefaultMaxFailures {
		t.Errorf("primary called %d times, want %d", primary.CallCount(), DefaultMaxFailures)
	}
	if got := f.Name(); got != "fallback(mock)" {
		t.Errorf("unexpected name after switch: %s", got)
	}
}

func TestFallbackBothFail(t *testing.T) {
	primary := NewMock()
	primary.SetShouldFail(true, errors.New("down"))
	backup := NewMock()
	backup.SetShouldFail(true, errors.New("also down"))
	f, err := NewFallback(primary, backup, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.Synthesize(context.Background(), "text", speech.SynthesisOptions{}); !errors.Is(err, speech.ErrSynthesizerFailure) {
		t.Errorf("expected ErrSynthesizerFailure, got %v", err)
	}
}

func TestHTTPServiceSynthesize(t *testing.T) {
	var gotReq synthesisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing auth header, got %q", got)
		}
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	s, err := NewHTTPService(HTTPConfig{
		Endpoint:       srv.URL,
		APIKey:         "secret",
		RequestsPerSec: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	audio, err := s.Synthesize(context.Background(), "Hello there.", speech.SynthesisOptions{
		Voice: "v1", Format: "pcm", Speed: 1.25,
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(audio) != "audio-bytes" {
		t.Errorf("wrong audio: %q", audio)
	}
	if gotReq.Text != "Hello there." || gotReq.Voice != "v1" || gotReq.Speed != 1.25 {
		t.Errorf("wrong request: %+v", gotReq)
	}
}

func TestHTTPServiceRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewHTTPService(HTTPConfig{
		Endpoint:       srv.URL,
		RetryAttempts:  2,
		RetryDelay:     time.Millisecond,
		RequestsPerSec: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Synthesize(context.Background(), "text", speech.SynthesisOptions{}); !errors.Is(err, speech.ErrSynthesisFailed) {
		t.Errorf("expected ErrSynthesisFailed, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestHTTPServiceRecoversOnRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "transient", http.StatusBadGateway)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	s, err := NewHTTPService(HTTPConfig{
		Endpoint:       srv.URL,
		RetryDelay:     time.Millisecond,
		RequestsPerSec: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}

	audio, err := s.Synthesize(context.Background(), "text", speech.SynthesisOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if string(audio) != "recovered" {
		t.Errorf("wrong audio: %q", audio)
	}
}

func TestHTTPServiceRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPService(HTTPConfig{}); err == nil {
		t.Error("expected error without endpoint")
	}
}
