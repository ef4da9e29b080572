package evaluator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testPayload() Payload {
	return Payload{
		EventID:      "5f0c9b7e-1a2b-4c3d-8e9f-001122334455",
		Timestamp:    1705312800000,
		OccurredAt:   "2024-01-15T10:00:00Z",
		Service:      "billing",
		Event:        "invoice.paid",
		Organization: "0b7c8a52-6e1d-4f7a-9d3e-2c4b5a6f7e81",
		AccessMode:   "Public",
	}
}

func TestHTTPSender_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPSender()
	result := sender.Send(context.Background(), Request{
		URL:       server.URL,
		Secret:    "test-secret",
		Timeout:   5 * time.Second,
		RequestID: "req-1",
		Payload:   testPayload(),
	})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", result.StatusCode)
	}
	if result.Duration <= 0 {
		t.Error("duration should be positive")
	}
	if !result.IsSuccess() || result.Err() != nil {
		t.Error("200 should be a success")
	}
}

func TestHTTPSender_RequestHeaders(t *testing.T) {
	var gotHeaders http.Header
	var gotMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPSender()
	sender.Send(context.Background(), Request{
		URL:       server.URL,
		Secret:    "my-secret",
		Timeout:   5 * time.Second,
		RequestID: "req-123",
		Payload:   testPayload(),
	})

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if id := gotHeaders.Get(HeaderEventID); id != testPayload().EventID {
		t.Errorf("%s = %q, want %s", HeaderEventID, id, testPayload().EventID)
	}
	if id := gotHeaders.Get(HeaderRequestID); id != "req-123" {
		t.Errorf("%s = %q, want req-123", HeaderRequestID, id)
	}
	if sig := gotHeaders.Get(HeaderSignature); sig == "" {
		t.Errorf("%s should not be empty", HeaderSignature)
	}
}

func TestHTTPSender_NoSecretNoSignature(t *testing.T) {
	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	NewHTTPSender().Send(context.Background(), Request{URL: server.URL, Payload: testPayload()})

	if gotSignature != "" {
		t.Errorf("unsigned request should carry no signature, got %q", gotSignature)
	}
}

func TestHTTPSender_PayloadBody(t *testing.T) {
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	want := testPayload()
	want.Context = map[string]string{"invoice": "inv-42"}

	NewHTTPSender().Send(context.Background(), Request{
		URL:     server.URL,
		Secret:  "secret",
		Timeout: 5 * time.Second,
		Payload: want,
	})

	var got Payload
	if err := json.Unmarshal(gotBody, &got); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if got.EventID != want.EventID || got.Service != want.Service || got.Event != want.Event {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
	if got.Timestamp != want.Timestamp {
		t.Errorf("Timestamp = %d, want %d", got.Timestamp, want.Timestamp)
	}
	if got.Context["invoice"] != "inv-42" {
		t.Errorf("Context = %v, want invoice=inv-42", got.Context)
	}
}

func TestHTTPSender_SignatureCorrect(t *testing.T) {
	var gotSignature string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	secret := "my-evaluator-secret"

	NewHTTPSender().Send(context.Background(), Request{
		URL:     server.URL,
		Secret:  secret,
		Timeout: 5 * time.Second,
		Payload: testPayload(),
	})

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	expectedSig := hex.EncodeToString(mac.Sum(nil))

	if gotSignature != expectedSig {
		t.Errorf("signature mismatch:\n  got:  %s\n  want: %s", gotSignature, expectedSig)
	}
}

func TestHTTPSender_DefaultTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	result := NewHTTPSender().Send(context.Background(), Request{
		URL:     server.URL,
		Timeout: 0, // should use default 30s
		Payload: testPayload(),
	})

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", result.StatusCode)
	}
}

func TestHTTPSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	result := NewHTTPSender().Send(context.Background(), Request{
		URL:     server.URL,
		Timeout: 50 * time.Millisecond,
		Payload: testPayload(),
	})

	if result.Error == nil {
		t.Fatal("expected timeout error")
	}
}

func TestHTTPSender_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result := NewHTTPSender().Send(context.Background(), Request{
		URL:     server.URL,
		Secret:  "secret",
		Timeout: 5 * time.Second,
		Payload: testPayload(),
	})

	if result.Error != nil {
		t.Errorf("server error should not set Error field, got: %v", result.Error)
	}
	if result.StatusCode != 500 {
		t.Errorf("expected status 500, got %d", result.StatusCode)
	}
	var statusErr *StatusError
	if err := result.Err(); err == nil {
		t.Error("500 should produce an error")
	} else if !errors.As(err, &statusErr) || statusErr.StatusCode != 500 {
		t.Errorf("expected StatusError 500, got %v", err)
	}
}

func TestHTTPSender_ConnectionError(t *testing.T) {
	result := NewHTTPSender().Send(context.Background(), Request{
		URL:     "http://localhost:1", // unlikely to be listening
		Timeout: 1 * time.Second,
		Payload: testPayload(),
	})

	if result.Error == nil {
		t.Error("expected connection error, got nil")
	}
}

func TestVerifySignature_Valid(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event_id":"e1","service":"billing"}`)

	sig := computeSignature(secret, body)

	if !VerifySignature(secret, body, sig) {
		t.Error("VerifySignature should return true for valid signature")
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"event_id":"e1"}`)
	sig := computeSignature("correct-secret", body)

	if VerifySignature("wrong-secret", body, sig) {
		t.Error("VerifySignature should return false for wrong secret")
	}
}

func TestVerifySignature_TamperedBody(t *testing.T) {
	secret := "test-secret"
	sig := computeSignature(secret, []byte(`{"event_id":"e1"}`))

	if VerifySignature(secret, []byte(`{"event_id":"e2"}`), sig) {
		t.Error("VerifySignature should return false for tampered body")
	}
}

func TestComputeSignature_Deterministic(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"event_id":"e1","service":"billing"}`)

	sig1 := computeSignature(secret, body)
	sig2 := computeSignature(secret, body)

	if sig1 != sig2 {
		t.Errorf("computeSignature should be deterministic: %s != %s", sig1, sig2)
	}
	if _, err := hex.DecodeString(sig1); err != nil {
		t.Errorf("signature should be valid hex: %v", err)
	}
	// SHA256 produces 32 bytes = 64 hex chars
	if len(sig1) != 64 {
		t.Errorf("signature length should be 64 hex chars, got %d", len(sig1))
	}
}
