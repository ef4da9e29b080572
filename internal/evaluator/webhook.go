package evaluator

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Header names set on every evaluation request.
const (
	HeaderEventID   = "X-Triggers-Event-ID"
	HeaderRequestID = "X-Triggers-Request-ID"
	HeaderSignature = "X-Triggers-Signature"
)

const (
	defaultTimeout = 30 * time.Second

	// maxDrainBytes bounds how much of a response body is read so the
	// connection can be reused.
	maxDrainBytes = 64 << 10
)

type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender() *HTTPSender {
	return &HTTPSender{
		client: &http.Client{},
	}
}

// NewHTTPSenderWithClient uses client instead of a zero http.Client.
func NewHTTPSenderWithClient(client *http.Client) *HTTPSender {
	return &HTTPSender{client: client}
}

// Send posts the evaluation payload with an HMAC signature of the body.
// A non-2xx response is reported through StatusCode, not Error.
func (s *HTTPSender) Send(ctx context.Context, req Request) Result {
	start := time.Now()

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return Result{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderEventID, req.Payload.EventID)
	httpReq.Header.Set(HeaderRequestID, req.RequestID)
	if req.Secret != "" {
		httpReq.Header.Set(HeaderSignature, computeSignature(req.Secret, body))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Result{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for evaluators to verify incoming requests.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
