// Command evaluator-receiver is a development stand-in for the rule
// evaluator. It accepts evaluation requests, checks their signature when
// SECRET is set and keeps the most recent ones for inspection.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const (
	headerEventID   = "X-Triggers-Event-ID"
	headerSignature = "X-Triggers-Signature"

	maxStored = 50
)

type evaluation struct {
	ReceivedAt string          `json:"received_at"`
	EventID    string          `json:"event_id"`
	Signed     bool            `json:"signed"`
	Status     int             `json:"status"`
	Payload    json.RawMessage `json:"payload"`
}

type stats struct {
	Accepted    int64        `json:"accepted"`
	Rejected    int64        `json:"rejected"`
	Failed      int64        `json:"failed"`
	Since       string       `json:"since"`
	Evaluations []evaluation `json:"last_evaluations"`
}

type receiver struct {
	secret    string
	failEvery int64 // respond 500 to every n-th request, 0 never
	delay     time.Duration

	mu          sync.Mutex
	seen        int64
	accepted    int64
	rejected    int64
	failed      int64
	since       time.Time
	evaluations []evaluation
}

func newReceiver(secret string, failEvery int64, delay time.Duration) *receiver {
	return &receiver{secret: secret, failEvery: failEvery, delay: delay, since: time.Now().UTC()}
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /evaluate", rc.evaluate)
	mux.HandleFunc("GET /stats", rc.stats)
	mux.HandleFunc("POST /reset", rc.reset)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func (rc *receiver) evaluate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(headerSignature)
	status := http.StatusOK
	if rc.secret != "" && !verify(rc.secret, body, signature) {
		status = http.StatusUnauthorized
	}

	var payload json.RawMessage
	if json.Valid(body) {
		payload = body
	}

	rc.mu.Lock()
	rc.seen++
	if status == http.StatusOK && rc.failEvery > 0 && rc.seen%rc.failEvery == 0 {
		status = http.StatusInternalServerError
	}
	switch status {
	case http.StatusOK:
		rc.accepted++
	case http.StatusUnauthorized:
		rc.rejected++
	default:
		rc.failed++
	}
	rc.evaluations = append(rc.evaluations, evaluation{
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		EventID:    r.Header.Get(headerEventID),
		Signed:     signature != "",
		Status:     status,
		Payload:    payload,
	})
	if len(rc.evaluations) > maxStored {
		rc.evaluations = rc.evaluations[len(rc.evaluations)-maxStored:]
	}
	rc.mu.Unlock()

	if rc.delay > 0 {
		time.Sleep(rc.delay)
	}

	log.Printf("evaluation %s: %d", r.Header.Get(headerEventID), status)
	w.WriteHeader(status)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Accepted:    rc.accepted,
		Rejected:    rc.rejected,
		Failed:      rc.failed,
		Since:       rc.since.Format(time.RFC3339),
		Evaluations: append([]evaluation(nil), rc.evaluations...),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func (rc *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	rc.seen, rc.accepted, rc.rejected, rc.failed = 0, 0, 0, 0
	rc.evaluations = nil
	rc.since = time.Now().UTC()
	rc.mu.Unlock()
	fmt.Fprintln(w, "reset")
}

func verify(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func main() {
	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	var failEvery int64
	if v := os.Getenv("FAIL_EVERY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			log.Fatalf("invalid FAIL_EVERY %q", v)
		}
		failEvery = n
	}

	var delay time.Duration
	if v := os.Getenv("DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid DELAY %q: %v", v, err)
		}
		delay = d
	}

	rc := newReceiver(os.Getenv("SECRET"), failEvery, delay)
	log.Printf("evaluator-receiver listening on %s (signed=%t, fail_every=%d, delay=%s)", addr, rc.secret != "", failEvery, delay)
	log.Fatal(http.ListenAndServe(addr, rc.routes()))
}
