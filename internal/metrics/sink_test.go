package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o wait" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyStatus_Codes(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, StatusClass2xx},
		{202, StatusClass2xx},
		{299, StatusClass2xx},
		{304, StatusClassOtherError},
		{404, StatusClass4xx},
		{429, StatusClass4xx},
		{500, StatusClass5xx},
		{599, StatusClass5xx},
		{600, StatusClassOtherError},
		{0, StatusClassOtherError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			if got := ClassifyStatus(tt.code, nil); got != tt.want {
				t.Errorf("ClassifyStatus(%d, nil) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestClassifyStatus_Errors(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), StatusClassTimeout},
		{"net timeout", fmt.Errorf("send: %w", timeoutError{}), StatusClassTimeout},
		{"dial", fmt.Errorf("send: %w", opErr), StatusClassConnectionError},
		{"dns", &net.DNSError{Err: "no such host", Name: "evaluator.invalid"}, StatusClassConnectionError},
		{"flattened timeout", fmt.Errorf("send: %v", context.DeadlineExceeded), StatusClassTimeout},
		{"flattened refused", errors.New("dial tcp 127.0.0.1:1: connection refused"), StatusClassConnectionError},
		{"other", errors.New("marshal: unsupported value"), StatusClassOtherError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A status code never overrides a transport error.
			if got := ClassifyStatus(200, tt.err); got != tt.want {
				t.Errorf("ClassifyStatus(200, %v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
