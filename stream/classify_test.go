package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tickerflow/reconnect"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyNetError(t *testing.T) {
	if kind := Classify(timeoutErr{}); kind != reconnect.NetworkTimeout {
		t.Fatalf("net timeout classified as %s", kind)
	}
	if kind := Classify(fmt.Errorf("dial: %w", timeoutErr{})); kind != reconnect.NetworkTimeout {
		t.Fatalf("wrapped net timeout classified as %s", kind)
	}
	if kind := Classify(context.DeadlineExceeded); kind != reconnect.NetworkTimeout {
		t.Fatalf("deadline exceeded classified as %s", kind)
	}
}

func TestClassifyKeywords(t *testing.T) {
	cases := []struct {
		err  error
		want reconnect.FailureKind
	}{
		{errors.New("websocket dial failed with status 429: too many requests"), reconnect.RateLimit},
		{errors.New("rate limit exceeded for connection"), reconnect.RateLimit},
		{errors.New("websocket dial failed with status 401: unauthorized"), reconnect.AuthFailure},
		{errors.New("invalid api key provided"), reconnect.AuthFailure},
		{errors.New("venue under scheduled maintenance"), reconnect.ServiceMaintenance},
		{errors.New("websocket dial failed with status 503: service unavailable"), reconnect.ServiceMaintenance},
		{errors.New("websocket dial failed with status 500: internal server error"), reconnect.ServerError},
		{errors.New("bad gateway"), reconnect.ServerError},
		{errors.New("dial tcp: connection refused"), reconnect.NetworkTimeout},
		{errors.New("read tcp: connection reset by peer"), reconnect.NetworkTimeout},
		{errors.New("something unusual happened"), reconnect.Unknown},
	}

	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%q) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestClassifyNil(t *testing.T) {
	if kind := Classify(nil); kind != reconnect.Unknown {
		t.Fatalf("nil error classified as %s", kind)
	}
}
