package reconnect

import (
	"testing"
	"time"
)

func noJitter() time.Duration { return 0 }

func TestDefaultPolicyTable(t *testing.T) {
	p := DefaultPolicy(AuthFailure)
	if p.MaxAttempts != 1 || p.InitialDelay != time.Second {
		t.Fatalf("unexpected auth failure defaults: %+v", p)
	}
	if DefaultPolicy(FailureKind("bogus")) != DefaultPolicy(Unknown) {
		t.Fatalf("unrecognised kind should fall back to unknown policy")
	}
	for _, kind := range []FailureKind{NetworkTimeout, ServerError, RateLimit, AuthFailure, ServiceMaintenance, Unknown} {
		if DefaultPolicy(kind).MaxAttempts < 1 {
			t.Fatalf("policy for %s has no attempts", kind)
		}
	}
}

func TestComputeDelayAuthFailureConstant(t *testing.T) {
	p := DefaultPolicy(AuthFailure)
	for attempt := 1; attempt <= 3; attempt++ {
		d, err := ComputeDelay(attempt, p, AuthFailure, noJitter)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if d != p.InitialDelay {
			t.Fatalf("attempt %d: want constant %v, got %v", attempt, p.InitialDelay, d)
		}
	}
}

func TestComputeDelayRateLimitLinear(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 3, InitialDelay: 60 * time.Second, MaxDelay: 10 * time.Minute, Multiplier: 1.0}
	want := []time.Duration{60 * time.Second, 120 * time.Second, 180 * time.Second}
	for i, w := range want {
		d, err := ComputeDelay(i+1, p, RateLimit, noJitter)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if d != w {
			t.Fatalf("attempt %d: want %v, got %v", i+1, w, d)
		}
	}
}

func TestComputeDelayMaintenanceLinearUnclipped(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 20, InitialDelay: 5 * time.Minute, MaxDelay: 10 * time.Minute, Multiplier: 1.0}
	// Linear growth is unclipped by design: attempt 4 exceeds MaxDelay.
	d, err := ComputeDelay(4, p, ServiceMaintenance, noJitter)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if d != 20*time.Minute {
		t.Fatalf("want 20m, got %v", d)
	}
}

func TestComputeDelayExponentialWithJitter(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 3, InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2.0, JitterEnabled: true}
	jitter := func() time.Duration { return 500 * time.Millisecond }
	want := []time.Duration{
		2*time.Second + 500*time.Millisecond,
		4*time.Second + 500*time.Millisecond,
		8*time.Second + 500*time.Millisecond,
	}
	for i, w := range want {
		d, err := ComputeDelay(i+1, p, NetworkTimeout, jitter)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if d != w {
			t.Fatalf("attempt %d: want %v, got %v", i+1, w, d)
		}
	}
}

func TestComputeDelayJitterBound(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 5, InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2.0, JitterEnabled: true}
	for i := 0; i < 200; i++ {
		d, err := ComputeDelay(3, p, NetworkTimeout, nil)
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		base := 8 * time.Second
		if d < base || d >= base+time.Second {
			t.Fatalf("jitter out of bounds: %v", d)
		}
	}
}

func TestComputeDelayClippedToMaxDelay(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 10, InitialDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2.0}
	d, err := ComputeDelay(8, p, ServerError, noJitter)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if d != 10*time.Second {
		t.Fatalf("want clip to %v, got %v", 10*time.Second, d)
	}
}

func TestComputeDelayDegenerateMultiplier(t *testing.T) {
	p := BackoffPolicy{MaxAttempts: 5, InitialDelay: 3 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 1.0}
	for attempt := 1; attempt <= 5; attempt++ {
		d, err := ComputeDelay(attempt, p, Unknown, noJitter)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if d != 3*time.Second {
			t.Fatalf("multiplier 1.0 should be constant, got %v", d)
		}
	}
}

func TestComputeDelayInvalidAttempt(t *testing.T) {
	p := DefaultPolicy(NetworkTimeout)
	if _, err := ComputeDelay(0, p, NetworkTimeout, noJitter); err == nil {
		t.Fatalf("expected error for attempt 0")
	}
	if _, err := ComputeDelay(-3, p, NetworkTimeout, noJitter); err == nil {
		t.Fatalf("expected error for negative attempt")
	}
}
