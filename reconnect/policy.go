package reconnect

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// FailureKind classifies why a connection attempt or live session failed.
type FailureKind string

const (
	NetworkTimeout     FailureKind = "network_timeout"
	ServerError        FailureKind = "server_error"
	RateLimit          FailureKind = "rate_limit"
	AuthFailure        FailureKind = "auth_failure"
	ServiceMaintenance FailureKind = "service_maintenance"
	Unknown            FailureKind = "unknown"
)

// BackoffPolicy describes how a reconnection sequence paces its attempts.
type BackoffPolicy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterEnabled  bool
	AttemptTimeout time.Duration
}

// jitterBound is the exclusive upper bound of the random offset added to
// delays on the exponential path.
const jitterBound = time.Second

// defaultPolicies maps each failure kind to its default backoff policy.
// AuthFailure gets a single attempt: retrying without new credentials cannot
// succeed. RateLimit and ServiceMaintenance back off linearly with long
// delays and generous attempt budgets.
var defaultPolicies = map[FailureKind]BackoffPolicy{
	NetworkTimeout: {
		MaxAttempts:    5,
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterEnabled:  true,
		AttemptTimeout: 10 * time.Second,
	},
	ServerError: {
		MaxAttempts:    5,
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterEnabled:  true,
		AttemptTimeout: 10 * time.Second,
	},
	RateLimit: {
		MaxAttempts:    10,
		InitialDelay:   60 * time.Second,
		MaxDelay:       10 * time.Minute,
		Multiplier:     1.0,
		JitterEnabled:  false,
		AttemptTimeout: 10 * time.Second,
	},
	AuthFailure: {
		MaxAttempts:    1,
		InitialDelay:   time.Second,
		MaxDelay:       time.Second,
		Multiplier:     1.0,
		JitterEnabled:  false,
		AttemptTimeout: 10 * time.Second,
	},
	ServiceMaintenance: {
		MaxAttempts:    20,
		InitialDelay:   5 * time.Minute,
		MaxDelay:       time.Hour,
		Multiplier:     1.0,
		JitterEnabled:  false,
		AttemptTimeout: 15 * time.Second,
	},
	Unknown: {
		MaxAttempts:    3,
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterEnabled:  true,
		AttemptTimeout: 10 * time.Second,
	},
}

// DefaultPolicy returns the default backoff policy for the given failure
// kind. Unrecognised kinds fall back to the Unknown policy.
func DefaultPolicy(kind FailureKind) BackoffPolicy {
	if p, ok := defaultPolicies[kind]; ok {
		return p
	}
	return defaultPolicies[Unknown]
}

// JitterFunc supplies the random offset added to exponential delays. It is
// injectable so delay computation is reproducible in tests.
type JitterFunc func() time.Duration

// DefaultJitter returns a uniformly distributed offset in [0, 1s).
func DefaultJitter() time.Duration {
	return time.Duration(rand.Int63n(int64(jitterBound)))
}

// ComputeDelay returns the delay scheduled after the attempt numbered
// attemptNumber fails. The growth shape depends on the failure kind:
//
//   - AuthFailure: constant InitialDelay.
//   - ServiceMaintenance, RateLimit: InitialDelay * attemptNumber. Linear and
//     deliberately unclipped; spreading rate-limited retries with jitter would
//     risk violating the venue's rate windows.
//   - everything else: InitialDelay * Multiplier^(attemptNumber-1), clipped to
//     MaxDelay, plus jitter in [0, 1s) when the policy enables it.
//
// attemptNumber must be >= 1.
func ComputeDelay(attemptNumber int, policy BackoffPolicy, kind FailureKind, jitter JitterFunc) (time.Duration, error) {
	if attemptNumber <= 0 {
		return 0, fmt.Errorf("attempt number must be >= 1, got %d", attemptNumber)
	}

	switch kind {
	case AuthFailure:
		return policy.InitialDelay, nil
	case ServiceMaintenance, RateLimit:
		return policy.InitialDelay * time.Duration(attemptNumber), nil
	}

	factor := math.Pow(policy.Multiplier, float64(attemptNumber-1))
	delay := time.Duration(float64(policy.InitialDelay) * factor)
	if delay > policy.MaxDelay || delay < 0 {
		delay = policy.MaxDelay
	}
	if policy.JitterEnabled {
		if jitter == nil {
			jitter = DefaultJitter
		}
		delay += jitter()
	}
	return delay, nil
}
