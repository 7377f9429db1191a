package reconnect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tickerflow/logger"

	"github.com/google/uuid"
)

// ConnectionState is the per-endpoint state machine's state.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateAttempting ConnectionState = "attempting"
	StateBackoff    ConnectionState = "backoff"
	StateConnected  ConnectionState = "connected"
	StateFailed     ConnectionState = "failed"
)

// Connector performs a single physical connection attempt for an endpoint.
// Implemented by the stream manager.
type Connector interface {
	Attempt(ctx context.Context, endpointID string) error
}

// session holds the reconnection state for one endpoint. All mutation happens
// under mu; timers and inbound events never touch a session concurrently.
type session struct {
	endpointID string

	mu           sync.Mutex
	state        ConnectionState
	policy       BackoffPolicy
	kind         FailureKind
	attemptCount int
	history      *History
	// epoch increments on every Start and Cancel. A backoff timer that fires
	// under a stale epoch is a no-op.
	epoch    uint64
	cancelCh chan struct{}
}

// Orchestrator drives bounded reconnection sequences, one session per
// endpoint. Sessions persist for the process lifetime.
type Orchestrator struct {
	connector  Connector
	jitter     JitterFunc
	historyCap int
	overrides  map[FailureKind]BackoffPolicy
	clock      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	log *logger.Log
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithJitter injects the jitter source used for delay computation.
func WithJitter(j JitterFunc) Option {
	return func(o *Orchestrator) { o.jitter = j }
}

// WithHistoryCap bounds the per-endpoint attempt history.
func WithHistoryCap(cap int) Option {
	return func(o *Orchestrator) { o.historyCap = cap }
}

// WithPolicyOverrides replaces the default policy for the given kinds.
func WithPolicyOverrides(overrides map[FailureKind]BackoffPolicy) Option {
	return func(o *Orchestrator) { o.overrides = overrides }
}

// WithClock injects the time source used for attempt records and statistics.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// NewOrchestrator creates an orchestrator delegating connection attempts to
// the given connector.
func NewOrchestrator(connector Connector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		connector:  connector,
		jitter:     DefaultJitter,
		historyCap: DefaultHistoryCap,
		clock:      time.Now,
		sessions:   make(map[string]*session),
		log:        logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// resolvePolicy picks the policy for a sequence: explicit override first,
// then configured per-kind override, then the static default table.
func (o *Orchestrator) resolvePolicy(kind FailureKind, override *BackoffPolicy) BackoffPolicy {
	if override != nil {
		return *override
	}
	if p, ok := o.overrides[kind]; ok {
		return p
	}
	return DefaultPolicy(kind)
}

func (o *Orchestrator) getSession(endpointID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[endpointID]
	if !ok {
		s = &session{
			endpointID: endpointID,
			state:      StateIdle,
			history:    NewHistory(o.historyCap),
		}
		o.sessions[endpointID] = s
	}
	return s
}

func (o *Orchestrator) lookupSession(endpointID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[endpointID]
}

// Start runs a reconnection sequence for the endpoint and blocks until it
// concludes. It returns true when an attempt succeeds (state Connected) and
// false when the sequence ends in Failed or is cancelled. Starting an
// endpoint whose sequence is already running is an error.
func (o *Orchestrator) Start(ctx context.Context, endpointID string, kind FailureKind, policyOverride *BackoffPolicy) (bool, error) {
	s := o.getSession(endpointID)

	s.mu.Lock()
	if s.state == StateAttempting || s.state == StateBackoff {
		s.mu.Unlock()
		return false, fmt.Errorf("reconnection sequence already running for endpoint %s", endpointID)
	}
	s.epoch++
	myEpoch := s.epoch
	cancelCh := make(chan struct{})
	s.cancelCh = cancelCh
	s.kind = kind
	s.policy = o.resolvePolicy(kind, policyOverride)
	s.attemptCount = 0
	s.state = StateAttempting
	policy := s.policy
	s.mu.Unlock()

	seqID := uuid.New().String()
	log := o.log.WithComponent("reconnect_orchestrator").WithFields(logger.Fields{
		"endpoint": endpointID,
		"kind":     string(kind),
		"sequence": seqID,
	})
	log.WithFields(logger.Fields{"max_attempts": policy.MaxAttempts}).Info("reconnection sequence started")

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attemptCtx := ctx
		var cancelAttempt context.CancelFunc
		if policy.AttemptTimeout > 0 {
			attemptCtx, cancelAttempt = context.WithTimeout(ctx, policy.AttemptTimeout)
		}
		err := o.connector.Attempt(attemptCtx, endpointID)
		if cancelAttempt != nil {
			cancelAttempt()
		}
		now := o.clock()

		s.mu.Lock()
		if s.epoch != myEpoch {
			// Cancelled while the attempt was in flight. The record for the
			// in-flight attempt is the only one permitted after a cancel.
			s.history.Append(AttemptRecord{
				Timestamp:     now,
				Kind:          kind,
				AttemptNumber: attempt,
				Outcome:       OutcomeAttempted,
				ErrorMessage:  "sequence cancelled",
				SequenceID:    seqID,
			})
			s.mu.Unlock()
			log.Info("sequence cancelled during attempt")
			return false, nil
		}
		s.attemptCount = attempt

		if err == nil {
			s.history.Append(AttemptRecord{
				Timestamp:     now,
				Kind:          kind,
				AttemptNumber: attempt,
				Outcome:       OutcomeSucceeded,
				SequenceID:    seqID,
			})
			s.state = StateConnected
			s.cancelCh = nil
			s.mu.Unlock()
			log.WithFields(logger.Fields{"attempt": attempt}).Info("reconnected")
			return true, nil
		}

		if attempt == policy.MaxAttempts {
			s.history.Append(AttemptRecord{
				Timestamp:     now,
				Kind:          kind,
				AttemptNumber: attempt,
				Outcome:       OutcomeFailed,
				ErrorMessage:  fmt.Sprintf("%v: max attempts reached", err),
				SequenceID:    seqID,
			})
			s.state = StateFailed
			s.cancelCh = nil
			s.mu.Unlock()
			log.WithError(err).WithFields(logger.Fields{"attempt": attempt}).Error("reconnection sequence exhausted")
			return false, nil
		}

		delay, derr := ComputeDelay(attempt, policy, kind, o.jitter)
		if derr != nil {
			// attempt is always >= 1 here; treat a policy engine error as
			// terminal rather than looping blind.
			s.state = StateFailed
			s.cancelCh = nil
			s.mu.Unlock()
			return false, derr
		}
		s.history.Append(AttemptRecord{
			Timestamp:     now,
			Kind:          kind,
			AttemptNumber: attempt,
			DelayUsed:     delay,
			Outcome:       OutcomeFailed,
			ErrorMessage:  err.Error(),
			SequenceID:    seqID,
		})
		s.state = StateBackoff
		s.mu.Unlock()

		log.WithError(err).WithFields(logger.Fields{
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
		}).Warn("attempt failed, backing off")
		logger.IncrementReconnectAttempt()

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			s.mu.Lock()
			// The timer transitions the machine only if this sequence is
			// still the live epoch and still in Backoff.
			if s.epoch != myEpoch || s.state != StateBackoff {
				s.mu.Unlock()
				return false, nil
			}
			s.state = StateAttempting
			s.mu.Unlock()
		case <-cancelCh:
			timer.Stop()
			log.Info("reconnection sequence cancelled")
			return false, nil
		case <-ctx.Done():
			timer.Stop()
			s.mu.Lock()
			if s.epoch == myEpoch {
				s.epoch++
				s.state = StateIdle
				s.cancelCh = nil
			}
			s.mu.Unlock()
			log.Info("reconnection sequence aborted by context")
			return false, ctx.Err()
		}
	}

	// Unreachable: the loop always returns on success, exhaustion or cancel.
	return false, nil
}

// Cancel aborts any running sequence for the endpoint and moves it to Idle.
// Safe to call from any state, including Idle, and idempotent. A backoff
// timer scheduled before the cancel becomes a no-op when it fires.
func (o *Orchestrator) Cancel(endpointID string) {
	s := o.lookupSession(endpointID)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.epoch++
	s.state = StateIdle
	if s.cancelCh != nil {
		close(s.cancelCh)
		s.cancelCh = nil
	}
	s.mu.Unlock()
}

// Disconnected signals that an established connection was lost without a
// reconnection request; a Connected session returns to Idle.
func (o *Orchestrator) Disconnected(endpointID string) {
	s := o.lookupSession(endpointID)
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.state == StateConnected {
		s.state = StateIdle
	}
	s.mu.Unlock()
}

// State returns the endpoint's current connection state, Idle when the
// endpoint has never been started.
func (o *Orchestrator) State(endpointID string) ConnectionState {
	s := o.lookupSession(endpointID)
	if s == nil {
		return StateIdle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns the endpoint's attempt records, oldest first.
func (o *Orchestrator) History(endpointID string) []AttemptRecord {
	s := o.lookupSession(endpointID)
	if s == nil {
		return nil
	}
	return s.history.Records()
}

// Statistics returns derived statistics for the endpoint's history.
func (o *Orchestrator) Statistics(endpointID string) Statistics {
	s := o.lookupSession(endpointID)
	if s == nil {
		return Statistics{}
	}
	return s.history.Stats(o.clock())
}
