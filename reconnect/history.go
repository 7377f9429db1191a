package reconnect

import (
	"sync"
	"time"
)

// AttemptOutcome describes how a recorded attempt ended.
type AttemptOutcome string

const (
	OutcomeAttempted AttemptOutcome = "attempted"
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeFailed    AttemptOutcome = "failed"
)

// AttemptRecord is an immutable log entry describing one reconnection
// attempt. DelayUsed is the backoff the attempt's failure scheduled for the
// next attempt; zero for a success or a final attempt.
type AttemptRecord struct {
	Timestamp     time.Time      `json:"timestamp"`
	Kind          FailureKind    `json:"kind"`
	AttemptNumber int            `json:"attempt_number"`
	DelayUsed     time.Duration  `json:"delay_used"`
	Outcome       AttemptOutcome `json:"outcome"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	SequenceID    string         `json:"sequence_id"`
}

// DefaultHistoryCap bounds the number of attempt records kept per endpoint.
const DefaultHistoryCap = 100

// Statistics summarises an endpoint's attempt history. AverageDelay and
// RecentAttempts24h cover the trailing 24 hour window only.
type Statistics struct {
	TotalAttempts      int
	SuccessfulAttempts int
	FailedAttempts     int
	SuccessRate        float64
	AverageDelay       time.Duration
	LastAttempt        *AttemptRecord
	RecentAttempts24h  int
}

// History is a bounded, append-only log of reconnection attempts. When the
// cap is exceeded the oldest records are dropped so the most recent cap
// records survive.
type History struct {
	mu      sync.RWMutex
	records []AttemptRecord
	cap     int
}

// NewHistory creates a history bounded to cap records. A cap <= 0 falls back
// to DefaultHistoryCap.
func NewHistory(cap int) *History {
	if cap <= 0 {
		cap = DefaultHistoryCap
	}
	return &History{cap: cap}
}

// Append adds a record, trimming to the most recent cap entries.
func (h *History) Append(r AttemptRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	if len(h.records) > h.cap {
		trimmed := make([]AttemptRecord, h.cap)
		copy(trimmed, h.records[len(h.records)-h.cap:])
		h.records = trimmed
	}
}

// Records returns a copy of the history, oldest first.
func (h *History) Records() []AttemptRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]AttemptRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Stats derives summary statistics from the retained records, with the
// trailing window anchored at now.
func (h *History) Stats(now time.Time) Statistics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Statistics{TotalAttempts: len(h.records)}
	if len(h.records) == 0 {
		return stats
	}

	cutoff := now.Add(-24 * time.Hour)
	var delaySum time.Duration
	var delayCount int
	for i := range h.records {
		r := h.records[i]
		switch r.Outcome {
		case OutcomeSucceeded:
			stats.SuccessfulAttempts++
		case OutcomeFailed:
			stats.FailedAttempts++
		}
		if !r.Timestamp.Before(cutoff) {
			stats.RecentAttempts24h++
			delaySum += r.DelayUsed
			delayCount++
		}
	}
	stats.SuccessRate = float64(stats.SuccessfulAttempts) / float64(stats.TotalAttempts)
	if delayCount > 0 {
		stats.AverageDelay = delaySum / time.Duration(delayCount)
	}
	last := h.records[len(h.records)-1]
	stats.LastAttempt = &last
	return stats
}
