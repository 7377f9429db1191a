package stream

import (
	"fmt"
	"sync"
	"time"

	"tickerflow/logger"
	"tickerflow/models"
)

// Heartbeat sends a keepalive frame on a fixed interval while the stream is
// connected and measures latency from send to the correlated response. Only
// the most recent sample is retained. Consecutive misses beyond the
// configured threshold are escalated through the failure callback exactly
// once per supervisor lifetime.
type Heartbeat struct {
	interval  time.Duration
	deadline  time.Duration
	maxMisses int
	send      func(models.ControlFrame) error
	onFailure func(error)
	clock     func() time.Time

	mu        sync.Mutex
	sample    models.HeartbeatSample
	hasSample bool
	misses    int

	acks     chan int64
	stop     chan struct{}
	stopOnce sync.Once
	failOnce sync.Once

	log *logger.Entry
}

// NewHeartbeat creates a supervisor. send writes the outbound ping frame and
// onFailure receives the liveness error after maxMisses consecutive missed
// responses.
func NewHeartbeat(interval, deadline time.Duration, maxMisses int, send func(models.ControlFrame) error, onFailure func(error)) *Heartbeat {
	return &Heartbeat{
		interval:  interval,
		deadline:  deadline,
		maxMisses: maxMisses,
		send:      send,
		onFailure: onFailure,
		clock:     time.Now,
		acks:      make(chan int64, 4),
		stop:      make(chan struct{}),
		log:       logger.GetLogger().WithComponent("heartbeat"),
	}
}

// Start launches the keepalive loop.
func (h *Heartbeat) Start() {
	go h.run()
}

// Stop terminates the loop. Idempotent and safe to call from the failure
// callback.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Ack delivers an inbound heartbeat response. The timestamp echoes the ping's
// send time in unix milliseconds and correlates the response to its ping.
func (h *Heartbeat) Ack(timestamp int64) {
	select {
	case h.acks <- timestamp:
	default:
	}
}

// Sample returns the most recent keepalive sample. The second return is false
// until the first ping completes.
func (h *Heartbeat) Sample() (models.HeartbeatSample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sample, h.hasSample
}

func (h *Heartbeat) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.beat()
		}
	}
}

// beat sends one ping and waits up to the deadline for its correlated
// response.
func (h *Heartbeat) beat() {
	sentAt := h.clock()
	sentMilli := sentAt.UnixMilli()

	if err := h.send(models.NewPingFrame(sentAt)); err != nil {
		h.log.WithError(err).Warn("failed to send keepalive frame")
		h.record(sentAt, nil)
		h.miss()
		return
	}
	logger.IncrementHeartbeatSent()

	deadline := time.NewTimer(h.deadline)
	defer deadline.Stop()

	for {
		select {
		case <-h.stop:
			return
		case ts := <-h.acks:
			if ts != sentMilli {
				// response to an earlier ping, keep waiting
				continue
			}
			rtt := h.clock().Sub(sentAt)
			h.record(sentAt, &rtt)
			h.resetMisses()
			h.log.WithFields(logger.Fields{"rtt_ms": rtt.Milliseconds()}).Debug("keepalive round trip")
			return
		case <-deadline.C:
			h.record(sentAt, nil)
			h.log.WithFields(logger.Fields{"deadline_ms": h.deadline.Milliseconds()}).Warn("keepalive response missed")
			h.miss()
			return
		}
	}
}

func (h *Heartbeat) record(sentAt time.Time, rtt *time.Duration) {
	h.mu.Lock()
	h.sample = models.HeartbeatSample{SentAt: sentAt, RTT: rtt}
	h.hasSample = true
	h.mu.Unlock()
}

func (h *Heartbeat) resetMisses() {
	h.mu.Lock()
	h.misses = 0
	h.mu.Unlock()
}

func (h *Heartbeat) miss() {
	h.mu.Lock()
	h.misses++
	misses := h.misses
	h.mu.Unlock()

	logger.IncrementHeartbeatMiss()
	if misses >= h.maxMisses && h.onFailure != nil {
		h.failOnce.Do(func() {
			h.onFailure(fmt.Errorf("%d consecutive heartbeats missed", misses))
		})
	}
}
