package logger

import (
	"os"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("stream")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "stream" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestIncrementTickerRead(t *testing.T) {
	before := atomic.LoadInt64(&tickerReads)
	IncrementTickerRead(128)
	if got := atomic.LoadInt64(&tickerReads); got != before+1 {
		t.Fatalf("ticker reads = %d, want %d", got, before+1)
	}

	v, ok := channels.Load("ticker_ws")
	if !ok {
		t.Fatalf("ticker_ws channel stat not recorded")
	}
	cs := v.(*channelStat)
	if atomic.LoadInt64(&cs.bytes) < 128 {
		t.Fatalf("channel bytes = %d, want >= 128", atomic.LoadInt64(&cs.bytes))
	}
}

func TestIncrementReconnectAttempt(t *testing.T) {
	before := atomic.LoadInt64(&reconnectAttempts)
	IncrementReconnectAttempt()
	if got := atomic.LoadInt64(&reconnectAttempts); got != before+1 {
		t.Fatalf("reconnect attempts = %d, want %d", got, before+1)
	}
}

func TestRecordWarnRouting(t *testing.T) {
	beforeHB := atomic.LoadInt64(&warnsHeartbeat)
	beforeStream := atomic.LoadInt64(&warnsStream)

	recordWarn("heartbeat")
	recordWarn("stream.reader")

	if got := atomic.LoadInt64(&warnsHeartbeat); got != beforeHB+1 {
		t.Fatalf("heartbeat warns = %d, want %d", got, beforeHB+1)
	}
	if got := atomic.LoadInt64(&warnsStream); got != beforeStream+1 {
		t.Fatalf("stream warns = %d, want %d", got, beforeStream+1)
	}
}
