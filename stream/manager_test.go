package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appconfig "tickerflow/config"
	"tickerflow/models"
	"tickerflow/quotes"
	"tickerflow/reconnect"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func testConfig(baseWS, baseREST string) *appconfig.Config {
	return &appconfig.Config{
		Feed: appconfig.FeedConfig{
			BaseWSURL:        baseWS,
			BaseRESTURL:      baseREST,
			HandshakeTimeout: 2 * time.Second,
			WriteTimeout:     time.Second,
			ReadBuffer:       100,
			ControlRate:      appconfig.ControlRateConfig{RequestsPerSecond: 100, BurstSize: 10},
			Endpoints: []appconfig.EndpointConfig{
				{ID: "spot", Channel: "spot", Symbols: []string{"BTCUSDT"}},
			},
		},
		Heartbeat: appconfig.HeartbeatConfig{
			Interval:  time.Hour, // keep the supervisor quiet unless a test wants it
			Deadline:  time.Second,
			MaxMisses: 2,
		},
	}
}

// tickerServer upgrades, waits for the subscribe frame and then replays the
// given frames.
func tickerServer(t *testing.T, frames [][]byte, subscribed chan<- models.ControlFrame) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ctrl models.ControlFrame
		if err := json.Unmarshal(msg, &ctrl); err != nil {
			t.Errorf("bad control frame: %v", err)
			return
		}
		if subscribed != nil {
			subscribed <- ctrl
		}

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		// hold the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

func wsBase(srv *httptest.Server) string {
	return strings.Replace(srv.URL, "http", "ws", 1)
}

func newTestManager(t *testing.T, cfg *appconfig.Config) (*Manager, *quotes.Table) {
	t.Helper()
	table := quotes.NewTable()
	registry := NewRegistry()
	orch := reconnect.NewOrchestrator(registry, reconnect.WithJitter(func() time.Duration { return 0 }))
	m := NewManager(cfg, cfg.Feed.Endpoints[0], table, orch)
	registry.Register(m)
	return m, table
}

func waitForTick(t *testing.T, table *quotes.Table, symbol string) models.MarketTick {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if tick, ok := table.Get(symbol); ok {
			return tick
		}
		select {
		case <-deadline:
			t.Fatalf("tick for %s never arrived", symbol)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManagerConnectRoutesTickers(t *testing.T) {
	ticker := []byte(`{"type":"ticker","symbol":"BTCUSDT","price":50123.5,"change_pct":1.2,"volume":42,"timestamp":1700000000000}`)
	subscribed := make(chan models.ControlFrame, 1)

	srv := httptest.NewServer(http.StripPrefix("/spot/ws", tickerServer(t, [][]byte{ticker}, subscribed)))
	defer srv.Close()

	m, table := newTestManager(t, testConfig(wsBase(srv), srv.URL))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !m.Connected() {
		t.Fatalf("manager not connected after Connect")
	}

	select {
	case ctrl := <-subscribed:
		if ctrl.Type != models.OpSubscribe {
			t.Fatalf("first control frame was %s, want subscribe", ctrl.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscribe frame never sent")
	}

	tick := waitForTick(t, table, "BTCUSDT")
	if tick.Price != 50123.5 {
		t.Fatalf("tick price = %v, want 50123.5", tick.Price)
	}
	if !tick.Timestamp.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Fatalf("tick timestamp = %v", tick.Timestamp)
	}
}

func TestManagerConnectIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.StripPrefix("/spot/ws", tickerServer(t, nil, nil)))
	defer srv.Close()

	m, _ := newTestManager(t, testConfig(wsBase(srv), srv.URL))
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should be a no-op, got %v", err)
	}
}

func TestManagerConnectFailureClassified(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1", "http://127.0.0.1:1")
	m, _ := newTestManager(t, cfg)
	m.DisableLiveUpdates() // keep the orchestrator out of this test

	if err := m.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect to an unreachable address to fail")
	}
	if m.Connected() {
		t.Fatalf("manager reports connected after failed dial")
	}
}

func TestManagerDisconnectIsSafeWhenIdle(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1", "http://127.0.0.1:1")
	m, _ := newTestManager(t, cfg)
	m.Disconnect()
	m.Disconnect()
}

func TestManagerSortedViewUsesPreference(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1", "http://127.0.0.1:1")
	m, table := newTestManager(t, cfg)

	table.Upsert(models.MarketTick{Symbol: "AAA", Price: 1})
	table.Upsert(models.MarketTick{Symbol: "BBB", Price: 3})
	table.Upsert(models.MarketTick{Symbol: "CCC", Price: 2})

	m.SetSorting(models.SortByPrice, models.SortDescending)
	view := m.SortedView()
	if len(view) != 3 {
		t.Fatalf("view length = %d, want 3", len(view))
	}
	if view[0].Symbol != "BBB" || view[2].Symbol != "AAA" {
		t.Fatalf("unexpected order: %s %s %s", view[0].Symbol, view[1].Symbol, view[2].Symbol)
	}
}

func TestManagerManualRefresh(t *testing.T) {
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/spot/tickers" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"type":"ticker","symbol":"ETHUSDT","price":2500.25,"timestamp":1700000000000}]`))
	}))
	defer rest.Close()

	cfg := testConfig("ws://127.0.0.1:1", rest.URL)
	m, table := newTestManager(t, cfg)

	if err := m.ManualRefresh(context.Background()); err != nil {
		t.Fatalf("manual refresh failed: %v", err)
	}

	tick, ok := table.Get("ETHUSDT")
	if !ok {
		t.Fatalf("refreshed ticker missing from table")
	}
	if tick.Price != 2500.25 {
		t.Fatalf("tick price = %v, want 2500.25", tick.Price)
	}
}

func TestManagerManualRefreshBadStatus(t *testing.T) {
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer rest.Close()

	cfg := testConfig("ws://127.0.0.1:1", rest.URL)
	m, _ := newTestManager(t, cfg)

	if err := m.ManualRefresh(context.Background()); err == nil {
		t.Fatalf("expected error for non-200 refresh response")
	}
}

func TestManagerReconnectsAfterServerClose(t *testing.T) {
	ticker := []byte(`{"type":"ticker","symbol":"BTCUSDT","price":1,"timestamp":1700000000000}`)

	// first connection: send one frame then drop; later connections stay up
	conns := 0
	srv := httptest.NewServer(http.StripPrefix("/spot/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns++
		first := conns == 1
		if _, _, err := conn.ReadMessage(); err != nil { // subscribe
			conn.Close()
			return
		}
		conn.WriteMessage(websocket.TextMessage, ticker)
		if first {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	})))
	defer srv.Close()

	cfg := testConfig(wsBase(srv), srv.URL)
	table := quotes.NewTable()
	registry := NewRegistry()
	fast := reconnect.BackoffPolicy{
		MaxAttempts:    5,
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       50 * time.Millisecond,
		Multiplier:     1.0,
		AttemptTimeout: time.Second,
	}
	orch := reconnect.NewOrchestrator(registry,
		reconnect.WithJitter(func() time.Duration { return 0 }),
		reconnect.WithPolicyOverrides(map[reconnect.FailureKind]reconnect.BackoffPolicy{
			reconnect.NetworkTimeout: fast,
			reconnect.ServerError:    fast,
			reconnect.Unknown:        fast,
		}),
	)
	m := NewManager(cfg, cfg.Feed.Endpoints[0], table, orch)
	registry.Register(m)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if m.State() == reconnect.StateConnected {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("manager never reconnected, state %s", m.State())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if len(m.History()) == 0 {
		t.Fatalf("reconnection left no attempt records")
	}
	stats := m.Statistics()
	if stats.SuccessfulAttempts == 0 {
		t.Fatalf("statistics show no successful attempt: %+v", stats)
	}
}
