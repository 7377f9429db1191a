package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	appconfig "tickerflow/config"
	"tickerflow/logger"
	"tickerflow/models"
	"tickerflow/quotes"
	"tickerflow/reconnect"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Manager owns the physical streaming session for one endpoint: it opens and
// closes the websocket, routes inbound frames by declared type, and on
// transport failure classifies the cause and hands the endpoint to the
// reconnection orchestrator. Receive-path panics are caught and converted
// into the same failure path; they never propagate to callers.
type Manager struct {
	config   *appconfig.Config
	endpoint appconfig.EndpointConfig
	table    *quotes.Table
	orch     *reconnect.Orchestrator
	limiter  *rate.Limiter
	client   *http.Client
	log      *logger.Log

	mu          sync.Mutex
	conn        *websocket.Conn
	connected   bool
	connecting  bool
	liveUpdates bool
	hb          *Heartbeat
	cancelRead  context.CancelFunc
	ctx         context.Context
	sortField   models.SortField
	sortDir     models.SortDirection

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewManager creates a manager for the endpoint. Live updates start enabled;
// outbound control frames are paced by the configured rate limit.
func NewManager(cfg *appconfig.Config, endpoint appconfig.EndpointConfig, table *quotes.Table, orch *reconnect.Orchestrator) *Manager {
	rps := cfg.Feed.ControlRate.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Feed.ControlRate.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Manager{
		config:      cfg,
		endpoint:    endpoint,
		table:       table,
		orch:        orch,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         logger.GetLogger(),
		liveUpdates: true,
		ctx:         context.Background(),
		sortField:   models.SortBySymbol,
		sortDir:     models.SortAscending,
	}
}

// EndpointID returns the endpoint this manager owns.
func (m *Manager) EndpointID() string {
	return m.endpoint.ID
}

// Connect opens the streaming session. It is a no-op when the session is
// already connecting or connected. A failed initial connect is classified
// and, when live updates are enabled, handed to the orchestrator.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connected || m.connecting {
		m.mu.Unlock()
		return nil
	}
	m.connecting = true
	m.ctx = ctx
	m.mu.Unlock()

	err := m.dial(ctx)

	m.mu.Lock()
	m.connecting = false
	live := m.liveUpdates
	m.mu.Unlock()

	if err != nil {
		kind := Classify(err)
		m.log.WithComponent("stream_manager").WithError(err).WithFields(logger.Fields{
			"endpoint": m.endpoint.ID,
			"kind":     string(kind),
		}).Warn("initial connect failed")
		if live {
			go m.runReconnect(kind)
		}
		return err
	}
	return nil
}

// Disconnect cancels any pending reconnection, closes the transport and
// returns the endpoint to Idle. Safe to call when not connected.
func (m *Manager) Disconnect() {
	m.orch.Cancel(m.endpoint.ID)
	m.teardown()
	m.wg.Wait()
	m.log.WithComponent("stream_manager").WithFields(logger.Fields{"endpoint": m.endpoint.ID}).Info("disconnected")
}

// Attempt performs a single connection attempt on behalf of the
// orchestrator.
func (m *Manager) Attempt(ctx context.Context, endpointID string) error {
	if endpointID != m.endpoint.ID {
		return fmt.Errorf("manager for endpoint %s received attempt for %s", m.endpoint.ID, endpointID)
	}
	return m.dial(ctx)
}

// EnableLiveUpdates re-arms automatic reconnection on failure.
func (m *Manager) EnableLiveUpdates() {
	m.mu.Lock()
	m.liveUpdates = true
	m.mu.Unlock()
}

// DisableLiveUpdates stops failures from triggering reconnection and cancels
// any sequence already running.
func (m *Manager) DisableLiveUpdates() {
	m.mu.Lock()
	m.liveUpdates = false
	m.mu.Unlock()
	m.orch.Cancel(m.endpoint.ID)
}

// Subscribe requests ticker updates for the given symbols.
func (m *Manager) Subscribe(ctx context.Context, symbols []string) error {
	return m.writeControl(ctx, models.NewSubscribeFrame(symbols))
}

// Unsubscribe stops ticker updates for the given symbols.
func (m *Manager) Unsubscribe(ctx context.Context, symbols []string) error {
	return m.writeControl(ctx, models.NewUnsubscribeFrame(symbols))
}

// SetSorting selects the field and direction SortedView orders by.
func (m *Manager) SetSorting(field models.SortField, direction models.SortDirection) {
	m.mu.Lock()
	m.sortField = field
	m.sortDir = direction
	m.mu.Unlock()
}

// SortedView returns a snapshot of the latest ticks using the current
// sorting preference.
func (m *Manager) SortedView() []models.MarketTick {
	m.mu.Lock()
	field, dir := m.sortField, m.sortDir
	m.mu.Unlock()
	return m.table.SortedView(field, dir)
}

// State returns the endpoint's reconnection state.
func (m *Manager) State() reconnect.ConnectionState {
	return m.orch.State(m.endpoint.ID)
}

// Connected reports whether the transport session is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// History returns the endpoint's reconnection attempt records, oldest first.
func (m *Manager) History() []reconnect.AttemptRecord {
	return m.orch.History(m.endpoint.ID)
}

// Statistics returns derived reconnection statistics for the endpoint.
func (m *Manager) Statistics() reconnect.Statistics {
	return m.orch.Statistics(m.endpoint.ID)
}

// HeartbeatSample returns the most recent keepalive sample, false when no
// ping has completed yet.
func (m *Manager) HeartbeatSample() (models.HeartbeatSample, bool) {
	m.mu.Lock()
	hb := m.hb
	m.mu.Unlock()
	if hb == nil {
		return models.HeartbeatSample{}, false
	}
	return hb.Sample()
}

// ManualRefresh fetches the current tickers over REST and upserts them into
// the table. Used as a fallback when the stream is down.
func (m *Manager) ManualRefresh(ctx context.Context) error {
	log := m.log.WithComponent("stream_manager").WithFields(logger.Fields{"endpoint": m.endpoint.ID})

	url := fmt.Sprintf("%s/%s/tickers", strings.TrimRight(m.config.Feed.BaseRESTURL, "/"), m.endpoint.Channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build refresh request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh request returned status %d", resp.StatusCode)
	}

	var frames []models.TickerFrame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}

	for i := range frames {
		m.table.Upsert(frames[i].Tick())
	}
	logger.IncrementManualRefresh(len(frames))
	log.WithFields(logger.Fields{"tickers": len(frames)}).Info("manual refresh completed")
	return nil
}

// dial opens the websocket, subscribes the configured symbols and starts the
// read loop and heartbeat supervisor.
func (m *Manager) dial(ctx context.Context) error {
	wsURL := m.endpoint.WSURL(m.config.Feed.BaseWSURL)
	log := m.log.WithComponent("stream_manager").WithFields(logger.Fields{
		"endpoint": m.endpoint.ID,
		"url":      wsURL,
	})

	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.Feed.HandshakeTimeout,
		ReadBufferSize:   m.config.Feed.ReadBuffer,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	readCtx, cancel := context.WithCancel(m.ctx)
	m.conn = conn
	m.connected = true
	m.cancelRead = cancel
	hb := NewHeartbeat(
		m.config.Heartbeat.Interval,
		m.config.Heartbeat.Deadline,
		m.config.Heartbeat.MaxMisses,
		func(frame models.ControlFrame) error {
			m.mu.Lock()
			pingCtx := m.ctx
			m.mu.Unlock()
			return m.writeControl(pingCtx, frame)
		},
		m.handleFailure,
	)
	m.hb = hb
	symbols := m.endpoint.Symbols
	m.mu.Unlock()

	if len(symbols) > 0 {
		if err := m.writeControl(ctx, models.NewSubscribeFrame(symbols)); err != nil {
			m.teardown()
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	hb.Start()
	m.wg.Add(1)
	go m.readLoop(readCtx, conn)

	log.WithFields(logger.Fields{"symbols": symbols}).Info("stream connected")
	return nil
}

// writeControl paces and writes one outbound control frame. The write mutex
// serialises writers as the transport permits only one concurrent writer.
func (m *Manager) writeControl(ctx context.Context, frame models.ControlFrame) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("control frame rate limiter: %w", err)
	}

	payload, err := frame.Marshal()
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.config.Feed.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(m.config.Feed.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", frame.Type, err)
	}
	return nil
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.log.WithComponent("stream_manager").WithFields(logger.Fields{
				"endpoint": m.endpoint.ID,
				"panic":    fmt.Sprint(r),
			}).Error("read loop panic recovered")
			m.handleFailure(fmt.Errorf("read loop panic: %v", r))
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// deliberate close
				return
			}
			m.handleFailure(err)
			return
		}
		m.route(msg)
	}
}

// route dispatches one inbound frame by its declared type.
func (m *Manager) route(msg []byte) {
	log := m.log.WithComponent("stream_manager").WithFields(logger.Fields{"endpoint": m.endpoint.ID})

	var base models.BaseFrame
	if err := json.Unmarshal(msg, &base); err != nil {
		log.WithError(err).Debug("failed to decode inbound frame")
		return
	}

	switch base.Type {
	case models.FrameTicker:
		var frame models.TickerFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			log.WithError(err).Warn("failed to decode ticker frame")
			return
		}
		m.table.Upsert(frame.Tick())
		logger.IncrementTickerRead(len(msg))
	case models.FrameHeartbeat:
		var frame models.HeartbeatFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			log.WithError(err).Warn("failed to decode heartbeat frame")
			return
		}
		m.mu.Lock()
		hb := m.hb
		m.mu.Unlock()
		if hb != nil {
			hb.Ack(frame.Timestamp)
		}
	case models.FrameError:
		var frame models.ErrorFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			log.WithError(err).Warn("failed to decode error frame")
			return
		}
		log.WithFields(logger.Fields{"code": frame.Code}).Warn(frame.Error())
	default:
		log.WithFields(logger.Fields{"type": base.Type}).Debug("unknown frame type")
	}
}

// handleFailure tears the session down, classifies the error and, when live
// updates are enabled, starts a reconnection sequence.
func (m *Manager) handleFailure(err error) {
	kind := Classify(err)
	log := m.log.WithComponent("stream_manager").WithFields(logger.Fields{
		"endpoint": m.endpoint.ID,
		"kind":     string(kind),
	})
	log.WithError(err).Warn("stream failure")

	m.teardown()

	m.mu.Lock()
	live := m.liveUpdates
	m.mu.Unlock()

	if !live {
		m.orch.Disconnected(m.endpoint.ID)
		return
	}
	go m.runReconnect(kind)
}

func (m *Manager) runReconnect(kind reconnect.FailureKind) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	log := m.log.WithComponent("stream_manager").WithFields(logger.Fields{"endpoint": m.endpoint.ID})
	ok, err := m.orch.Start(ctx, m.endpoint.ID, kind, nil)
	if err != nil {
		log.WithError(err).Warn("reconnection sequence error")
		return
	}
	if ok {
		log.Info("stream recovered")
	} else {
		log.Error("stream unrecovered, manual restart required")
	}
}

// teardown closes the transport and stops the heartbeat and read loops.
func (m *Manager) teardown() {
	m.mu.Lock()
	conn := m.conn
	hb := m.hb
	cancel := m.cancelRead
	m.conn = nil
	m.hb = nil
	m.cancelRead = nil
	m.connected = false
	m.mu.Unlock()

	if hb != nil {
		hb.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// Registry dispatches orchestrator connection attempts to the manager owning
// each endpoint.
type Registry struct {
	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Register adds a manager. The last registration for an endpoint wins.
func (r *Registry) Register(m *Manager) {
	r.mu.Lock()
	r.managers[m.EndpointID()] = m
	r.mu.Unlock()
}

// Attempt implements the orchestrator's connector by delegating to the
// endpoint's manager.
func (r *Registry) Attempt(ctx context.Context, endpointID string) error {
	r.mu.RLock()
	m := r.managers[endpointID]
	r.mu.RUnlock()
	if m == nil {
		return fmt.Errorf("no manager registered for endpoint %s", endpointID)
	}
	return m.Attempt(ctx, endpointID)
}
