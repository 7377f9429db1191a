package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame type discriminators used on the wire.
const (
	FrameTicker    = "ticker"
	FrameHeartbeat = "heartbeat"
	FrameError     = "error"
)

// Outbound control operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPing        = "ping"
)

// BaseFrame carries only the type discriminator so the read path can route a
// message before decoding the full payload.
type BaseFrame struct {
	Type string `json:"type"`
}

// TickerFrame is an inbound market data update.
type TickerFrame struct {
	Type          string   `json:"type"`
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	PreviousClose float64  `json:"previous_close"`
	High          float64  `json:"high"`
	Low           float64  `json:"low"`
	ChangeAbs     float64  `json:"change_abs"`
	ChangePct     float64  `json:"change_pct"`
	Volume        float64  `json:"volume"`
	QuoteVolume   float64  `json:"quote_volume"`
	Timestamp     int64    `json:"timestamp"`
	FundingRate   *float64 `json:"funding_rate,omitempty"`
	OpenInterest  *float64 `json:"open_interest,omitempty"`
	IndexPrice    *float64 `json:"index_price,omitempty"`
	MarkPrice     *float64 `json:"mark_price,omitempty"`
}

// Tick converts the wire frame into a MarketTick.
func (f *TickerFrame) Tick() MarketTick {
	return MarketTick{
		Symbol:        f.Symbol,
		Price:         f.Price,
		PreviousClose: f.PreviousClose,
		High:          f.High,
		Low:           f.Low,
		ChangeAbs:     f.ChangeAbs,
		ChangePct:     f.ChangePct,
		Volume:        f.Volume,
		QuoteVolume:   f.QuoteVolume,
		Timestamp:     time.UnixMilli(f.Timestamp).UTC(),
		FundingRate:   f.FundingRate,
		OpenInterest:  f.OpenInterest,
		IndexPrice:    f.IndexPrice,
		MarkPrice:     f.MarkPrice,
	}
}

// HeartbeatFrame is the venue's response to an outbound ping. Timestamp echoes
// the ping's send timestamp in unix milliseconds and is used for correlation.
type HeartbeatFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorFrame is an inbound error notification from the venue.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (f *ErrorFrame) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("venue error %s: %s", f.Code, f.Message)
	}
	return fmt.Sprintf("venue error: %s", f.Message)
}

// ControlFrame is an outbound command: subscribe, unsubscribe or ping.
type ControlFrame struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// NewSubscribeFrame builds a subscribe command for the given symbols.
func NewSubscribeFrame(symbols []string) ControlFrame {
	return ControlFrame{Type: OpSubscribe, Data: map[string]interface{}{"symbols": symbols}}
}

// NewUnsubscribeFrame builds an unsubscribe command for the given symbols.
func NewUnsubscribeFrame(symbols []string) ControlFrame {
	return ControlFrame{Type: OpUnsubscribe, Data: map[string]interface{}{"symbols": symbols}}
}

// NewPingFrame builds a ping carrying the send timestamp in unix milliseconds.
func NewPingFrame(sentAt time.Time) ControlFrame {
	return ControlFrame{Type: OpPing, Data: map[string]interface{}{"timestamp": sentAt.UnixMilli()}}
}

// Marshal encodes the control frame for the wire.
func (f ControlFrame) Marshal() ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", f.Type, err)
	}
	return payload, nil
}
