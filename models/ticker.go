package models

import (
	"time"
)

// MarketTick represents the most recent market data point for an instrument.
// Derivative-only fields are pointers so spot feeds can leave them unset.
type MarketTick struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	PreviousClose float64   `json:"previous_close"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	ChangeAbs     float64   `json:"change_abs"`
	ChangePct     float64   `json:"change_pct"`
	Volume        float64   `json:"volume"`
	QuoteVolume   float64   `json:"quote_volume"`
	Timestamp     time.Time `json:"timestamp"`

	FundingRate  *float64 `json:"funding_rate,omitempty"`
	OpenInterest *float64 `json:"open_interest,omitempty"`
	IndexPrice   *float64 `json:"index_price,omitempty"`
	MarkPrice    *float64 `json:"mark_price,omitempty"`
}

// HeartbeatSample records the most recent keepalive exchange for an endpoint.
// RTT is nil when no response arrived before the deadline.
type HeartbeatSample struct {
	SentAt time.Time
	RTT    *time.Duration
}

// SortField selects the column a sorted view is ordered by.
type SortField string

const (
	SortByPrice     SortField = "price"
	SortByChangePct SortField = "changePct"
	SortByVolume    SortField = "volume"
	SortBySymbol    SortField = "symbol"
)

// SortDirection selects ascending or descending order.
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)
