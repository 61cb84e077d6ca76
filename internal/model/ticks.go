package model

import "github.com/shopspring/decimal"

// QuoteTick is a top-of-book update.
type QuoteTick struct {
	InstrumentID string          `json:"instrument_id"`
	BidPrice     decimal.Decimal `json:"bid_price"`
	AskPrice     decimal.Decimal `json:"ask_price"`
	BidSize      decimal.Decimal `json:"bid_size"`
	AskSize      decimal.Decimal `json:"ask_size"`
	TsEventNs    int64           `json:"ts_event_ns"`
}

// IsCrossed reports the bid >= ask data error condition.
func (q *QuoteTick) IsCrossed() bool {
	return q.BidPrice.GreaterThanOrEqual(q.AskPrice)
}

// TradeTick is a single executed trade print.
type TradeTick struct {
	InstrumentID  string          `json:"instrument_id"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	AggressorSide string          `json:"aggressor_side"`
	TradeID       string          `json:"trade_id"`
	TsEventNs     int64           `json:"ts_event_ns"`
}

// BookLevel is one price level of an order book snapshot.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// DepthSnapshot is a full replacement of the visible book. Bids must be in
// descending price order and asks ascending.
type DepthSnapshot struct {
	InstrumentID string      `json:"instrument_id"`
	Bids         []BookLevel `json:"bids"`
	Asks         []BookLevel `json:"asks"`
	TsEventNs    int64       `json:"ts_event_ns"`
}

// BookDelta is an incremental change to a single price level. A zero size
// deletes the level.
type BookDelta struct {
	InstrumentID string          `json:"instrument_id"`
	Side         string          `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	TsEventNs    int64           `json:"ts_event_ns"`
}

// InstrumentStatus signals trading state changes (halt/resume/expiry).
type InstrumentStatus struct {
	InstrumentID string `json:"instrument_id"`
	Action       string `json:"action"` // TRADING, HALT, CLOSE
	TsEventNs    int64  `json:"ts_event_ns"`
}

const (
	StatusActionTrading = "TRADING"
	StatusActionHalt    = "HALT"
	StatusActionClose   = "CLOSE"
)
