package model

import (
	"github.com/shopspring/decimal"
)

// Event is one append-only state transition emitted to the trading layer.
type Event interface {
	EventType() string
	EventTimeNs() int64
}

// OrderEventBase carries the identifiers common to every order event.
type OrderEventBase struct {
	ClientOrderID string `json:"client_order_id"`
	VenueOrderID  string `json:"venue_order_id,omitempty"`
	InstrumentID  string `json:"instrument_id"`
	StrategyID    string `json:"strategy_id,omitempty"`
	TsEventNs     int64  `json:"ts_event_ns"`
}

func (e OrderEventBase) EventTimeNs() int64 { return e.TsEventNs }

type OrderSubmitted struct{ OrderEventBase }

func (OrderSubmitted) EventType() string { return "OrderSubmitted" }

type OrderAccepted struct{ OrderEventBase }

func (OrderAccepted) EventType() string { return "OrderAccepted" }

type OrderRejected struct {
	OrderEventBase
	Reason      string `json:"reason"`
	Detail      string `json:"detail,omitempty"`
	DuePostOnly bool   `json:"due_post_only,omitempty"`
}

func (OrderRejected) EventType() string { return "OrderRejected" }

type OrderTriggered struct {
	OrderEventBase
	TriggerPrice decimal.Decimal `json:"trigger_price"`
}

func (OrderTriggered) EventType() string { return "OrderTriggered" }

type OrderUpdated struct {
	OrderEventBase
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price,omitempty"`
	TriggerPrice decimal.Decimal `json:"trigger_price,omitempty"`
}

func (OrderUpdated) EventType() string { return "OrderUpdated" }

type OrderCanceled struct{ OrderEventBase }

func (OrderCanceled) EventType() string { return "OrderCanceled" }

type OrderExpired struct{ OrderEventBase }

func (OrderExpired) EventType() string { return "OrderExpired" }

type OrderFilled struct {
	OrderEventBase
	TradeID         string          `json:"trade_id"`
	LastQty         decimal.Decimal `json:"last_qty"`
	LastPx          decimal.Decimal `json:"last_px"`
	Commission      Money           `json:"commission"`
	LiquiditySide   string          `json:"liquidity_side"`
	VenuePositionID string          `json:"venue_position_id,omitempty"`
}

func (OrderFilled) EventType() string { return "OrderFilled" }

// PositionEvent snapshots a position lifecycle transition.
type PositionEvent struct {
	Kind         string          `json:"kind"` // PositionOpened/PositionChanged/PositionClosed
	PositionID   string          `json:"position_id"`
	InstrumentID string          `json:"instrument_id"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgEntryPx   decimal.Decimal `json:"avg_entry_px"`
	RealizedPnL  Money           `json:"realized_pnl"`
	TsEventNs    int64           `json:"ts_event_ns"`
}

func (e PositionEvent) EventType() string  { return e.Kind }
func (e PositionEvent) EventTimeNs() int64 { return e.TsEventNs }

const (
	PositionOpened  = "PositionOpened"
	PositionChanged = "PositionChanged"
	PositionClosed  = "PositionClosed"
)

// CurrencyBalance is one currency line of an account state event.
type CurrencyBalance struct {
	Currency string          `json:"currency"`
	Total    decimal.Decimal `json:"total"`
	Locked   decimal.Decimal `json:"locked"`
	Free     decimal.Decimal `json:"free"`
}

// AccountState reports balances and margins after a change.
type AccountState struct {
	AccountID  string            `json:"account_id"`
	Type       string            `json:"type"`
	Balances   []CurrencyBalance `json:"balances"`
	MarginUsed []Money           `json:"margin_used,omitempty"`
	TsEventNs  int64             `json:"ts_event_ns"`
}

func (AccountState) EventType() string    { return "AccountState" }
func (e AccountState) EventTimeNs() int64 { return e.TsEventNs }

// EventHandler consumes emitted events. The core always invokes it
// synchronously, in deterministic order.
type EventHandler func(Event)
