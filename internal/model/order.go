package model

import (
	"fmt"

	"github.com/shopspring/decimal"

	cerr "github.com/quantfold/backsim/common/errors"
)

// Order is the mutable order state machine. One struct covers every order
// type; handling sites switch exhaustively on Type so that adding a type
// forces every switch to be revisited.
type Order struct {
	ClientOrderID string `json:"client_order_id"`
	VenueOrderID  string `json:"venue_order_id,omitempty"`
	StrategyID    string `json:"strategy_id,omitempty"`
	InstrumentID  string `json:"instrument_id"`
	Side          string `json:"side"`
	Type          string `json:"type"`

	Quantity       decimal.Decimal `json:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	AvgPx          decimal.Decimal `json:"avg_px"`

	// Price is the limit price; TriggerPrice the stop/touch price. A zero
	// value means unset, which is safe because zero is never a valid price.
	Price        decimal.Decimal `json:"price,omitempty"`
	TriggerPrice decimal.Decimal `json:"trigger_price,omitempty"`
	TriggerType  string          `json:"trigger_type,omitempty"`

	TimeInForce  string `json:"time_in_force"`
	ExpireTimeNs int64  `json:"expire_time_ns,omitempty"`
	PostOnly     bool   `json:"post_only,omitempty"`
	ReduceOnly   bool   `json:"reduce_only,omitempty"`

	ContingencyType string   `json:"contingency_type,omitempty"`
	ParentOrderID   string   `json:"parent_order_id,omitempty"`
	LinkedOrderIDs  []string `json:"linked_order_ids,omitempty"`

	TrailingOffset     decimal.Decimal `json:"trailing_offset,omitempty"`
	TrailingOffsetType string          `json:"trailing_offset_type,omitempty"`
	ActivationPrice    decimal.Decimal `json:"activation_price,omitempty"`
	Activated          bool            `json:"activated,omitempty"`

	Triggered     bool   `json:"triggered,omitempty"`
	LiquiditySide string `json:"liquidity_side,omitempty"`
	Status        string `json:"status"`

	TsSubmittedNs int64 `json:"ts_submitted_ns,omitempty"`
	TsLastNs      int64 `json:"ts_last_ns,omitempty"`

	// Sequence is the stable arrival counter used for time priority.
	Sequence uint64 `json:"sequence,omitempty"`
}

// LeavesQty returns the unfilled remainder.
func (o *Order) LeavesQty() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsClosed reports whether the order reached a terminal status.
func (o *Order) IsClosed() bool { return IsTerminalStatus(o.Status) }

// IsOpen reports whether the order is live at the venue.
func (o *Order) IsOpen() bool {
	switch o.Status {
	case OrderStatusAccepted, OrderStatusTriggered, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

func (o *Order) IsBuy() bool  { return o.Side == OrderSideBuy }
func (o *Order) IsSell() bool { return o.Side == OrderSideSell }

// HasPrice reports whether a limit price is set.
func (o *Order) HasPrice() bool { return !o.Price.IsZero() }

// HasTriggerPrice reports whether a trigger price is set.
func (o *Order) HasTriggerPrice() bool { return !o.TriggerPrice.IsZero() }

// IsPassiveType reports whether the order rests until price or trigger
// conditions are met.
func (o *Order) IsPassiveType() bool {
	switch o.Type {
	case OrderTypeLimit, OrderTypeStopMarket, OrderTypeStopLimit,
		OrderTypeMarketIfTouched, OrderTypeLimitIfTouched,
		OrderTypeTrailingStopMarket, OrderTypeTrailingStopLimit:
		return true
	case OrderTypeMarket:
		return false
	}
	panic(fmt.Sprintf("invariant: unknown order type %q", o.Type))
}

// IsLimitType reports whether the order rests (or converts to rest) at a
// limit price.
func (o *Order) IsLimitType() bool {
	switch o.Type {
	case OrderTypeLimit, OrderTypeStopLimit,
		OrderTypeLimitIfTouched, OrderTypeTrailingStopLimit:
		return true
	case OrderTypeMarket, OrderTypeStopMarket,
		OrderTypeMarketIfTouched, OrderTypeTrailingStopMarket:
		return false
	}
	panic(fmt.Sprintf("invariant: unknown order type %q", o.Type))
}

// IsStopType reports whether the order carries stop-trigger semantics.
func (o *Order) IsStopType() bool {
	switch o.Type {
	case OrderTypeStopMarket, OrderTypeStopLimit,
		OrderTypeTrailingStopMarket, OrderTypeTrailingStopLimit:
		return true
	case OrderTypeMarket, OrderTypeLimit, OrderTypeMarketIfTouched, OrderTypeLimitIfTouched:
		return false
	}
	panic(fmt.Sprintf("invariant: unknown order type %q", o.Type))
}

// IsTouchType reports whether the order triggers on touch (MIT/LIT).
func (o *Order) IsTouchType() bool {
	return o.Type == OrderTypeMarketIfTouched || o.Type == OrderTypeLimitIfTouched
}

// IsTrailingType reports whether the trigger price trails the market.
func (o *Order) IsTrailingType() bool {
	return o.Type == OrderTypeTrailingStopMarket || o.Type == OrderTypeTrailingStopLimit
}

// ApplyStatus transitions the order status. Transitions out of a terminal
// status are a core bug.
func (o *Order) ApplyStatus(status string) {
	cerr.Invariant(!o.IsClosed(),
		"order %s: illegal transition %s -> %s", o.ClientOrderID, o.Status, status)
	o.Status = status
}

// ApplyFill records a fill of qty at px, updating the filled quantity, the
// size-weighted average price, and the status.
func (o *Order) ApplyFill(qty, px decimal.Decimal) {
	cerr.Invariant(qty.IsPositive(), "order %s: non-positive fill qty %s", o.ClientOrderID, qty)
	newFilled := o.FilledQuantity.Add(qty)
	cerr.Invariant(newFilled.LessThanOrEqual(o.Quantity),
		"order %s: filled %s exceeds quantity %s", o.ClientOrderID, newFilled, o.Quantity)

	notional := o.AvgPx.Mul(o.FilledQuantity).Add(px.Mul(qty))
	o.AvgPx = notional.Div(newFilled)
	o.FilledQuantity = newFilled

	if newFilled.Equal(o.Quantity) {
		o.ApplyStatus(OrderStatusFilled)
	} else {
		o.ApplyStatus(OrderStatusPartiallyFilled)
	}
}

// WouldReduce reports whether executing this order against a position of the
// given side and quantity would only ever shrink the position.
func (o *Order) WouldReduce(positionSide string, positionQty decimal.Decimal) bool {
	if positionQty.IsZero() {
		return false
	}
	if o.IsBuy() && positionSide == OrderSideSell {
		return true
	}
	if o.IsSell() && positionSide == OrderSideBuy {
		return true
	}
	return false
}
