package model

import (
	"github.com/shopspring/decimal"

	cerr "github.com/quantfold/backsim/common/errors"
)

// Position tracks exposure per instrument and strategy (HEDGING) or netted
// per instrument (NETTING). Quantity is always non-negative; Side carries
// the direction.
type Position struct {
	ID           string          `json:"id"`
	InstrumentID string          `json:"instrument_id"`
	StrategyID   string          `json:"strategy_id,omitempty"`
	Side         string          `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgEntryPx   decimal.Decimal `json:"avg_entry_px"`
	RealizedPnL  Money           `json:"realized_pnl"`
	OpenedNs     int64           `json:"opened_ns"`
	TsLastNs     int64           `json:"ts_last_ns"`
	ClosedNs     int64           `json:"closed_ns,omitempty"`
}

// NewPosition opens a flat position ledger entry for the instrument.
func NewPosition(id, instrumentID, strategyID, settlementCurrency string, tsNs int64) *Position {
	return &Position{
		ID:           id,
		InstrumentID: instrumentID,
		StrategyID:   strategyID,
		Quantity:     decimal.Zero,
		RealizedPnL:  ZeroMoney(settlementCurrency),
		OpenedNs:     tsNs,
	}
}

// IsClosed reports whether the position is flat.
func (p *Position) IsClosed() bool { return p.Quantity.IsZero() }

// IsLong reports a long position.
func (p *Position) IsLong() bool { return !p.Quantity.IsZero() && p.Side == OrderSideBuy }

// IsShort reports a short position.
func (p *Position) IsShort() bool { return !p.Quantity.IsZero() && p.Side == OrderSideSell }

// SignedQty returns the quantity signed by side (long positive).
func (p *Position) SignedQty() decimal.Decimal {
	if p.IsShort() {
		return p.Quantity.Neg()
	}
	return p.Quantity
}

// pnlPerUnit computes the per-unit realized PnL of closing at px a position
// entered at entry. Inverse contracts realize in base currency terms.
func pnlPerUnit(instrument *Instrument, side string, entry, px decimal.Decimal) decimal.Decimal {
	var diff decimal.Decimal
	if instrument.IsInverse {
		one := decimal.NewFromInt(1)
		diff = one.Div(entry).Sub(one.Div(px))
	} else {
		diff = px.Sub(entry)
	}
	if side == OrderSideSell {
		diff = diff.Neg()
	}
	return diff
}

// ApplyFill nets a fill into the position and returns the realized PnL of
// any reduced quantity. Fills that cross through zero close the position and
// reopen the remainder on the opposite side.
func (p *Position) ApplyFill(instrument *Instrument, side string, qty, px decimal.Decimal, tsNs int64) Money {
	cerr.Invariant(qty.IsPositive(), "position %s: non-positive fill qty %s", p.ID, qty)
	p.TsLastNs = tsNs
	realized := ZeroMoney(p.RealizedPnL.Currency)

	mult := instrument.Multiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}

	if p.Quantity.IsZero() || p.Side == side {
		// Opening or increasing: size-weighted entry price.
		newQty := p.Quantity.Add(qty)
		p.AvgEntryPx = p.AvgEntryPx.Mul(p.Quantity).Add(px.Mul(qty)).Div(newQty)
		p.Quantity = newQty
		p.Side = side
		return realized
	}

	// Reducing, possibly through zero.
	reduce := decimal.Min(qty, p.Quantity)
	perUnit := pnlPerUnit(instrument, p.Side, p.AvgEntryPx, px)
	realized = NewMoney(perUnit.Mul(reduce).Mul(mult), p.RealizedPnL.Currency)
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.Quantity = p.Quantity.Sub(reduce)

	if p.Quantity.IsZero() {
		remainder := qty.Sub(reduce)
		if remainder.IsPositive() {
			// Flip: reopen on the fill side.
			p.Side = side
			p.Quantity = remainder
			p.AvgEntryPx = px
		} else {
			p.ClosedNs = tsNs
		}
	}
	return realized
}

// UnrealizedPnL values the open quantity against the given mark price.
func (p *Position) UnrealizedPnL(instrument *Instrument, markPx decimal.Decimal) Money {
	if p.IsClosed() || markPx.IsZero() {
		return ZeroMoney(p.RealizedPnL.Currency)
	}
	mult := instrument.Multiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	perUnit := pnlPerUnit(instrument, p.Side, p.AvgEntryPx, markPx)
	return NewMoney(perUnit.Mul(p.Quantity).Mul(mult), p.RealizedPnL.Currency)
}
