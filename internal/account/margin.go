// Package account implements the balance and margin ledger for one venue.
package account

import (
	"github.com/shopspring/decimal"

	"github.com/quantfold/backsim/internal/model"
)

// MarginModel computes the margin requirement for a quantity at a price.
// Two built-in variants are selected by configuration.
type MarginModel interface {
	InitialMargin(instrument *model.Instrument, quantity, price, leverage decimal.Decimal, useQuoteForInverse bool) model.Money
	MaintenanceMargin(instrument *model.Instrument, quantity, price, leverage decimal.Decimal, useQuoteForInverse bool) model.Money
}

// StandardMarginModel ignores leverage for the margin requirement:
// margin = notional * margin rate. Leverage affects buying power elsewhere.
type StandardMarginModel struct{}

func (StandardMarginModel) InitialMargin(instrument *model.Instrument, quantity, price, _ decimal.Decimal, useQuoteForInverse bool) model.Money {
	notional := instrument.Notional(quantity, price, useQuoteForInverse)
	return model.NewMoney(notional.Amount.Mul(instrument.MarginInit), notional.Currency)
}

func (StandardMarginModel) MaintenanceMargin(instrument *model.Instrument, quantity, price, _ decimal.Decimal, useQuoteForInverse bool) model.Money {
	notional := instrument.Notional(quantity, price, useQuoteForInverse)
	return model.NewMoney(notional.Amount.Mul(instrument.MarginMaint), notional.Currency)
}

// LeveragedMarginModel divides the notional by leverage before applying the
// margin rate: margin = (notional / leverage) * margin rate.
type LeveragedMarginModel struct{}

func leveragedNotional(instrument *model.Instrument, quantity, price, leverage decimal.Decimal, useQuoteForInverse bool) model.Money {
	notional := instrument.Notional(quantity, price, useQuoteForInverse)
	if leverage.IsZero() {
		leverage = decimal.NewFromInt(1)
	}
	return model.NewMoney(notional.Amount.Div(leverage), notional.Currency)
}

func (LeveragedMarginModel) InitialMargin(instrument *model.Instrument, quantity, price, leverage decimal.Decimal, useQuoteForInverse bool) model.Money {
	adjusted := leveragedNotional(instrument, quantity, price, leverage, useQuoteForInverse)
	return model.NewMoney(adjusted.Amount.Mul(instrument.MarginInit), adjusted.Currency)
}

func (LeveragedMarginModel) MaintenanceMargin(instrument *model.Instrument, quantity, price, leverage decimal.Decimal, useQuoteForInverse bool) model.Money {
	adjusted := leveragedNotional(instrument, quantity, price, leverage, useQuoteForInverse)
	return model.NewMoney(adjusted.Amount.Mul(instrument.MarginMaint), adjusted.Currency)
}
