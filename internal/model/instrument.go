package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Instrument is the static definition of a tradable contract. Instances are
// created at setup time and shared read-only across all components.
type Instrument struct {
	ID                 string          `json:"id"`
	BaseCurrency       string          `json:"base_currency"`
	QuoteCurrency      string          `json:"quote_currency"`
	SettlementCurrency string          `json:"settlement_currency"`
	PricePrecision     int32           `json:"price_precision"`
	SizePrecision      int32           `json:"size_precision"`
	PriceIncrement     decimal.Decimal `json:"price_increment"`
	LotSize            decimal.Decimal `json:"lot_size"`
	Multiplier         decimal.Decimal `json:"multiplier"`
	MarginInit         decimal.Decimal `json:"margin_init"`
	MarginMaint        decimal.Decimal `json:"margin_maint"`
	MakerFee           decimal.Decimal `json:"maker_fee"`
	TakerFee           decimal.Decimal `json:"taker_fee"`
	IsInverse          bool            `json:"is_inverse"`
	ActivationNs       int64           `json:"activation_ns,omitempty"`
	ExpirationNs       int64           `json:"expiration_ns,omitempty"`
}

// Validate checks the definition for internal consistency.
func (i *Instrument) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("instrument id must not be empty")
	}
	if i.PriceIncrement.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("instrument %s: price increment must be positive", i.ID)
	}
	if i.PricePrecision < 0 || i.SizePrecision < 0 {
		return fmt.Errorf("instrument %s: precisions must be non-negative", i.ID)
	}
	if i.MarginInit.IsNegative() || i.MarginMaint.IsNegative() {
		return fmt.Errorf("instrument %s: margin rates must be non-negative", i.ID)
	}
	if i.ActivationNs != 0 && i.ExpirationNs != 0 && i.ExpirationNs <= i.ActivationNs {
		return fmt.Errorf("instrument %s: expiration must be after activation", i.ID)
	}
	return nil
}

// Notional returns the notional value of the given quantity at the given
// price. For inverse contracts the notional is expressed in the base
// currency (quantity * multiplier / price) unless useQuoteForInverse is set.
func (i *Instrument) Notional(quantity, price decimal.Decimal, useQuoteForInverse bool) Money {
	mult := i.Multiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	if i.IsInverse && !useQuoteForInverse {
		amount := quantity.Mul(mult).Div(price)
		return NewMoney(amount, i.BaseCurrency)
	}
	amount := quantity.Mul(mult).Mul(price)
	return NewMoney(amount, i.QuoteCurrency)
}

// IsActiveAt reports whether the contract is tradable at tsNs, honouring the
// optional activation and expiration window.
func (i *Instrument) IsActiveAt(tsNs int64) bool {
	if i.ActivationNs != 0 && tsNs < i.ActivationNs {
		return false
	}
	if i.ExpirationNs != 0 && tsNs >= i.ExpirationNs {
		return false
	}
	return true
}

// TickValue converts n ticks into a price offset.
func (i *Instrument) TickValue(n decimal.Decimal) decimal.Decimal {
	return n.Mul(i.PriceIncrement)
}
