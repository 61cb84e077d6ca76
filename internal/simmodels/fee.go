package simmodels

import (
	"github.com/shopspring/decimal"

	"github.com/quantfold/backsim/internal/model"
)

// FeeModel computes the commission charged for a fill.
type FeeModel interface {
	Commission(order *model.Order, fillQty, fillPx decimal.Decimal, instrument *model.Instrument) model.Money
}

// FixedFeeModel charges a flat fee on the first fill of each order and
// nothing on subsequent partial fills.
type FixedFeeModel struct {
	Fee model.Money
	// ChargePerFill charges the flat fee on every fill instead.
	ChargePerFill bool
}

// NewFixedFeeModel returns a per-order flat fee model.
func NewFixedFeeModel(fee model.Money) *FixedFeeModel {
	return &FixedFeeModel{Fee: fee}
}

func (m *FixedFeeModel) Commission(order *model.Order, _, _ decimal.Decimal, _ *model.Instrument) model.Money {
	if !m.ChargePerFill && !order.FilledQuantity.IsZero() {
		return model.ZeroMoney(m.Fee.Currency)
	}
	return m.Fee
}

// PerContractFeeModel charges a fee per contract traded.
type PerContractFeeModel struct {
	FeePerContract model.Money
}

// NewPerContractFeeModel returns a per-contract fee model.
func NewPerContractFeeModel(fee model.Money) *PerContractFeeModel {
	return &PerContractFeeModel{FeePerContract: fee}
}

func (m *PerContractFeeModel) Commission(_ *model.Order, fillQty, _ decimal.Decimal, _ *model.Instrument) model.Money {
	return model.NewMoney(m.FeePerContract.Amount.Mul(fillQty), m.FeePerContract.Currency)
}

// MakerTakerFeeModel charges the instrument's maker or taker rate on the
// fill notional, keyed by the order's liquidity side. Fills without an
// explicit liquidity side (e.g. liquidations) are charged as TAKER.
type MakerTakerFeeModel struct{}

// NewMakerTakerFeeModel returns the maker/taker basis-points model.
func NewMakerTakerFeeModel() *MakerTakerFeeModel {
	return &MakerTakerFeeModel{}
}

func (m *MakerTakerFeeModel) Commission(order *model.Order, fillQty, fillPx decimal.Decimal, instrument *model.Instrument) model.Money {
	rate := instrument.TakerFee
	if order.LiquiditySide == model.LiquidityMaker {
		rate = instrument.MakerFee
	}
	notional := instrument.Notional(fillQty, fillPx, false)
	return model.NewMoney(notional.Amount.Mul(rate), notional.Currency)
}
