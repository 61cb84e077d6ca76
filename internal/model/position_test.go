package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearInstrument() *Instrument {
	return &Instrument{
		ID:                 "ETH-USDT",
		BaseCurrency:       "ETH",
		QuoteCurrency:      "USDT",
		SettlementCurrency: "USDT",
		PricePrecision:     2,
		SizePrecision:      3,
		PriceIncrement:     d("0.01"),
		Multiplier:         d("1"),
	}
}

func inverseInstrument() *Instrument {
	return &Instrument{
		ID:                 "BTC-USD-INVERSE",
		BaseCurrency:       "BTC",
		QuoteCurrency:      "USD",
		SettlementCurrency: "BTC",
		PricePrecision:     1,
		SizePrecision:      0,
		PriceIncrement:     d("0.5"),
		Multiplier:         d("1"),
		IsInverse:          true,
	}
}

func TestPositionIncreaseWeightsEntry(t *testing.T) {
	p := NewPosition("P-1", "ETH-USDT", "S-1", "USDT", 1)
	instr := linearInstrument()

	realized := p.ApplyFill(instr, OrderSideBuy, d("10"), d("100"), 2)
	assert.True(t, realized.Amount.IsZero())
	realized = p.ApplyFill(instr, OrderSideBuy, d("10"), d("110"), 3)
	assert.True(t, realized.Amount.IsZero())

	assert.True(t, p.IsLong())
	assert.True(t, p.Quantity.Equal(d("20")))
	assert.True(t, p.AvgEntryPx.Equal(d("105")), "entry %s", p.AvgEntryPx)
}

func TestPositionReduceRealizesPnL(t *testing.T) {
	p := NewPosition("P-2", "ETH-USDT", "S-1", "USDT", 1)
	instr := linearInstrument()

	p.ApplyFill(instr, OrderSideBuy, d("20"), d("100"), 2)
	realized := p.ApplyFill(instr, OrderSideSell, d("5"), d("110"), 3)

	assert.True(t, realized.Amount.Equal(d("50")), "realized %s", realized.Amount)
	assert.Equal(t, "USDT", realized.Currency)
	assert.True(t, p.Quantity.Equal(d("15")))
	assert.True(t, p.AvgEntryPx.Equal(d("100")))
}

func TestPositionFlipThroughZero(t *testing.T) {
	p := NewPosition("P-3", "ETH-USDT", "S-1", "USDT", 1)
	instr := linearInstrument()

	p.ApplyFill(instr, OrderSideBuy, d("10"), d("100"), 2)
	realized := p.ApplyFill(instr, OrderSideSell, d("15"), d("90"), 3)

	// 10 closed at a 10 loss each, 5 reopened short at 90.
	assert.True(t, realized.Amount.Equal(d("-100")), "realized %s", realized.Amount)
	require.True(t, p.IsShort())
	assert.True(t, p.Quantity.Equal(d("5")))
	assert.True(t, p.AvgEntryPx.Equal(d("90")))
}

func TestPositionCloseSetsClosed(t *testing.T) {
	p := NewPosition("P-4", "ETH-USDT", "S-1", "USDT", 1)
	instr := linearInstrument()

	p.ApplyFill(instr, OrderSideSell, d("10"), d("100"), 2)
	p.ApplyFill(instr, OrderSideBuy, d("10"), d("95"), 3)

	assert.True(t, p.IsClosed())
	assert.EqualValues(t, 3, p.ClosedNs)
	// Short from 100 covered at 95: +5 per unit.
	assert.True(t, p.RealizedPnL.Amount.Equal(d("50")))
}

func TestPositionInversePnLInBase(t *testing.T) {
	p := NewPosition("P-5", "BTC-USD-INVERSE", "S-1", "BTC", 1)
	instr := inverseInstrument()

	p.ApplyFill(instr, OrderSideBuy, d("10000"), d("100"), 2)
	realized := p.ApplyFill(instr, OrderSideSell, d("10000"), d("125"), 3)

	// Inverse long: (1/entry - 1/exit) * qty = (0.01 - 0.008) * 10000 = 20 BTC.
	assert.Equal(t, "BTC", realized.Currency)
	assert.True(t, realized.Amount.Equal(d("20")), "realized %s", realized.Amount)
}

func TestPositionUnrealizedPnL(t *testing.T) {
	p := NewPosition("P-6", "ETH-USDT", "S-1", "USDT", 1)
	instr := linearInstrument()

	p.ApplyFill(instr, OrderSideBuy, d("10"), d("100"), 2)
	u := p.UnrealizedPnL(instr, d("103"))
	assert.True(t, u.Amount.Equal(d("30")), "unrealized %s", u.Amount)
}
