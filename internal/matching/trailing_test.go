package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/quantfold/backsim/common/errors"
	"github.com/quantfold/backsim/internal/model"
)

func trailingSell(offsetType, offset string) *model.Order {
	return &model.Order{
		ClientOrderID:      "T-1",
		Side:               model.OrderSideSell,
		Type:               model.OrderTypeTrailingStopMarket,
		Quantity:           d("10"),
		TrailingOffset:     d(offset),
		TrailingOffsetType: offsetType,
		TriggerType:        model.TriggerBidAsk,
	}
}

func TestTrailingPriceOffsetSetsInitialTrigger(t *testing.T) {
	c := newCore() // bid 99.90, ask 100.00

	o := trailingSell(model.TrailingOffsetPrice, "1.00")
	trigger, price, err := TrailingStopCalculate(d("0.01"), o, c)
	require.NoError(t, err)
	assert.True(t, trigger.Equal(d("98.90")), "trigger %s", trigger)
	assert.True(t, price.IsZero())
}

func TestTrailingOnlyRatchetsFavorably(t *testing.T) {
	c := newCore()

	o := trailingSell(model.TrailingOffsetPrice, "1.00")
	o.TriggerPrice = d("99.50")

	// Candidate 98.90 is below the current trigger: no move for a sell.
	trigger, _, err := TrailingStopCalculate(d("0.01"), o, c)
	require.NoError(t, err)
	assert.True(t, trigger.IsZero())

	// Market rallies: candidate 100.00 exceeds 99.50, trigger follows up.
	c.SetBid(d("101.00"))
	trigger, _, err = TrailingStopCalculate(d("0.01"), o, c)
	require.NoError(t, err)
	assert.True(t, trigger.Equal(d("100.00")), "trigger %s", trigger)
}

func TestTrailingBuyTrailsAskDown(t *testing.T) {
	c := newCore()

	o := &model.Order{
		ClientOrderID:      "T-2",
		Side:               model.OrderSideBuy,
		Type:               model.OrderTypeTrailingStopMarket,
		Quantity:           d("10"),
		TrailingOffset:     d("0.50"),
		TrailingOffsetType: model.TrailingOffsetPrice,
		TriggerType:        model.TriggerBidAsk,
		TriggerPrice:       d("100.50"),
	}

	// Ask falls: buy trigger follows down.
	c.SetAsk(d("99.00"))
	trigger, _, err := TrailingStopCalculate(d("0.01"), o, c)
	require.NoError(t, err)
	assert.True(t, trigger.Equal(d("99.50")), "trigger %s", trigger)

	// Ask rises: trigger holds.
	o.TriggerPrice = d("99.50")
	c.SetAsk(d("100.00"))
	trigger, _, err = TrailingStopCalculate(d("0.01"), o, c)
	require.NoError(t, err)
	assert.True(t, trigger.IsZero())
}

func TestTrailingBasisPointsOffset(t *testing.T) {
	c := newCore() // bid 99.90

	o := trailingSell(model.TrailingOffsetBasisPoints, "100") // 1%
	trigger, _, err := TrailingStopCalculate(d("0.01"), o, c)
	require.NoError(t, err)
	assert.True(t, trigger.Equal(d("98.901")), "trigger %s", trigger)
}

func TestTrailingTicksOffset(t *testing.T) {
	c := newCore()

	o := trailingSell(model.TrailingOffsetTicks, "10")
	trigger, _, err := TrailingStopCalculate(d("0.01"), o, c)
	require.NoError(t, err)
	assert.True(t, trigger.Equal(d("99.80")), "trigger %s", trigger)
}

func TestTrailingStopLimitTrailsLimitPrice(t *testing.T) {
	c := newCore()

	o := trailingSell(model.TrailingOffsetPrice, "1.00")
	o.Type = model.OrderTypeTrailingStopLimit
	trigger, price, err := TrailingStopCalculate(d("0.01"), o, c)
	require.NoError(t, err)
	assert.True(t, trigger.Equal(d("98.90")))
	assert.True(t, price.Equal(d("98.90")))
}

func TestTrailingLastPriceSource(t *testing.T) {
	c := newCore()
	o := trailingSell(model.TrailingOffsetPrice, "1.00")
	o.TriggerType = model.TriggerLastPrice

	// No trade has printed yet: configuration error, not a silent freeze.
	_, _, err := TrailingStopCalculate(d("0.01"), o, c)
	require.Error(t, err)
	assert.True(t, cerr.IsConfigError(err))

	c.SetLast(d("100.50"))
	trigger, _, err := TrailingStopCalculate(d("0.01"), o, c)
	require.NoError(t, err)
	assert.True(t, trigger.Equal(d("99.50")), "trigger %s", trigger)
}

func TestTrailingLastOrBidAskTakesTighter(t *testing.T) {
	c := newCore() // sell trails bid 99.90
	c.SetLast(d("100.50"))

	o := trailingSell(model.TrailingOffsetPrice, "1.00")
	o.TriggerType = model.TriggerLastOrBidAsk

	// Sell takes the higher market price, so last (100.50) wins over bid.
	trigger, _, err := TrailingStopCalculate(d("0.01"), o, c)
	require.NoError(t, err)
	assert.True(t, trigger.Equal(d("99.50")), "trigger %s", trigger)
}

func TestTrailingNoMarketDataIsConfigError(t *testing.T) {
	c := NewCore("ETH-USDT", d("0.01"))
	o := trailingSell(model.TrailingOffsetPrice, "1.00")
	_, _, err := TrailingStopCalculate(d("0.01"), o, c)
	require.Error(t, err)
	assert.True(t, cerr.IsConfigError(err))
}
