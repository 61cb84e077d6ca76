package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestOrderApplyFillWeightedAverage(t *testing.T) {
	o := &Order{
		ClientOrderID: "O-1",
		Side:          OrderSideBuy,
		Type:          OrderTypeMarket,
		Quantity:      d("70000"),
		Status:        OrderStatusSubmitted,
	}

	o.ApplyFill(d("10000"), d("100.00"))
	assert.Equal(t, OrderStatusPartiallyFilled, o.Status)
	o.ApplyFill(d("50000"), d("100.10"))
	o.ApplyFill(d("10000"), d("100.20"))

	assert.Equal(t, OrderStatusFilled, o.Status)
	assert.True(t, o.AvgPx.Equal(d("100.1")), "avg px was %s", o.AvgPx)
	assert.True(t, o.LeavesQty().IsZero())
}

func TestOrderApplyFillOverfillPanics(t *testing.T) {
	o := &Order{
		ClientOrderID: "O-2",
		Side:          OrderSideBuy,
		Type:          OrderTypeLimit,
		Quantity:      d("10"),
		Status:        OrderStatusAccepted,
	}
	assert.Panics(t, func() { o.ApplyFill(d("11"), d("100")) })
}

func TestOrderTerminalTransitionPanics(t *testing.T) {
	o := &Order{ClientOrderID: "O-3", Status: OrderStatusCanceled}
	assert.Panics(t, func() { o.ApplyStatus(OrderStatusAccepted) })
}

func TestOrderWouldReduce(t *testing.T) {
	sell := &Order{Side: OrderSideSell, Quantity: d("5")}
	assert.True(t, sell.WouldReduce(OrderSideBuy, d("10")))
	assert.False(t, sell.WouldReduce(OrderSideSell, d("10")))
	assert.False(t, sell.WouldReduce(OrderSideBuy, decimal.Zero))
}

func TestOrderTypePredicates(t *testing.T) {
	cases := []struct {
		typ     string
		passive bool
		stop    bool
		touch   bool
	}{
		{OrderTypeMarket, false, false, false},
		{OrderTypeLimit, true, false, false},
		{OrderTypeStopMarket, true, true, false},
		{OrderTypeStopLimit, true, true, false},
		{OrderTypeMarketIfTouched, true, false, true},
		{OrderTypeLimitIfTouched, true, false, true},
		{OrderTypeTrailingStopMarket, true, true, false},
		{OrderTypeTrailingStopLimit, true, true, false},
	}
	for _, tc := range cases {
		o := &Order{Type: tc.typ}
		assert.Equal(t, tc.passive, o.IsPassiveType(), tc.typ)
		assert.Equal(t, tc.stop, o.IsStopType(), tc.typ)
		assert.Equal(t, tc.touch, o.IsTouchType(), tc.typ)
	}
}

func TestOrderUnknownTypePanics(t *testing.T) {
	o := &Order{Type: "ICEBERG"}
	require.Panics(t, func() { o.IsPassiveType() })
}
