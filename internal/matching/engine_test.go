package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/quantfold/backsim/common/errors"
	"github.com/quantfold/backsim/internal/model"
)

type harness struct {
	t      *testing.T
	eng    *Engine
	cache  *model.Cache
	events []model.Event
	seq    uint64
	ts     int64
}

func testInstrument() *model.Instrument {
	return &model.Instrument{
		ID:                 "ETH-USDT",
		BaseCurrency:       "ETH",
		QuoteCurrency:      "USDT",
		SettlementCurrency: "USDT",
		PricePrecision:     2,
		SizePrecision:      3,
		PriceIncrement:     d("0.01"),
		Multiplier:         d("1"),
		MakerFee:           d("0.0005"),
		TakerFee:           d("0.001"),
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	h := &harness{t: t, cache: model.NewCache()}
	h.eng = NewEngine(testInstrument(), cfg, nil, nil, h.cache,
		func(ev model.Event) { h.events = append(h.events, ev) },
		func() uint64 { h.seq++; return h.seq }, nil)
	return h
}

func (h *harness) quote(bid, ask string, bidSize, askSize string) {
	h.ts++
	err := h.eng.ProcessQuote(&model.QuoteTick{
		InstrumentID: "ETH-USDT",
		BidPrice:     d(bid),
		AskPrice:     d(ask),
		BidSize:      d(bidSize),
		AskSize:      d(askSize),
		TsEventNs:    h.ts,
	})
	require.NoError(h.t, err)
}

func (h *harness) submit(o *model.Order) {
	h.ts++
	h.seq++
	o.Sequence = h.seq
	o.Status = model.OrderStatusSubmitted
	h.cache.AddOrder(o)
	h.eng.ProcessOrder(o, h.ts)
}

func (h *harness) eventsOf(typ string) []model.Event {
	var out []model.Event
	for _, ev := range h.events {
		if ev.EventType() == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (h *harness) lastRejection() model.OrderRejected {
	evs := h.eventsOf("OrderRejected")
	require.NotEmpty(h.t, evs, "no rejection emitted")
	return evs[len(evs)-1].(model.OrderRejected)
}

func limitOrder(id, side, px, qty string) *model.Order {
	return &model.Order{
		ClientOrderID: id,
		InstrumentID:  "ETH-USDT",
		Side:          side,
		Type:          model.OrderTypeLimit,
		Price:         d(px),
		Quantity:      d(qty),
		TimeInForce:   model.TimeInForceGTC,
		Status:        model.OrderStatusInitialized,
	}
}

func marketOrder(id, side, qty string) *model.Order {
	return &model.Order{
		ClientOrderID: id,
		InstrumentID:  "ETH-USDT",
		Side:          side,
		Type:          model.OrderTypeMarket,
		Quantity:      d(qty),
		TimeInForce:   model.TimeInForceIOC,
		Status:        model.OrderStatusInitialized,
	}
}

func TestMarketOrderFillsAtTopOfBook(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := marketOrder("M-1", model.OrderSideBuy, "5")
	h.submit(o)

	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	fill := fills[0].(model.OrderFilled)
	assert.True(t, fill.LastPx.Equal(d("100.00")))
	assert.True(t, fill.LastQty.Equal(d("5")))
	assert.Equal(t, model.LiquidityTaker, fill.LiquiditySide)
	assert.True(t, fill.Commission.Amount.Equal(d("0.5")), "commission %s", fill.Commission.Amount)
	assert.Equal(t, model.OrderStatusFilled, o.Status)
}

func TestMarketOrderNoMarketRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	o := marketOrder("M-2", model.OrderSideBuy, "5")
	h.submit(o)

	rej := h.lastRejection()
	assert.Equal(t, string(cerr.RejectNoMarket), rej.Reason)
	assert.Equal(t, model.OrderStatusRejected, o.Status)
}

func TestMarketOrderRemainderCanceled(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := marketOrder("M-3", model.OrderSideBuy, "15")
	h.submit(o)

	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	assert.True(t, fills[0].(model.OrderFilled).LastQty.Equal(d("10")))
	require.Len(t, h.eventsOf("OrderCanceled"), 1)
	assert.Equal(t, model.OrderStatusCanceled, o.Status)
	assert.True(t, o.FilledQuantity.Equal(d("10")))
}

func TestLimitOrderMarketableFillsAsTaker(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := limitOrder("L-1", model.OrderSideBuy, "100.00", "5")
	h.submit(o)

	require.Len(t, h.eventsOf("OrderAccepted"), 1)
	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	fill := fills[0].(model.OrderFilled)
	assert.True(t, fill.LastPx.Equal(d("100.00")))
	assert.Equal(t, model.LiquidityTaker, fill.LiquiditySide)
}

func TestLimitOrderRestsThenFillsAsMaker(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := limitOrder("L-2", model.OrderSideBuy, "99.50", "5")
	h.submit(o)
	require.Len(t, h.eventsOf("OrderFilled"), 0)
	assert.True(t, h.eng.Core().Exists("L-2"))

	// Market trades down through the resting bid.
	h.quote("99.30", "99.40", "10", "10")

	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	fill := fills[0].(model.OrderFilled)
	assert.True(t, fill.LastPx.Equal(d("99.50")), "maker fills at its own price, got %s", fill.LastPx)
	assert.Equal(t, model.LiquidityMaker, fill.LiquiditySide)
	assert.False(t, h.eng.Core().Exists("L-2"))
}

func TestPostOnlyMarketableRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := limitOrder("L-3", model.OrderSideBuy, "100.00", "5")
	o.PostOnly = true
	h.submit(o)

	rej := h.lastRejection()
	assert.Equal(t, string(cerr.RejectPostOnlyWouldTake), rej.Reason)
	assert.True(t, rej.DuePostOnly)
}

func TestIOCFillsThenCancelsRemainder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := limitOrder("L-4", model.OrderSideBuy, "100.00", "15")
	o.TimeInForce = model.TimeInForceIOC
	h.submit(o)

	require.Len(t, h.eventsOf("OrderFilled"), 1)
	require.Len(t, h.eventsOf("OrderCanceled"), 1)
	assert.True(t, o.FilledQuantity.Equal(d("10")))
	assert.Equal(t, model.OrderStatusCanceled, o.Status)
}

func TestFOKRejectedWhenBookTooThin(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := limitOrder("L-5", model.OrderSideBuy, "100.00", "15")
	o.TimeInForce = model.TimeInForceFOK
	h.submit(o)

	assert.Equal(t, string(cerr.RejectNoMarket), h.lastRejection().Reason)
	assert.Empty(t, h.eventsOf("OrderFilled"))
}

func TestPrecisionValidation(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := limitOrder("L-6", model.OrderSideBuy, "99.999", "5")
	h.submit(o)
	assert.Equal(t, string(cerr.RejectInvalidPrecision), h.lastRejection().Reason)

	o = limitOrder("L-7", model.OrderSideBuy, "99.99", "5.0001")
	h.submit(o)
	assert.Equal(t, string(cerr.RejectInvalidPrecision), h.lastRejection().Reason)

	o = limitOrder("L-8", model.OrderSideBuy, "99.99", "0")
	h.submit(o)
	assert.Equal(t, string(cerr.RejectInvalidQuantity), h.lastRejection().Reason)
}

func TestStopMarketTriggersAndFills(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := &model.Order{
		ClientOrderID: "S-1",
		InstrumentID:  "ETH-USDT",
		Side:          model.OrderSideSell,
		Type:          model.OrderTypeStopMarket,
		TriggerPrice:  d("99.50"),
		Quantity:      d("5"),
		TimeInForce:   model.TimeInForceGTC,
		Status:        model.OrderStatusInitialized,
	}
	h.submit(o)
	require.Len(t, h.eventsOf("OrderTriggered"), 0)

	h.quote("99.40", "99.50", "10", "10")

	require.Len(t, h.eventsOf("OrderTriggered"), 1)
	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	fill := fills[0].(model.OrderFilled)
	assert.True(t, fill.LastPx.Equal(d("99.40")))
	assert.Equal(t, model.LiquidityTaker, fill.LiquiditySide)
}

func TestStopAlreadyInMarketRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := &model.Order{
		ClientOrderID: "S-2",
		InstrumentID:  "ETH-USDT",
		Side:          model.OrderSideSell,
		Type:          model.OrderTypeStopMarket,
		TriggerPrice:  d("100.00"),
		Quantity:      d("5"),
		TimeInForce:   model.TimeInForceGTC,
		Status:        model.OrderStatusInitialized,
	}
	h.submit(o)

	assert.Equal(t, string(cerr.RejectStopAlreadyInMarket), h.lastRejection().Reason)
}

func TestStopLimitConvertsToRestingLimit(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := &model.Order{
		ClientOrderID: "S-3",
		InstrumentID:  "ETH-USDT",
		Side:          model.OrderSideSell,
		Type:          model.OrderTypeStopLimit,
		TriggerPrice:  d("99.50"),
		Price:         d("99.50"),
		Quantity:      d("5"),
		TimeInForce:   model.TimeInForceGTC,
		Status:        model.OrderStatusInitialized,
	}
	h.submit(o)

	// Trigger without being marketable: bid gaps below the limit.
	h.quote("99.40", "99.45", "10", "10")
	require.Len(t, h.eventsOf("OrderTriggered"), 1)
	require.Empty(t, h.eventsOf("OrderFilled"))
	assert.True(t, o.Triggered)

	// Bid recovers through the limit: maker fill at the limit price.
	h.quote("99.60", "99.65", "10", "10")
	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	fill := fills[0].(model.OrderFilled)
	assert.True(t, fill.LastPx.Equal(d("99.50")))
	assert.Equal(t, model.LiquidityMaker, fill.LiquiditySide)
}

func TestMarketIfTouchedFiresOnTouch(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	// Buy MIT waits for the ask to come down to the trigger.
	o := &model.Order{
		ClientOrderID: "MIT-1",
		InstrumentID:  "ETH-USDT",
		Side:          model.OrderSideBuy,
		Type:          model.OrderTypeMarketIfTouched,
		TriggerPrice:  d("99.50"),
		Quantity:      d("5"),
		TimeInForce:   model.TimeInForceGTC,
		Status:        model.OrderStatusInitialized,
	}
	h.submit(o)
	require.Empty(t, h.eventsOf("OrderTriggered"))

	h.quote("99.40", "99.50", "10", "10")

	require.Len(t, h.eventsOf("OrderTriggered"), 1)
	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	assert.True(t, fills[0].(model.OrderFilled).LastPx.Equal(d("99.50")))
}

func TestGTDExpires(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := limitOrder("G-1", model.OrderSideBuy, "99.00", "5")
	o.TimeInForce = model.TimeInForceGTD
	o.ExpireTimeNs = h.ts + 5
	h.submit(o)

	h.eng.Iterate(o.ExpireTimeNs)

	require.Len(t, h.eventsOf("OrderExpired"), 1)
	assert.Equal(t, model.OrderStatusExpired, o.Status)
	assert.False(t, h.eng.Core().Exists("G-1"))
}

func TestTrailingStopRatchetsThenTriggers(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("100.00", "100.10", "10", "10")

	o := &model.Order{
		ClientOrderID:      "TR-1",
		InstrumentID:       "ETH-USDT",
		Side:               model.OrderSideSell,
		Type:               model.OrderTypeTrailingStopMarket,
		Quantity:           d("5"),
		TrailingOffset:     d("1.00"),
		TrailingOffsetType: model.TrailingOffsetPrice,
		TriggerType:        model.TriggerBidAsk,
		TimeInForce:        model.TimeInForceGTC,
		Status:             model.OrderStatusInitialized,
	}
	h.submit(o)
	assert.True(t, o.TriggerPrice.Equal(d("99.00")), "initial trigger %s", o.TriggerPrice)

	// Rally: trigger ratchets up with the bid.
	h.quote("101.00", "101.10", "10", "10")
	assert.True(t, o.TriggerPrice.Equal(d("100.00")))
	h.quote("102.00", "102.10", "10", "10")
	assert.True(t, o.TriggerPrice.Equal(d("101.00")))

	// Pullback that stays above the trigger: no movement either way.
	h.quote("101.50", "101.60", "10", "10")
	assert.True(t, o.TriggerPrice.Equal(d("101.00")))

	// Drop to the trigger: stop fires and fills at the bid.
	h.quote("101.00", "101.10", "10", "10")
	require.Len(t, h.eventsOf("OrderTriggered"), 1)
	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	assert.True(t, fills[0].(model.OrderFilled).LastPx.Equal(d("101.00")))
}

func TestTrailingActivationPriceGatesTrail(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("100.00", "100.10", "10", "10")

	o := &model.Order{
		ClientOrderID:      "TR-2",
		InstrumentID:       "ETH-USDT",
		Side:               model.OrderSideSell,
		Type:               model.OrderTypeTrailingStopMarket,
		Quantity:           d("5"),
		TrailingOffset:     d("1.00"),
		TrailingOffsetType: model.TrailingOffsetPrice,
		TriggerType:        model.TriggerBidAsk,
		ActivationPrice:    d("102.00"),
		TimeInForce:        model.TimeInForceGTC,
		Status:             model.OrderStatusInitialized,
	}
	h.submit(o)
	assert.False(t, o.Activated)
	assert.False(t, o.HasTriggerPrice())

	h.quote("101.00", "101.10", "10", "10")
	assert.False(t, o.Activated)

	h.quote("102.00", "102.10", "10", "10")
	assert.True(t, o.Activated)
	assert.True(t, o.TriggerPrice.Equal(d("101.00")), "trigger %s", o.TriggerPrice)
}

func TestModifyResetsTimePriority(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	a := limitOrder("P-1", model.OrderSideBuy, "99.50", "5")
	b := limitOrder("P-2", model.OrderSideBuy, "99.50", "5")
	h.submit(a)
	h.submit(b)

	bids := h.eng.Core().OrdersBid()
	require.Equal(t, "P-1", bids[0].ClientOrderID)

	// Increasing quantity sends the order to the back of the queue.
	h.ts++
	h.eng.ProcessModify("P-1", d("6"), decimal.Zero, decimal.Zero, h.ts)

	bids = h.eng.Core().OrdersBid()
	require.Equal(t, "P-2", bids[0].ClientOrderID)
	require.Equal(t, "P-1", bids[1].ClientOrderID)
	require.Len(t, h.eventsOf("OrderUpdated"), 1)
}

func TestModifyQuantityDecreaseKeepsPriority(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	a := limitOrder("P-3", model.OrderSideBuy, "99.50", "5")
	b := limitOrder("P-4", model.OrderSideBuy, "99.50", "5")
	h.submit(a)
	h.submit(b)

	h.ts++
	h.eng.ProcessModify("P-3", d("3"), decimal.Zero, decimal.Zero, h.ts)

	bids := h.eng.Core().OrdersBid()
	require.Equal(t, "P-3", bids[0].ClientOrderID)
	assert.True(t, a.Quantity.Equal(d("3")))
}

func TestModifyPreservesPriorityWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveTimePriorityOnModify = true
	h := newHarness(t, cfg)
	h.quote("99.90", "100.00", "10", "10")

	a := limitOrder("P-5", model.OrderSideBuy, "99.50", "5")
	b := limitOrder("P-6", model.OrderSideBuy, "99.50", "5")
	h.submit(a)
	h.submit(b)

	h.ts++
	h.eng.ProcessModify("P-5", d("6"), decimal.Zero, decimal.Zero, h.ts)

	bids := h.eng.Core().OrdersBid()
	require.Equal(t, "P-5", bids[0].ClientOrderID)
}

func TestModifyBelowFilledRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := limitOrder("P-7", model.OrderSideBuy, "100.00", "15")
	h.submit(o) // fills 10, rests 5
	require.True(t, o.FilledQuantity.Equal(d("10")))

	h.ts++
	h.eng.ProcessModify("P-7", d("8"), decimal.Zero, decimal.Zero, h.ts)
	assert.Equal(t, string(cerr.RejectInvalidQuantity), h.lastRejection().Reason)

	// The amendment is refused; the resting remainder is untouched.
	assert.True(t, h.eng.Core().Exists("P-7"))
	assert.True(t, o.Quantity.Equal(d("15")))
	assert.False(t, o.IsClosed())
}

func TestCancelRemovesRestingOrder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := limitOrder("C-1", model.OrderSideBuy, "99.00", "5")
	h.submit(o)

	h.ts++
	h.eng.ProcessCancel("C-1", h.ts)

	require.Len(t, h.eventsOf("OrderCanceled"), 1)
	assert.Equal(t, model.OrderStatusCanceled, o.Status)
	assert.False(t, h.eng.Core().Exists("C-1"))
}

func TestCancelUnknownOrderRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.ts++
	h.eng.ProcessCancel("nope", h.ts)
	assert.Equal(t, string(cerr.RejectOrderNotFound), h.lastRejection().Reason)
}

func TestCancelAllBySide(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	h.submit(limitOrder("C-2", model.OrderSideBuy, "99.00", "5"))
	h.submit(limitOrder("C-3", model.OrderSideBuy, "99.10", "5"))
	h.submit(limitOrder("C-4", model.OrderSideSell, "101.00", "5"))

	h.ts++
	h.eng.ProcessCancelAll(model.OrderSideBuy, h.ts)

	assert.Len(t, h.eventsOf("OrderCanceled"), 2)
	assert.True(t, h.eng.Core().Exists("C-4"))
}

func TestReduceOnlyRejectedWithoutPosition(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := marketOrder("R-1", model.OrderSideSell, "5")
	o.ReduceOnly = true
	h.submit(o)

	assert.Equal(t, string(cerr.RejectReduceOnlyIncrease), h.lastRejection().Reason)
}

func TestReduceOnlyResizedToPosition(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	pos := model.NewPosition("P-1", "ETH-USDT", "S-1", "USDT", 1)
	pos.ApplyFill(testInstrument(), model.OrderSideBuy, d("6"), d("100.00"), 1)
	h.eng.SetPositionLookup(func(*model.Order) *model.Position { return pos })

	o := marketOrder("R-2", model.OrderSideSell, "10")
	o.ReduceOnly = true
	h.submit(o)

	require.Len(t, h.eventsOf("OrderUpdated"), 1)
	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	assert.True(t, fills[0].(model.OrderFilled).LastQty.Equal(d("6")))
}

func TestRiskCheckRejection(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")
	h.eng.SetRiskChecker(func(*model.Order, decimal.Decimal, bool) cerr.RejectReason {
		return cerr.RejectInsufficientMargin
	})

	h.submit(limitOrder("RK-1", model.OrderSideBuy, "99.00", "5"))
	assert.Equal(t, string(cerr.RejectInsufficientMargin), h.lastRejection().Reason)
}

func TestCrossedQuoteIsError(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	err := h.eng.ProcessQuote(&model.QuoteTick{
		InstrumentID: "ETH-USDT",
		BidPrice:     d("100.00"),
		AskPrice:     d("100.00"),
		TsEventNs:    1,
	})
	assert.Error(t, err)
}

func TestMultiLevelMarketFillWeightedAverage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BookType = model.BookTypeL2
	h := newHarness(t, cfg)

	h.ts++
	require.NoError(t, h.eng.ProcessDepth(&model.DepthSnapshot{
		InstrumentID: "ETH-USDT",
		Bids: []model.BookLevel{
			{Price: d("99.90"), Size: d("10000")},
		},
		Asks: []model.BookLevel{
			{Price: d("100.00"), Size: d("10000")},
			{Price: d("100.10"), Size: d("50000")},
			{Price: d("100.20"), Size: d("20000")},
		},
		TsEventNs: h.ts,
	}))

	o := marketOrder("ML-1", model.OrderSideBuy, "70000")
	h.submit(o)

	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 3)
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.True(t, o.AvgPx.Equal(d("100.1")), "avg px %s", o.AvgPx)
}

func TestTradeTickDrivesL1Fills(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := limitOrder("T-1", model.OrderSideBuy, "99.50", "5")
	h.submit(o)

	h.ts++
	h.eng.ProcessTrade(&model.TradeTick{
		InstrumentID:  "ETH-USDT",
		Price:         d("99.40"),
		Size:          d("3"),
		AggressorSide: model.AggressorSeller,
		TradeID:       "t-1",
		TsEventNs:     h.ts,
	})

	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	assert.True(t, fills[0].(model.OrderFilled).LastPx.Equal(d("99.50")))
}

func TestHaltRejectsNewOrders(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	h.ts++
	h.eng.ProcessStatus(&model.InstrumentStatus{
		InstrumentID: "ETH-USDT",
		Action:       model.StatusActionHalt,
		TsEventNs:    h.ts,
	})

	h.submit(limitOrder("H-1", model.OrderSideBuy, "99.00", "5"))
	assert.Equal(t, string(cerr.RejectInstrumentNotActive), h.lastRejection().Reason)
}

func TestCloseExpiresOpenOrders(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	h.submit(limitOrder("X-1", model.OrderSideBuy, "99.00", "5"))
	h.submit(limitOrder("X-2", model.OrderSideSell, "101.00", "5"))

	h.ts++
	h.eng.ProcessStatus(&model.InstrumentStatus{
		InstrumentID: "ETH-USDT",
		Action:       model.StatusActionClose,
		TsEventNs:    h.ts,
	})

	assert.Len(t, h.eventsOf("OrderExpired"), 2)
}

func TestInstrumentExpirationRejectsOrders(t *testing.T) {
	instr := testInstrument()
	instr.ExpirationNs = 100

	cache := model.NewCache()
	var events []model.Event
	var seq uint64
	eng := NewEngine(instr, DefaultConfig(), nil, nil, cache,
		func(ev model.Event) { events = append(events, ev) },
		func() uint64 { seq++; return seq }, nil)

	o := limitOrder("E-1", model.OrderSideBuy, "99.00", "5")
	o.Status = model.OrderStatusSubmitted
	cache.AddOrder(o)
	eng.ProcessOrder(o, 150)

	require.NotEmpty(t, events)
	rej, ok := events[len(events)-1].(model.OrderRejected)
	require.True(t, ok)
	assert.Equal(t, string(cerr.RejectInstrumentExpired), rej.Reason)
}

func TestReduceOnlyStopFillCappedToPosition(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "100", "100")

	pos := model.NewPosition("P-1", "ETH-USDT", "S-1", "USDT", 1)
	pos.ApplyFill(testInstrument(), model.OrderSideBuy, d("30"), d("100.00"), 1)
	h.eng.SetPositionLookup(func(*model.Order) *model.Position { return pos })

	o := &model.Order{
		ClientOrderID: "RS-1",
		InstrumentID:  "ETH-USDT",
		Side:          model.OrderSideSell,
		Type:          model.OrderTypeStopMarket,
		TriggerPrice:  d("99.00"),
		Quantity:      d("30"),
		TimeInForce:   model.TimeInForceGTC,
		ReduceOnly:    true,
		Status:        model.OrderStatusInitialized,
	}
	h.submit(o)
	require.Empty(t, h.eventsOf("OrderFilled"))

	// The position shrinks while the stop is resting.
	pos.ApplyFill(testInstrument(), model.OrderSideSell, d("20"), d("100.50"), 2)
	require.True(t, pos.Quantity.Equal(d("10")))

	h.quote("98.90", "98.95", "100", "100")

	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	assert.True(t, fills[0].(model.OrderFilled).LastQty.Equal(d("10")))
	require.Len(t, h.eventsOf("OrderUpdated"), 1)
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.True(t, o.FilledQuantity.Equal(d("10")))
}

func TestReduceOnlyStopCanceledWhenPositionFlat(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "100", "100")

	pos := model.NewPosition("P-1", "ETH-USDT", "S-1", "USDT", 1)
	pos.ApplyFill(testInstrument(), model.OrderSideBuy, d("30"), d("100.00"), 1)
	h.eng.SetPositionLookup(func(*model.Order) *model.Position { return pos })

	o := &model.Order{
		ClientOrderID: "RS-2",
		InstrumentID:  "ETH-USDT",
		Side:          model.OrderSideSell,
		Type:          model.OrderTypeStopMarket,
		TriggerPrice:  d("99.00"),
		Quantity:      d("30"),
		TimeInForce:   model.TimeInForceGTC,
		ReduceOnly:    true,
		Status:        model.OrderStatusInitialized,
	}
	h.submit(o)

	pos.ApplyFill(testInstrument(), model.OrderSideSell, d("30"), d("100.50"), 2)
	require.True(t, pos.IsClosed())

	h.quote("98.90", "98.95", "100", "100")

	assert.Empty(t, h.eventsOf("OrderFilled"))
	assert.Len(t, h.eventsOf("OrderCanceled"), 1)
	assert.Equal(t, model.OrderStatusCanceled, o.Status)
}

func TestModifyPostOnlyStopLimitToMarketableRejected(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.quote("99.90", "100.00", "10", "10")

	o := &model.Order{
		ClientOrderID: "PS-1",
		InstrumentID:  "ETH-USDT",
		Side:          model.OrderSideSell,
		Type:          model.OrderTypeStopLimit,
		TriggerPrice:  d("99.50"),
		Price:         d("99.50"),
		Quantity:      d("5"),
		TimeInForce:   model.TimeInForceGTC,
		PostOnly:      true,
		Status:        model.OrderStatusInitialized,
	}
	h.submit(o)
	require.True(t, h.eng.Core().Exists("PS-1"))

	// Amending the limit onto the bid would take liquidity on trigger.
	h.ts++
	h.eng.ProcessModify("PS-1", decimal.Zero, d("99.90"), decimal.Zero, h.ts)

	rej := h.lastRejection()
	assert.Equal(t, string(cerr.RejectPostOnlyWouldTake), rej.Reason)
	assert.True(t, rej.DuePostOnly)
	assert.True(t, o.Price.Equal(d("99.50")))
	assert.True(t, h.eng.Core().Exists("PS-1"))
}

func TestDeltaMovesBookAndFillsRestingOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BookType = model.BookTypeL2
	h := newHarness(t, cfg)

	h.ts++
	require.NoError(t, h.eng.ProcessDepth(&model.DepthSnapshot{
		InstrumentID: "ETH-USDT",
		Bids:         []model.BookLevel{{Price: d("99.90"), Size: d("100")}},
		Asks:         []model.BookLevel{{Price: d("100.00"), Size: d("100")}},
		TsEventNs:    h.ts,
	}))

	o := limitOrder("D-1", model.OrderSideBuy, "99.95", "5")
	h.submit(o)
	require.Empty(t, h.eventsOf("OrderFilled"))

	// A new ask level under the resting bid makes it marketable.
	h.ts++
	h.eng.ProcessDelta(&model.BookDelta{
		InstrumentID: "ETH-USDT",
		Side:         model.OrderSideSell,
		Price:        d("99.92"),
		Size:         d("50"),
		TsEventNs:    h.ts,
	})

	fills := h.eventsOf("OrderFilled")
	require.Len(t, fills, 1)
	fill := fills[0].(model.OrderFilled)
	assert.True(t, fill.LastPx.Equal(d("99.95")))
	assert.Equal(t, model.LiquidityMaker, fill.LiquiditySide)
	assert.Equal(t, model.OrderStatusFilled, o.Status)
}
