package matching

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	cerr "github.com/quantfold/backsim/common/errors"
	"github.com/quantfold/backsim/internal/book"
	"github.com/quantfold/backsim/internal/model"
	"github.com/quantfold/backsim/internal/simmodels"
)

// Config tunes per-instrument matching behaviour.
type Config struct {
	// BookType selects L1_TOB (quote-driven top of book) or L2_MBP
	// (depth snapshots).
	BookType string
	// RejectStopOrders rejects stop and if-touched orders whose trigger
	// is already in the market at submission.
	RejectStopOrders bool
	// PreserveTimePriorityOnModify keeps an order's queue position on
	// price or quantity-increase modifications instead of resetting it.
	PreserveTimePriorityOnModify bool
}

// DefaultConfig mirrors conventional venue behaviour.
func DefaultConfig() Config {
	return Config{
		BookType:         model.BookTypeL1,
		RejectStopOrders: true,
	}
}

// RiskChecker vets an order pre-acceptance against the account. An empty
// reason means the order passes.
type RiskChecker func(order *model.Order, refPx decimal.Decimal, reducing bool) cerr.RejectReason

// PositionLookup resolves the position an order would act on, or nil.
type PositionLookup func(order *model.Order) *model.Position

// Engine matches orders for a single instrument. It is driven entirely by
// the event loop: market data in, order events out, never concurrently.
type Engine struct {
	instrument *model.Instrument
	cfg        Config

	core *Core
	book *book.Book

	fillModel simmodels.FillModel
	feeModel  simmodels.FeeModel
	cache     *model.Cache
	emit      model.EventHandler
	nextSeq   func() uint64

	riskCheck   RiskChecker
	positionFor PositionLookup

	log *zap.Logger

	tsNow  int64
	halted bool
}

// NewEngine wires a matching engine for one instrument.
func NewEngine(
	instrument *model.Instrument,
	cfg Config,
	fillModel simmodels.FillModel,
	feeModel simmodels.FeeModel,
	cache *model.Cache,
	emit model.EventHandler,
	nextSeq func() uint64,
	logger *zap.Logger,
) *Engine {
	cerr.Invariant(instrument != nil, "matching engine requires an instrument")
	cerr.Invariant(emit != nil, "matching engine requires an event handler")
	if fillModel == nil {
		fillModel = simmodels.DefaultFillModel()
	}
	if feeModel == nil {
		feeModel = simmodels.NewMakerTakerFeeModel()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		instrument: instrument,
		cfg:        cfg,
		core:       NewCore(instrument.ID, instrument.PriceIncrement),
		book:       book.New(instrument.ID),
		fillModel:  fillModel,
		feeModel:   feeModel,
		cache:      cache,
		emit:       emit,
		nextSeq:    nextSeq,
		log:        logger.With(zap.String("instrument", instrument.ID)),
	}
}

// Instrument returns the instrument this engine matches.
func (e *Engine) Instrument() *model.Instrument { return e.instrument }

// Core exposes the matching core, primarily for inspection in tests.
func (e *Engine) Core() *Core { return e.core }

// Book exposes the depth book.
func (e *Engine) Book() *book.Book { return e.book }

// SetRiskChecker installs the pre-trade account check.
func (e *Engine) SetRiskChecker(rc RiskChecker) { e.riskCheck = rc }

// SetPositionLookup installs the position resolver used by reduce-only
// handling.
func (e *Engine) SetPositionLookup(pl PositionLookup) { e.positionFor = pl }

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// ProcessQuote applies a top-of-book update and re-evaluates resting orders.
// Crossed quotes are a data error and leave all state untouched.
func (e *Engine) ProcessQuote(q *model.QuoteTick) error {
	if q.IsCrossed() {
		return fmt.Errorf("crossed quote for %s: bid %s >= ask %s",
			e.instrument.ID, q.BidPrice, q.AskPrice)
	}
	e.tsNow = q.TsEventNs
	if e.cfg.BookType == model.BookTypeL1 {
		e.book.SetTopOfBook(q)
	}
	if q.BidPrice.IsPositive() {
		e.core.SetBid(q.BidPrice)
	}
	if q.AskPrice.IsPositive() {
		e.core.SetAsk(q.AskPrice)
	}
	e.Iterate(q.TsEventNs)
	return nil
}

// ProcessTrade applies a trade print. On an L1 book the print also stands in
// for both sides of the top of book, so trade-only feeds still drive fills.
func (e *Engine) ProcessTrade(t *model.TradeTick) {
	e.tsNow = t.TsEventNs
	e.core.SetLast(t.Price)
	if e.cfg.BookType == model.BookTypeL1 {
		e.core.SetBid(t.Price)
		e.core.SetAsk(t.Price)
		e.book.SetTopOfBook(&model.QuoteTick{
			InstrumentID: t.InstrumentID,
			BidPrice:     t.Price,
			AskPrice:     t.Price,
			TsEventNs:    t.TsEventNs,
		})
	}
	e.Iterate(t.TsEventNs)
}

// ProcessDepth replaces the visible book from a snapshot.
func (e *Engine) ProcessDepth(snap *model.DepthSnapshot) error {
	if err := e.book.ApplySnapshot(snap); err != nil {
		return err
	}
	e.tsNow = snap.TsEventNs
	if lvl, ok := e.book.BestBid(); ok {
		e.core.SetBid(lvl.Price)
	}
	if lvl, ok := e.book.BestAsk(); ok {
		e.core.SetAsk(lvl.Price)
	}
	e.Iterate(snap.TsEventNs)
	return nil
}

// ProcessDelta applies one incremental level change and rematches against
// the moved book.
func (e *Engine) ProcessDelta(dl *model.BookDelta) {
	e.book.ApplyDelta(dl)
	e.tsNow = dl.TsEventNs
	if lvl, ok := e.book.BestBid(); ok {
		e.core.SetBid(lvl.Price)
	}
	if lvl, ok := e.book.BestAsk(); ok {
		e.core.SetAsk(lvl.Price)
	}
	e.Iterate(dl.TsEventNs)
}

// ProcessStatus reacts to venue trading-state transitions. A CLOSE expires
// every open order.
func (e *Engine) ProcessStatus(st *model.InstrumentStatus) {
	e.tsNow = st.TsEventNs
	switch st.Action {
	case model.StatusActionHalt:
		e.halted = true
	case model.StatusActionTrading:
		e.halted = false
	case model.StatusActionClose:
		e.halted = true
		for _, o := range e.core.Orders() {
			e.expireOrder(o)
		}
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// ProcessOrder validates and routes a newly arrived order. Every failure is
// an OrderRejected event; ProcessOrder itself never returns an error.
func (e *Engine) ProcessOrder(o *model.Order, tsNow int64) {
	e.tsNow = tsNow

	if e.halted {
		e.rejectOrder(o, cerr.RejectInstrumentNotActive, "trading is halted", false)
		return
	}
	if !e.instrument.IsActiveAt(tsNow) {
		if e.instrument.ExpirationNs != 0 && tsNow >= e.instrument.ExpirationNs {
			e.rejectOrder(o, cerr.RejectInstrumentExpired,
				fmt.Sprintf("contract expired at %d", e.instrument.ExpirationNs), false)
		} else {
			e.rejectOrder(o, cerr.RejectInstrumentNotActive,
				fmt.Sprintf("contract not active until %d", e.instrument.ActivationNs), false)
		}
		return
	}
	if reason, detail := e.validateOrder(o); reason != "" {
		e.rejectOrder(o, reason, detail, false)
		return
	}
	if o.ReduceOnly && !e.resyncReduceOnly(o) {
		return
	}
	if e.riskCheck != nil {
		refPx, ok := e.riskPrice(o)
		if !ok {
			e.rejectOrder(o, cerr.RejectNoMarket, "no market price for risk check", false)
			return
		}
		if reason := e.riskCheck(o, refPx, e.isReducing(o)); reason != "" {
			e.rejectOrder(o, reason, "pre-trade risk check failed", false)
			return
		}
	}

	switch o.Type {
	case model.OrderTypeMarket:
		e.processMarketOrder(o)
	case model.OrderTypeLimit:
		e.processLimitOrder(o)
	case model.OrderTypeStopMarket, model.OrderTypeStopLimit:
		e.processStopOrder(o)
	case model.OrderTypeMarketIfTouched, model.OrderTypeLimitIfTouched:
		e.processTouchOrder(o)
	case model.OrderTypeTrailingStopMarket, model.OrderTypeTrailingStopLimit:
		e.processTrailingStopOrder(o)
	default:
		cerr.Invariant(false, "unroutable order type %q", o.Type)
	}
}

// validateOrder runs the static price and quantity checks shared by every
// order type.
func (e *Engine) validateOrder(o *model.Order) (cerr.RejectReason, string) {
	if !o.Quantity.IsPositive() {
		return cerr.RejectInvalidQuantity, fmt.Sprintf("quantity %s must be positive", o.Quantity)
	}
	if !withinPrecision(o.Quantity, e.instrument.SizePrecision) {
		return cerr.RejectInvalidPrecision,
			fmt.Sprintf("quantity %s exceeds size precision %d", o.Quantity, e.instrument.SizePrecision)
	}
	if o.HasPrice() {
		if o.Price.IsNegative() {
			return cerr.RejectInvalidPrice, fmt.Sprintf("price %s must be positive", o.Price)
		}
		if !withinPrecision(o.Price, e.instrument.PricePrecision) {
			return cerr.RejectInvalidPrecision,
				fmt.Sprintf("price %s exceeds price precision %d", o.Price, e.instrument.PricePrecision)
		}
	}
	if o.HasTriggerPrice() && !withinPrecision(o.TriggerPrice, e.instrument.PricePrecision) {
		return cerr.RejectInvalidPrecision,
			fmt.Sprintf("trigger price %s exceeds price precision %d", o.TriggerPrice, e.instrument.PricePrecision)
	}
	switch o.Type {
	case model.OrderTypeLimit, model.OrderTypeStopLimit, model.OrderTypeLimitIfTouched:
		if !o.HasPrice() {
			return cerr.RejectInvalidPrice, "limit price required"
		}
	}
	switch o.Type {
	case model.OrderTypeStopMarket, model.OrderTypeStopLimit,
		model.OrderTypeMarketIfTouched, model.OrderTypeLimitIfTouched:
		if !o.HasTriggerPrice() {
			return cerr.RejectInvalidPrice, "trigger price required"
		}
	case model.OrderTypeTrailingStopMarket, model.OrderTypeTrailingStopLimit:
		if !o.TrailingOffset.IsPositive() {
			return cerr.RejectInvalidPrice, "trailing offset must be positive"
		}
	}
	return "", ""
}

// withinPrecision reports whether d carries no more decimal places than
// precision allows.
func withinPrecision(d decimal.Decimal, precision int32) bool {
	return d.Equal(d.Round(precision))
}

// resyncReduceOnly enforces reduce-only semantics at processing time: an
// order that cannot shrink the position is rejected, one larger than the
// position is resized down. Returns false when the order was rejected.
func (e *Engine) resyncReduceOnly(o *model.Order) bool {
	var pos *model.Position
	if e.positionFor != nil {
		pos = e.positionFor(o)
	}
	if pos == nil || pos.IsClosed() || !o.WouldReduce(pos.Side, pos.Quantity) {
		e.rejectOrder(o, cerr.RejectReduceOnlyIncrease,
			"reduce-only order would open or increase a position", false)
		return false
	}
	if o.LeavesQty().GreaterThan(pos.Quantity) {
		newQty := o.FilledQuantity.Add(pos.Quantity)
		o.Quantity = newQty
		e.emit(model.OrderUpdated{
			OrderEventBase: e.eventBase(o),
			Quantity:       newQty,
			Price:          o.Price,
			TriggerPrice:   o.TriggerPrice,
		})
	}
	return true
}

// isReducing reports whether the order shrinks the current position, which
// exempts it from balance and margin checks.
func (e *Engine) isReducing(o *model.Order) bool {
	if e.positionFor == nil {
		return false
	}
	pos := e.positionFor(o)
	if pos == nil || pos.IsClosed() {
		return false
	}
	return o.WouldReduce(pos.Side, pos.Quantity) &&
		o.LeavesQty().LessThanOrEqual(pos.Quantity)
}

// riskPrice picks the reference price risk checks value the order at.
func (e *Engine) riskPrice(o *model.Order) (decimal.Decimal, bool) {
	if o.HasPrice() {
		return o.Price, true
	}
	if o.HasTriggerPrice() {
		return o.TriggerPrice, true
	}
	if o.IsBuy() && e.core.HasAsk() {
		return e.core.Ask, true
	}
	if o.IsSell() && e.core.HasBid() {
		return e.core.Bid, true
	}
	if e.core.HasLast() {
		return e.core.Last, true
	}
	return decimal.Zero, false
}

func (e *Engine) processMarketOrder(o *model.Order) {
	if o.IsBuy() && !e.core.HasAsk() || o.IsSell() && !e.core.HasBid() {
		e.rejectOrder(o, cerr.RejectNoMarket, "no opposing market for market order", false)
		return
	}
	o.LiquiditySide = model.LiquidityTaker
	e.fillMarketOrder(o)
}

func (e *Engine) processLimitOrder(o *model.Order) {
	marketable := e.core.IsLimitMarketable(o.Side, o.Price)
	if o.PostOnly && marketable {
		e.rejectOrder(o, cerr.RejectPostOnlyWouldTake,
			fmt.Sprintf("POST_ONLY limit at %s would execute immediately", o.Price), true)
		return
	}
	if o.TimeInForce == model.TimeInForceFOK && !e.canFillCompletely(o) {
		e.rejectOrder(o, cerr.RejectNoMarket, "FOK order cannot be fully filled", false)
		return
	}
	e.acceptOrder(o)
	if marketable {
		o.LiquiditySide = model.LiquidityTaker
		e.fillLimitOrder(o)
	}
	e.finalizeAfterMatch(o)
}

func (e *Engine) processStopOrder(o *model.Order) {
	if e.triggerReached(o) {
		if e.cfg.RejectStopOrders {
			e.rejectOrder(o, cerr.RejectStopAlreadyInMarket,
				fmt.Sprintf("stop trigger %s already in market", o.TriggerPrice), false)
			return
		}
		e.acceptOrder(o)
		e.triggerStopOrder(o)
		e.finalizeAfterMatch(o)
		return
	}
	e.acceptOrder(o)
	e.core.Add(o)
}

func (e *Engine) processTouchOrder(o *model.Order) {
	if e.triggerReached(o) {
		if e.cfg.RejectStopOrders {
			e.rejectOrder(o, cerr.RejectStopAlreadyInMarket,
				fmt.Sprintf("touch trigger %s already in market", o.TriggerPrice), false)
			return
		}
		e.acceptOrder(o)
		e.triggerStopOrder(o)
		e.finalizeAfterMatch(o)
		return
	}
	e.acceptOrder(o)
	e.core.Add(o)
}

func (e *Engine) processTrailingStopOrder(o *model.Order) {
	e.acceptOrder(o)
	if o.HasTriggerPrice() && e.triggerReached(o) {
		// An explicit initial trigger already in the market fires at once.
		e.triggerStopOrder(o)
		e.finalizeAfterMatch(o)
		return
	}
	e.core.Add(o)
	e.updateTrailingStopOrder(o)
}

// canFillCompletely reports whether the opposing book holds enough volume
// within the limit price for the whole order.
func (e *Engine) canFillCompletely(o *model.Order) bool {
	fills := e.book.SimulateFills(o.Side, o.Price, o.LeavesQty())
	total := decimal.Zero
	for _, f := range fills {
		total = total.Add(f.Qty)
	}
	return total.GreaterThanOrEqual(o.LeavesQty())
}

// finalizeAfterMatch applies time-in-force consequences after an immediate
// match attempt: IOC cancels any remainder, everything else rests.
func (e *Engine) finalizeAfterMatch(o *model.Order) {
	if o.IsClosed() {
		return
	}
	switch o.TimeInForce {
	case model.TimeInForceIOC, model.TimeInForceFOK:
		e.cancelOrder(o)
	default:
		if !e.core.Exists(o.ClientOrderID) {
			e.core.Add(o)
		}
	}
}

// ProcessModify amends quantity, price, or trigger on an open order. A zero
// decimal leaves the corresponding field unchanged.
func (e *Engine) ProcessModify(clientOrderID string, qty, price, trigger decimal.Decimal, tsNow int64) {
	e.tsNow = tsNow
	o := e.lookupOpen(clientOrderID)
	if o == nil {
		return
	}

	newQty := o.Quantity
	if !qty.IsZero() {
		if !qty.IsPositive() || !withinPrecision(qty, e.instrument.SizePrecision) {
			e.rejectModify(o, cerr.RejectInvalidQuantity,
				fmt.Sprintf("modify quantity %s invalid", qty), false)
			return
		}
		if qty.LessThan(o.FilledQuantity) {
			e.rejectModify(o, cerr.RejectInvalidQuantity,
				fmt.Sprintf("modify quantity %s below filled %s", qty, o.FilledQuantity), false)
			return
		}
		newQty = qty
	}
	newPrice := o.Price
	if !price.IsZero() {
		if !withinPrecision(price, e.instrument.PricePrecision) {
			e.rejectModify(o, cerr.RejectInvalidPrecision,
				fmt.Sprintf("modify price %s exceeds precision", price), false)
			return
		}
		newPrice = price
	}
	newTrigger := o.TriggerPrice
	if !trigger.IsZero() {
		if !withinPrecision(trigger, e.instrument.PricePrecision) {
			e.rejectModify(o, cerr.RejectInvalidPrecision,
				fmt.Sprintf("modify trigger %s exceeds precision", trigger), false)
			return
		}
		newTrigger = trigger
	}

	if o.PostOnly && o.IsLimitType() && e.core.IsLimitMarketable(o.Side, newPrice) {
		e.rejectModify(o, cerr.RejectPostOnlyWouldTake,
			fmt.Sprintf("POST_ONLY modify to %s would execute immediately", newPrice), true)
		return
	}

	priceChanged := !newPrice.Equal(o.Price) || !newTrigger.Equal(o.TriggerPrice)
	qtyIncreased := newQty.GreaterThan(o.Quantity)
	o.Quantity = newQty
	o.Price = newPrice
	o.TriggerPrice = newTrigger
	o.TsLastNs = tsNow

	// Quantity decreases keep queue position; anything else goes to the
	// back of the queue unless configured otherwise.
	if (priceChanged || qtyIncreased) && !e.cfg.PreserveTimePriorityOnModify && e.nextSeq != nil {
		o.Sequence = e.nextSeq()
	}

	e.emit(model.OrderUpdated{
		OrderEventBase: e.eventBase(o),
		Quantity:       o.Quantity,
		Price:          o.Price,
		TriggerPrice:   o.TriggerPrice,
	})

	if o.Type == model.OrderTypeLimit || o.Triggered {
		if e.core.IsLimitMarketable(o.Side, o.Price) {
			o.LiquiditySide = model.LiquidityTaker
			e.fillLimitOrder(o)
		}
	}
}

// ProcessCancel cancels an open order.
func (e *Engine) ProcessCancel(clientOrderID string, tsNow int64) {
	e.tsNow = tsNow
	if o := e.lookupOpen(clientOrderID); o != nil {
		e.cancelOrder(o)
	}
}

// ProcessCancelAll cancels every open order, optionally one side only
// (empty side means both).
func (e *Engine) ProcessCancelAll(side string, tsNow int64) {
	e.tsNow = tsNow
	for _, o := range e.core.Orders() {
		if side != "" && o.Side != side {
			continue
		}
		if !o.IsClosed() {
			e.cancelOrder(o)
		}
	}
}

// lookupOpen resolves a live order by id, emitting a rejection describing
// the failure when it cannot.
func (e *Engine) lookupOpen(clientOrderID string) *model.Order {
	var o *model.Order
	if e.cache != nil {
		o = e.cache.Order(clientOrderID)
	}
	if o == nil {
		o = e.core.Get(clientOrderID)
	}
	if o == nil {
		e.emit(model.OrderRejected{
			OrderEventBase: model.OrderEventBase{
				ClientOrderID: clientOrderID,
				InstrumentID:  e.instrument.ID,
				TsEventNs:     e.tsNow,
			},
			Reason: string(cerr.RejectOrderNotFound),
			Detail: "unknown client order id",
		})
		return nil
	}
	if o.IsClosed() {
		e.emit(model.OrderRejected{
			OrderEventBase: e.eventBase(o),
			Reason:         string(cerr.RejectOrderAlreadyTerminal),
			Detail:         fmt.Sprintf("order already %s", o.Status),
		})
		return nil
	}
	return o
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// Iterate re-evaluates every resting order against the current market: GTD
// expiry first, then trailing trigger updates, then matching in price-time
// priority.
func (e *Engine) Iterate(tsNow int64) {
	e.tsNow = tsNow

	for _, o := range e.core.Orders() {
		if o.TimeInForce == model.TimeInForceGTD && o.ExpireTimeNs > 0 && tsNow >= o.ExpireTimeNs {
			e.expireOrder(o)
		}
	}
	for _, o := range e.core.Orders() {
		if !o.IsClosed() && o.IsTrailingType() && !o.Triggered {
			e.updateTrailingStopOrder(o)
		}
	}
	for _, o := range e.core.OrdersBid() {
		e.matchOrder(o)
	}
	for _, o := range e.core.OrdersAsk() {
		e.matchOrder(o)
	}
}

// matchOrder advances one resting order against the current market.
func (e *Engine) matchOrder(o *model.Order) {
	if o.IsClosed() {
		return
	}
	switch o.Type {
	case model.OrderTypeLimit:
		e.matchRestingLimit(o)
	case model.OrderTypeStopMarket, model.OrderTypeMarketIfTouched,
		model.OrderTypeTrailingStopMarket:
		// A trailing order gated behind its activation price has no
		// trigger yet and cannot fire.
		if o.HasTriggerPrice() && e.triggerReached(o) {
			if !e.fillModel.IsStopFilled() {
				return
			}
			e.triggerStopOrder(o)
		}
	case model.OrderTypeStopLimit, model.OrderTypeLimitIfTouched,
		model.OrderTypeTrailingStopLimit:
		if !o.Triggered {
			if o.HasTriggerPrice() && e.triggerReached(o) {
				if !e.fillModel.IsStopFilled() {
					return
				}
				e.triggerStopOrder(o)
			}
			return
		}
		e.matchRestingLimit(o)
	default:
		cerr.Invariant(false, "order type %q resting in core", o.Type)
	}
}

// matchRestingLimit fills a resting limit order that has become marketable.
func (e *Engine) matchRestingLimit(o *model.Order) {
	if !e.core.IsLimitMarketable(o.Side, o.Price) {
		return
	}
	o.LiquiditySide = model.LiquidityMaker
	e.fillLimitOrder(o)
}

// triggerReached evaluates the order's trigger against the price sources its
// trigger type selects.
func (e *Engine) triggerReached(o *model.Order) bool {
	stop := o.IsStopType()
	byQuote := func() bool {
		if stop {
			return e.core.IsStopTriggered(o.Side, o.TriggerPrice)
		}
		return e.core.IsTouchTriggered(o.Side, o.TriggerPrice)
	}
	byLast := func() bool {
		if stop {
			return e.core.IsStopTriggeredByLast(o.Side, o.TriggerPrice)
		}
		return e.core.IsTouchTriggeredByLast(o.Side, o.TriggerPrice)
	}
	switch o.TriggerType {
	case model.TriggerLastPrice:
		return byLast()
	case model.TriggerLastOrBidAsk:
		return byQuote() || byLast()
	default: // BID_ASK and unset
		return byQuote()
	}
}

// triggerStopOrder fires a reached trigger: market-style orders execute as
// takers, limit-style orders convert to live limits.
func (e *Engine) triggerStopOrder(o *model.Order) {
	o.Triggered = true
	if o.Status == model.OrderStatusAccepted {
		o.ApplyStatus(model.OrderStatusTriggered)
	}
	e.emit(model.OrderTriggered{
		OrderEventBase: e.eventBase(o),
		TriggerPrice:   o.TriggerPrice,
	})

	switch o.Type {
	case model.OrderTypeStopMarket, model.OrderTypeMarketIfTouched,
		model.OrderTypeTrailingStopMarket:
		o.LiquiditySide = model.LiquidityTaker
		e.core.Delete(o.ClientOrderID)
		e.fillMarketOrder(o)
	case model.OrderTypeStopLimit, model.OrderTypeLimitIfTouched,
		model.OrderTypeTrailingStopLimit:
		if e.core.IsLimitMarketable(o.Side, o.Price) {
			if o.PostOnly {
				e.rejectOrder(o, cerr.RejectPostOnlyWouldTake,
					fmt.Sprintf("POST_ONLY limit at %s marketable at trigger", o.Price), true)
				return
			}
			o.LiquiditySide = model.LiquidityTaker
			e.fillLimitOrder(o)
		}
	default:
		cerr.Invariant(false, "order type %q cannot trigger", o.Type)
	}
}

// updateTrailingStopOrder recalculates a trailing order's trigger, honouring
// the activation price gate. Calculation failures are venue misconfiguration
// and panic rather than silently freezing the trail.
func (e *Engine) updateTrailingStopOrder(o *model.Order) {
	if !o.Activated {
		if !o.ActivationPrice.IsZero() && !e.activationReached(o) {
			return
		}
		o.Activated = true
	}
	newTrigger, newPrice, err := TrailingStopCalculate(e.instrument.PriceIncrement, o, e.core)
	if err != nil {
		cerr.Invariant(false, "trailing stop %s: %v", o.ClientOrderID, err)
	}
	if newTrigger.IsZero() && newPrice.IsZero() {
		return
	}
	if !newTrigger.IsZero() {
		o.TriggerPrice = newTrigger.Round(e.instrument.PricePrecision)
	}
	if !newPrice.IsZero() {
		o.Price = newPrice.Round(e.instrument.PricePrecision)
	}
	o.TsLastNs = e.tsNow
	e.emit(model.OrderUpdated{
		OrderEventBase: e.eventBase(o),
		Quantity:       o.Quantity,
		Price:          o.Price,
		TriggerPrice:   o.TriggerPrice,
	})
}

// activationReached reports whether the market has touched the activation
// price: at or below for buys, at or above for sells.
func (e *Engine) activationReached(o *model.Order) bool {
	if o.IsBuy() {
		return e.core.HasAsk() && e.core.Ask.LessThanOrEqual(o.ActivationPrice)
	}
	return e.core.HasBid() && e.core.Bid.GreaterThanOrEqual(o.ActivationPrice)
}

// ---------------------------------------------------------------------------
// Fills
// ---------------------------------------------------------------------------

// fillMarketOrder executes an aggressive order against the book, cancelling
// any remainder: market-style orders never rest.
func (e *Engine) fillMarketOrder(o *model.Order) {
	fills := e.determineMarketFills(o)
	e.applyFills(o, fills)
	if !o.IsClosed() {
		e.cancelOrder(o)
	}
}

// fillLimitOrder executes the marketable portion of a limit order. Maker
// fills at the touch pass through the fill model's limit-fill draw to model
// queue position.
func (e *Engine) fillLimitOrder(o *model.Order) {
	if o.LiquiditySide == model.LiquidityMaker {
		// The opposing best has just touched the limit price: whether the
		// order fills depends on queue position, so consult the model. A
		// market that traded through the price fills with certainty.
		atTouch := (o.IsBuy() && e.core.HasAsk() && e.core.Ask.Equal(o.Price)) ||
			(o.IsSell() && e.core.HasBid() && e.core.Bid.Equal(o.Price))
		if atTouch && !e.fillModel.IsLimitFilled() {
			return
		}
	}
	e.applyFills(o, e.determineLimitFills(o))
}

// determineMarketFills walks the (possibly synthetic) book with no price
// limit, applying one tick of slippage on L1 books when the model draws it.
func (e *Engine) determineMarketFills(o *model.Order) []book.Fill {
	b := e.resolveBook(o)
	fills := b.SimulateFills(o.Side, decimal.Zero, o.LeavesQty())
	if len(fills) > 0 && e.cfg.BookType == model.BookTypeL1 && e.fillModel.IsSlipped() {
		tick := e.instrument.PriceIncrement
		for i := range fills {
			if o.IsBuy() {
				fills[i].Price = fills[i].Price.Add(tick)
			} else {
				fills[i].Price = fills[i].Price.Sub(tick)
			}
		}
	}
	return fills
}

// determineLimitFills resolves fills within the limit price. Maker fills all
// execute at the resting price; taker fills walk the opposing levels.
func (e *Engine) determineLimitFills(o *model.Order) []book.Fill {
	b := e.resolveBook(o)
	fills := b.SimulateFills(o.Side, o.Price, o.LeavesQty())
	if o.LiquiditySide != model.LiquidityMaker {
		return fills
	}
	total := decimal.Zero
	for _, f := range fills {
		total = total.Add(f.Qty)
	}
	if !total.IsPositive() {
		return nil
	}
	return []book.Fill{{Price: o.Price, Qty: total}}
}

// resolveBook substitutes the fill model's synthetic book when it offers
// one.
func (e *Engine) resolveBook(o *model.Order) *book.Book {
	bid, ask := e.core.Bid, e.core.Ask
	if sb := e.fillModel.SyntheticBook(e.instrument, o, bid, ask); sb != nil {
		return sb
	}
	return e.book
}

// applyFills executes each fill slice in order until the order closes. A
// reduce-only order is re-capped against the live position before every
// execution, so a stop that fires after the position shrank cannot flip it.
func (e *Engine) applyFills(o *model.Order, fills []book.Fill) {
	for _, f := range fills {
		if o.IsClosed() {
			return
		}
		qty := f.Qty
		if o.ReduceOnly {
			var pos *model.Position
			if e.positionFor != nil {
				pos = e.positionFor(o)
			}
			if pos == nil || pos.IsClosed() {
				e.cancelOrder(o)
				return
			}
			if qty.GreaterThan(pos.Quantity) {
				qty = pos.Quantity
			}
			if o.LeavesQty().GreaterThan(pos.Quantity) {
				o.Quantity = o.FilledQuantity.Add(pos.Quantity)
				e.emit(model.OrderUpdated{
					OrderEventBase: e.eventBase(o),
					Quantity:       o.Quantity,
					Price:          o.Price,
					TriggerPrice:   o.TriggerPrice,
				})
			}
		}
		e.fillOrder(o, qty, f.Price)
	}
}

// fillOrder books one execution: commission, order state, last price, and
// the OrderFilled event.
func (e *Engine) fillOrder(o *model.Order, qty, px decimal.Decimal) {
	qty = decimal.Min(qty, o.LeavesQty())
	if !qty.IsPositive() {
		return
	}
	if o.LiquiditySide == "" {
		o.LiquiditySide = model.LiquidityTaker
	}
	commission := e.feeModel.Commission(o, qty, px, e.instrument)

	o.ApplyFill(qty, px)
	o.TsLastNs = e.tsNow
	e.core.SetLast(px)
	if o.IsClosed() {
		e.core.Delete(o.ClientOrderID)
	}

	e.emit(model.OrderFilled{
		OrderEventBase: e.eventBase(o),
		TradeID:        uuid.NewString(),
		LastQty:        qty,
		LastPx:         px,
		Commission:     commission,
		LiquiditySide:  o.LiquiditySide,
	})
}

// ---------------------------------------------------------------------------
// Lifecycle events
// ---------------------------------------------------------------------------

func (e *Engine) eventBase(o *model.Order) model.OrderEventBase {
	return model.OrderEventBase{
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.VenueOrderID,
		InstrumentID:  o.InstrumentID,
		StrategyID:    o.StrategyID,
		TsEventNs:     e.tsNow,
	}
}

// acceptOrder assigns a venue order id and acknowledges the order.
func (e *Engine) acceptOrder(o *model.Order) {
	if o.VenueOrderID == "" {
		o.VenueOrderID = uuid.NewString()
	}
	o.ApplyStatus(model.OrderStatusAccepted)
	o.TsLastNs = e.tsNow
	e.emit(model.OrderAccepted{OrderEventBase: e.eventBase(o)})
}

// rejectOrder closes the order with a machine-readable reason.
func (e *Engine) rejectOrder(o *model.Order, reason cerr.RejectReason, detail string, duePostOnly bool) {
	e.core.Delete(o.ClientOrderID)
	o.ApplyStatus(model.OrderStatusRejected)
	o.TsLastNs = e.tsNow
	e.log.Debug("order rejected",
		zap.String("client_order_id", o.ClientOrderID),
		zap.String("reason", string(reason)),
		zap.String("detail", detail))
	e.emit(model.OrderRejected{
		OrderEventBase: e.eventBase(o),
		Reason:         string(reason),
		Detail:         detail,
		DuePostOnly:    duePostOnly,
	})
}

// rejectModify refuses an amendment without disturbing the resting order.
func (e *Engine) rejectModify(o *model.Order, reason cerr.RejectReason, detail string, duePostOnly bool) {
	e.emit(model.OrderRejected{
		OrderEventBase: e.eventBase(o),
		Reason:         string(reason),
		Detail:         detail,
		DuePostOnly:    duePostOnly,
	})
}

// cancelOrder closes the order as canceled.
func (e *Engine) cancelOrder(o *model.Order) {
	e.core.Delete(o.ClientOrderID)
	o.ApplyStatus(model.OrderStatusCanceled)
	o.TsLastNs = e.tsNow
	e.emit(model.OrderCanceled{OrderEventBase: e.eventBase(o)})
}

// expireOrder closes the order as expired.
func (e *Engine) expireOrder(o *model.Order) {
	e.core.Delete(o.ClientOrderID)
	o.ApplyStatus(model.OrderStatusExpired)
	o.TsLastNs = e.tsNow
	e.emit(model.OrderExpired{OrderEventBase: e.eventBase(o)})
}
