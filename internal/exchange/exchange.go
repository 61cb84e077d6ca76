// Package exchange implements the simulated venue: it owns the matching
// engines, the account ledger, the contingency manager, and the in-flight
// command queue, and presents a single deterministic command/data surface to
// the backtest loop.
package exchange

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	cerr "github.com/quantfold/backsim/common/errors"
	"github.com/quantfold/backsim/internal/account"
	"github.com/quantfold/backsim/internal/contingency"
	"github.com/quantfold/backsim/internal/matching"
	"github.com/quantfold/backsim/internal/model"
	"github.com/quantfold/backsim/internal/simmodels"
)

// Options configures a simulated exchange. Zero values fall back to a
// netting margin venue with perfect fills and no latency.
type Options struct {
	VenueID          string
	OmsType          string
	AccountID        string
	AccountType      string
	StartingBalances []model.Money

	BookType                     string
	RejectStopOrders             bool
	PreserveTimePriorityOnModify bool
	UseQuoteForInverse           bool
	BypassRiskChecks             bool

	DefaultLeverage decimal.Decimal
	Leverages       map[string]decimal.Decimal

	FillModel    simmodels.FillModel
	FeeModel     simmodels.FeeModel
	LatencyModel *simmodels.LatencyModel
	MarginModel  account.MarginModel

	Handler model.EventHandler
	Logger  *zap.Logger
	Metrics *Metrics
}

// SimulatedExchange is the venue. All methods must be called from the
// single event-loop goroutine; processing is strictly synchronous and
// deterministic for a given input sequence and seed.
type SimulatedExchange struct {
	venueID string
	omsType string
	opts    Options

	engines       map[string]*matching.Engine
	instrumentIDs []string

	account     *account.Account
	cache       *model.Cache
	contingency *contingency.Manager
	latency     *simmodels.LatencyModel
	inflight    *inflightQueue

	handler model.EventHandler
	log     *zap.Logger
	metrics *Metrics

	seq         uint64
	tsNow       int64
	positionSeq uint64
}

// New validates the options and builds the venue. Misconfiguration is fatal
// and reported as a ConfigError.
func New(opts Options) (*SimulatedExchange, error) {
	if opts.VenueID == "" {
		return nil, cerr.NewConfigError("exchange", "venue id must not be empty")
	}
	switch opts.OmsType {
	case "":
		opts.OmsType = model.OmsNetting
	case model.OmsNetting, model.OmsHedging:
	default:
		return nil, cerr.NewConfigError("exchange", "unknown OMS type %q", opts.OmsType)
	}
	switch opts.AccountType {
	case "":
		opts.AccountType = model.AccountTypeMargin
	case model.AccountTypeCash, model.AccountTypeMargin:
	default:
		return nil, cerr.NewConfigError("exchange", "unknown account type %q", opts.AccountType)
	}
	if len(opts.StartingBalances) == 0 {
		return nil, cerr.NewConfigError("exchange", "at least one starting balance required")
	}
	if opts.BookType == "" {
		opts.BookType = model.BookTypeL1
	}
	if opts.FillModel == nil {
		opts.FillModel = simmodels.DefaultFillModel()
	}
	if opts.FeeModel == nil {
		opts.FeeModel = simmodels.NewMakerTakerFeeModel()
	}
	if opts.LatencyModel == nil {
		opts.LatencyModel = simmodels.ZeroLatency()
	}
	if opts.MarginModel == nil {
		opts.MarginModel = account.StandardMarginModel{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AccountID == "" {
		opts.AccountID = opts.VenueID + "-001"
	}

	log := opts.Logger.Named("exchange").With(zap.String("venue", opts.VenueID))
	acct := account.New(opts.AccountID, opts.AccountType, opts.StartingBalances, opts.MarginModel, log)
	acct.SetUseQuoteForInverse(opts.UseQuoteForInverse)
	acct.SetBypassRiskChecks(opts.BypassRiskChecks)
	if !opts.DefaultLeverage.IsZero() {
		acct.SetDefaultLeverage(opts.DefaultLeverage)
	}
	for instrumentID, lev := range opts.Leverages {
		acct.SetLeverage(instrumentID, lev)
	}

	x := &SimulatedExchange{
		venueID:  opts.VenueID,
		omsType:  opts.OmsType,
		opts:     opts,
		engines:  make(map[string]*matching.Engine),
		account:  acct,
		cache:    model.NewCache(),
		latency:  opts.LatencyModel,
		inflight: newInflightQueue(),
		handler:  opts.Handler,
		log:      log,
		metrics:  opts.Metrics,
	}
	x.contingency = contingency.NewManager(x, x.cache, log)
	return x, nil
}

// VenueID returns the venue identifier.
func (x *SimulatedExchange) VenueID() string { return x.venueID }

// Account exposes the ledger, primarily for inspection.
func (x *SimulatedExchange) Account() *account.Account { return x.account }

// Cache exposes order and position state, primarily for inspection.
func (x *SimulatedExchange) Cache() *model.Cache { return x.cache }

// SetHandler installs the event consumer.
func (x *SimulatedExchange) SetHandler(h model.EventHandler) { x.handler = h }

// AddInstrument registers an instrument and builds its matching engine.
func (x *SimulatedExchange) AddInstrument(instrument *model.Instrument) error {
	if err := instrument.Validate(); err != nil {
		return cerr.NewConfigError("exchange", "invalid instrument: %v", err)
	}
	if _, exists := x.engines[instrument.ID]; exists {
		return cerr.NewConfigError("exchange", "instrument %s already registered", instrument.ID)
	}
	cfg := matching.Config{
		BookType:                     x.opts.BookType,
		RejectStopOrders:             x.opts.RejectStopOrders,
		PreserveTimePriorityOnModify: x.opts.PreserveTimePriorityOnModify,
	}
	eng := matching.NewEngine(
		instrument, cfg, x.opts.FillModel, x.opts.FeeModel,
		x.cache, x.onEngineEvent, x.nextSeq, x.log,
	)
	eng.SetRiskChecker(func(o *model.Order, refPx decimal.Decimal, reducing bool) cerr.RejectReason {
		return x.account.CheckOrderRisk(instrument, o, refPx, reducing)
	})
	eng.SetPositionLookup(x.positionForOrder)

	x.engines[instrument.ID] = eng
	x.instrumentIDs = append(x.instrumentIDs, instrument.ID)
	sort.Strings(x.instrumentIDs)
	return nil
}

// Engine returns the matching engine for an instrument, or nil.
func (x *SimulatedExchange) Engine(instrumentID string) *matching.Engine {
	return x.engines[instrumentID]
}

func (x *SimulatedExchange) nextSeq() uint64 {
	x.seq++
	return x.seq
}

// ---------------------------------------------------------------------------
// Command API
// ---------------------------------------------------------------------------

// SubmitOrder queues an order for arrival after insert latency.
func (x *SimulatedExchange) SubmitOrder(o *model.Order, tsNow int64) {
	seq := x.nextSeq()
	o.Sequence = seq
	effective := tsNow + x.latency.InsertLatency()
	x.enqueue(&command{ts: effective, seq: seq, kind: "submit", apply: func() {
		x.execSubmit(o, effective)
	}}, tsNow)
}

// SubmitOrderList submits a contingent order list in the given sequence.
// Parents must precede their children.
func (x *SimulatedExchange) SubmitOrderList(orders []*model.Order, tsNow int64) {
	for _, o := range orders {
		x.SubmitOrder(o, tsNow)
	}
}

// ModifyOrder queues an amendment; zero decimals leave fields unchanged.
func (x *SimulatedExchange) ModifyOrder(clientOrderID string, qty, price, trigger decimal.Decimal, tsNow int64) {
	seq := x.nextSeq()
	effective := tsNow + x.latency.UpdateLatency()
	x.enqueue(&command{ts: effective, seq: seq, kind: "modify", apply: func() {
		x.execModify(clientOrderID, qty, price, trigger, effective)
	}}, tsNow)
}

// CancelOrder queues a cancellation.
func (x *SimulatedExchange) CancelOrder(clientOrderID string, tsNow int64) {
	seq := x.nextSeq()
	effective := tsNow + x.latency.CancelLatency()
	x.enqueue(&command{ts: effective, seq: seq, kind: "cancel", apply: func() {
		x.execCancel(clientOrderID, effective)
	}}, tsNow)
}

// CancelAllOrders queues a mass cancel for one instrument; an empty side
// cancels both sides.
func (x *SimulatedExchange) CancelAllOrders(instrumentID, side string, tsNow int64) {
	seq := x.nextSeq()
	effective := tsNow + x.latency.CancelLatency()
	x.enqueue(&command{ts: effective, seq: seq, kind: "cancel_all", apply: func() {
		if eng := x.engines[instrumentID]; eng != nil {
			eng.ProcessCancelAll(side, effective)
		}
	}}, tsNow)
}

// CloseAllPositions submits reduce-only market orders flattening every open
// position, or only the given instrument's when instrumentID is non-empty.
func (x *SimulatedExchange) CloseAllPositions(instrumentID string, tsNow int64) {
	for _, id := range x.instrumentIDs {
		if instrumentID != "" && id != instrumentID {
			continue
		}
		for _, pos := range x.cache.PositionsOpen(id) {
			o := &model.Order{
				ClientOrderID: fmt.Sprintf("close-%s-%d", pos.ID, x.nextSeq()),
				InstrumentID:  pos.InstrumentID,
				StrategyID:    pos.StrategyID,
				Side:          model.OppositeSide(pos.Side),
				Type:          model.OrderTypeMarket,
				Quantity:      pos.Quantity,
				TimeInForce:   model.TimeInForceIOC,
				ReduceOnly:    true,
				Status:        model.OrderStatusInitialized,
			}
			x.cache.IndexPositionForOrder(o.ClientOrderID, pos.ID)
			x.SubmitOrder(o, tsNow)
		}
	}
}

// enqueue pushes a command and immediately drains everything already due,
// so zero-latency commands execute synchronously.
func (x *SimulatedExchange) enqueue(c *command, tsNow int64) {
	if x.metrics != nil {
		x.metrics.CommandLagNs.Observe(float64(c.ts - tsNow))
	}
	x.inflight.push(c)
	x.drain(tsNow)
}

// drain executes every queued command due at or before tsNow, in
// (effective time, arrival order).
func (x *SimulatedExchange) drain(tsNow int64) {
	for {
		c := x.inflight.popDue(tsNow)
		if c == nil {
			return
		}
		c.apply()
	}
}

func (x *SimulatedExchange) execSubmit(o *model.Order, ts int64) {
	x.tsNow = ts
	if existing := x.cache.Order(o.ClientOrderID); existing != nil {
		x.rejectDirect(o, cerr.RejectDuplicateOrderID,
			fmt.Sprintf("client order id %s already used", o.ClientOrderID), ts)
		return
	}
	eng := x.engines[o.InstrumentID]
	if eng == nil {
		x.rejectDirect(o, cerr.RejectInstrumentNotActive,
			fmt.Sprintf("unknown instrument %s", o.InstrumentID), ts)
		return
	}

	o.ApplyStatus(model.OrderStatusSubmitted)
	o.TsSubmittedNs = ts
	x.cache.AddOrder(o)
	x.forward(model.OrderSubmitted{OrderEventBase: x.eventBase(o, ts)})
	if x.metrics != nil {
		x.metrics.OrdersSubmitted.WithLabelValues(o.InstrumentID, o.Type).Inc()
	}

	if o.ParentOrderID != "" {
		parent := x.cache.Order(o.ParentOrderID)
		switch {
		case parent == nil:
			x.rejectDirect(o, cerr.RejectParentRejected,
				fmt.Sprintf("unknown parent order %s", o.ParentOrderID), ts)
			return
		case parent.IsClosed() && parent.FilledQuantity.IsZero():
			x.rejectDirect(o, cerr.RejectParentRejected,
				fmt.Sprintf("parent order %s closed unfilled", o.ParentOrderID), ts)
			return
		case parent.FilledQuantity.IsZero():
			// Child waits for the parent's first fill.
			x.contingency.HoldChild(o)
			return
		default:
			// The parent already has fills: route the child live, sized to
			// what the parent has actually filled so far.
			x.contingency.RegisterChild(o)
			if o.Quantity.GreaterThan(parent.FilledQuantity) {
				o.Quantity = parent.FilledQuantity
				x.forward(model.OrderUpdated{
					OrderEventBase: x.eventBase(o, ts),
					Quantity:       o.Quantity,
					Price:          o.Price,
					TriggerPrice:   o.TriggerPrice,
				})
			}
		}
	}
	eng.ProcessOrder(o, ts)
}

func (x *SimulatedExchange) execModify(clientOrderID string, qty, price, trigger decimal.Decimal, ts int64) {
	x.tsNow = ts
	o := x.cache.Order(clientOrderID)
	if o == nil {
		x.log.Warn("modify for unknown order", zap.String("client_order_id", clientOrderID))
		return
	}
	if eng := x.engines[o.InstrumentID]; eng != nil {
		eng.ProcessModify(clientOrderID, qty, price, trigger, ts)
	}
}

func (x *SimulatedExchange) execCancel(clientOrderID string, ts int64) {
	x.tsNow = ts
	o := x.cache.Order(clientOrderID)
	if o == nil {
		x.log.Warn("cancel for unknown order", zap.String("client_order_id", clientOrderID))
		return
	}
	if o.IsClosed() {
		return
	}
	if eng := x.engines[o.InstrumentID]; eng != nil {
		eng.ProcessCancel(clientOrderID, ts)
	}
}

// rejectDirect rejects an order that never reached a matching engine.
func (x *SimulatedExchange) rejectDirect(o *model.Order, reason cerr.RejectReason, detail string, ts int64) {
	if !o.IsClosed() {
		o.ApplyStatus(model.OrderStatusRejected)
		o.TsLastNs = ts
	}
	ev := model.OrderRejected{
		OrderEventBase: x.eventBase(o, ts),
		Reason:         string(reason),
		Detail:         detail,
	}
	if x.metrics != nil {
		x.metrics.OrdersRejected.WithLabelValues(o.InstrumentID, string(reason)).Inc()
	}
	x.forward(ev)
	x.contingency.OnOrderClosed(o, ts)
}

// ---------------------------------------------------------------------------
// Data API
// ---------------------------------------------------------------------------

// ProcessQuote delivers a quote tick, draining due commands first.
func (x *SimulatedExchange) ProcessQuote(q *model.QuoteTick) error {
	x.advance(q.TsEventNs)
	eng := x.engines[q.InstrumentID]
	if eng == nil {
		return cerr.ErrInstrumentNotFound
	}
	if err := eng.ProcessQuote(q); err != nil {
		x.log.Error("quote rejected", zap.Error(err))
		return err
	}
	return nil
}

// ProcessTrade delivers a trade tick.
func (x *SimulatedExchange) ProcessTrade(t *model.TradeTick) error {
	x.advance(t.TsEventNs)
	eng := x.engines[t.InstrumentID]
	if eng == nil {
		return cerr.ErrInstrumentNotFound
	}
	eng.ProcessTrade(t)
	return nil
}

// ProcessDepth delivers a depth snapshot.
func (x *SimulatedExchange) ProcessDepth(snap *model.DepthSnapshot) error {
	x.advance(snap.TsEventNs)
	eng := x.engines[snap.InstrumentID]
	if eng == nil {
		return cerr.ErrInstrumentNotFound
	}
	if err := eng.ProcessDepth(snap); err != nil {
		x.log.Error("depth snapshot rejected", zap.Error(err))
		return err
	}
	return nil
}

// ProcessDelta delivers an incremental book update.
func (x *SimulatedExchange) ProcessDelta(dl *model.BookDelta) error {
	x.advance(dl.TsEventNs)
	eng := x.engines[dl.InstrumentID]
	if eng == nil {
		return cerr.ErrInstrumentNotFound
	}
	eng.ProcessDelta(dl)
	return nil
}

// ProcessStatus delivers a trading-state transition.
func (x *SimulatedExchange) ProcessStatus(st *model.InstrumentStatus) error {
	x.advance(st.TsEventNs)
	eng := x.engines[st.InstrumentID]
	if eng == nil {
		return cerr.ErrInstrumentNotFound
	}
	eng.ProcessStatus(st)
	return nil
}

// Process advances simulated time: due commands execute and every engine
// re-evaluates its resting orders.
func (x *SimulatedExchange) Process(tsNow int64) {
	x.advance(tsNow)
	for _, id := range x.instrumentIDs {
		x.engines[id].Iterate(tsNow)
	}
}

// advance moves the venue clock forward and executes due commands.
func (x *SimulatedExchange) advance(tsNow int64) {
	cerr.Invariant(tsNow >= x.tsNow,
		"time went backwards: %d < %d", tsNow, x.tsNow)
	x.tsNow = tsNow
	x.drain(tsNow)
}

// ---------------------------------------------------------------------------
// Engine event handling
// ---------------------------------------------------------------------------

// onEngineEvent intercepts engine events to book positions, accounts, and
// contingencies before forwarding to the client handler, all synchronously.
func (x *SimulatedExchange) onEngineEvent(ev model.Event) {
	switch e := ev.(type) {
	case model.OrderFilled:
		x.handleFill(e)
	case model.OrderRejected:
		if x.metrics != nil {
			x.metrics.OrdersRejected.WithLabelValues(e.InstrumentID, e.Reason).Inc()
		}
		x.forward(e)
		if o := x.cache.Order(e.ClientOrderID); o != nil {
			x.contingency.OnOrderClosed(o, e.TsEventNs)
		}
	case model.OrderCanceled:
		if x.metrics != nil {
			x.metrics.OrdersCanceled.Inc()
		}
		x.forward(e)
		if o := x.cache.Order(e.ClientOrderID); o != nil {
			x.contingency.OnOrderClosed(o, e.TsEventNs)
		}
	case model.OrderExpired:
		x.forward(e)
		if o := x.cache.Order(e.ClientOrderID); o != nil {
			x.contingency.OnOrderClosed(o, e.TsEventNs)
		}
	default:
		x.forward(ev)
	}
}

// handleFill books one execution through position, account, and contingency
// state, emitting events in a stable order: fill, position, account state.
func (x *SimulatedExchange) handleFill(e model.OrderFilled) {
	o := x.cache.Order(e.ClientOrderID)
	cerr.Invariant(o != nil, "fill for unknown order %s", e.ClientOrderID)
	eng := x.engines[o.InstrumentID]
	cerr.Invariant(eng != nil, "fill for unknown instrument %s", o.InstrumentID)
	instrument := eng.Instrument()

	pos, opened := x.resolvePosition(o, instrument, e.TsEventNs)
	realized := pos.ApplyFill(instrument, o.Side, e.LastQty, e.LastPx, e.TsEventNs)
	x.cache.IndexPositionForOrder(o.ClientOrderID, pos.ID)
	x.account.ApplyFill(instrument, pos, realized, e.Commission)

	e.VenuePositionID = pos.ID
	if x.metrics != nil {
		x.metrics.OrdersFilled.WithLabelValues(e.InstrumentID, e.LiquiditySide).Inc()
		vol, _ := e.LastQty.Float64()
		x.metrics.FillVolume.WithLabelValues(e.InstrumentID).Add(vol)
	}
	x.forward(e)

	kind := model.PositionChanged
	switch {
	case opened:
		kind = model.PositionOpened
	case pos.IsClosed():
		kind = model.PositionClosed
	}
	x.forward(model.PositionEvent{
		Kind:         kind,
		PositionID:   pos.ID,
		InstrumentID: pos.InstrumentID,
		Side:         pos.Side,
		Quantity:     pos.Quantity,
		AvgEntryPx:   pos.AvgEntryPx,
		RealizedPnL:  pos.RealizedPnL,
		TsEventNs:    e.TsEventNs,
	})
	x.forward(x.account.StateEvent(e.TsEventNs))

	x.contingency.OnOrderFilled(o, e.TsEventNs)
	x.contingency.OnPositionChanged(pos, e.TsEventNs)
}

// resolvePosition finds or opens the position a fill applies to.
func (x *SimulatedExchange) resolvePosition(o *model.Order, instrument *model.Instrument, ts int64) (*model.Position, bool) {
	pos := x.positionForOrder(o)
	if pos != nil {
		return pos, pos.IsClosed()
	}
	x.positionSeq++
	var id string
	if x.omsType == model.OmsNetting {
		id = fmt.Sprintf("%s-%s", x.venueID, o.InstrumentID)
	} else {
		id = fmt.Sprintf("%s-%s-%d", x.venueID, o.InstrumentID, x.positionSeq)
	}
	pos = model.NewPosition(id, o.InstrumentID, o.StrategyID, instrument.SettlementCurrency, ts)
	x.cache.AddPosition(pos)
	return pos, true
}

// positionForOrder resolves the position an order acts on: an explicit
// index first, then the netting position for the instrument.
func (x *SimulatedExchange) positionForOrder(o *model.Order) *model.Position {
	if pos := x.cache.PositionForOrder(o.ClientOrderID); pos != nil {
		return pos
	}
	if x.omsType == model.OmsNetting {
		return x.cache.Position(fmt.Sprintf("%s-%s", x.venueID, o.InstrumentID))
	}
	return nil
}

func (x *SimulatedExchange) eventBase(o *model.Order, ts int64) model.OrderEventBase {
	return model.OrderEventBase{
		ClientOrderID: o.ClientOrderID,
		VenueOrderID:  o.VenueOrderID,
		InstrumentID:  o.InstrumentID,
		StrategyID:    o.StrategyID,
		TsEventNs:     ts,
	}
}

func (x *SimulatedExchange) forward(ev model.Event) {
	if x.metrics != nil {
		x.metrics.EventsEmitted.WithLabelValues(ev.EventType()).Inc()
	}
	if x.handler != nil {
		x.handler(ev)
	}
}

// ---------------------------------------------------------------------------
// contingency.Executor
// ---------------------------------------------------------------------------

// SubmitHeld routes a released OTO child into its matching engine.
func (x *SimulatedExchange) SubmitHeld(o *model.Order, tsNow int64) {
	if eng := x.engines[o.InstrumentID]; eng != nil {
		eng.ProcessOrder(o, tsNow)
	}
}

// RejectHeld rejects a held child whose parent died.
func (x *SimulatedExchange) RejectHeld(o *model.Order, reason cerr.RejectReason, detail string, tsNow int64) {
	x.rejectDirect(o, reason, detail, tsNow)
}

// Cancel cancels an open order on behalf of the contingency manager.
func (x *SimulatedExchange) Cancel(clientOrderID string, tsNow int64) {
	x.execCancel(clientOrderID, tsNow)
}

// UpdateQuantity resizes an open order on behalf of the contingency
// manager.
func (x *SimulatedExchange) UpdateQuantity(clientOrderID string, qty decimal.Decimal, tsNow int64) {
	x.execModify(clientOrderID, qty, decimal.Zero, decimal.Zero, tsNow)
}
