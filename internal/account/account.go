package account

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	cerr "github.com/quantfold/backsim/common/errors"
	"github.com/quantfold/backsim/internal/model"
)

// balance is one currency ledger line.
type balance struct {
	total  decimal.Decimal
	locked decimal.Decimal
}

// Account tracks balances, per-instrument margin, and leverage for one
// venue. Invariant: total balance equals starting balance plus the realized
// PnL accumulator minus commissions.
type Account struct {
	id          string
	accountType string // CASH or MARGIN

	balances   map[string]*balance
	marginUsed map[string]model.Money // instrument id -> initial margin held

	leverages       map[string]decimal.Decimal
	defaultLeverage decimal.Decimal

	marginModel        MarginModel
	useQuoteForInverse bool
	bypassRiskChecks   bool

	logger *zap.Logger
}

// New builds an account funded with the given starting balances.
func New(id, accountType string, starting []model.Money, marginModel MarginModel, logger *zap.Logger) *Account {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Account{
		id:              id,
		accountType:     accountType,
		balances:        make(map[string]*balance),
		marginUsed:      make(map[string]model.Money),
		leverages:       make(map[string]decimal.Decimal),
		defaultLeverage: decimal.NewFromInt(1),
		marginModel:     marginModel,
		logger:          logger,
	}
	for _, m := range starting {
		a.balances[m.Currency] = &balance{total: m.Amount}
	}
	return a
}

// ID returns the account id.
func (a *Account) ID() string { return a.id }

// Type returns CASH or MARGIN.
func (a *Account) Type() string { return a.accountType }

// SetBypassRiskChecks disables pre-trade balance/margin gating.
func (a *Account) SetBypassRiskChecks(bypass bool) { a.bypassRiskChecks = bypass }

// SetUseQuoteForInverse routes inverse-instrument notional to the quote
// currency.
func (a *Account) SetUseQuoteForInverse(v bool) { a.useQuoteForInverse = v }

// SetDefaultLeverage sets the leverage applied to instruments without an
// explicit setting.
func (a *Account) SetDefaultLeverage(leverage decimal.Decimal) {
	a.defaultLeverage = leverage
}

// SetLeverage sets the leverage for one instrument.
func (a *Account) SetLeverage(instrumentID string, leverage decimal.Decimal) {
	a.leverages[instrumentID] = leverage
}

// Leverage returns the leverage for the instrument.
func (a *Account) Leverage(instrumentID string) decimal.Decimal {
	if lev, ok := a.leverages[instrumentID]; ok && !lev.IsZero() {
		return lev
	}
	return a.defaultLeverage
}

func (a *Account) bal(currency string) *balance {
	b, ok := a.balances[currency]
	if !ok {
		b = &balance{}
		a.balances[currency] = b
	}
	return b
}

// BalanceTotal returns the total balance in the currency.
func (a *Account) BalanceTotal(currency string) decimal.Decimal {
	return a.bal(currency).total
}

// BalanceFree returns total minus locked in the currency.
func (a *Account) BalanceFree(currency string) decimal.Decimal {
	b := a.bal(currency)
	return b.total.Sub(b.locked)
}

// MarginUsed returns the margin held for the instrument, if any.
func (a *Account) MarginUsed(instrumentID string) (model.Money, bool) {
	m, ok := a.marginUsed[instrumentID]
	return m, ok
}

// CheckOrderRisk gates order acceptance. It returns a rejection reason, or
// an empty string if the order is acceptable. A reducing order is never
// rejected for funds: closing trades must always be possible.
func (a *Account) CheckOrderRisk(instrument *model.Instrument, order *model.Order, price decimal.Decimal, reducing bool) cerr.RejectReason {
	if a.bypassRiskChecks || reducing {
		return ""
	}
	if price.IsZero() {
		// Market order with no reference price yet; the no-market rejection
		// path handles this before risk is consulted.
		return ""
	}

	switch a.accountType {
	case model.AccountTypeCash:
		cost := instrument.Notional(order.LeavesQty(), price, a.useQuoteForInverse)
		if cost.Amount.GreaterThan(a.BalanceFree(cost.Currency)) {
			return cerr.RejectInsufficientBalance
		}
	case model.AccountTypeMargin:
		required := a.marginModel.InitialMargin(
			instrument, order.LeavesQty(), price, a.Leverage(instrument.ID), a.useQuoteForInverse)
		if required.Amount.GreaterThan(a.BalanceFree(required.Currency)) {
			return cerr.RejectInsufficientMargin
		}
	}
	return ""
}

// ApplyFill books the cash effects of a fill: realized PnL, commission, and
// the refreshed margin requirement for the instrument's open position.
func (a *Account) ApplyFill(instrument *model.Instrument, position *model.Position, realized, commission model.Money) {
	pnlBal := a.bal(realized.Currency)
	pnlBal.total = pnlBal.total.Add(realized.Amount)

	if !commission.Amount.IsZero() {
		feeBal := a.bal(commission.Currency)
		feeBal.total = feeBal.total.Sub(commission.Amount)
	}

	a.refreshMargin(instrument, position)
}

// refreshMargin recomputes and re-locks the margin for the instrument from
// the current open position.
func (a *Account) refreshMargin(instrument *model.Instrument, position *model.Position) {
	if a.accountType != model.AccountTypeMargin {
		return
	}
	if prev, ok := a.marginUsed[instrument.ID]; ok {
		b := a.bal(prev.Currency)
		b.locked = b.locked.Sub(prev.Amount)
		delete(a.marginUsed, instrument.ID)
	}
	if position == nil || position.IsClosed() {
		return
	}
	required := a.marginModel.InitialMargin(
		instrument, position.Quantity, position.AvgEntryPx, a.Leverage(instrument.ID), a.useQuoteForInverse)
	b := a.bal(required.Currency)
	b.locked = b.locked.Add(required.Amount)
	a.marginUsed[instrument.ID] = required

	if b.locked.GreaterThan(b.total) {
		a.logger.Warn("margin used exceeds total balance",
			zap.String("account_id", a.id),
			zap.String("currency", required.Currency),
			zap.String("locked", b.locked.String()),
			zap.String("total", b.total.String()))
	}
}

// StateEvent snapshots the account as an AccountState event.
func (a *Account) StateEvent(tsNs int64) model.AccountState {
	currencies := make([]string, 0, len(a.balances))
	for ccy := range a.balances {
		currencies = append(currencies, ccy)
	}
	sort.Strings(currencies)

	state := model.AccountState{
		AccountID: a.id,
		Type:      a.accountType,
		TsEventNs: tsNs,
	}
	for _, ccy := range currencies {
		b := a.balances[ccy]
		state.Balances = append(state.Balances, model.CurrencyBalance{
			Currency: ccy,
			Total:    b.total,
			Locked:   b.locked,
			Free:     b.total.Sub(b.locked),
		})
	}
	instruments := make([]string, 0, len(a.marginUsed))
	for id := range a.marginUsed {
		instruments = append(instruments, id)
	}
	sort.Strings(instruments)
	for _, id := range instruments {
		state.MarginUsed = append(state.MarginUsed, a.marginUsed[id])
	}
	return state
}
