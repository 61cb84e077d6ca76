package matching

import (
	"github.com/shopspring/decimal"

	cerr "github.com/quantfold/backsim/common/errors"
	"github.com/quantfold/backsim/internal/model"
)

// TrailingStopCalculate recomputes the trigger (and, for trailing stop
// limits, the limit price) of a trailing order against the current market.
// Returned decimals are zero when the corresponding field should not move:
// triggers only ratchet in the favorable direction, away from adverse moves.
//
// A ConfigError is returned when the order's trigger type needs a price
// source the market has never published.
func TrailingStopCalculate(priceIncrement decimal.Decimal, o *model.Order, core *Core) (newTrigger, newPrice decimal.Decimal, err error) {
	offset, err := trailingOffset(priceIncrement, o, core)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	market, err := trailingMarketPrice(o, core)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	var candidate decimal.Decimal
	if o.IsBuy() {
		// A buy trailing stop sits above the market and follows it down.
		candidate = market.Add(offset)
		if !o.HasTriggerPrice() || candidate.LessThan(o.TriggerPrice) {
			newTrigger = candidate
		}
	} else {
		candidate = market.Sub(offset)
		if !o.HasTriggerPrice() || candidate.GreaterThan(o.TriggerPrice) {
			newTrigger = candidate
		}
	}

	if o.Type == model.OrderTypeTrailingStopLimit && !newTrigger.IsZero() {
		// The limit price trails by the same offset as the trigger.
		if o.IsBuy() {
			limit := market.Add(offset)
			if !o.HasPrice() || limit.LessThan(o.Price) {
				newPrice = limit
			}
		} else {
			limit := market.Sub(offset)
			if !o.HasPrice() || limit.GreaterThan(o.Price) {
				newPrice = limit
			}
		}
	}

	return newTrigger, newPrice, nil
}

// trailingOffset resolves the configured offset into an absolute price
// distance.
func trailingOffset(priceIncrement decimal.Decimal, o *model.Order, core *Core) (decimal.Decimal, error) {
	switch o.TrailingOffsetType {
	case model.TrailingOffsetPrice:
		return o.TrailingOffset, nil
	case model.TrailingOffsetBasisPoints:
		market, err := trailingMarketPrice(o, core)
		if err != nil {
			return decimal.Zero, err
		}
		return market.Mul(o.TrailingOffset).Div(decimal.NewFromInt(10_000)), nil
	case model.TrailingOffsetTicks:
		return o.TrailingOffset.Mul(priceIncrement), nil
	default:
		return decimal.Zero, cerr.NewConfigError("matching",
			"unknown trailing offset type %q for order %s", o.TrailingOffsetType, o.ClientOrderID)
	}
}

// trailingMarketPrice picks the market price the order trails, per its
// trigger type. Buys trail the ask, sells the bid.
func trailingMarketPrice(o *model.Order, core *Core) (decimal.Decimal, error) {
	quote := func() (decimal.Decimal, bool) {
		if o.IsBuy() {
			return core.Ask, core.HasAsk()
		}
		return core.Bid, core.HasBid()
	}

	switch o.TriggerType {
	case model.TriggerLastPrice:
		if !core.HasLast() {
			return decimal.Zero, cerr.NewConfigError("matching",
				"no LAST price for trailing order %s with trigger type %s", o.ClientOrderID, o.TriggerType)
		}
		return core.Last, nil
	case model.TriggerBidAsk, "":
		px, ok := quote()
		if !ok {
			return decimal.Zero, cerr.NewConfigError("matching",
				"no BID/ASK price for trailing order %s with trigger type %s", o.ClientOrderID, o.TriggerType)
		}
		return px, nil
	case model.TriggerLastOrBidAsk:
		// Use whichever source gives the tighter (more favorable) trail.
		px, ok := quote()
		if core.HasLast() && ok {
			if o.IsBuy() {
				return decimal.Min(core.Last, px), nil
			}
			return decimal.Max(core.Last, px), nil
		}
		if core.HasLast() {
			return core.Last, nil
		}
		if ok {
			return px, nil
		}
		return decimal.Zero, cerr.NewConfigError("matching",
			"no market price for trailing order %s with trigger type %s", o.ClientOrderID, o.TriggerType)
	default:
		return decimal.Zero, cerr.NewConfigError("matching",
			"unknown trigger type %q for order %s", o.TriggerType, o.ClientOrderID)
	}
}
