// Package matching implements the per-instrument matching core and order
// matching engine for the simulated venue.
package matching

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quantfold/backsim/internal/model"
)

// Core holds the current top of book and the resting orders for one
// instrument, and answers marketability and trigger questions. It knows
// nothing about fills; the engine owns those.
type Core struct {
	instrumentID   string
	priceIncrement decimal.Decimal

	Bid  decimal.Decimal
	Ask  decimal.Decimal
	Last decimal.Decimal

	bidInitialized  bool
	askInitialized  bool
	lastInitialized bool

	ordersBid []*model.Order
	ordersAsk []*model.Order
}

// NewCore returns an empty matching core.
func NewCore(instrumentID string, priceIncrement decimal.Decimal) *Core {
	return &Core{
		instrumentID:   instrumentID,
		priceIncrement: priceIncrement,
	}
}

// SetBid updates the best bid.
func (c *Core) SetBid(bid decimal.Decimal) {
	c.Bid = bid
	c.bidInitialized = true
}

// SetAsk updates the best ask.
func (c *Core) SetAsk(ask decimal.Decimal) {
	c.Ask = ask
	c.askInitialized = true
}

// SetLast updates the last traded price.
func (c *Core) SetLast(last decimal.Decimal) {
	c.Last = last
	c.lastInitialized = true
}

// HasBid reports whether a bid has ever been observed.
func (c *Core) HasBid() bool { return c.bidInitialized }

// HasAsk reports whether an ask has ever been observed.
func (c *Core) HasAsk() bool { return c.askInitialized }

// HasLast reports whether a trade has ever been observed.
func (c *Core) HasLast() bool { return c.lastInitialized }

// Reset clears prices and resting orders.
func (c *Core) Reset() {
	c.Bid = decimal.Zero
	c.Ask = decimal.Zero
	c.Last = decimal.Zero
	c.bidInitialized = false
	c.askInitialized = false
	c.lastInitialized = false
	c.ordersBid = nil
	c.ordersAsk = nil
}

// Add inserts a passive order into the resting set.
func (c *Core) Add(o *model.Order) {
	if o.IsBuy() {
		c.ordersBid = append(c.ordersBid, o)
	} else {
		c.ordersAsk = append(c.ordersAsk, o)
	}
}

// Delete removes an order from the resting set, if present.
func (c *Core) Delete(clientOrderID string) {
	remove := func(orders []*model.Order) []*model.Order {
		for i, o := range orders {
			if o.ClientOrderID == clientOrderID {
				return append(orders[:i], orders[i+1:]...)
			}
		}
		return orders
	}
	c.ordersBid = remove(c.ordersBid)
	c.ordersAsk = remove(c.ordersAsk)
}

// Get returns the resting order with the given id, or nil.
func (c *Core) Get(clientOrderID string) *model.Order {
	for _, o := range c.ordersBid {
		if o.ClientOrderID == clientOrderID {
			return o
		}
	}
	for _, o := range c.ordersAsk {
		if o.ClientOrderID == clientOrderID {
			return o
		}
	}
	return nil
}

// Exists reports whether the order is resting in the core.
func (c *Core) Exists(clientOrderID string) bool {
	return c.Get(clientOrderID) != nil
}

// OrdersBid returns resting buy orders in price-time priority: highest
// price first, earliest arrival first within a price.
func (c *Core) OrdersBid() []*model.Order {
	out := append([]*model.Order(nil), c.ordersBid...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := priorityPrice(out[i]), priorityPrice(out[j])
		if !pi.Equal(pj) {
			return pi.GreaterThan(pj)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// OrdersAsk returns resting sell orders in price-time priority: lowest
// price first, earliest arrival first within a price.
func (c *Core) OrdersAsk() []*model.Order {
	out := append([]*model.Order(nil), c.ordersAsk...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := priorityPrice(out[i]), priorityPrice(out[j])
		if !pi.Equal(pj) {
			return pi.LessThan(pj)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// Orders returns all resting orders, bids first.
func (c *Core) Orders() []*model.Order {
	return append(c.OrdersBid(), c.OrdersAsk()...)
}

// priorityPrice is the price an order queues at: limit price when present,
// otherwise the trigger price.
func priorityPrice(o *model.Order) decimal.Decimal {
	if o.HasPrice() {
		return o.Price
	}
	return o.TriggerPrice
}

// IsLimitMarketable reports whether a limit at price would execute
// immediately against the opposing best.
func (c *Core) IsLimitMarketable(side string, price decimal.Decimal) bool {
	if side == model.OrderSideBuy {
		return c.askInitialized && c.Ask.LessThanOrEqual(price)
	}
	return c.bidInitialized && c.Bid.GreaterThanOrEqual(price)
}

// IsStopTriggered reports whether a stop at trigger price has been hit.
// A BUY stop triggers when the ask rises to the trigger; a SELL stop when
// the bid falls to it.
func (c *Core) IsStopTriggered(side string, trigger decimal.Decimal) bool {
	if side == model.OrderSideBuy {
		return c.askInitialized && c.Ask.GreaterThanOrEqual(trigger)
	}
	return c.bidInitialized && c.Bid.LessThanOrEqual(trigger)
}

// IsTouchTriggered reports whether an if-touched trigger has been reached:
// the mirror image of a stop.
func (c *Core) IsTouchTriggered(side string, trigger decimal.Decimal) bool {
	if side == model.OrderSideBuy {
		return c.askInitialized && c.Ask.LessThanOrEqual(trigger)
	}
	return c.bidInitialized && c.Bid.GreaterThanOrEqual(trigger)
}

// IsStopTriggeredByLast reports whether the last traded price has crossed
// the trigger.
func (c *Core) IsStopTriggeredByLast(side string, trigger decimal.Decimal) bool {
	if !c.lastInitialized {
		return false
	}
	if side == model.OrderSideBuy {
		return c.Last.GreaterThanOrEqual(trigger)
	}
	return c.Last.LessThanOrEqual(trigger)
}

// IsTouchTriggeredByLast reports whether the last traded price has reached
// an if-touched trigger.
func (c *Core) IsTouchTriggeredByLast(side string, trigger decimal.Decimal) bool {
	if !c.lastInitialized {
		return false
	}
	if side == model.OrderSideBuy {
		return c.Last.LessThanOrEqual(trigger)
	}
	return c.Last.GreaterThanOrEqual(trigger)
}
