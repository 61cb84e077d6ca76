package model

import "sort"

// Cache is the in-memory arena of orders and positions for one venue.
// Relationships between orders (parent/child/sibling) are stored as id
// references and resolved through this lookup table, never as embedded
// pointers.
type Cache struct {
	orders           map[string]*Order
	positions        map[string]*Position
	positionForOrder map[string]string // client order id -> position id
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		orders:           make(map[string]*Order),
		positions:        make(map[string]*Position),
		positionForOrder: make(map[string]string),
	}
}

// AddOrder indexes an order by client order id.
func (c *Cache) AddOrder(o *Order) {
	c.orders[o.ClientOrderID] = o
}

// Order returns the order for the given client order id, or nil.
func (c *Cache) Order(clientOrderID string) *Order {
	return c.orders[clientOrderID]
}

// OrdersOpen returns all open orders, optionally filtered by instrument.
func (c *Cache) OrdersOpen(instrumentID string) []*Order {
	var out []*Order
	for _, o := range c.orders {
		if !o.IsOpen() {
			continue
		}
		if instrumentID != "" && o.InstrumentID != instrumentID {
			continue
		}
		out = append(out, o)
	}
	// Arrival order keeps downstream processing deterministic.
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// AddPosition indexes a position.
func (c *Cache) AddPosition(p *Position) {
	c.positions[p.ID] = p
}

// Position returns the position with the given id, or nil.
func (c *Cache) Position(positionID string) *Position {
	return c.positions[positionID]
}

// PositionsOpen returns all open positions, optionally filtered by
// instrument.
func (c *Cache) PositionsOpen(instrumentID string) []*Position {
	var out []*Position
	for _, p := range c.positions {
		if p.IsClosed() {
			continue
		}
		if instrumentID != "" && p.InstrumentID != instrumentID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IndexPositionForOrder links an order to the position its fills net into.
func (c *Cache) IndexPositionForOrder(clientOrderID, positionID string) {
	c.positionForOrder[clientOrderID] = positionID
}

// PositionForOrder resolves the position an order nets into, or nil.
func (c *Cache) PositionForOrder(clientOrderID string) *Position {
	id, ok := c.positionForOrder[clientOrderID]
	if !ok {
		return nil
	}
	return c.positions[id]
}

// Reset drops all state for a fresh run.
func (c *Cache) Reset() {
	c.orders = make(map[string]*Order)
	c.positions = make(map[string]*Position)
	c.positionForOrder = make(map[string]string)
}
