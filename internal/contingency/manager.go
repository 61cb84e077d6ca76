// Package contingency coordinates order lists: OTO parent/child release,
// OCO cancellation, and OUO resizing. It never touches the matching engine
// directly; all actions go through the Executor so the venue keeps a single
// command path.
package contingency

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	cerr "github.com/quantfold/backsim/common/errors"
	"github.com/quantfold/backsim/internal/model"
)

// Executor is the command surface the manager drives. The simulated venue
// implements it.
type Executor interface {
	// SubmitHeld routes a previously held child order into the venue.
	SubmitHeld(o *model.Order, tsNow int64)
	// RejectHeld rejects a held child that will never go live.
	RejectHeld(o *model.Order, reason cerr.RejectReason, detail string, tsNow int64)
	// Cancel cancels an open order by client order id.
	Cancel(clientOrderID string, tsNow int64)
	// UpdateQuantity resizes an open order.
	UpdateQuantity(clientOrderID string, qty decimal.Decimal, tsNow int64)
}

// Manager tracks contingent relationships between orders.
type Manager struct {
	exec  Executor
	cache *model.Cache
	log   *zap.Logger

	// pending holds OTO children keyed by parent client order id until the
	// parent's first fill.
	pending map[string][]*model.Order
	// children maps a parent to its child ids for the parent's whole
	// lifetime, so child quantities keep tracking the parent's fills after
	// release.
	children map[string][]string
}

// NewManager returns an empty contingency manager.
func NewManager(exec Executor, cache *model.Cache, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		exec:     exec,
		cache:    cache,
		log:      logger.Named("contingency"),
		pending:  make(map[string][]*model.Order),
		children: make(map[string][]string),
	}
}

// RegisterChild links a child to its parent so the child's quantity follows
// the parent's filled quantity.
func (m *Manager) RegisterChild(child *model.Order) {
	cerr.Invariant(child.ParentOrderID != "", "child %s has no parent", child.ClientOrderID)
	m.children[child.ParentOrderID] = append(m.children[child.ParentOrderID], child.ClientOrderID)
}

// HoldChild parks an OTO child until its parent fills.
func (m *Manager) HoldChild(child *model.Order) {
	m.RegisterChild(child)
	m.pending[child.ParentOrderID] = append(m.pending[child.ParentOrderID], child)
}

// PendingChildren returns the held children for a parent, for inspection.
func (m *Manager) PendingChildren(parentID string) []*model.Order {
	return m.pending[parentID]
}

// OnOrderFilled reacts to a fill: releases held OTO children on the
// parent's first fill, resizes children to the parent's filled quantity,
// cancels OCO siblings on any fill, and shrinks OUO siblings to the filled
// order's remaining quantity.
func (m *Manager) OnOrderFilled(o *model.Order, tsNow int64) {
	m.releaseChildren(o, tsNow)
	m.syncChildren(o, tsNow)

	switch o.ContingencyType {
	case model.ContingencyOCO:
		m.cancelLinked(o, tsNow)
	case model.ContingencyOUO:
		m.resizeLinked(o, tsNow)
	}
}

// OnOrderClosed reacts to a terminal non-fill transition (cancel, expire,
// reject): held children die with the parent, and OCO/OUO siblings are
// cancelled alongside the closed leg.
func (m *Manager) OnOrderClosed(o *model.Order, tsNow int64) {
	if children, ok := m.pending[o.ClientOrderID]; ok {
		delete(m.pending, o.ClientOrderID)
		for _, child := range children {
			if child.IsClosed() {
				continue
			}
			m.exec.RejectHeld(child, cerr.RejectParentRejected,
				"parent order closed before filling", tsNow)
		}
	}

	if ids, ok := m.children[o.ClientOrderID]; ok {
		delete(m.children, o.ClientOrderID)
		// A parent that closed without filling takes its live children down.
		// A partially filled parent leaves them, sized to its filled quantity.
		if o.FilledQuantity.IsZero() {
			for _, id := range ids {
				child := m.cache.Order(id)
				if child == nil || child.IsClosed() {
					continue
				}
				m.exec.Cancel(id, tsNow)
			}
		}
	}

	switch o.ContingencyType {
	case model.ContingencyOCO, model.ContingencyOUO:
		m.cancelLinked(o, tsNow)
	case model.ContingencyOTO:
		// An unfilled parent takes its children down with it; a partial
		// fill leaves them, resized to what it actually filled.
		if o.FilledQuantity.IsZero() {
			m.cancelLinked(o, tsNow)
		}
	}
}

// OnPositionChanged keeps reduce-only contingent orders in sync with the
// position they close: a shrinking position caps their quantity, a flat
// position cancels them.
func (m *Manager) OnPositionChanged(pos *model.Position, tsNow int64) {
	for _, o := range m.cache.OrdersOpen(pos.InstrumentID) {
		if !o.ReduceOnly || o.ContingencyType == "" || o.ContingencyType == model.ContingencyNone {
			continue
		}
		if pos.IsClosed() {
			m.exec.Cancel(o.ClientOrderID, tsNow)
			continue
		}
		if o.LeavesQty().GreaterThan(pos.Quantity) {
			m.exec.UpdateQuantity(o.ClientOrderID, o.FilledQuantity.Add(pos.Quantity), tsNow)
		}
	}
}

// releaseChildren submits held children on the parent's first fill.
func (m *Manager) releaseChildren(parent *model.Order, tsNow int64) {
	children, ok := m.pending[parent.ClientOrderID]
	if !ok {
		return
	}
	delete(m.pending, parent.ClientOrderID)
	for _, child := range children {
		if child.IsClosed() {
			continue
		}
		m.log.Debug("releasing contingent child",
			zap.String("parent", parent.ClientOrderID),
			zap.String("child", child.ClientOrderID))
		m.exec.SubmitHeld(child, tsNow)
	}
}

// syncChildren keeps each child's quantity equal to its own parent's filled
// quantity, growing as the parent fills out. The position cap is applied
// separately by OnPositionChanged, so the effective child size is the lower
// of the two.
func (m *Manager) syncChildren(parent *model.Order, tsNow int64) {
	ids, ok := m.children[parent.ClientOrderID]
	if !ok {
		return
	}
	target := parent.FilledQuantity
	if !target.IsPositive() {
		return
	}
	for _, id := range ids {
		child := m.cache.Order(id)
		if child == nil || child.IsClosed() || child.Quantity.Equal(target) {
			continue
		}
		if target.LessThan(child.FilledQuantity) {
			continue
		}
		m.exec.UpdateQuantity(id, target, tsNow)
	}
}

// cancelLinked cancels every live linked order.
func (m *Manager) cancelLinked(o *model.Order, tsNow int64) {
	for _, id := range o.LinkedOrderIDs {
		linked := m.cache.Order(id)
		if linked == nil || linked.IsClosed() {
			continue
		}
		m.exec.Cancel(id, tsNow)
	}
}

// resizeLinked shrinks live linked orders so they never outsize the OUO
// leader's remaining quantity. Quantities only ever move down.
func (m *Manager) resizeLinked(o *model.Order, tsNow int64) {
	leaves := o.LeavesQty()
	for _, id := range o.LinkedOrderIDs {
		linked := m.cache.Order(id)
		if linked == nil || linked.IsClosed() {
			continue
		}
		if leaves.IsZero() {
			m.exec.Cancel(id, tsNow)
			continue
		}
		if linked.LeavesQty().GreaterThan(leaves) {
			m.exec.UpdateQuantity(id, linked.FilledQuantity.Add(leaves), tsNow)
		}
	}
}
