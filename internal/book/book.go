// Package book implements the per-instrument depth book used by the
// matching engine to resolve aggressive fills across price levels.
package book

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/quantfold/backsim/internal/model"
)

// Level is one aggregated price level.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Fill is a (price, quantity) slice of a simulated execution.
type Fill struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Book holds bid and ask levels in price order. It is mutated only by the
// single-threaded event loop, so it carries no locks.
type Book struct {
	instrumentID string
	bids         *btree.BTreeG[*Level]
	asks         *btree.BTreeG[*Level]
}

func lessByPrice(a, b *Level) bool {
	return a.Price.LessThan(b.Price)
}

// New returns an empty book for the instrument.
func New(instrumentID string) *Book {
	return &Book{
		instrumentID: instrumentID,
		bids:         btree.NewBTreeG(lessByPrice),
		asks:         btree.NewBTreeG(lessByPrice),
	}
}

// InstrumentID returns the owning instrument id.
func (b *Book) InstrumentID() string { return b.instrumentID }

// UpdateLevel sets the size at a price level; zero size deletes the level.
func (b *Book) UpdateLevel(side string, price, size decimal.Decimal) {
	tree := b.asks
	if side == model.OrderSideBuy {
		tree = b.bids
	}
	if size.IsZero() {
		tree.Delete(&Level{Price: price})
		return
	}
	tree.Set(&Level{Price: price, Size: size})
}

// ApplyDelta applies one incremental level change.
func (b *Book) ApplyDelta(dl *model.BookDelta) {
	b.UpdateLevel(dl.Side, dl.Price, dl.Size)
}

// ApplySnapshot replaces the whole visible book. A crossed snapshot
// (best bid >= best ask) is a data error and leaves the book untouched.
func (b *Book) ApplySnapshot(snap *model.DepthSnapshot) error {
	if len(snap.Bids) > 0 && len(snap.Asks) > 0 &&
		snap.Bids[0].Price.GreaterThanOrEqual(snap.Asks[0].Price) {
		return fmt.Errorf("crossed book for %s: bid %s >= ask %s",
			b.instrumentID, snap.Bids[0].Price, snap.Asks[0].Price)
	}
	b.bids.Clear()
	b.asks.Clear()
	for _, lvl := range snap.Bids {
		if lvl.Size.IsPositive() {
			b.bids.Set(&Level{Price: lvl.Price, Size: lvl.Size})
		}
	}
	for _, lvl := range snap.Asks {
		if lvl.Size.IsPositive() {
			b.asks.Set(&Level{Price: lvl.Price, Size: lvl.Size})
		}
	}
	return nil
}

// syntheticSize stands in for quote feeds that publish prices without
// sizes; top-of-book liquidity is then treated as effectively unlimited.
var syntheticSize = decimal.NewFromInt(1_000_000_000)

// SetTopOfBook collapses the book to single bid/ask levels from a quote.
func (b *Book) SetTopOfBook(q *model.QuoteTick) {
	b.bids.Clear()
	b.asks.Clear()
	if q.BidPrice.IsPositive() {
		size := q.BidSize
		if !size.IsPositive() {
			size = syntheticSize
		}
		b.bids.Set(&Level{Price: q.BidPrice, Size: size})
	}
	if q.AskPrice.IsPositive() {
		size := q.AskSize
		if !size.IsPositive() {
			size = syntheticSize
		}
		b.asks.Set(&Level{Price: q.AskPrice, Size: size})
	}
}

// BestBid returns the highest bid level, if any.
func (b *Book) BestBid() (*Level, bool) {
	return b.bids.Max()
}

// BestAsk returns the lowest ask level, if any.
func (b *Book) BestAsk() (*Level, bool) {
	return b.asks.Min()
}

// HasBid reports whether any bid level exists.
func (b *Book) HasBid() bool { return b.bids.Len() > 0 }

// HasAsk reports whether any ask level exists.
func (b *Book) HasAsk() bool { return b.asks.Len() > 0 }

// Clear drops all levels.
func (b *Book) Clear() {
	b.bids.Clear()
	b.asks.Clear()
}

// SimulateFills walks opposing levels in adverse-price order and returns the
// (price, qty) slices an aggressive order of the given side and quantity
// would execute. A zero limit price means fully marketable (market order).
// Position average prices computed from these slices are size-weighted
// across levels.
func (b *Book) SimulateFills(side string, limitPx, qty decimal.Decimal) []Fill {
	var fills []Fill
	remaining := qty

	walk := func(lvl *Level) bool {
		if remaining.IsZero() {
			return false
		}
		if !limitPx.IsZero() {
			if side == model.OrderSideBuy && lvl.Price.GreaterThan(limitPx) {
				return false
			}
			if side == model.OrderSideSell && lvl.Price.LessThan(limitPx) {
				return false
			}
		}
		take := decimal.Min(remaining, lvl.Size)
		if take.IsPositive() {
			fills = append(fills, Fill{Price: lvl.Price, Qty: take})
			remaining = remaining.Sub(take)
		}
		return true
	}

	if side == model.OrderSideBuy {
		b.asks.Scan(walk)
	} else {
		b.bids.Reverse(walk)
	}
	return fills
}
