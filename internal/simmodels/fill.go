// Package simmodels holds the pluggable fill, fee, and latency policies
// injected into the matching engine.
package simmodels

import (
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/quantfold/backsim/internal/book"
	"github.com/quantfold/backsim/internal/model"
)

// FillModel decides whether resting orders fill and, optionally, supplies a
// synthetic book that replaces the real one when resolving a fill.
type FillModel interface {
	// IsLimitFilled draws whether a limit order resting at the touch fills.
	IsLimitFilled() bool
	// IsStopFilled draws whether a triggered stop order fills.
	IsStopFilled() bool
	// IsSlipped draws whether an L1 fill slips one tick.
	IsSlipped() bool
	// SyntheticBook returns the book to resolve the fill against, or nil to
	// use the real book.
	SyntheticBook(instrument *model.Instrument, order *model.Order, bestBid, bestAsk decimal.Decimal) *book.Book
}

// ProbFillModel is the default fill model: Bernoulli draws against
// configured probabilities with a seedable RNG for reproducible runs. With
// the zero-value probabilities of 1.0/1.0/0.0 it always fills and never
// slips.
type ProbFillModel struct {
	probFillOnLimit float64
	probFillOnStop  float64
	probSlippage    float64
	rng             *rand.Rand
}

// NewProbFillModel validates the probabilities and seeds the RNG.
func NewProbFillModel(probFillOnLimit, probFillOnStop, probSlippage float64, seed int64) (*ProbFillModel, error) {
	for name, p := range map[string]float64{
		"prob_fill_on_limit": probFillOnLimit,
		"prob_fill_on_stop":  probFillOnStop,
		"prob_slippage":      probSlippage,
	} {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("%s must be in [0, 1], was %v", name, p)
		}
	}
	return &ProbFillModel{
		probFillOnLimit: probFillOnLimit,
		probFillOnStop:  probFillOnStop,
		probSlippage:    probSlippage,
		rng:             rand.New(rand.NewSource(seed)),
	}, nil
}

// DefaultFillModel always fills and never slips.
func DefaultFillModel() *ProbFillModel {
	m, _ := NewProbFillModel(1.0, 1.0, 0.0, 0)
	return m
}

func (m *ProbFillModel) draw(p float64) bool {
	if p >= 1.0 {
		return true
	}
	if p <= 0.0 {
		return false
	}
	return m.rng.Float64() < p
}

func (m *ProbFillModel) IsLimitFilled() bool { return m.draw(m.probFillOnLimit) }
func (m *ProbFillModel) IsStopFilled() bool  { return m.draw(m.probFillOnStop) }
func (m *ProbFillModel) IsSlipped() bool     { return m.draw(m.probSlippage) }

// SyntheticBook returns nil: the real book (or the legacy single-price
// assumption) resolves the fill.
func (m *ProbFillModel) SyntheticBook(*model.Instrument, *model.Order, decimal.Decimal, decimal.Decimal) *book.Book {
	return nil
}

// unlimitedSize stands in for "enough liquidity to fill any order".
var unlimitedSize = decimal.NewFromInt(1_000_000_000)

func twoSidedBook(instrumentID string, bidPx, bidSize, askPx, askSize decimal.Decimal) *book.Book {
	b := book.New(instrumentID)
	b.UpdateLevel(model.OrderSideBuy, bidPx, bidSize)
	b.UpdateLevel(model.OrderSideSell, askPx, askSize)
	return b
}

// BestPriceFillModel fills every order at the best price with unlimited
// liquidity, guaranteeing no slippage.
type BestPriceFillModel struct{ ProbFillModel }

// NewBestPriceFillModel returns the optimistic no-slippage model.
func NewBestPriceFillModel() *BestPriceFillModel {
	return &BestPriceFillModel{*DefaultFillModel()}
}

func (m *BestPriceFillModel) SyntheticBook(instrument *model.Instrument, _ *model.Order, bestBid, bestAsk decimal.Decimal) *book.Book {
	return twoSidedBook(instrument.ID, bestBid, unlimitedSize, bestAsk, unlimitedSize)
}

// OneTickSlippageFillModel offers no liquidity at the touch and unlimited
// liquidity one tick away, guaranteeing exactly one tick of slippage.
type OneTickSlippageFillModel struct{ ProbFillModel }

// NewOneTickSlippageFillModel returns the deterministic-slippage model.
func NewOneTickSlippageFillModel() *OneTickSlippageFillModel {
	return &OneTickSlippageFillModel{*DefaultFillModel()}
}

func (m *OneTickSlippageFillModel) SyntheticBook(instrument *model.Instrument, _ *model.Order, bestBid, bestAsk decimal.Decimal) *book.Book {
	tick := instrument.PriceIncrement
	return twoSidedBook(instrument.ID,
		bestBid.Sub(tick), unlimitedSize,
		bestAsk.Add(tick), unlimitedSize)
}

// TwoTierFillModel offers TierSize at the touch and unlimited liquidity one
// tick beyond, modelling basic market impact.
type TwoTierFillModel struct {
	ProbFillModel
	TierSize decimal.Decimal
}

// NewTwoTierFillModel returns a two-tier model with the given touch size.
func NewTwoTierFillModel(tierSize decimal.Decimal) *TwoTierFillModel {
	return &TwoTierFillModel{ProbFillModel: *DefaultFillModel(), TierSize: tierSize}
}

func (m *TwoTierFillModel) SyntheticBook(instrument *model.Instrument, _ *model.Order, bestBid, bestAsk decimal.Decimal) *book.Book {
	tick := instrument.PriceIncrement
	b := book.New(instrument.ID)
	b.UpdateLevel(model.OrderSideBuy, bestBid, m.TierSize)
	b.UpdateLevel(model.OrderSideSell, bestAsk, m.TierSize)
	b.UpdateLevel(model.OrderSideBuy, bestBid.Sub(tick), unlimitedSize)
	b.UpdateLevel(model.OrderSideSell, bestAsk.Add(tick), unlimitedSize)
	return b
}

// SizeAwareFillModel gives orders at or below Threshold full liquidity at
// the touch; larger orders split across two tiers with the remainder priced
// one tick worse.
type SizeAwareFillModel struct {
	ProbFillModel
	Threshold decimal.Decimal
}

// NewSizeAwareFillModel returns a size-aware model with the given
// small-order threshold.
func NewSizeAwareFillModel(threshold decimal.Decimal) *SizeAwareFillModel {
	return &SizeAwareFillModel{ProbFillModel: *DefaultFillModel(), Threshold: threshold}
}

func (m *SizeAwareFillModel) SyntheticBook(instrument *model.Instrument, order *model.Order, bestBid, bestAsk decimal.Decimal) *book.Book {
	if order.Quantity.LessThanOrEqual(m.Threshold) {
		return twoSidedBook(instrument.ID, bestBid, unlimitedSize, bestAsk, unlimitedSize)
	}
	tick := instrument.PriceIncrement
	remainder := order.Quantity.Sub(m.Threshold)
	b := book.New(instrument.ID)
	b.UpdateLevel(model.OrderSideBuy, bestBid, m.Threshold)
	b.UpdateLevel(model.OrderSideSell, bestAsk, m.Threshold)
	b.UpdateLevel(model.OrderSideBuy, bestBid.Sub(tick), remainder)
	b.UpdateLevel(model.OrderSideSell, bestAsk.Add(tick), remainder)
	return b
}
