package simmodels

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfold/backsim/internal/model"
)

func TestMakerTakerFeeModel(t *testing.T) {
	m := NewMakerTakerFeeModel()
	instr := testInstrument()

	taker := &model.Order{LiquiditySide: model.LiquidityTaker}
	c := m.Commission(taker, d("5"), d("100.10"), instr)
	assert.Equal(t, "USDT", c.Currency)
	assert.True(t, c.Amount.Equal(d("0.5005")), "commission %s", c.Amount)

	maker := &model.Order{LiquiditySide: model.LiquidityMaker}
	c = m.Commission(maker, d("5"), d("100.10"), instr)
	assert.True(t, c.Amount.Equal(d("0.25025")), "commission %s", c.Amount)
}

func TestMakerTakerDefaultsToTaker(t *testing.T) {
	m := NewMakerTakerFeeModel()
	c := m.Commission(&model.Order{}, d("10"), d("100"), testInstrument())
	assert.True(t, c.Amount.Equal(d("1")))
}

func TestFixedFeeChargesOncePerOrder(t *testing.T) {
	m := NewFixedFeeModel(model.NewMoney(d("2"), "USDT"))
	o := &model.Order{Quantity: d("10")}

	c := m.Commission(o, d("4"), d("100"), testInstrument())
	assert.True(t, c.Amount.Equal(d("2")))

	o.FilledQuantity = d("4")
	c = m.Commission(o, d("6"), d("100"), testInstrument())
	assert.True(t, c.Amount.IsZero())
}

func TestFixedFeePerFill(t *testing.T) {
	m := NewFixedFeeModel(model.NewMoney(d("2"), "USDT"))
	m.ChargePerFill = true
	o := &model.Order{Quantity: d("10"), FilledQuantity: d("4")}

	c := m.Commission(o, d("6"), d("100"), testInstrument())
	assert.True(t, c.Amount.Equal(d("2")))
}

func TestPerContractFee(t *testing.T) {
	m := NewPerContractFeeModel(model.NewMoney(d("0.1"), "USDT"))
	c := m.Commission(&model.Order{}, d("25"), d("100"), testInstrument())
	assert.True(t, c.Amount.Equal(d("2.5")))
}

func TestLatencyModel(t *testing.T) {
	m := NewLatencyModel(100, 10, 20, 30)
	assert.EqualValues(t, 110, m.InsertLatency())
	assert.EqualValues(t, 120, m.UpdateLatency())
	assert.EqualValues(t, 130, m.CancelLatency())

	z := ZeroLatency()
	assert.Zero(t, z.InsertLatency())
}
