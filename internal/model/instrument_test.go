package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstrumentNotionalLinear(t *testing.T) {
	instr := linearInstrument()
	n := instr.Notional(d("5"), d("100.10"), false)
	assert.Equal(t, "USDT", n.Currency)
	assert.True(t, n.Amount.Equal(d("500.5")), "notional %s", n.Amount)
}

func TestInstrumentNotionalInverse(t *testing.T) {
	instr := inverseInstrument()

	n := instr.Notional(d("10000"), d("100"), false)
	assert.Equal(t, "BTC", n.Currency)
	assert.True(t, n.Amount.Equal(d("100")), "notional %s", n.Amount)

	quoted := instr.Notional(d("10000"), d("100"), true)
	assert.Equal(t, "USD", quoted.Currency)
	assert.True(t, quoted.Amount.Equal(d("1000000")))
}

func TestInstrumentActiveWindow(t *testing.T) {
	instr := linearInstrument()
	instr.ActivationNs = 100
	instr.ExpirationNs = 200

	assert.False(t, instr.IsActiveAt(99))
	assert.True(t, instr.IsActiveAt(100))
	assert.True(t, instr.IsActiveAt(199))
	assert.False(t, instr.IsActiveAt(200))
}

func TestInstrumentValidate(t *testing.T) {
	instr := linearInstrument()
	assert.NoError(t, instr.Validate())

	bad := *instr
	bad.PriceIncrement = d("0")
	assert.Error(t, bad.Validate())

	bad = *instr
	bad.ActivationNs = 200
	bad.ExpirationNs = 100
	assert.Error(t, bad.Validate())
}
