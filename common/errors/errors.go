// Package errors defines the error taxonomy for the simulation core.
//
// Three tiers, with different propagation rules:
//   - Rejections are expected, recoverable outcomes. They never cross the
//     command boundary as Go errors; they surface as OrderRejected events
//     carrying a machine-readable reason.
//   - Configuration errors are fatal for the run. They are returned as Go
//     errors (or raised via Must*) so the harness stops immediately instead
//     of continuing with a silently misconfigured venue.
//   - Invariant violations indicate a bug in the core itself and panic.
package errors

import (
	"errors"
	"fmt"
)

// RejectReason is a machine-readable rejection code carried on
// OrderRejected events.
type RejectReason string

const (
	RejectDuplicateOrderID     RejectReason = "DUPLICATE_CLIENT_ORDER_ID"
	RejectInstrumentNotActive  RejectReason = "INSTRUMENT_NOT_ACTIVE"
	RejectInstrumentExpired    RejectReason = "INSTRUMENT_EXPIRED"
	RejectNoMarket             RejectReason = "NO_MARKET"
	RejectPostOnlyWouldTake    RejectReason = "POST_ONLY_WOULD_TAKE"
	RejectInvalidQuantity      RejectReason = "INVALID_QUANTITY"
	RejectInvalidPrice         RejectReason = "INVALID_PRICE"
	RejectInvalidPrecision     RejectReason = "INVALID_PRECISION"
	RejectInsufficientMargin   RejectReason = "INSUFFICIENT_MARGIN"
	RejectInsufficientBalance  RejectReason = "INSUFFICIENT_BALANCE"
	RejectReduceOnlyIncrease   RejectReason = "REDUCE_ONLY_WOULD_INCREASE"
	RejectContingentClosed     RejectReason = "CONTINGENT_ORDER_CLOSED"
	RejectParentRejected       RejectReason = "PARENT_ORDER_REJECTED"
	RejectOrderNotFound        RejectReason = "ORDER_NOT_FOUND"
	RejectOrderAlreadyTerminal RejectReason = "ORDER_ALREADY_TERMINAL"
	RejectStopAlreadyInMarket  RejectReason = "STOP_PRICE_IN_MARKET"
	RejectCrossedBook          RejectReason = "CROSSED_BOOK"
)

// ConfigError marks a fatal venue or data misconfiguration. The run harness
// is expected to stop the simulation when one propagates.
type ConfigError struct {
	Component string
	Detail    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Detail)
}

// NewConfigError builds a ConfigError for the given component.
func NewConfigError(component, format string, args ...any) *ConfigError {
	return &ConfigError{Component: component, Detail: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Sentinel errors for lookup-style operations.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInstrumentNotFound = errors.New("instrument not found")
	ErrPositionNotFound   = errors.New("position not found")
)

// Invariant panics when cond is false. Violations mean the core itself is
// broken, so processing must not continue with corrupted state.
func Invariant(cond bool, format string, args ...any) {
	if !cond {
		panic("invariant: " + fmt.Sprintf(format, args...))
	}
}
