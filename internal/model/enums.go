package model

// Constants for order sides, types, statuses, and related enumerations.
// String-valued enums keep event payloads and logs directly readable.
const (
	// Order sides
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	// Order types
	OrderTypeMarket             = "MARKET"
	OrderTypeLimit              = "LIMIT"
	OrderTypeStopMarket         = "STOP_MARKET"
	OrderTypeStopLimit          = "STOP_LIMIT"
	OrderTypeMarketIfTouched    = "MARKET_IF_TOUCHED"
	OrderTypeLimitIfTouched     = "LIMIT_IF_TOUCHED"
	OrderTypeTrailingStopMarket = "TRAILING_STOP_MARKET"
	OrderTypeTrailingStopLimit  = "TRAILING_STOP_LIMIT"

	// Order statuses
	OrderStatusInitialized     = "INITIALIZED"
	OrderStatusSubmitted       = "SUBMITTED"
	OrderStatusAccepted        = "ACCEPTED"
	OrderStatusTriggered       = "TRIGGERED"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"

	// Time in force
	TimeInForceGTC = "GTC" // Good Till Canceled
	TimeInForceGTD = "GTD" // Good Till Date
	TimeInForceIOC = "IOC" // Immediate Or Cancel
	TimeInForceFOK = "FOK" // Fill Or Kill

	// Contingency kinds
	ContingencyNone = "NONE"
	ContingencyOTO  = "OTO" // one-triggers-other: children go live on parent fill
	ContingencyOCO  = "OCO" // one-cancels-other
	ContingencyOUO  = "OUO" // one-updates-other

	// Trailing offset types
	TrailingOffsetPrice       = "PRICE"
	TrailingOffsetBasisPoints = "BASIS_POINTS"
	TrailingOffsetTicks       = "TICKS"

	// Trigger price sources
	TriggerLastPrice    = "LAST_PRICE"
	TriggerBidAsk       = "BID_ASK"
	TriggerLastOrBidAsk = "LAST_OR_BID_ASK"

	// Liquidity sides
	LiquidityMaker = "MAKER"
	LiquidityTaker = "TAKER"

	// Aggressor sides on trade ticks
	AggressorBuyer  = "BUYER"
	AggressorSeller = "SELLER"

	// Account types
	AccountTypeCash   = "CASH"
	AccountTypeMargin = "MARGIN"

	// Order management systems
	OmsNetting = "NETTING"
	OmsHedging = "HEDGING"

	// Book types
	BookTypeL1 = "L1_TOB"
	BookTypeL2 = "L2_MBP"
)

// OppositeSide returns the opposing order side.
func OppositeSide(side string) string {
	if side == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// terminalStatuses lists statuses from which an order may never transition.
var terminalStatuses = map[string]bool{
	OrderStatusFilled:   true,
	OrderStatusCanceled: true,
	OrderStatusRejected: true,
	OrderStatusExpired:  true,
}

// IsTerminalStatus reports whether status is terminal.
func IsTerminalStatus(status string) bool {
	return terminalStatuses[status]
}
