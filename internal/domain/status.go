package domain

// Transaction status codes. Every engine stores and returns these as
// stringified digits, so they stay strings here too.
const (
	StatusHeld           = "1"
	StatusConfirmed      = "2"
	StatusReleased       = "3"
	StatusInsufficient   = "5"
	StatusUnknownAccount = "6"
)

// Transaction type codes.
const (
	TypeInternal         = "1"
	TypeOutgoingExternal = "2"
	TypeIncomingExternal = "3"
)

// Hold status codes.
const (
	HoldActive   = "1"
	HoldCaptured = "2"
	HoldReleased = "3"
)

// Ledger entry types.
const (
	EntryDebit  = "D"
	EntryCredit = "C"
)

// Procedure result strings. The procedure layers of all four engines report
// business outcomes through these, never through errors.
const (
	ResultOK                = "OK"
	ResultTxNotFound        = "TX_NOT_FOUND"
	ResultHoldNotFound      = "HOLD_NOT_FOUND"
	ResultHoldReleased      = "HOLD_RELEASED"
	ResultAlreadyConfirmed  = "ALREADY_CONFIRMED"
	ResultAlreadyPosted     = "ALREADY_POSTED"
	ResultConcurrencyFail   = "CONCURRENCY_FAIL"
	ResultInsufficientFunds = "INSUFFICIENT_FUNDS"
	ResultAlreadyReleased   = "ALREADY_RELEASED"
	ResultAlreadyCaptured   = "ALREADY_CAPTURED"
)
