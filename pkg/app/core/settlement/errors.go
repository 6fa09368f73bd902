package settlement

import (
	"errors"
	"fmt"
)

// Reason names why a fill was rejected
type Reason string

const (
	ReasonInvalidOrder      Reason = "InvalidOrder"
	ReasonAssetMismatch     Reason = "AssetMismatch"
	ReasonSideMismatch      Reason = "SideMismatch"
	ReasonInvalidSignature  Reason = "InvalidSignature"
	ReasonOrderExpired      Reason = "OrderExpired"
	ReasonPriceCross        Reason = "PriceCrossFailure"
	ReasonQuantityExceeded  Reason = "QuantityExceeded"
	ReasonAmountOverflow    Reason = "AmountOverflow"
	ReasonDustFill          Reason = "DustFill"
	ReasonInsufficientFunds Reason = "InsufficientBalanceOrAllowance"
)

var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrAssetMismatch     = errors.New("asset mismatch")
	ErrSideMismatch      = errors.New("side mismatch")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrOrderExpired      = errors.New("order expired")
	ErrPriceCross        = errors.New("fill price outside order limits")
	ErrQuantityExceeded  = errors.New("fill quantity exceeds remaining")
	ErrAmountOverflow    = errors.New("quote amount overflows 256 bits")
	ErrDustFill          = errors.New("fill pays zero quote")
	ErrInsufficientFunds = errors.New("insufficient balance or allowance")
)

var reasonErrors = map[Reason]error{
	ReasonInvalidOrder:      ErrInvalidOrder,
	ReasonAssetMismatch:     ErrAssetMismatch,
	ReasonSideMismatch:      ErrSideMismatch,
	ReasonInvalidSignature:  ErrInvalidSignature,
	ReasonOrderExpired:      ErrOrderExpired,
	ReasonPriceCross:        ErrPriceCross,
	ReasonQuantityExceeded:  ErrQuantityExceeded,
	ReasonAmountOverflow:    ErrAmountOverflow,
	ReasonDustFill:          ErrDustFill,
	ReasonInsufficientFunds: ErrInsufficientFunds,
}

// RejectError is a negative settlement outcome. State is untouched.
// Side is "sell", "buy" or empty when the failure is not tied to one order.
type RejectError struct {
	Reason Reason
	Side   string
	Detail string
}

func (e *RejectError) Error() string {
	msg := string(e.Reason)
	if e.Side != "" {
		msg += " (" + e.Side + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap exposes the reason sentinel, so errors.Is(err, ErrOrderExpired) works
func (e *RejectError) Unwrap() error {
	return reasonErrors[e.Reason]
}

func reject(reason Reason, side string, format string, args ...any) *RejectError {
	return &RejectError{Reason: reason, Side: side, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the rejection reason from err, if it is a rejection
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
