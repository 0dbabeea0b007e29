package checkout

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrCheckoutInProgress  = errors.New("a checkout is already awaiting payment")
	ErrAttemptNotFound     = errors.New("checkout attempt not found")
	ErrInvalidTransition   = errors.New("invalid checkout transition")
	ErrUnknownGateway      = errors.New("unknown payment gateway")
	ErrDuplicateSubmission = errors.New("payment already submitted for this attempt")
)

// ValidationError is a form-level problem (address or coupon). The attempt
// does not change state.
type ValidationError struct {
	Message string
	Fields  map[string]string
	Err     error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Fields)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransientError is a collaborator failure the shopper may retry. The attempt
// stays at the stage it was in before the call.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: temporarily unavailable: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PaymentVerificationError is returned when server-side verification does
// not confirm the payment, whatever the client flow reported.
type PaymentVerificationError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *PaymentVerificationError) Error() string {
	return fmt.Sprintf("%s payment not verified: %s", e.Provider, e.Reason)
}

func (e *PaymentVerificationError) Unwrap() error { return e.Err }

// ReconciliationError means the payment was verified but the order was not
// recorded. The cart is kept and the shopper must not pay again.
type ReconciliationError struct {
	AttemptID string
	Provider  string
	PaymentID string
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("payment %s captured but order not recorded for attempt %s: %v", e.PaymentID, e.AttemptID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
