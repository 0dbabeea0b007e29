package checkout

import "slices"

// State is a checkout attempt's position in the payment state machine.
type State string

const (
	StateIdle                   State = "Idle"
	StateAddressReady           State = "AddressReady"
	StatePaymentGatewaySelected State = "PaymentGatewaySelected"
	StateGatewayPending         State = "GatewayPending"
	StateSucceeded              State = "Succeeded"
	StateFailed                 State = "Failed"
	StateCancelled              State = "Cancelled"
	// StateUnreconciled: payment verified, order creation failed.
	StateUnreconciled State = "Unreconciled"
)

var transitions = map[State][]State{
	StateIdle:                   {StateAddressReady},
	StateAddressReady:           {StatePaymentGatewaySelected, StateCancelled},
	StatePaymentGatewaySelected: {StatePaymentGatewaySelected, StateGatewayPending, StateFailed, StateCancelled},
	StateGatewayPending:         {StateSucceeded, StateFailed, StateCancelled, StateUnreconciled},
}

// CanTransition reports whether the state machine allows s to move to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Editable reports whether coupon and gateway choices may still change.
func (s State) Editable() bool {
	return s == StateAddressReady || s == StatePaymentGatewaySelected
}
