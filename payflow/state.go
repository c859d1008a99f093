// Package payflow drives a consumer through paying for content and
// receiving its decryption key.
package payflow

import (
	"fmt"

	"github.com/vitwit/paygate/types"
)

// Phase is one step of the payment lifecycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseChecking   Phase = "checking"
	PhaseSigning    Phase = "signing"
	PhaseConfirming Phase = "confirming" // direct transfers
	PhaseVerifying  Phase = "verifying"  // facilitator payments
	PhaseSettling   Phase = "settling"   // facilitator payments
	PhaseGranting   Phase = "granting"
	PhaseSuccess    Phase = "success"
	PhaseError      Phase = "error"
)

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseSuccess || p == PhaseError
}

// Broadcast reports whether a payment may already be in flight in p, after
// which the run cannot be cancelled.
func (p Phase) Broadcast() bool {
	switch p {
	case PhaseSigning, PhaseConfirming, PhaseVerifying, PhaseSettling, PhaseGranting:
		return true
	}
	return false
}

// State is an immutable snapshot of a payment run.
type State struct {
	Phase         Phase                      `json:"phase"`
	ContentID     string                     `json:"contentId,omitempty"`
	Method        types.PaymentMethod        `json:"method,omitempty"`
	Requirements  *types.PaymentRequirements `json:"requirements,omitempty"`
	TxHash        string                     `json:"txHash,omitempty"`
	SettledTxHash string                     `json:"settledTxHash,omitempty"`
	GrantTxHash   string                     `json:"grantTxHash,omitempty"`
	Key           string                     `json:"-"`
	ContentBlobID string                     `json:"contentBlobId,omitempty"`
	Err           *FlowError                 `json:"error,omitempty"`

	// PaidNotGranted marks an error after the payment settled but before a
	// grant was recorded.
	PaidNotGranted bool `json:"paidNotGranted,omitempty"`
}

// EventType names an input to Transition.
type EventType string

const (
	EventStart           EventType = "start"
	EventAccessGranted   EventType = "access_granted"
	EventPaymentRequired EventType = "payment_required"
	EventProofReady      EventType = "proof_ready"
	EventProofConfirmed  EventType = "proof_confirmed"
	EventSettled         EventType = "settled"
	EventGranted         EventType = "granted"
	EventFailed          EventType = "failed"
	EventCancel          EventType = "cancel"
	EventReset           EventType = "reset"
)

// Event carries the data produced by one step.
type Event struct {
	Type          EventType
	ContentID     string
	Method        types.PaymentMethod
	Requirements  *types.PaymentRequirements
	TxHash        string
	SettledTxHash string
	GrantTxHash   string
	Key           string
	ContentBlobID string
	Err           *FlowError
}

// TransitionError rejects an event that is not valid in the current phase.
type TransitionError struct {
	From  Phase
	Event EventType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("payflow: %s is not allowed in phase %s", e.Event, e.From)
}

// Transition returns the state that follows s on ev. It has no side effects.
func Transition(s State, ev Event) (State, error) {
	invalid := func() (State, error) { return s, &TransitionError{From: s.Phase, Event: ev.Type} }

	switch ev.Type {
	case EventStart:
		if s.Phase != PhaseIdle || ev.ContentID == "" {
			return invalid()
		}
		return State{Phase: PhaseChecking, ContentID: ev.ContentID}, nil

	case EventAccessGranted:
		if s.Phase != PhaseChecking {
			return invalid()
		}
		s.Phase = PhaseSuccess
		s.Key = ev.Key
		s.ContentBlobID = ev.ContentBlobID
		return s, nil

	case EventPaymentRequired:
		if s.Phase != PhaseChecking || ev.Requirements == nil || ev.Method == "" {
			return invalid()
		}
		s.Phase = PhaseSigning
		s.Method = ev.Method
		s.Requirements = ev.Requirements
		return s, nil

	case EventProofReady:
		if s.Phase != PhaseSigning {
			return invalid()
		}
		switch s.Method {
		case types.MethodDirect:
			if ev.TxHash == "" {
				return invalid()
			}
			s.Phase = PhaseConfirming
			s.TxHash = ev.TxHash
		case types.MethodFacilitator:
			s.Phase = PhaseVerifying
		default:
			return invalid()
		}
		return s, nil

	case EventProofConfirmed:
		switch s.Phase {
		case PhaseConfirming:
			s.Phase = PhaseGranting
		case PhaseVerifying:
			s.Phase = PhaseSettling
		default:
			return invalid()
		}
		return s, nil

	case EventSettled:
		if s.Phase != PhaseSettling {
			return invalid()
		}
		s.Phase = PhaseGranting
		s.SettledTxHash = ev.SettledTxHash
		return s, nil

	case EventGranted:
		if s.Phase != PhaseGranting {
			return invalid()
		}
		s.Phase = PhaseSuccess
		s.Key = ev.Key
		s.ContentBlobID = ev.ContentBlobID
		s.GrantTxHash = ev.GrantTxHash
		if ev.SettledTxHash != "" {
			s.SettledTxHash = ev.SettledTxHash
		}
		return s, nil

	case EventFailed:
		if s.Phase == PhaseIdle || s.Phase.Terminal() {
			return invalid()
		}
		if ev.SettledTxHash != "" {
			s.SettledTxHash = ev.SettledTxHash
		}
		if ev.TxHash != "" && s.TxHash == "" {
			s.TxHash = ev.TxHash
		}
		s.PaidNotGranted = s.Phase == PhaseGranting || s.SettledTxHash != ""
		s.Phase = PhaseError
		s.Err = ev.Err
		if s.Err == nil {
			s.Err = &FlowError{Message: "Payment failed"}
		}
		return s, nil

	case EventCancel:
		if s.Phase != PhaseIdle && s.Phase != PhaseChecking {
			return invalid()
		}
		return State{Phase: PhaseIdle}, nil

	case EventReset:
		if !s.Phase.Terminal() {
			return invalid()
		}
		return State{Phase: PhaseIdle}, nil
	}
	return invalid()
}
