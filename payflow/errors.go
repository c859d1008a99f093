package payflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/vitwit/paygate/types"
)

const maxDetail = 160

var (
	// ErrCancelled is returned by Run when Cancel interrupted the access check.
	ErrCancelled = errors.New("payflow: cancelled")
	// ErrNotCancellable is returned by Cancel once a payment may be in flight.
	ErrNotCancellable = errors.New("payflow: payment in flight, cannot cancel")
)

// FlowError is what a consumer sees when a run fails.
type FlowError struct {
	Kind       types.ErrorKind `json:"kind"`
	Message    string          `json:"message"`
	Suggestion string          `json:"suggestion,omitempty"`
	// Detail is the truncated underlying error text.
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable"`
	cause     error
}

func (e *FlowError) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return e.Message + ": " + e.Detail
}

func (e *FlowError) Unwrap() error { return e.cause }

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxDetail {
		return s
	}
	return s[:maxDetail-3] + "..."
}

// Classify turns err into a FlowError for network. err may already be one.
func Classify(err error, network types.Network) *FlowError {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}

	out := &FlowError{Kind: types.KindOf(err), Detail: truncate(err.Error()), cause: err}
	msg := strings.ToLower(err.Error())

	switch {
	case types.IsUserRejection(err):
		out.Kind = types.KindUserRejected
		out.Message = "Payment cancelled"
		out.Suggestion = "Approve the request in your wallet to continue"

	case strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "exceeds balance") ||
		strings.Contains(msg, "transfer amount exceeds"):
		out.Message = "Insufficient balance"
		out.Suggestion = fundsSuggestion(network)
		out.Retryable = true

	case strings.Contains(msg, "chain id") || strings.Contains(msg, "wrong network") ||
		(types.IsKind(err, types.KindValidation) && strings.Contains(msg, "network")):
		out.Message = "Wrong network"
		out.Suggestion = fmt.Sprintf("Switch your wallet to %s", network)

	case isTimeout(err):
		out.Kind = types.KindTransientNetwork
		out.Message = "The network took too long to respond"
		out.Suggestion = "Try again in a moment"
		out.Retryable = true

	default:
		classifyKind(out, err, network)
	}
	return out
}

func classifyKind(out *FlowError, err error, network types.Network) {
	switch types.KindOf(err) {
	case types.KindPaymentVerification:
		out.Message = "Payment was not accepted"
		out.Suggestion = reasonSuggestion(err, network)
	case types.KindPaymentSettlement:
		out.Message = "Payment could not be settled"
		out.Suggestion = "No funds were moved; try again"
		out.Retryable = true
	case types.KindGrantWrite:
		out.Message = "Payment received but access was not recorded"
		out.Suggestion = "Keep your transaction hash and contact the creator or support"
	case types.KindDecryption:
		out.Message = "Could not decrypt the content"
		out.Suggestion = "Fetch the key again"
		out.Retryable = true
	case types.KindNotFound:
		out.Message = "Content not found"
		out.Suggestion = "The content may have been removed"
	case types.KindValidation:
		out.Message = "Invalid request"
	case types.KindTransientNetwork:
		out.Message = "Network error"
		out.Suggestion = "Check your connection and try again"
		out.Retryable = true
	default:
		out.Message = "Something went wrong"
		out.Suggestion = "Try again"
		out.Retryable = true
	}
}

func reasonSuggestion(err error, network types.Network) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, types.ReasonInsufficient):
		return fundsSuggestion(network)
	case strings.Contains(msg, types.ReasonTransactionPending):
		return "Wait for the transaction to confirm, then retry"
	case strings.Contains(msg, types.ReasonTransactionNotFound):
		return "The transaction is not visible yet; retry shortly"
	case strings.Contains(msg, types.ReasonProofReused):
		return "This payment was already used for other content"
	}
	return ""
}

func fundsSuggestion(network types.Network) string {
	if f := network.Faucet(); f != "" {
		return "Get testnet funds from " + f
	}
	return "Top up your wallet and retry"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	e, ok := types.AsError(err)
	return ok && e.Code == types.ErrConfirmationTimeout
}
