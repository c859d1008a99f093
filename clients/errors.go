package clients

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrTxNotFound means the node does not know the transaction.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrConfirmationTimeout means a receipt did not appear in time.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
	// ErrReverted means the transaction was mined but failed.
	ErrReverted = errors.New("transaction reverted")
)

// IsTransient reports whether err is worth retrying against the RPC node.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTxNotFound) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrReverted) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "connection refused", "connection reset", "eof", "too many requests", "429", "502", "503", "temporarily unavailable"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
