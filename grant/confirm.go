package grant

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/types"
)

// Confirmation bounds.
const (
	GatewayConfirmTimeout = 60 * time.Second
	PublishConfirmTimeout = 120 * time.Second
)

// Confirm waits up to timeout for txHash to be confirmed by l. Exceeding
// the bound yields a CONFIRMATION_TIMEOUT error.
func Confirm(ctx context.Context, l ledger.Gateway, txHash string, timeout time.Duration) (*ledger.Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conf, err := l.WaitForConfirmation(ctx, txHash)
	if err == nil {
		return conf, nil
	}
	if errors.Is(err, clients.ErrConfirmationTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return nil, types.WrapError(err, types.KindTransientNetwork, types.ErrConfirmationTimeout,
			"transaction %s not confirmed within %s", txHash, timeout)
	}
	return nil, err
}

// IsConfirmationTimeout reports whether err came from an exceeded confirmation bound.
func IsConfirmationTimeout(err error) bool {
	e, ok := types.AsError(err)
	return ok && e.Code == types.ErrConfirmationTimeout
}
