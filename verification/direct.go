package verification

import (
	"context"
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

// Lookup retry policy for direct transfers.
const (
	DefaultLookupAttempts = 3
	DefaultLookupDelay    = time.Second
)

// DirectVerifier checks native transfers by reading them from the chain.
type DirectVerifier struct {
	chain    clients.ChainReader
	pricing  Pricing
	attempts int
	delay    time.Duration
	log      logger.Logger
}

// NewDirectVerifier returns a verifier reading transactions from chain.
func NewDirectVerifier(chain clients.ChainReader, pricing Pricing, log logger.Logger) *DirectVerifier {
	return &DirectVerifier{
		chain:    chain,
		pricing:  pricing,
		attempts: DefaultLookupAttempts,
		delay:    DefaultLookupDelay,
		log:      logger.Component(log, "verify-direct"),
	}
}

// SetRetry overrides the lookup retry policy.
func (d *DirectVerifier) SetRetry(attempts int, delay time.Duration) {
	if attempts < 1 {
		attempts = 1
	}
	d.attempts = attempts
	d.delay = delay
}

// Pricing returns the conversion used for minimum amounts.
func (d *DirectVerifier) Pricing() Pricing { return d.pricing }

// Verify checks that proof is a mined transfer from the claimed consumer to
// requirements.PayTo worth at least the discounted native price. The
// requirements must be the direct entry, priced in wei.
func (d *DirectVerifier) Verify(ctx context.Context, proof *types.DirectTransferProof, reqs *types.PaymentRequirements) (*types.VerificationResult, error) {
	if proof == nil {
		return types.Invalid(types.ReasonInvalidPayload, "missing direct transfer proof"), nil
	}
	if err := utils.ValidateTransactionHash(proof.TxHash); err != nil {
		return types.Invalid(types.ReasonInvalidPayload, "%v", err), nil
	}
	if err := utils.ValidateAddress("fromAddress", proof.FromAddress); err != nil {
		return types.Invalid(types.ReasonInvalidPayload, "%v", err), nil
	}
	required, err := utils.ValidateBigInt(reqs.MaxAmountRequired)
	if err != nil {
		return nil, types.WrapError(err, types.KindInternal, types.ErrInvalidRequirements, "direct requirements amount")
	}

	tx, err := d.lookup(ctx, proof.TxHash)
	if errors.Is(err, clients.ErrTxNotFound) {
		return types.Invalid(types.ReasonTransactionNotFound, "transaction %s not found after %d attempts", proof.TxHash, d.attempts), nil
	}
	if err != nil {
		return nil, err
	}

	if tx.Pending {
		return types.Invalid(types.ReasonTransactionPending, "transaction %s is not mined yet", proof.TxHash), nil
	}
	if tx.Failed {
		return types.Invalid(types.ReasonTransactionFailed, "transaction %s reverted", proof.TxHash), nil
	}
	if !utils.SameAddress(tx.From.Hex(), proof.FromAddress) {
		return types.Invalid(types.ReasonSenderMismatch, "transaction sent by %s, not %s", tx.From.Hex(), proof.FromAddress), nil
	}
	if tx.To == nil || !utils.SameAddress(tx.To.Hex(), reqs.PayTo) {
		return types.Invalid(types.ReasonRecipientMismatch, "transaction recipient is not %s", reqs.PayTo), nil
	}

	floor := d.pricing.MinAcceptableWei(required)
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Cmp(floor) < 0 {
		return types.Invalid(types.ReasonInsufficient, "transferred %s wei, need at least %s", value, floor), nil
	}

	d.log.Info("direct transfer verified", map[string]any{"tx": tx.Hash, "from": tx.From.Hex(), "value": value.String()})
	return &types.VerificationResult{
		Valid:         true,
		Consumer:      tx.From.Hex(),
		SettledTxHash: tx.Hash,
	}, nil
}

// lookup fetches the transaction, retrying not-found and transient RPC errors
// with a fixed delay.
func (d *DirectVerifier) lookup(ctx context.Context, hash string) (*clients.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt < d.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, types.WrapError(ctx.Err(), types.KindTransientNetwork, types.ErrNetworkError, "lookup %s", hash)
			case <-time.After(d.delay):
			}
		}

		tx, err := d.chain.Transaction(ctx, hash)
		if err == nil {
			return tx, nil
		}
		lastErr = err
		if !clients.IsTransient(err) {
			return nil, types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "lookup %s", hash)
		}
		d.log.Debug("transaction lookup retry", map[string]any{"tx": hash, "attempt": attempt + 1, "error": err})
	}
	if errors.Is(lastErr, clients.ErrTxNotFound) {
		return nil, lastErr
	}
	return nil, types.WrapError(lastErr, types.KindTransientNetwork, types.ErrNetworkError,
		"lookup %s failed after %d attempts", hash, d.attempts)
}
