package verification

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/facilitator"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
	"github.com/vitwit/paygate/utils/eip712"
)

// FacilitatorVerifier checks a signed EIP-3009 authorization locally, then
// has the facilitator verify and settle it.
type FacilitatorVerifier struct {
	facilitator facilitator.Facilitator
	token       clients.ERC20
	now         func() time.Time
	log         logger.Logger
}

// NewFacilitatorVerifier returns a verifier backed by f. token is optional;
// when set, balance and nonce state are checked on-chain before calling f.
func NewFacilitatorVerifier(f facilitator.Facilitator, token clients.ERC20, log logger.Logger) *FacilitatorVerifier {
	return &FacilitatorVerifier{
		facilitator: f,
		token:       token,
		now:         time.Now,
		log:         logger.Component(log, "verify-facilitator"),
	}
}

// SetClock overrides the time source used for validity windows.
func (v *FacilitatorVerifier) SetClock(now func() time.Time) { v.now = now }

func (v *FacilitatorVerifier) Verify(ctx context.Context, proof *types.FacilitatorProof, reqs *types.PaymentRequirements) (*types.VerificationResult, error) {
	if proof == nil {
		return types.Invalid(types.ReasonInvalidPayload, "missing payment payload"), nil
	}
	payload := &proof.Payload
	if err := payload.Validate(); err != nil {
		return types.Invalid(types.ReasonInvalidPayload, "%v", err), nil
	}
	if res := Precheck(payload, reqs, v.now()); res != nil {
		return res, nil
	}

	auth := payload.Payload.Authorization
	if v.token != nil {
		if res, err := v.checkToken(ctx, auth); res != nil || err != nil {
			return res, err
		}
	}

	req := &types.VerifyRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      *payload,
		PaymentRequirements: *reqs,
	}

	verdict, err := v.facilitator.Verify(ctx, req)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid {
		return types.Invalid(types.ReasonVerificationFailed, "facilitator rejected payment: %s", orUnknown(verdict.Reason)), nil
	}

	settled, err := v.facilitator.Settle(ctx, req)
	if err != nil {
		return nil, types.WrapError(err, types.KindPaymentSettlement, types.ErrSettlementFailed, "facilitator settlement failed").
			WithData(map[string]string{"reason": types.ReasonSettlementFailed})
	}
	if !settled.Success {
		return types.Invalid(types.ReasonSettlementFailed, "facilitator settlement failed: %s", orUnknown(settled.Error)), nil
	}

	consumer := firstNonEmpty(settled.Payer, verdict.Payer, auth.From)
	v.log.Info("facilitator payment settled", map[string]any{"tx": settled.TxHash, "payer": consumer})
	return &types.VerificationResult{
		Valid:         true,
		Consumer:      consumer,
		SettledTxHash: settled.TxHash,
	}, nil
}

func (v *FacilitatorVerifier) checkToken(ctx context.Context, auth types.EIP3009Authorization) (*types.VerificationResult, error) {
	from := common.HexToAddress(auth.From)
	nonce, err := eip712.HexToBytes32(auth.Nonce)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayload, "nonce: %v", err), nil
	}

	used, err := v.token.AuthorizationState(ctx, from, nonce)
	if err != nil {
		return nil, types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "authorization state")
	}
	if used {
		return types.Invalid(types.ReasonVerificationFailed, "authorization nonce already used"), nil
	}

	balance, err := v.token.BalanceOf(ctx, from)
	if err != nil {
		return nil, types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "token balance")
	}
	value, _ := utils.ValidateBigInt(auth.Value)
	if value != nil && balance.Cmp(value) < 0 {
		return types.Invalid(types.ReasonInsufficient, "balance %s below authorized value %s", balance, value), nil
	}
	return nil, nil
}

// Precheck validates a signed authorization against requirements without any
// network calls. It returns nil when the payload is acceptable.
func Precheck(payload *types.PaymentPayload, reqs *types.PaymentRequirements, now time.Time) *types.VerificationResult {
	if payload.Scheme != reqs.Scheme {
		return types.Invalid(types.ReasonInvalidPayload, "payload scheme %q does not match %q", payload.Scheme, reqs.Scheme)
	}
	if payload.Network != reqs.Network {
		return types.Invalid(types.ReasonVerificationFailed, "payload network %q does not match %q", payload.Network, reqs.Network)
	}
	network := types.Network(reqs.Network)
	chainID := network.ChainID()
	if chainID == nil {
		return types.Invalid(types.ReasonVerificationFailed, "unsupported network %q", reqs.Network)
	}

	auth := payload.Payload.Authorization
	if err := utils.ValidateAddress("authorization.from", auth.From); err != nil {
		return types.Invalid(types.ReasonInvalidPayload, "%v", err)
	}
	if !utils.SameAddress(auth.To, reqs.PayTo) {
		return types.Invalid(types.ReasonRecipientMismatch, "authorization pays %s, expected %s", auth.To, reqs.PayTo)
	}

	value, err := utils.ValidateBigInt(auth.Value)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayload, "authorization value: %v", err)
	}
	required, err := utils.ValidateBigInt(reqs.MaxAmountRequired)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayload, "requirements amount: %v", err)
	}
	if value.Cmp(required) < 0 {
		return types.Invalid(types.ReasonInsufficient, "authorized %s, need %s", value, required)
	}

	validAfter, err := utils.ValidateBigInt(auth.ValidAfter)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayload, "validAfter: %v", err)
	}
	validBefore, err := utils.ValidateBigInt(auth.ValidBefore)
	if err != nil {
		return types.Invalid(types.ReasonInvalidPayload, "validBefore: %v", err)
	}
	ts := now.Unix()
	if validAfter.IsInt64() && validAfter.Int64() > ts {
		return types.Invalid(types.ReasonVerificationFailed, "authorization not valid until %s", validAfter)
	}
	if validBefore.IsInt64() && validBefore.Int64() <= ts {
		return types.Invalid(types.ReasonVerificationFailed, "authorization expired at %s", validBefore)
	}

	domain := eip712.Domain{
		Name:              reqs.Extra.Name,
		Version:           reqs.Extra.Version,
		ChainID:           chainID,
		VerifyingContract: reqs.Asset,
	}
	if err := eip712.VerifyAuthorization(domain, toAuthorization(auth), payload.Payload.Signature); err != nil {
		return types.Invalid(types.ReasonVerificationFailed, "invalid signature: %v", err)
	}
	return nil
}

func toAuthorization(a types.EIP3009Authorization) eip712.Authorization {
	return eip712.Authorization{
		From:        a.From,
		To:          a.To,
		Value:       a.Value,
		ValidAfter:  a.ValidAfter,
		ValidBefore: a.ValidBefore,
		Nonce:       a.Nonce,
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown reason"
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
