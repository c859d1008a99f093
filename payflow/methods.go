package payflow

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
	"github.com/vitwit/paygate/utils/eip712"
	"github.com/vitwit/paygate/verification"
)

// DefaultConfirmTimeout bounds the wait for a direct transfer to be mined.
const DefaultConfirmTimeout = 60 * time.Second

// PaymentMethod is one way of paying. The Machine runs the same lifecycle
// for every method.
type PaymentMethod interface {
	Method() types.PaymentMethod
	// Requirement picks the accepted entry this method can pay.
	Requirement(resp *types.X402Response) (*types.PaymentRequirements, error)
	// ObtainProof asks the signer to authorize or broadcast the payment.
	ObtainProof(ctx context.Context, reqs *types.PaymentRequirements) (types.PaymentProof, error)
	// Confirm waits until the proof is ready to present to the gateway.
	Confirm(ctx context.Context, proof types.PaymentProof, reqs *types.PaymentRequirements) error
	// Grant exchanges the proof for the content key.
	Grant(ctx context.Context, contentID string, proof types.PaymentProof) (*types.KeyResponse, error)
	Network() types.Network
}

func pick(resp *types.X402Response, scheme types.PaymentScheme) (*types.PaymentRequirements, error) {
	if resp == nil {
		return nil, types.NewError(types.KindInternal, types.ErrInvalidRequirements, "no payment requirements")
	}
	r, ok := resp.Find(scheme)
	if !ok {
		return nil, types.NewError(types.KindValidation, types.ErrInvalidRequirements, "content does not accept %s payments", scheme)
	}
	cp := *r
	return &cp, nil
}

// ReceiptWaiter blocks until a transaction is mined.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

// DirectTransfer pays with a native transfer to the creator.
type DirectTransfer struct {
	signer  Signer
	gateway Gateway
	waiter  ReceiptWaiter
	network types.Network
	timeout time.Duration
}

var _ PaymentMethod = (*DirectTransfer)(nil)

func NewDirectTransfer(signer Signer, gateway Gateway, waiter ReceiptWaiter, network types.Network) *DirectTransfer {
	return &DirectTransfer{
		signer:  signer,
		gateway: gateway,
		waiter:  waiter,
		network: network,
		timeout: DefaultConfirmTimeout,
	}
}

// SetConfirmTimeout overrides the mining wait.
func (d *DirectTransfer) SetConfirmTimeout(t time.Duration) { d.timeout = t }

func (d *DirectTransfer) Method() types.PaymentMethod { return types.MethodDirect }

func (d *DirectTransfer) Network() types.Network { return d.network }

func (d *DirectTransfer) Requirement(resp *types.X402Response) (*types.PaymentRequirements, error) {
	return pick(resp, types.SchemeDirect)
}

func (d *DirectTransfer) ObtainProof(ctx context.Context, reqs *types.PaymentRequirements) (types.PaymentProof, error) {
	value, err := utils.ValidateBigInt(reqs.MaxAmountRequired)
	if err != nil {
		return types.PaymentProof{}, types.WrapError(err, types.KindValidation, types.ErrInvalidRequirements, "direct amount")
	}
	if err := utils.ValidateAddress("payTo", reqs.PayTo); err != nil {
		return types.PaymentProof{}, err
	}

	to := common.HexToAddress(reqs.PayTo)
	hash, err := d.signer.SendNative(ctx, to, value)
	if err != nil {
		return types.PaymentProof{}, err
	}
	return types.NewDirectProof(types.DirectTransferProof{
		TxHash:      hash.Hex(),
		FromAddress: d.signer.Address().Hex(),
		ToAddress:   to.Hex(),
		ValueNative: value.String(),
	}), nil
}

func (d *DirectTransfer) Confirm(ctx context.Context, proof types.PaymentProof, _ *types.PaymentRequirements) error {
	if d.waiter == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err := d.waiter.WaitMined(ctx, common.HexToHash(proof.Direct.TxHash))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, clients.ErrConfirmationTimeout) || errors.Is(err, context.DeadlineExceeded):
		return types.WrapError(err, types.KindTransientNetwork, types.ErrConfirmationTimeout,
			"transfer %s not mined within %s", proof.Direct.TxHash, d.timeout)
	case errors.Is(err, clients.ErrReverted):
		return types.WrapError(err, types.KindPaymentVerification, types.ErrVerificationFailed,
			"%s: transfer %s reverted", types.ReasonTransactionFailed, proof.Direct.TxHash)
	default:
		return types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "wait for %s", proof.Direct.TxHash)
	}
}

func (d *DirectTransfer) Grant(ctx context.Context, contentID string, proof types.PaymentProof) (*types.KeyResponse, error) {
	return d.gateway.GrantDirect(ctx, contentID, proof.Direct.TxHash)
}

// Facilitator pays with a signed EIP-3009 authorization the gateway settles
// through a facilitator.
type Facilitator struct {
	signer  Signer
	gateway Gateway
	network types.Network
	now     func() time.Time
}

var _ PaymentMethod = (*Facilitator)(nil)

func NewFacilitator(signer Signer, gateway Gateway, network types.Network) *Facilitator {
	return &Facilitator{signer: signer, gateway: gateway, network: network, now: time.Now}
}

func (f *Facilitator) Method() types.PaymentMethod { return types.MethodFacilitator }

func (f *Facilitator) Network() types.Network { return f.network }

func (f *Facilitator) Requirement(resp *types.X402Response) (*types.PaymentRequirements, error) {
	return pick(resp, types.SchemeExact)
}

func (f *Facilitator) ObtainProof(ctx context.Context, reqs *types.PaymentRequirements) (types.PaymentProof, error) {
	chainID := types.Network(reqs.Network).ChainID()
	if chainID == nil {
		return types.PaymentProof{}, types.NewError(types.KindValidation, types.ErrUnsupportedNetwork, "unsupported network %q", reqs.Network)
	}
	if f.network != "" && types.Network(reqs.Network) != f.network {
		return types.PaymentProof{}, types.NewError(types.KindValidation, types.ErrUnsupportedNetwork,
			"wrong network: content is priced on %s, wallet is on %s", reqs.Network, f.network)
	}
	nonce, err := eip712.RandomNonce()
	if err != nil {
		return types.PaymentProof{}, errors.Wrap(err, "nonce")
	}

	now := f.now()
	timeout := reqs.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	auth := eip712.Authorization{
		From:        f.signer.Address().Hex(),
		To:          reqs.PayTo,
		Value:       reqs.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(now.Add(-time.Minute).Unix(), 10),
		ValidBefore: strconv.FormatInt(now.Add(timeout).Unix(), 10),
		Nonce:       nonce,
	}
	domain := eip712.Domain{
		Name:              reqs.Extra.Name,
		Version:           reqs.Extra.Version,
		ChainID:           chainID,
		VerifyingContract: reqs.Asset,
	}

	sig, err := f.signer.SignAuthorization(ctx, domain, auth)
	if err != nil {
		return types.PaymentProof{}, err
	}

	return types.NewFacilitatorProof(types.PaymentPayload{
		X402Version: int(types.X402Version1),
		Scheme:      reqs.Scheme,
		Network:     reqs.Network,
		Payload: types.EIP3009Payload{
			Signature: hexutil.Encode(sig),
			Authorization: types.EIP3009Authorization{
				From:        auth.From,
				To:          auth.To,
				Value:       auth.Value,
				ValidAfter:  auth.ValidAfter,
				ValidBefore: auth.ValidBefore,
				Nonce:       auth.Nonce,
			},
		},
	}), nil
}

// Confirm prechecks the signed authorization locally so that a bad
// signature never reaches the gateway.
func (f *Facilitator) Confirm(_ context.Context, proof types.PaymentProof, reqs *types.PaymentRequirements) error {
	if res := verification.Precheck(&proof.Facilitator.Payload, reqs, f.now()); res != nil {
		return types.NewError(types.KindPaymentVerification, types.ErrVerificationFailed, "%s: %s", res.Reason, res.Error)
	}
	return nil
}

func (f *Facilitator) Grant(ctx context.Context, contentID string, proof types.PaymentProof) (*types.KeyResponse, error) {
	return f.gateway.PayFacilitator(ctx, contentID, proof.Facilitator.Payload)
}
