package verification

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/clients/clienttest"
	"github.com/vitwit/paygate/facilitator"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils/eip712"
)

var (
	payTo = common.HexToAddress("0x1111111111111111111111111111111111111111")
	asset = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
)

func testPricing(t *testing.T) Pricing {
	t.Helper()
	p, err := NewPricing(decimal.NewFromInt(2000), DefaultSlippage)
	require.NoError(t, err)
	return p
}

// Direct transfers -----------------------------------------------------------

type directFixture struct {
	verifier *DirectVerifier
	backend  *clienttest.Backend
	key      *ecdsa.PrivateKey
	reqs     *types.PaymentRequirements
}

func newDirectFixture(t *testing.T) *directFixture {
	t.Helper()
	b := clienttest.New(31337)
	c, err := clients.NewEVMClientWithBackend(context.Background(), types.NetworkLocal, b, nil)
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	pricing := testPricing(t)
	v := NewDirectVerifier(c, pricing, nil)
	v.SetRetry(3, time.Millisecond)

	return &directFixture{
		verifier: v,
		backend:  b,
		key:      key,
		reqs: &types.PaymentRequirements{
			Scheme:            string(types.SchemeDirect),
			Network:           string(types.NetworkLocal),
			MaxAmountRequired: pricing.NativeAmount(1_000_000).String(),
			Resource:          "/key/1",
			PayTo:             payTo.Hex(),
			MaxTimeoutSeconds: 60,
			Asset:             types.AssetNative,
			Extra:             types.RequirementsExtra{ContentID: "1"},
		},
	}
}

func (f *directFixture) send(t *testing.T, to common.Address, wei int64, pending bool) types.DirectTransferProof {
	t.Helper()
	tx, err := f.backend.Transfer(f.key, to, big.NewInt(wei), pending)
	require.NoError(t, err)
	return types.DirectTransferProof{
		TxHash:      tx.Hash().Hex(),
		FromAddress: crypto.PubkeyToAddress(f.key.PublicKey).Hex(),
	}
}

func TestDirectVerifyAcceptsDiscountedMinimum(t *testing.T) {
	f := newDirectFixture(t)
	proof := f.send(t, payTo, 350_000_000_000_000, false)

	res, err := f.verifier.Verify(context.Background(), &proof, f.reqs)
	require.NoError(t, err)
	require.True(t, res.Valid, res.Error)
	assert.Equal(t, proof.FromAddress, res.Consumer)
	assert.Equal(t, proof.TxHash, res.SettledTxHash)
}

func TestDirectVerifyFailures(t *testing.T) {
	other, _ := crypto.GenerateKey()

	cases := []struct {
		name   string
		setup  func(t *testing.T, f *directFixture) types.DirectTransferProof
		reason string
	}{
		{"underpaid", func(t *testing.T, f *directFixture) types.DirectTransferProof {
			return f.send(t, payTo, 349_999_999_999_999, false)
		}, types.ReasonInsufficient},
		{"wrong recipient", func(t *testing.T, f *directFixture) types.DirectTransferProof {
			return f.send(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), 500_000_000_000_000, false)
		}, types.ReasonRecipientMismatch},
		{"wrong sender", func(t *testing.T, f *directFixture) types.DirectTransferProof {
			p := f.send(t, payTo, 500_000_000_000_000, false)
			p.FromAddress = crypto.PubkeyToAddress(other.PublicKey).Hex()
			return p
		}, types.ReasonSenderMismatch},
		{"pending", func(t *testing.T, f *directFixture) types.DirectTransferProof {
			return f.send(t, payTo, 500_000_000_000_000, true)
		}, types.ReasonTransactionPending},
		{"missing", func(t *testing.T, f *directFixture) types.DirectTransferProof {
			return types.DirectTransferProof{
				TxHash:      common.HexToHash("0xdead").Hex(),
				FromAddress: crypto.PubkeyToAddress(f.key.PublicKey).Hex(),
			}
		}, types.ReasonTransactionNotFound},
		{"malformed hash", func(t *testing.T, f *directFixture) types.DirectTransferProof {
			return types.DirectTransferProof{TxHash: "0x1234", FromAddress: crypto.PubkeyToAddress(f.key.PublicKey).Hex()}
		}, types.ReasonInvalidPayload},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newDirectFixture(t)
			proof := tc.setup(t, f)
			res, err := f.verifier.Verify(context.Background(), &proof, f.reqs)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, tc.reason, res.Reason)
		})
	}
}

func TestDirectVerifyRetriesLookup(t *testing.T) {
	f := newDirectFixture(t)
	proof := f.send(t, payTo, 500_000_000_000_000, false)
	f.backend.LookupErrs = []error{errTransient("connection reset by peer")}

	res, err := f.verifier.Verify(context.Background(), &proof, f.reqs)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 2, f.backend.Lookups)
}

func TestDirectVerifyNotFoundUsesAllAttempts(t *testing.T) {
	f := newDirectFixture(t)
	proof := types.DirectTransferProof{
		TxHash:      common.HexToHash("0xbeef").Hex(),
		FromAddress: crypto.PubkeyToAddress(f.key.PublicKey).Hex(),
	}

	res, err := f.verifier.Verify(context.Background(), &proof, f.reqs)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonTransactionNotFound, res.Reason)
	assert.Equal(t, 3, f.backend.Lookups)
}

func TestDirectVerifyFailedTransaction(t *testing.T) {
	f := newDirectFixture(t)
	proof := f.send(t, payTo, 500_000_000_000_000, false)
	f.backend.SetReceipt(common.HexToHash(proof.TxHash), failedReceipt(proof.TxHash))

	res, err := f.verifier.Verify(context.Background(), &proof, f.reqs)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonTransactionFailed, res.Reason)
}

func failedReceipt(hash string) *ethtypes.Receipt {
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed, TxHash: common.HexToHash(hash)}
}

type errTransient string

func (e errTransient) Error() string { return string(e) }

// Facilitator payments -------------------------------------------------------

type fakeFacilitator struct {
	verify    facilitator.VerifyResponse
	settle    types.SettlementResult
	settleErr error
	verifies  int
	settles  int
}

func (f *fakeFacilitator) Verify(context.Context, *types.VerifyRequest) (*facilitator.VerifyResponse, error) {
	f.verifies++
	v := f.verify
	return &v, nil
}

func (f *fakeFacilitator) Settle(context.Context, *types.VerifyRequest) (*types.SettlementResult, error) {
	f.settles++
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	s := f.settle
	return &s, nil
}

func exactRequirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:            string(types.SchemeExact),
		Network:           string(types.NetworkBaseSepolia),
		MaxAmountRequired: "1000000",
		Resource:          "/key/1",
		PayTo:             payTo.Hex(),
		MaxTimeoutSeconds: 60,
		Asset:             asset.Hex(),
		Extra:             types.RequirementsExtra{ContentID: "1", Name: "USDC", Version: "2"},
	}
}

func signedPayload(t *testing.T, key *ecdsa.PrivateKey, reqs *types.PaymentRequirements, value string, now time.Time) types.PaymentPayload {
	t.Helper()
	nonce, err := eip712.RandomNonce()
	require.NoError(t, err)

	auth := types.EIP3009Authorization{
		From:        crypto.PubkeyToAddress(key.PublicKey).Hex(),
		To:          reqs.PayTo,
		Value:       value,
		ValidAfter:  strconv.FormatInt(now.Add(-time.Minute).Unix(), 10),
		ValidBefore: strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10),
		Nonce:       nonce,
	}
	domain := eip712.Domain{
		Name:              reqs.Extra.Name,
		Version:           reqs.Extra.Version,
		ChainID:           types.Network(reqs.Network).ChainID(),
		VerifyingContract: reqs.Asset,
	}
	digest, err := eip712.Digest(domain, toAuthorization(auth))
	require.NoError(t, err)
	sig, err := eip712.Sign(digest, key)
	require.NoError(t, err)

	return types.PaymentPayload{
		X402Version: 1,
		Scheme:      reqs.Scheme,
		Network:     reqs.Network,
		Payload:     types.EIP3009Payload{Signature: hexutil.Encode(sig), Authorization: auth},
	}
}

func TestFacilitatorVerifySettles(t *testing.T) {
	key, _ := crypto.GenerateKey()
	reqs := exactRequirements()
	payload := signedPayload(t, key, reqs, "1000000", time.Now())

	fac := &fakeFacilitator{
		verify: facilitator.VerifyResponse{Valid: true},
		settle: types.SettlementResult{Success: true, TxHash: "0xsettled", Payer: "0x3333333333333333333333333333333333333333"},
	}
	v := NewFacilitatorVerifier(fac, nil, nil)

	res, err := v.Verify(context.Background(), &types.FacilitatorProof{Payload: payload}, reqs)
	require.NoError(t, err)
	require.True(t, res.Valid, res.Error)
	assert.Equal(t, "0xsettled", res.SettledTxHash)
	// the facilitator's payer wins over the signed from address
	assert.Equal(t, "0x3333333333333333333333333333333333333333", res.Consumer)
	assert.Equal(t, 1, fac.verifies)
	assert.Equal(t, 1, fac.settles)
}

func TestFacilitatorRejectedSkipsSettlement(t *testing.T) {
	key, _ := crypto.GenerateKey()
	reqs := exactRequirements()
	payload := signedPayload(t, key, reqs, "1000000", time.Now())

	fac := &fakeFacilitator{verify: facilitator.VerifyResponse{Valid: false, Reason: "insufficient_funds"}}
	res, err := NewFacilitatorVerifier(fac, nil, nil).Verify(context.Background(), &types.FacilitatorProof{Payload: payload}, reqs)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, types.ReasonVerificationFailed, res.Reason)
	assert.Contains(t, res.Error, "insufficient_funds")
	assert.Equal(t, 0, fac.settles)
}

func TestFacilitatorSettlementFailure(t *testing.T) {
	key, _ := crypto.GenerateKey()
	reqs := exactRequirements()
	payload := signedPayload(t, key, reqs, "1000000", time.Now())

	fac := &fakeFacilitator{
		verify: facilitator.VerifyResponse{Valid: true},
		settle: types.SettlementResult{Success: false, Error: "nonce used"},
	}
	res, err := NewFacilitatorVerifier(fac, nil, nil).Verify(context.Background(), &types.FacilitatorProof{Payload: payload}, reqs)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonSettlementFailed, res.Reason)
}

func TestFacilitatorSettleTransportErrorIsSettlementFailure(t *testing.T) {
	key, _ := crypto.GenerateKey()
	reqs := exactRequirements()
	payload := signedPayload(t, key, reqs, "1000000", time.Now())

	fac := &fakeFacilitator{
		verify:    facilitator.VerifyResponse{Valid: true},
		settleErr: types.NewError(types.KindTransientNetwork, types.ErrNetworkError, "facilitator /settle returned 503"),
	}
	_, err := NewFacilitatorVerifier(fac, nil, nil).Verify(context.Background(), &types.FacilitatorProof{Payload: payload}, reqs)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindPaymentSettlement))
	assert.Equal(t, http.StatusPaymentRequired, types.StatusOf(err))
	assert.Contains(t, err.Error(), "503")
}

func TestPrecheck(t *testing.T) {
	key, _ := crypto.GenerateKey()
	now := time.Now()

	cases := []struct {
		name   string
		mutate func(p *types.PaymentPayload, r *types.PaymentRequirements)
		reason string
	}{
		{"ok", func(*types.PaymentPayload, *types.PaymentRequirements) {}, ""},
		{"network", func(p *types.PaymentPayload, _ *types.PaymentRequirements) { p.Network = "base" }, types.ReasonVerificationFailed},
		{"recipient", func(p *types.PaymentPayload, _ *types.PaymentRequirements) {
			p.Payload.Authorization.To = "0x2222222222222222222222222222222222222222"
		}, types.ReasonRecipientMismatch},
		{"amount", func(_ *types.PaymentPayload, r *types.PaymentRequirements) { r.MaxAmountRequired = "2000000" }, types.ReasonInsufficient},
		{"expired", func(p *types.PaymentPayload, _ *types.PaymentRequirements) {
			p.Payload.Authorization.ValidBefore = strconv.FormatInt(now.Add(-time.Second).Unix(), 10)
		}, types.ReasonVerificationFailed},
		{"not yet valid", func(p *types.PaymentPayload, _ *types.PaymentRequirements) {
			p.Payload.Authorization.ValidAfter = strconv.FormatInt(now.Add(time.Hour).Unix(), 10)
		}, types.ReasonVerificationFailed},
		{"tampered value", func(p *types.PaymentPayload, _ *types.PaymentRequirements) {
			p.Payload.Authorization.Value = "5000000"
		}, types.ReasonVerificationFailed},
		{"wrong domain", func(_ *types.PaymentPayload, r *types.PaymentRequirements) { r.Extra.Version = "1" }, types.ReasonVerificationFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reqs := exactRequirements()
			payload := signedPayload(t, key, reqs, "1000000", now)
			tc.mutate(&payload, reqs)

			res := Precheck(&payload, reqs, now)
			if tc.reason == "" {
				assert.Nil(t, res)
				return
			}
			require.NotNil(t, res)
			assert.Equal(t, tc.reason, res.Reason, res.Error)
		})
	}
}

func TestPrecheckFailureNeverCallsFacilitator(t *testing.T) {
	key, _ := crypto.GenerateKey()
	reqs := exactRequirements()
	payload := signedPayload(t, key, reqs, "999999", time.Now())

	fac := &fakeFacilitator{verify: facilitator.VerifyResponse{Valid: true}}
	res, err := NewFacilitatorVerifier(fac, nil, nil).Verify(context.Background(), &types.FacilitatorProof{Payload: payload}, reqs)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonInsufficient, res.Reason)
	assert.Equal(t, 0, fac.verifies)
}

// Service ---------------------------------------------------------------------

func TestServiceDispatch(t *testing.T) {
	f := newDirectFixture(t)
	proof := f.send(t, payTo, 500_000_000_000_000, false)

	svc := NewService(WithDirect(f.verifier))
	assert.Equal(t, []types.PaymentMethod{types.MethodDirect}, svc.Methods())

	res, err := svc.Verify(context.Background(), types.NewDirectProof(proof), f.reqs)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// a direct proof cannot satisfy the exact entry
	res, err = svc.Verify(context.Background(), types.NewDirectProof(proof), exactRequirements())
	require.NoError(t, err)
	assert.False(t, res.Valid)

	// no facilitator configured
	res, err = svc.Verify(context.Background(), types.NewFacilitatorProof(types.PaymentPayload{}), exactRequirements())
	require.NoError(t, err)
	assert.False(t, res.Valid)
}
