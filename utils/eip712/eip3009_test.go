package eip712

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDomain() Domain {
	return Domain{
		Name:              "USDC",
		Version:           "2",
		ChainID:           big.NewInt(84532),
		VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func signedAuth(t *testing.T) (Authorization, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	nonce, err := RandomNonce()
	require.NoError(t, err)

	auth := Authorization{
		From:        crypto.PubkeyToAddress(key.PublicKey).Hex(),
		To:          "0x1111111111111111111111111111111111111111",
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: "4102444800",
		Nonce:       nonce,
	}
	digest, err := Digest(testDomain(), auth)
	require.NoError(t, err)
	sig, err := Sign(digest, key)
	require.NoError(t, err)
	assert.Contains(t, []byte{27, 28}, sig[64])

	return auth, hexutil.Encode(sig)
}

func TestVerifyAuthorizationRoundTrip(t *testing.T) {
	auth, sig := signedAuth(t)
	assert.NoError(t, VerifyAuthorization(testDomain(), auth, sig))
}

func TestVerifyAuthorizationDetectsTampering(t *testing.T) {
	auth, sig := signedAuth(t)

	tampered := auth
	tampered.Value = "1"
	assert.Error(t, VerifyAuthorization(testDomain(), tampered, sig))

	other := testDomain()
	other.ChainID = big.NewInt(8453)
	assert.Error(t, VerifyAuthorization(other, auth, sig))
}

func TestRecoverSignerAcceptsBothVForms(t *testing.T) {
	key, _ := crypto.GenerateKey()
	digest := crypto.Keccak256Hash([]byte("digest"))

	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	a, err := RecoverSigner(digest, sig)
	require.NoError(t, err)

	sig[64] += 27
	b, err := RecoverSigner(digest, sig)
	require.NoError(t, err)

	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), a)
	assert.Equal(t, a, b)

	_, err = RecoverSigner(digest, sig[:64])
	assert.Error(t, err)
}

func TestDigestRejectsBadInput(t *testing.T) {
	auth, _ := signedAuth(t)

	bad := auth
	bad.Nonce = "0x01"
	_, err := Digest(testDomain(), bad)
	assert.Error(t, err)

	bad = auth
	bad.Value = "-5"
	_, err = Digest(testDomain(), bad)
	assert.Error(t, err)

	_, err = Digest(Domain{Name: "USDC"}, auth)
	assert.Error(t, err)
}

func TestDigestIsDeterministic(t *testing.T) {
	auth, _ := signedAuth(t)
	a, err := Digest(testDomain(), auth)
	require.NoError(t, err)
	b, err := Digest(testDomain(), auth)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
