package utils

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paygate/types"
)

func samplePayload() types.PaymentPayload {
	return types.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Payload: types.EIP3009Payload{
			Signature: "0xabc",
			Authorization: types.EIP3009Authorization{
				From:  "0x1111111111111111111111111111111111111111",
				To:    "0x2222222222222222222222222222222222222222",
				Value: "1000000",
				Nonce: "0x01",
			},
		},
	}
}

func TestDecodePaymentPayloadBase64AndRaw(t *testing.T) {
	raw, err := json.Marshal(samplePayload())
	require.NoError(t, err)

	fromB64, err := DecodePaymentPayload(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, samplePayload(), *fromB64)

	fromRaw, err := DecodePaymentPayload(string(raw))
	require.NoError(t, err)
	assert.Equal(t, samplePayload(), *fromRaw)

	_, err = DecodePaymentPayload("%%%")
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindPaymentVerification))

	_, err = DecodePaymentPayload("")
	assert.Error(t, err)
}

func TestDecodePaymentPayloadJSON(t *testing.T) {
	raw, _ := json.Marshal(samplePayload())
	quoted, _ := json.Marshal(base64.StdEncoding.EncodeToString(raw))

	a, err := DecodePaymentPayloadJSON(raw)
	require.NoError(t, err)
	b, err := DecodePaymentPayloadJSON(quoted)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHeaderRoundTrip(t *testing.T) {
	in := types.X402Response{X402Version: 1, Error: "payment required"}
	h, err := EncodeHeader(in)
	require.NoError(t, err)

	var out types.X402Response
	require.NoError(t, DecodeHeader(h, &out))
	assert.Equal(t, in, out)
}

func TestValidateContentID(t *testing.T) {
	assert.NoError(t, ValidateContentID("1"))
	assert.NoError(t, ValidateContentID("123456789"))

	for _, bad := range []string{"", "0", "-1", "abc", "1.5", "0x10"} {
		err := ValidateContentID(bad)
		require.Error(t, err, bad)
		assert.True(t, types.IsKind(err, types.KindValidation))
	}
}

func TestValidateTransactionHash(t *testing.T) {
	assert.NoError(t, ValidateTransactionHash("0x"+repeat("ab", 32)))
	assert.Error(t, ValidateTransactionHash("0x1234"))
	assert.Error(t, ValidateTransactionHash(repeat("ab", 33)))
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("payTo", "0x1111111111111111111111111111111111111111"))
	assert.Error(t, ValidateAddress("payTo", ""))
	assert.Error(t, ValidateAddress("payTo", "1111111111111111111111111111111111111111"))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatMinorUnits(1_500_000))

	n, err := ParseMinorUnits("1.25")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_250_000), n)

	_, err = ParseMinorUnits("0.0000001")
	assert.Error(t, err)
	_, err = ParseMinorUnits("-1")
	assert.Error(t, err)
}

func TestPersonalMessageSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := AddressFromPrivateKey(key)

	msg := AccessMessage("7", addr.Hex(), time.Unix(1_700_000_000, 0).Unix())
	sig, err := SignPersonalMessage(msg, key)
	require.NoError(t, err)

	ok, err := VerifyPersonalMessage(msg, sig, addr)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPersonalMessage(msg+"x", sig, addr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseX402ResponseRejectsEmpty(t *testing.T) {
	_, err := ParseX402Response([]byte(`{"x402Version":1,"accepts":[]}`))
	assert.Error(t, err)
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", "0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD"))
	assert.False(t, SameAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", "nope"))
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
