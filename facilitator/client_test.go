package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paygate/types"
)

func sampleRequest() *types.VerifyRequest {
	return &types.VerifyRequest{
		X402Version: 1,
		PaymentPayload: types.PaymentPayload{
			X402Version: 1,
			Scheme:      "exact",
			Network:     "base-sepolia",
			Payload: types.EIP3009Payload{
				Signature: "0xsig",
				Authorization: types.EIP3009Authorization{
					From: "0xfrom", To: "0xto", Value: "1000000",
					ValidAfter: "0", ValidBefore: "9999999999", Nonce: "0x01",
				},
			},
		},
		PaymentRequirements: types.PaymentRequirements{
			Scheme: "exact", Network: "base-sepolia", MaxAmountRequired: "1000000",
			Resource: "/key/1", PayTo: "0xto", MaxTimeoutSeconds: 60, Asset: "0xasset",
		},
	}
}

func TestVerifyTolerantFields(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		valid  bool
		reason string
		payer  string
	}{
		{"isValid", `{"isValid":true,"payer":"0xabc"}`, true, "", "0xabc"},
		{"valid alias", `{"valid":true,"consumer":"0xdef"}`, true, "", "0xdef"},
		{"from alias", `{"valid":true,"from":"0x123"}`, true, "", "0x123"},
		{"invalid reason", `{"isValid":false,"invalidReason":"insufficient_funds"}`, false, "insufficient_funds", ""},
		{"error object", `{"valid":false,"error":{"message":"bad signature"}}`, false, "bad signature", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/verify", r.URL.Path)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			res, err := New(srv.URL).Verify(context.Background(), sampleRequest())
			require.NoError(t, err)
			assert.Equal(t, tc.valid, res.Valid)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Equal(t, tc.payer, res.Payer)
		})
	}
}

func TestVerifySendsRequestBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		var req types.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0x01", req.PaymentPayload.Payload.Authorization.Nonce)
		assert.Equal(t, "1000000", req.PaymentRequirements.MaxAmountRequired)
		_, _ = w.Write([]byte(`{"isValid":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithHeader("X-Api-Key", "secret"))
	res, err := c.Verify(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestSettleTolerantFields(t *testing.T) {
	cases := []struct {
		name string
		body string
		want types.SettlementResult
	}{
		{"transaction", `{"success":true,"transaction":"0xaa","network":"base-sepolia","payer":"0xp"}`,
			types.SettlementResult{Success: true, TxHash: "0xaa", Network: "base-sepolia", Payer: "0xp"}},
		{"txHash alias", `{"success":true,"txHash":"0xbb","from":"0xq"}`,
			types.SettlementResult{Success: true, TxHash: "0xbb", Payer: "0xq"}},
		{"failure", `{"success":false,"errorReason":"nonce used"}`,
			types.SettlementResult{Error: "nonce used"}},
		{"isValid verdict", `{"isValid":true,"txHash":"0xcc"}`,
			types.SettlementResult{Success: true, TxHash: "0xcc"}},
		{"transaction without verdict", `{"transaction":"0xdd","from":"0xr"}`,
			types.SettlementResult{Success: true, TxHash: "0xdd", Payer: "0xr"}},
		{"no verdict no transaction", `{"error":"unknown"}`,
			types.SettlementResult{Error: "unknown"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/settle", r.URL.Path)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			res, err := New(srv.URL).Settle(context.Background(), sampleRequest())
			require.NoError(t, err)
			assert.Equal(t, tc.want, *res)
		})
	}
}

func TestClientErrorBodyIsVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"isValid":false,"invalidReason":"expired"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL).Verify(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "expired", res.Reason)
}

func TestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Settle(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindTransientNetwork))
}

func TestUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Verify(context.Background(), sampleRequest())
	assert.True(t, types.IsKind(err, types.KindTransientNetwork))
}
