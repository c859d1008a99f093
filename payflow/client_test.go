package payflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

func TestHTTPGatewaySignsIdentity(t *testing.T) {
	w := newWallet(t)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/key/1", r.URL.Path)
		addr := r.Header.Get(types.HeaderConsumerAddress)
		ts, err := strconv.ParseInt(r.Header.Get(types.HeaderConsumerTimestamp), 10, 64)
		require.NoError(t, err)

		ok, err := utils.VerifyPersonalMessage(utils.AccessMessage("1", addr, ts), r.Header.Get(types.HeaderConsumerSignature), w.Address())
		require.NoError(t, err)
		assert.True(t, ok)

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(types.KeyResponse{Success: true, Key: "k", ContentBlobID: "bafy"})
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, w, srv.Client())
	key, required, err := gw.CheckAccess(context.Background(), "1")
	require.NoError(t, err)
	assert.Nil(t, required)
	assert.Equal(t, "k", key.Key)
}

func TestHTTPGatewayPaymentRequired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		h, err := utils.EncodeHeader(required())
		require.NoError(t, err)
		rw.Header().Set(types.HeaderPaymentRequired, h)
		rw.WriteHeader(http.StatusPaymentRequired)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, newWallet(t), srv.Client())
	key, x, err := gw.CheckAccess(context.Background(), "1")
	require.NoError(t, err)
	assert.Nil(t, key)
	require.Len(t, x.Accepts, 2)
	assert.Equal(t, "direct", x.Accepts[1].Scheme)
}

func TestHTTPGatewayPostBodies(t *testing.T) {
	w := newWallet(t)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/key/1/grant":
			var req types.GrantRequest
			require.NoError(t, json.Unmarshal(body, &req))
			assert.Equal(t, "0xabc", req.TxHash)
			assert.Equal(t, w.Address().Hex(), req.ConsumerAddress)
		case "/key/1":
			var req types.PayRequest
			require.NoError(t, json.Unmarshal(body, &req))
			p, err := utils.DecodePaymentPayloadJSON(req.PaymentPayload)
			require.NoError(t, err)
			assert.Equal(t, "exact", p.Scheme)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(rw).Encode(types.KeyResponse{Success: true, Key: "k"})
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, w, srv.Client())
	_, err := gw.GrantDirect(context.Background(), "1", "0xabc")
	require.NoError(t, err)
	_, err = gw.PayFacilitator(context.Background(), "1", types.PaymentPayload{X402Version: 1, Scheme: "exact", Network: "base-sepolia"})
	require.NoError(t, err)
}

func TestHTTPGatewayErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   any
		kind   types.ErrorKind
		txHash string
	}{
		{"grant failure", 500, types.ErrorResponse{Error: "grant failed", Code: types.ErrGrantFailed, TxHash: "0xs"}, types.KindGrantWrite, "0xs"},
		{"rejected proof", 402, types.X402Response{X402Version: 1, Accepts: required().Accepts, Error: types.ReasonSenderMismatch + ": sender differs"}, types.KindPaymentVerification, ""},
		{"unknown content", 404, types.ErrorResponse{Error: "content 9 not found", Code: types.ErrContentNotFound}, types.KindNotFound, ""},
		{"bad request", 400, types.ErrorResponse{Error: "bad"}, types.KindValidation, ""},
		{"upstream down", 503, "down", types.KindTransientNetwork, ""},
		{"rpc failure", 500, types.ErrorResponse{Error: "fetch tx: connection reset", Code: types.ErrNetworkError}, types.KindTransientNetwork, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				rw.WriteHeader(tc.status)
				_ = json.NewEncoder(rw).Encode(tc.body)
			}))
			defer srv.Close()

			gw := NewHTTPGateway(srv.URL, newWallet(t), srv.Client())
			_, err := gw.GrantDirect(context.Background(), "1", "0xabc")
			require.Error(t, err)
			assert.Equal(t, tc.kind, types.KindOf(err))
			assert.Equal(t, tc.txHash, paidTxHash(err))
		})
	}
}

func TestReasonOf(t *testing.T) {
	assert.Equal(t, types.ReasonProofReused, reasonOf(types.ReasonProofReused+": already bound"))
	assert.Equal(t, "", reasonOf("payment was not accepted: no"))
	assert.Equal(t, "", reasonOf("plain"))
}
