package payflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

const maxBodyBytes = 1 << 20

// Gateway is the consumer-side view of the key endpoints.
type Gateway interface {
	// CheckAccess returns the key when access already exists, or the
	// payment requirements when it does not.
	CheckAccess(ctx context.Context, contentID string) (*types.KeyResponse, *types.X402Response, error)
	PayFacilitator(ctx context.Context, contentID string, payload types.PaymentPayload) (*types.KeyResponse, error)
	GrantDirect(ctx context.Context, contentID, txHash string) (*types.KeyResponse, error)
}

// GatewayError is a non-2xx reply from the gateway.
type GatewayError struct {
	Status int
	Body   types.ErrorResponse
}

func (e *GatewayError) Error() string {
	msg := e.Body.Error
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Body.Reason != "" {
		msg = e.Body.Reason + ": " + msg
	}
	return "gateway " + strconv.Itoa(e.Status) + ": " + msg
}

// typed maps a gateway status back to the error taxonomy.
func (e *GatewayError) typed() error {
	var kind types.ErrorKind
	switch {
	case e.Status == http.StatusBadRequest:
		kind = types.KindValidation
	case e.Status == http.StatusNotFound:
		kind = types.KindNotFound
	case e.Status == http.StatusPaymentRequired:
		kind = types.KindPaymentVerification
		if e.Body.Reason == types.ReasonSettlementFailed {
			kind = types.KindPaymentSettlement
		}
	case e.Body.Code == types.ErrGrantFailed:
		kind = types.KindGrantWrite
	case e.Body.Code == types.ErrNetworkError,
		e.Status == http.StatusBadGateway || e.Status == http.StatusServiceUnavailable ||
		e.Status == http.StatusGatewayTimeout || e.Status == http.StatusTooManyRequests:
		kind = types.KindTransientNetwork
	default:
		kind = types.KindInternal
	}
	code := e.Body.Code
	if code == "" {
		code = types.ErrInternal
	}
	return types.WrapError(e, kind, code, "key request failed")
}

// HTTPGateway talks to a paygate server, proving the consumer's identity
// with a signed, timestamped message on every request.
type HTTPGateway struct {
	baseURL string
	http    *http.Client
	signer  Signer
	now     func() time.Time
}

var _ Gateway = (*HTTPGateway)(nil)

func NewHTTPGateway(baseURL string, signer Signer, client *http.Client) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		signer:  signer,
		now:     time.Now,
	}
}

func (g *HTTPGateway) CheckAccess(ctx context.Context, contentID string) (*types.KeyResponse, *types.X402Response, error) {
	req, err := g.newRequest(ctx, http.MethodGet, contentID, "", nil)
	if err != nil {
		return nil, nil, err
	}
	resp, body, err := g.do(req)
	if err != nil {
		return nil, nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var key types.KeyResponse
		if err := json.Unmarshal(body, &key); err != nil {
			return nil, nil, errors.Wrap(err, "decode key response")
		}
		return &key, nil, nil
	case http.StatusPaymentRequired:
		x, err := parsePaymentRequired(resp, body)
		if err != nil {
			return nil, nil, err
		}
		return nil, x, nil
	default:
		return nil, nil, gatewayError(resp.StatusCode, body)
	}
}

func (g *HTTPGateway) PayFacilitator(ctx context.Context, contentID string, payload types.PaymentPayload) (*types.KeyResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode payment payload")
	}
	return g.postKey(ctx, contentID, "", types.PayRequest{
		PaymentPayload:  raw,
		ConsumerAddress: g.signer.Address().Hex(),
	})
}

func (g *HTTPGateway) GrantDirect(ctx context.Context, contentID, txHash string) (*types.KeyResponse, error) {
	return g.postKey(ctx, contentID, "/grant", types.GrantRequest{
		ConsumerAddress: g.signer.Address().Hex(),
		TxHash:          txHash,
	})
}

func (g *HTTPGateway) postKey(ctx context.Context, contentID, suffix string, body any) (*types.KeyResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	req, err := g.newRequest(ctx, http.MethodPost, contentID, suffix, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, raw, err := g.do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		var key types.KeyResponse
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, errors.Wrap(err, "decode key response")
		}
		return &key, nil
	case http.StatusPaymentRequired:
		if x, err := parsePaymentRequired(resp, raw); err == nil && x.Error != "" {
			return nil, (&GatewayError{Status: resp.StatusCode, Body: types.ErrorResponse{Error: x.Error, Reason: reasonOf(x.Error)}}).typed()
		}
		return nil, gatewayError(resp.StatusCode, raw)
	default:
		return nil, gatewayError(resp.StatusCode, raw)
	}
}

func (g *HTTPGateway) newRequest(ctx context.Context, method, contentID, suffix string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+"/key/"+contentID+suffix, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	ts := g.now().Unix()
	addr := g.signer.Address().Hex()
	sig, err := g.signer.SignMessage(ctx, utils.AccessMessage(contentID, addr, ts))
	if err != nil {
		return nil, err
	}
	req.Header.Set(types.HeaderConsumerAddress, addr)
	req.Header.Set(types.HeaderConsumerSignature, sig)
	req.Header.Set(types.HeaderConsumerTimestamp, strconv.FormatInt(ts, 10))
	return req, nil
}

func (g *HTTPGateway) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, nil, types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "read response")
	}
	return resp, body, nil
}

// parsePaymentRequired prefers the JSON body and falls back to the header.
func parsePaymentRequired(resp *http.Response, body []byte) (*types.X402Response, error) {
	if x, err := utils.ParseX402Response(body); err == nil {
		return x, nil
	}
	var x types.X402Response
	if h := resp.Header.Get(types.HeaderPaymentRequired); h != "" {
		if err := utils.DecodeHeader(h, &x); err == nil && len(x.Accepts) > 0 {
			return &x, nil
		}
	}
	return nil, types.NewError(types.KindInternal, types.ErrInvalidRequirements, "402 response carried no payment requirements")
}

func gatewayError(status int, body []byte) error {
	ge := &GatewayError{Status: status}
	if err := json.Unmarshal(body, &ge.Body); err != nil || ge.Body.Error == "" {
		ge.Body.Error = truncate(string(body))
	}
	return ge.typed()
}

// reasonOf pulls a leading "Reason: detail" code out of an x402 error string.
func reasonOf(msg string) string {
	if i := strings.Index(msg, ":"); i > 0 && !strings.Contains(msg[:i], " ") {
		return msg[:i]
	}
	return ""
}

// paidTxHash returns the settled or transfer hash a failed grant reported.
func paidTxHash(err error) string {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Body.TxHash
	}
	return ""
}
