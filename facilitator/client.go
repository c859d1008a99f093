// Package facilitator is an HTTP client for an x402 facilitator's /verify
// and /settle endpoints.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
)

// DefaultTimeout bounds a single facilitator round trip.
const DefaultTimeout = 30 * time.Second

const maxResponseBytes = 1 << 20

// Facilitator verifies and settles signed payments.
type Facilitator interface {
	Verify(ctx context.Context, req *types.VerifyRequest) (*VerifyResponse, error)
	Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettlementResult, error)
}

var _ Facilitator = (*Client)(nil)

type Client struct {
	baseURL string
	http    *http.Client
	headers map[string]string
	log     logger.Logger
	metrics metrics.Recorder
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = logger.Component(l, "facilitator") }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(c *Client) { c.metrics = metrics.OrNoop(m) }
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(k, v string) Option {
	return func(c *Client) { c.headers[k] = v }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		headers: map[string]string{},
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Verify asks the facilitator whether the payload satisfies the requirements.
func (c *Client) Verify(ctx context.Context, req *types.VerifyRequest) (*VerifyResponse, error) {
	start := time.Now()
	var out VerifyResponse
	err := c.post(ctx, "/verify", req, &out)
	metrics.Since(c.metrics, "facilitator_verify", start, map[string]string{"method": string(types.MethodFacilitator)})
	if err != nil {
		return nil, err
	}
	c.log.Debug("facilitator verify", map[string]any{"valid": out.Valid, "reason": out.Reason})
	return &out, nil
}

// Settle asks the facilitator to submit the authorization on-chain.
func (c *Client) Settle(ctx context.Context, req *types.VerifyRequest) (*types.SettlementResult, error) {
	start := time.Now()
	var out settleResponse
	err := c.post(ctx, "/settle", req, &out)
	metrics.Since(c.metrics, "facilitator_settle", start, map[string]string{"method": string(types.MethodFacilitator)})
	if err != nil {
		return nil, err
	}
	res := out.result()
	c.log.Debug("facilitator settle", map[string]any{"success": res.Success, "tx": res.TxHash})
	return res, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode facilitator request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return errors.Wrap(err, "build facilitator request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "facilitator %s", path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError, "read facilitator %s", path)
	}

	if resp.StatusCode >= 500 {
		return types.NewError(types.KindTransientNetwork, types.ErrNetworkError,
			"facilitator %s returned %d: %s", path, resp.StatusCode, truncate(string(raw), 200))
	}
	// 4xx bodies usually still carry a verdict
	if err := json.Unmarshal(raw, out); err != nil {
		return types.WrapError(err, types.KindTransientNetwork, types.ErrNetworkError,
			"facilitator %s returned %d with undecodable body", path, resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// VerifyResponse is the facilitator's verdict on a payment.
type VerifyResponse struct {
	Valid  bool   `json:"isValid"`
	Reason string `json:"invalidReason,omitempty"`
	Payer  string `json:"payer,omitempty"`
}

// UnmarshalJSON accepts the field spellings used by different facilitators.
func (v *VerifyResponse) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	v.Valid = firstBool(m, "isValid", "valid")
	v.Reason = firstString(m, "invalidReason", "errorReason", "error", "reason")
	v.Payer = firstString(m, "payer", "consumer", "from")
	return nil
}

type settleResponse struct {
	m map[string]json.RawMessage
}

func (s *settleResponse) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &s.m)
}

// successKeys are the verdict spellings a settle response may carry.
var successKeys = []string{"success", "valid", "isValid"}

func (s *settleResponse) result() *types.SettlementResult {
	tx := firstString(s.m, "transaction", "txHash", "transactionHash")
	success := firstBool(s.m, successKeys...)
	if !hasAny(s.m, successKeys...) {
		// no verdict field: a settled transaction is the verdict
		success = tx != ""
	}
	return &types.SettlementResult{
		Success: success,
		TxHash:  tx,
		Network: firstString(s.m, "network", "networkId"),
		Payer:   firstString(s.m, "payer", "consumer", "from"),
		Error:   firstString(s.m, "errorReason", "error", "invalidReason"),
	}
}

func hasAny(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func firstBool(m map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		var b bool
		if json.Unmarshal(raw, &b) == nil {
			return b
		}
	}
	return false
}

func firstString(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok || string(raw) == "null" {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if s != "" {
				return s
			}
			continue
		}
		// structured errors: {"message": "..."}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
		return string(raw)
	}
	return ""
}
