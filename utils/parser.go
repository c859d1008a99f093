package utils

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vitwit/paygate/types"
)

var validate = validator.New()

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	return validate
}

// ParsePaymentRequirements parses and validates PaymentRequirements from JSON
func ParsePaymentRequirements(data []byte) (*types.PaymentRequirements, error) {
	var req types.PaymentRequirements

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, types.WrapError(err, types.KindValidation, types.ErrInvalidRequirements, "failed to parse payment requirements")
	}

	if err := validate.Struct(&req); err != nil {
		return nil, types.WrapError(err, types.KindValidation, types.ErrInvalidRequirements, "validation failed")
	}

	return &req, nil
}

// ParseX402Response parses a 402 response body and validates every entry.
func ParseX402Response(data []byte) (*types.X402Response, error) {
	var resp types.X402Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, types.WrapError(err, types.KindValidation, types.ErrInvalidRequirements, "failed to parse 402 response")
	}
	if len(resp.Accepts) == 0 {
		return nil, types.NewError(types.KindValidation, types.ErrInvalidRequirements, "402 response lists no accepted payments")
	}
	for i := range resp.Accepts {
		if err := validate.Struct(&resp.Accepts[i]); err != nil {
			return nil, types.WrapError(err, types.KindValidation, types.ErrInvalidRequirements, "accepts[%d] invalid", i)
		}
	}
	return &resp, nil
}

// ParseContentMetadata decodes and validates a metadata document.
func ParseContentMetadata(data []byte) (*types.ContentMetadata, error) {
	var meta types.ContentMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, types.WrapError(err, types.KindInternal, types.ErrInternal, "failed to parse content metadata")
	}
	if err := validate.Struct(&meta); err != nil {
		return nil, types.WrapError(err, types.KindInternal, types.ErrInternal, "content metadata invalid")
	}
	return &meta, nil
}

// DecodePaymentPayload accepts a base64-encoded JSON payload, falling back to raw JSON.
func DecodePaymentPayload(s string) (*types.PaymentPayload, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, types.NewError(types.KindPaymentVerification, types.ErrInvalidPayload, "payment payload is empty")
	}

	var payload types.PaymentPayload
	if raw, ok := decodeBase64(s); ok {
		if err := json.Unmarshal(raw, &payload); err == nil {
			return &payload, nil
		}
	}
	if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, types.WrapError(err, types.KindPaymentVerification, types.ErrInvalidPayload, "payment payload is neither base64 JSON nor JSON")
	}
	return &payload, nil
}

// DecodePaymentPayloadJSON handles a payload embedded in a JSON body, either
// as an object or as a (base64) string.
func DecodePaymentPayloadJSON(raw json.RawMessage) (*types.PaymentPayload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, types.WrapError(err, types.KindPaymentVerification, types.ErrInvalidPayload, "payment payload string")
		}
		return DecodePaymentPayload(s)
	}
	return DecodePaymentPayload(string(raw))
}

// EncodeHeader renders v as base64 JSON for the X-PAYMENT* headers.
func EncodeHeader(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeHeader parses a base64 JSON header value into v.
func DecodeHeader(s string, v any) error {
	raw, ok := decodeBase64(strings.TrimSpace(s))
	if !ok {
		return types.NewError(types.KindValidation, types.ErrInvalidPayload, "header is not base64")
	}
	return json.Unmarshal(raw, v)
}

func decodeBase64(s string) ([]byte, bool) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, true
		}
	}
	return nil, false
}
