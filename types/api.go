package types

import "encoding/json"

// HTTP headers used between payflow clients and the gateway.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentRequired = "X-PAYMENT-REQUIRED"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	HeaderConsumerAddress   = "X-Consumer-Address"
	HeaderConsumerSignature = "X-Consumer-Signature"
	HeaderConsumerTimestamp = "X-Consumer-Timestamp"
)

// PayRequest is the body of POST /key/{contentId}. PaymentPayload may be an
// object or a base64 string.
type PayRequest struct {
	PaymentPayload  json.RawMessage `json:"paymentPayload"`
	ConsumerAddress string          `json:"consumerAddress"`
}

// GrantRequest is the body of POST /key/{contentId}/grant.
type GrantRequest struct {
	ConsumerAddress string `json:"consumerAddress"`
	TxHash          string `json:"txHash"`
}

// ErrorResponse is the body of every non-2xx gateway reply other than 402
// payment required. TxHash and ProofID are set when a payment went through
// but the grant did not.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
	TxHash  string `json:"txHash,omitempty"`
	ProofID string `json:"proofId,omitempty"`
}
