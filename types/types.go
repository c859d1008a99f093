package types

import (
	"fmt"
	"time"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentScheme represents the payment schemes advertised in a 402 response
type PaymentScheme string

const (
	// SchemeExact is the facilitator-mediated EIP-3009 stablecoin scheme.
	SchemeExact PaymentScheme = "exact"
	// SchemeDirect is a plain native-token transfer to the creator.
	SchemeDirect PaymentScheme = "direct"
)

// AssetNative marks requirements priced in the network's native token.
const AssetNative = "native"

// StablecoinDecimals is the precision of prices stored on the ledger.
const StablecoinDecimals = 6

// RequirementsExtra carries scheme specific details. It is a struct rather
// than a map so that encoding the same requirements twice yields identical bytes.
type RequirementsExtra struct {
	ContentID string `json:"contentId"`

	// EIP-712 domain name and version of the stable asset (exact scheme only).
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// PaymentRequirements defines what the gateway accepts as payment for one content item.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use ("exact" or "direct").
	Scheme string `json:"scheme" validate:"required,oneof=exact direct"`

	// Network the payment must be made on.
	Network string `json:"network" validate:"required"`

	// Amount required in atomic units of the asset.
	// Represented as a string because Go does not support uint256.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required,numeric"`

	// Resource being paid for.
	Resource string `json:"resource" validate:"required"`

	Description string `json:"description"`

	MimeType string `json:"mimeType"`

	// Address to which the payment must be sent.
	PayTo string `json:"payTo" validate:"required,eth_addr"`

	// Maximum time in seconds for the payment to complete.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds" validate:"gt=0"`

	// EIP-3009 token contract, or AssetNative.
	Asset string `json:"asset" validate:"required"`

	Extra RequirementsExtra `json:"extra"`
}

// X402Response is the body of a 402 Payment Required response.
type X402Response struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// List of payment requirements that the resource server accepts.
	Accepts []PaymentRequirements `json:"accepts"`

	// Message from the resource server indicating any processing error.
	Error string `json:"error,omitempty"`
}

// Find returns the first accepted requirement with the given scheme.
func (r *X402Response) Find(scheme PaymentScheme) (*PaymentRequirements, bool) {
	for i := range r.Accepts {
		if r.Accepts[i].Scheme == string(scheme) {
			return &r.Accepts[i], true
		}
	}
	return nil, false
}

// PaymentPayload is the signed x402 payment a client submits.
type PaymentPayload struct {
	X402Version int `json:"x402Version"`

	Scheme string `json:"scheme"`

	Network string `json:"network"`

	Payload EIP3009Payload `json:"payload"`
}

// Validate checks that the payload has the fields a facilitator needs.
func (p *PaymentPayload) Validate() error {
	if p.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}
	if p.Scheme == "" {
		return fmt.Errorf("paymentPayload.scheme is required")
	}
	if p.Network == "" {
		return fmt.Errorf("paymentPayload.network is required")
	}
	if p.Payload.Signature == "" {
		return fmt.Errorf("paymentPayload.payload.signature is required")
	}
	a := p.Payload.Authorization
	if a.From == "" || a.To == "" || a.Value == "" || a.Nonce == "" {
		return fmt.Errorf("paymentPayload.payload.authorization is incomplete")
	}
	return nil
}

type EIP3009Payload struct {
	Signature     string               `json:"signature"` // The 65-byte ECDSA signature (r,s,v)
	Authorization EIP3009Authorization `json:"authorization"`
}

type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`       // uint256
	ValidAfter  string `json:"validAfter"`  // uint256 timestamp
	ValidBefore string `json:"validBefore"` // uint256 timestamp
	Nonce       string `json:"nonce"`       // bytes32
}

// VerifyRequest represents the body sent to a facilitator's /verify and /settle.
type VerifyRequest struct {
	X402Version int `json:"x402Version"`

	PaymentPayload PaymentPayload `json:"paymentPayload"`

	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// Validate checks that the VerifyRequest contains all required fields.
func (v *VerifyRequest) Validate() error {
	if v.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}
	if err := v.PaymentPayload.Validate(); err != nil {
		return err
	}
	return v.PaymentRequirements.Validate()
}

// VerificationResult contains the outcome of checking a payment proof.
// Business failures are reported with Valid=false and a Reason code.
type VerificationResult struct {
	Valid         bool   `json:"valid"`
	Consumer      string `json:"consumer,omitempty"`
	SettledTxHash string `json:"settledTxHash,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Invalid builds a failed VerificationResult.
func Invalid(reason, format string, args ...any) *VerificationResult {
	return &VerificationResult{
		Valid:  false,
		Reason: reason,
		Error:  fmt.Sprintf(format, args...),
	}
}

// SettlementResult contains the result of a facilitator settlement
type SettlementResult struct {
	Success bool   `json:"success"`
	TxHash  string `json:"transaction,omitempty"`
	Network string `json:"network,omitempty"`
	Payer   string `json:"payer,omitempty"`
	Error   string `json:"errorReason,omitempty"`
}

// GrantResult is the outcome of a ledger grant write.
type GrantResult struct {
	Success     bool   `json:"success"`
	GrantTxHash string `json:"grantTxHash,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Verification failure reasons.
const (
	ReasonTransactionNotFound = "TransactionNotFound"
	ReasonTransactionPending  = "TransactionPending"
	ReasonTransactionFailed   = "TransactionFailed"
	ReasonSenderMismatch      = "SenderMismatch"
	ReasonRecipientMismatch   = "RecipientMismatch"
	ReasonInsufficient        = "InsufficientPayment"
	ReasonInvalidPayload      = "InvalidPayload"
	ReasonVerificationFailed  = "PaymentVerificationFailed"
	ReasonSettlementFailed    = "PaymentSettlementFailed"
	ReasonProofReused         = "ProofReused"
)

func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}

	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}

	if pr.MaxAmountRequired == "" {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is required")
	}

	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}

	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}

	if pr.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("paymentRequirements.maxTimeoutSeconds must be greater than 0")
	}

	return nil
}

// Timeout returns MaxTimeoutSeconds as a duration.
func (pr *PaymentRequirements) Timeout() time.Duration {
	return time.Duration(pr.MaxTimeoutSeconds) * time.Second
}
