package types

import "strings"

// PaymentMethod tags which rail a proof travelled on.
type PaymentMethod string

const (
	MethodDirect      PaymentMethod = "direct"
	MethodFacilitator PaymentMethod = "facilitator"
)

// DirectTransferProof identifies a native transfer the consumer already broadcast.
type DirectTransferProof struct {
	TxHash      string `json:"txHash"`
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress,omitempty"`
	ValueNative string `json:"valueNative,omitempty"` // wei
}

// FacilitatorProof carries a signed EIP-3009 authorization.
type FacilitatorProof struct {
	Payload PaymentPayload `json:"paymentPayload"`
}

// PaymentProof is the evidence a consumer submits. Exactly one variant is set.
type PaymentProof struct {
	Method      PaymentMethod        `json:"method"`
	Direct      *DirectTransferProof `json:"direct,omitempty"`
	Facilitator *FacilitatorProof    `json:"facilitator,omitempty"`
}

// NewDirectProof wraps a direct transfer proof.
func NewDirectProof(p DirectTransferProof) PaymentProof {
	return PaymentProof{Method: MethodDirect, Direct: &p}
}

// NewFacilitatorProof wraps a signed x402 payload.
func NewFacilitatorProof(p PaymentPayload) PaymentProof {
	return PaymentProof{Method: MethodFacilitator, Facilitator: &FacilitatorProof{Payload: p}}
}

// ID returns the identifier recorded with a grant: the tx hash for direct
// transfers, the authorization nonce for facilitator payments.
func (p PaymentProof) ID() string {
	switch p.Method {
	case MethodDirect:
		if p.Direct != nil {
			return strings.ToLower(p.Direct.TxHash)
		}
	case MethodFacilitator:
		if p.Facilitator != nil {
			return strings.ToLower(p.Facilitator.Payload.Payload.Authorization.Nonce)
		}
	}
	return ""
}

// ClaimedConsumer returns the consumer address asserted by the proof.
func (p PaymentProof) ClaimedConsumer() string {
	switch p.Method {
	case MethodDirect:
		if p.Direct != nil {
			return p.Direct.FromAddress
		}
	case MethodFacilitator:
		if p.Facilitator != nil {
			return p.Facilitator.Payload.Payload.Authorization.From
		}
	}
	return ""
}

// Scheme returns the requirements scheme matching the proof's method.
func (p PaymentProof) Scheme() PaymentScheme {
	if p.Method == MethodDirect {
		return SchemeDirect
	}
	return SchemeExact
}
