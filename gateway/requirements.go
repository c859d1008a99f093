package gateway

import (
	"strconv"
	"time"

	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/verification"
)

// DefaultMaxTimeout is how long a consumer has to complete a payment.
const DefaultMaxTimeout = 5 * time.Minute

// Asset describes the EIP-3009 stablecoin accepted on the exact scheme.
type Asset struct {
	Address string
	Name    string
	Version string
}

// Requirements builds payment requirements from a content record. The same
// record always yields the same bytes, so a client can echo them back.
type Requirements struct {
	network    types.Network
	asset      Asset
	pricing    verification.Pricing
	publicURL  string
	maxTimeout time.Duration
	direct     bool
	exact      bool
}

// NewRequirements returns a builder for network. methods selects which
// schemes are advertised.
func NewRequirements(network types.Network, asset Asset, pricing verification.Pricing, methods ...types.PaymentMethod) *Requirements {
	r := &Requirements{
		network:    network,
		asset:      asset,
		pricing:    pricing,
		maxTimeout: DefaultMaxTimeout,
	}
	for _, m := range methods {
		switch m {
		case types.MethodDirect:
			r.direct = true
		case types.MethodFacilitator:
			r.exact = true
		}
	}
	return r
}

// SetPublicURL prefixes resource paths with the gateway's public address.
func (r *Requirements) SetPublicURL(u string) { r.publicURL = u }

// SetMaxTimeout overrides the advertised payment window.
func (r *Requirements) SetMaxTimeout(d time.Duration) {
	if d > 0 {
		r.maxTimeout = d
	}
}

// Build lists the exact entry first, then the direct transfer entry.
func (r *Requirements) Build(rec *types.ContentRecord) *types.X402Response {
	resp := &types.X402Response{X402Version: int(types.X402Version1)}
	if e := r.Exact(rec); e != nil {
		resp.Accepts = append(resp.Accepts, *e)
	}
	if d := r.Direct(rec); d != nil {
		resp.Accepts = append(resp.Accepts, *d)
	}
	return resp
}

// Exact returns the facilitator requirement, or nil when it is not offered.
func (r *Requirements) Exact(rec *types.ContentRecord) *types.PaymentRequirements {
	if !r.exact {
		return nil
	}
	req := r.base(rec)
	req.Scheme = string(types.SchemeExact)
	req.MaxAmountRequired = strconv.FormatUint(rec.PriceMinorUnits, 10)
	req.Asset = r.asset.Address
	req.Extra.Name = r.asset.Name
	req.Extra.Version = r.asset.Version
	return &req
}

// Direct returns the native transfer requirement, or nil when it is not offered.
func (r *Requirements) Direct(rec *types.ContentRecord) *types.PaymentRequirements {
	if !r.direct {
		return nil
	}
	req := r.base(rec)
	req.Scheme = string(types.SchemeDirect)
	req.MaxAmountRequired = r.pricing.NativeAmount(rec.PriceMinorUnits).String()
	req.Asset = types.AssetNative
	return &req
}

// For returns the requirement matching a proof's scheme.
func (r *Requirements) For(rec *types.ContentRecord, scheme types.PaymentScheme) *types.PaymentRequirements {
	if scheme == types.SchemeDirect {
		return r.Direct(rec)
	}
	return r.Exact(rec)
}

func (r *Requirements) base(rec *types.ContentRecord) types.PaymentRequirements {
	return types.PaymentRequirements{
		Network:           string(r.network),
		Resource:          r.publicURL + "/key/" + rec.ID,
		Description:       "Access to content " + rec.ID,
		MimeType:          "application/json",
		PayTo:             rec.Creator,
		MaxTimeoutSeconds: int(r.maxTimeout / time.Second),
		Extra:             types.RequirementsExtra{ContentID: rec.ID},
	}
}

// Network returns the network requirements are priced on.
func (r *Requirements) Network() string { return string(r.network) }
