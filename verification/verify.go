// Package verification checks payment proofs for both payment rails.
package verification

import (
	"context"
	"time"

	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
)

// DefaultTimeout bounds one verification including facilitator settlement.
const DefaultTimeout = 2 * time.Minute

// Verifier checks a payment proof against the requirements it claims to satisfy.
type Verifier interface {
	Verify(ctx context.Context, proof types.PaymentProof, reqs *types.PaymentRequirements) (*types.VerificationResult, error)
}

var _ Verifier = (*Service)(nil)

// Service dispatches proofs to the verifier for their payment method.
type Service struct {
	direct      *DirectVerifier
	facilitator *FacilitatorVerifier
	timeout     time.Duration
	log         logger.Logger
	metrics     metrics.Recorder
}

type Option func(*Service)

func WithDirect(d *DirectVerifier) Option {
	return func(s *Service) { s.direct = d }
}

func WithFacilitator(f *FacilitatorVerifier) Option {
	return func(s *Service) { s.facilitator = f }
}

func WithTimeout(t time.Duration) Option {
	return func(s *Service) { s.timeout = t }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = logger.Component(l, "verification") }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) { s.metrics = metrics.OrNoop(r) }
}

func NewService(opts ...Option) *Service {
	s := &Service{
		timeout: DefaultTimeout,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Methods reports which payment methods have a verifier configured.
func (s *Service) Methods() []types.PaymentMethod {
	var out []types.PaymentMethod
	if s.facilitator != nil {
		out = append(out, types.MethodFacilitator)
	}
	if s.direct != nil {
		out = append(out, types.MethodDirect)
	}
	return out
}

// Verify checks proof against reqs. Business failures come back as a result
// with Valid=false; errors mean the check could not be completed.
func (s *Service) Verify(ctx context.Context, proof types.PaymentProof, reqs *types.PaymentRequirements) (*types.VerificationResult, error) {
	if reqs == nil {
		return nil, types.NewError(types.KindInternal, types.ErrInvalidRequirements, "requirements are required")
	}
	if err := reqs.Validate(); err != nil {
		return nil, types.WrapError(err, types.KindInternal, types.ErrInvalidRequirements, "invalid requirements")
	}
	if proof.Scheme() != types.PaymentScheme(reqs.Scheme) {
		return types.Invalid(types.ReasonInvalidPayload, "%s proof cannot satisfy %s requirements", proof.Method, reqs.Scheme), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.dispatch(ctx, proof, reqs)

	labels := map[string]string{"method": string(proof.Method), "outcome": outcome(res, err)}
	s.metrics.IncCounter(metrics.Verifications, labels)
	metrics.Since(s.metrics, metrics.Verifications, start, map[string]string{"method": string(proof.Method)})

	switch {
	case err != nil:
		s.log.Warn("verification error", map[string]any{"method": proof.Method, "proof": proof.ID(), "error": err})
	case !res.Valid:
		s.log.Info("payment rejected", map[string]any{"method": proof.Method, "proof": proof.ID(), "reason": res.Reason, "detail": res.Error})
	}
	return res, err
}

func (s *Service) dispatch(ctx context.Context, proof types.PaymentProof, reqs *types.PaymentRequirements) (*types.VerificationResult, error) {
	switch proof.Method {
	case types.MethodDirect:
		if s.direct == nil {
			return types.Invalid(types.ReasonInvalidPayload, "direct transfers are not accepted"), nil
		}
		return s.direct.Verify(ctx, proof.Direct, reqs)
	case types.MethodFacilitator:
		if s.facilitator == nil {
			return types.Invalid(types.ReasonInvalidPayload, "facilitator payments are not accepted"), nil
		}
		return s.facilitator.Verify(ctx, proof.Facilitator, reqs)
	default:
		return types.Invalid(types.ReasonInvalidPayload, "unknown payment method %q", proof.Method), nil
	}
}

func outcome(res *types.VerificationResult, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeError
	case res == nil || !res.Valid:
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeOK
	}
}
