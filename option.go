package paygate

import (
	"time"

	"github.com/vitwit/paygate/blobstore"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/facilitator"
	"github.com/vitwit/paygate/grant"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
)

type Option func(*Paygate)

func WithLogger(l logger.Logger) Option {
	return func(p *Paygate) {
		p.log = logger.OrNoop(l)
	}
}

// WithMetrics replaces the default Prometheus recorder. A recorder with a
// Handler method is also served on /metrics.
func WithMetrics(r metrics.Recorder) Option {
	return func(p *Paygate) {
		p.metrics = r
	}
}

// WithTimeout bounds each payment verification.
func WithTimeout(t time.Duration) Option {
	return func(p *Paygate) {
		if t > 0 {
			p.timeout = t
		}
	}
}

func WithChain(c *clients.EVMClient) Option {
	return func(p *Paygate) { p.chain = c }
}

func WithLedger(l ledger.Gateway) Option {
	return func(p *Paygate) { p.ledger = l }
}

func WithBlobStore(s blobstore.Store) Option {
	return func(p *Paygate) { p.blobs = s }
}

func WithFacilitator(f facilitator.Facilitator) Option {
	return func(p *Paygate) { p.facilitator = f }
}

func WithRedis(r *grant.Redis) Option {
	return func(p *Paygate) { p.redis = r }
}
