// Package gateway serves content keys behind x402 payment requirements.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vitwit/paygate/blobstore"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/verification"
)

// Defaults for Config fields left zero.
const (
	DefaultRequestTimeout = 3 * time.Minute
	DefaultPaymentTimeout = 5 * time.Minute
	DefaultMaxBodyBytes   = 64 << 10
)

// Granter writes the access grant for a verified payment.
type Granter interface {
	Grant(ctx context.Context, contentID, consumer, proofID string, expiry int64) (*types.GrantResult, error)
}

// Pinger is a dependency checked by /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr string
	// RequireSignedIdentity makes the hasAccess fast path and /grant demand
	// an EIP-191 signature from the consumer.
	RequireSignedIdentity bool
	IdentityWindow        time.Duration
	// GrantTTL is how long a grant lasts; zero grants never expire.
	GrantTTL       time.Duration
	RequestTimeout time.Duration
	// PaymentTimeout bounds verification, settlement and the grant write,
	// which keep running after the client goes away.
	PaymentTimeout time.Duration
	MaxBodyBytes   int64
	RateLimit      float64
	RateBurst      int
}

func (c *Config) setDefaults() {
	if c.IdentityWindow <= 0 {
		c.IdentityWindow = DefaultIdentityWindow
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = DefaultPaymentTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Server is the content access gateway. It keeps no state of its own
// between requests.
type Server struct {
	cfg          Config
	ledger       ledger.Gateway
	blobs        blobstore.Store
	verifier     verification.Verifier
	grants       Granter
	requirements *Requirements
	limiter      *Limiter
	log          logger.Logger
	metrics      metrics.Recorder
	metricsH     http.Handler
	ready        map[string]Pinger
	now          func() time.Time

	router     chi.Router
	httpServer *http.Server
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = logger.Component(l, "gateway") }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Server) { s.metrics = metrics.OrNoop(r) }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsH = h }
}

// WithReadiness adds a dependency to /ready.
func WithReadiness(name string, p Pinger) Option {
	return func(s *Server) { s.ready[name] = p }
}

// WithClock overrides the time source used for identity windows and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(cfg Config, l ledger.Gateway, blobs blobstore.Store, v verification.Verifier, g Granter, reqs *Requirements, opts ...Option) *Server {
	cfg.setDefaults()
	s := &Server{
		cfg:          cfg,
		ledger:       l,
		blobs:        blobs,
		verifier:     v,
		grants:       g,
		requirements: reqs,
		limiter:      NewLimiter(cfg.RateLimit, cfg.RateBurst),
		log:          logger.NoopLogger{},
		metrics:      metrics.NoopRecorder{},
		ready:        map[string]Pinger{"ledger": l, "blobstore": blobs},
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    64 << 10,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.recoverer)

	r.Get("/health", s.health)
	r.Get("/ready", s.readiness)
	if s.metricsH != nil {
		r.Handle("/metrics", s.metricsH)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requestID)
		r.Use(s.accessLog)
		r.Use(s.rateLimit)
		r.Use(s.timeout)
		r.Use(s.bodyLimit)

		r.Get("/key/{contentId}", s.getKey)
		r.Post("/key/{contentId}", s.postKey)
		r.Post("/key/{contentId}/grant", s.postGrant)
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on cfg.Addr until Shutdown.
func (s *Server) Start() error {
	s.log.Info("starting gateway", map[string]any{"addr": s.cfg.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("gateway stopped", map[string]any{"addr": s.cfg.Addr, "error": err})
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
