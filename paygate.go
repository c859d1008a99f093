// Package paygate assembles the content access gateway from configuration:
// chain client, ledger, blob store, payment verifiers, grant coordinator and
// the HTTP server in front of them.
package paygate

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/vitwit/paygate/blobstore"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/config"
	"github.com/vitwit/paygate/facilitator"
	"github.com/vitwit/paygate/gateway"
	"github.com/vitwit/paygate/grant"
	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/publish"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
	"github.com/vitwit/paygate/verification"
)

// Version information
const (
	Version         = "0.3.0"
	ProtocolVersion = types.X402Version1
)

// metadataItemBytes bounds what the blob cache keeps; content blobs are
// larger and always go to the store.
const metadataItemBytes = 64 << 10

// Paygate owns every long-lived component of a gateway process.
type Paygate struct {
	cfg     *config.Config
	log     logger.Logger
	metrics metrics.Recorder
	timeout time.Duration

	chain       *clients.EVMClient
	ledger      ledger.Gateway
	blobs       blobstore.Store
	facilitator facilitator.Facilitator
	redis       *grant.Redis
	pricing     verification.Pricing
	verifier    *verification.Service
	coordinator *grant.Coordinator
	server      *gateway.Server

	closers []func() error
}

// New builds a gateway from cfg. Components supplied through options are
// used as given; the rest are created from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Paygate, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	p := &Paygate{
		cfg:     cfg,
		log:     logger.NoopLogger{},
		timeout: verification.DefaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}

	var mh http.Handler
	if p.metrics == nil {
		prom := metrics.NewPrometheusRecorder(nil)
		p.metrics, mh = prom, prom.Handler()
	} else if h, ok := p.metrics.(interface{ Handler() http.Handler }); ok {
		mh = h.Handler()
	}

	if err := p.build(ctx, mh); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Paygate) build(ctx context.Context, mh http.Handler) error {
	cfg := p.cfg
	network := types.Network(cfg.Network)

	if p.chain == nil && cfg.RPCURL != "" && (cfg.HasMethod(types.MethodDirect) || cfg.Ledger == config.LedgerEVM) {
		chain, err := clients.NewEVMClient(ctx, network, cfg.RPCURL, p.log)
		if err != nil {
			return err
		}
		p.chain = chain
		p.closers = append(p.closers, func() error { chain.Close(); return nil })
	}

	if err := p.buildLedger(); err != nil {
		return err
	}
	if err := p.buildBlobs(); err != nil {
		return err
	}

	var err error
	p.pricing, err = verification.NewPricing(cfg.NativeUSDRate, cfg.Slippage)
	if err != nil {
		return err
	}

	vopts := []verification.Option{
		verification.WithLogger(p.log),
		verification.WithMetrics(p.metrics),
		verification.WithTimeout(p.timeout),
	}
	if cfg.HasMethod(types.MethodDirect) {
		if p.chain == nil {
			return types.NewError(types.KindValidation, types.ErrConfigError, "direct transfers need an RPC endpoint")
		}
		vopts = append(vopts, verification.WithDirect(verification.NewDirectVerifier(p.chain, p.pricing, p.log)))
	}
	if cfg.HasMethod(types.MethodFacilitator) {
		if p.facilitator == nil {
			p.facilitator = facilitator.New(cfg.FacilitatorURL,
				facilitator.WithLogger(p.log), facilitator.WithMetrics(p.metrics))
		}
		var token clients.ERC20
		if p.chain != nil {
			token = clients.NewERC20(p.chain, cfg.AssetAddress)
		}
		vopts = append(vopts, verification.WithFacilitator(verification.NewFacilitatorVerifier(p.facilitator, token, p.log)))
	}
	p.verifier = verification.NewService(vopts...)

	gopts := []grant.Option{grant.WithLogger(p.log), grant.WithMetrics(p.metrics)}
	if cfg.RedisURL != "" && p.redis == nil {
		r, err := grant.NewRedis(cfg.RedisURL, cfg.RedisTimeout)
		if err != nil {
			return err
		}
		p.redis = r
		p.closers = append(p.closers, r.Close)
	}
	binder, err := p.buildBinder()
	if err != nil {
		return err
	}
	if binder != nil {
		gopts = append(gopts, grant.WithBinder(binder))
	}
	if p.redis != nil {
		gopts = append(gopts, grant.WithReconciler(p.redis))
	}
	p.coordinator = grant.NewCoordinator(p.ledger, gopts...)

	reqs := gateway.NewRequirements(network, gateway.Asset{
		Address: cfg.AssetAddress,
		Name:    cfg.AssetName,
		Version: cfg.AssetVersion,
	}, p.pricing, p.verifier.Methods()...)
	reqs.SetPublicURL(cfg.PublicURL)

	sopts := []gateway.Option{gateway.WithLogger(p.log), gateway.WithMetrics(p.metrics)}
	if mh != nil {
		sopts = append(sopts, gateway.WithMetricsHandler(mh))
	}
	if p.redis != nil {
		sopts = append(sopts, gateway.WithReadiness("redis", p.redis))
	}
	p.server = gateway.NewServer(gateway.Config{
		Addr:                  cfg.Addr,
		RequireSignedIdentity: cfg.RequireSignedIdentity,
		IdentityWindow:        cfg.IdentityWindow,
		GrantTTL:              cfg.GrantTTL,
		RequestTimeout:        cfg.RequestTimeout,
		MaxBodyBytes:          cfg.MaxBodyBytes,
		RateLimit:             cfg.RateLimit,
		RateBurst:             cfg.RateBurst,
	}, p.ledger, p.blobs, p.verifier, p.coordinator, reqs, sopts...)
	return nil
}

func (p *Paygate) buildLedger() error {
	if p.ledger != nil {
		return nil
	}
	cfg := p.cfg
	switch cfg.Ledger {
	case config.LedgerEVM:
		if p.chain == nil {
			return types.NewError(types.KindValidation, types.ErrConfigError, "the evm ledger needs an RPC endpoint")
		}
		key, err := utils.PrivateKeyFromHex(cfg.LedgerKey.Value())
		if err != nil {
			return types.WrapError(err, types.KindValidation, types.ErrConfigError, "ledger key")
		}
		reg, err := ledger.NewRegistry(p.chain, cfg.RegistryAddress, key, p.log)
		if err != nil {
			return err
		}
		p.ledger = reg
	case config.LedgerSQLite:
		db, err := ledger.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		p.ledger = db
		p.closers = append(p.closers, db.Close)
	default:
		p.ledger = ledger.NewMemory()
	}
	return nil
}

// buildBinder picks where proof bindings live: Redis when configured, else
// the sqlite ledger, else a sqlite file beside the evm ledger. The memory
// ledger keeps them in process.
func (p *Paygate) buildBinder() (grant.ProofBinder, error) {
	if p.redis != nil {
		return p.redis, nil
	}
	if store, ok := p.ledger.(grant.ProofStore); ok {
		return grant.NewStoreBinder(store), nil
	}
	if p.cfg.Ledger != config.LedgerEVM {
		return nil, nil
	}
	db, err := ledger.OpenSQLite(p.cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "proof binding store")
	}
	p.closers = append(p.closers, db.Close)
	return grant.NewStoreBinder(db), nil
}

func (p *Paygate) buildBlobs() error {
	if p.blobs == nil {
		if p.cfg.IPFSURL != "" {
			p.blobs = blobstore.NewIPFS(p.cfg.IPFSURL, p.cfg.IPFSTimeout, p.log)
		} else {
			p.blobs = blobstore.NewMemory()
		}
	}
	if p.cfg.MetadataCacheSize > 0 {
		cached, err := blobstore.NewCached(p.blobs, p.cfg.MetadataCacheSize, metadataItemBytes)
		if err != nil {
			return errors.Wrap(err, "metadata cache")
		}
		p.blobs = cached
	}
	return nil
}

func (p *Paygate) Server() *gateway.Server { return p.server }

func (p *Paygate) Ledger() ledger.Gateway { return p.ledger }

func (p *Paygate) Blobs() blobstore.Store { return p.blobs }

func (p *Paygate) Coordinator() *grant.Coordinator { return p.coordinator }

func (p *Paygate) Pricing() verification.Pricing { return p.pricing }

func (p *Paygate) Chain() *clients.EVMClient { return p.chain }

// Publisher returns a publisher registering content as creator.
func (p *Paygate) Publisher(creator string) (*publish.Publisher, error) {
	return publish.New(p.ledger, p.blobs, creator, publish.WithLogger(p.log), publish.WithMetrics(p.metrics))
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to grace.
func (p *Paygate) Run(ctx context.Context, grace time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		p.log.Info("paygate starting", map[string]any{"network": p.cfg.Network, "ledger": p.cfg.Ledger, "version": Version})
		errc <- p.server.Start()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	p.log.Info("gateway shutting down", nil)
	if err := p.server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (p *Paygate) Close() error {
	var first error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}
