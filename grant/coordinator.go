// Package grant turns verified payments into durable ledger grants.
package grant

import (
	"context"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vitwit/paygate/ledger"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

// Retry policy for the grant write.
const (
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
)

// Coordinator writes exactly one logical grant per (content, consumer) pair.
// The write is mandatory: a failure is returned to the caller and queued for
// reconciliation, never swallowed.
type Coordinator struct {
	ledger         ledger.Gateway
	binder         ProofBinder
	reconciler     Reconciler
	attempts       int
	backoff        time.Duration
	confirmTimeout time.Duration
	group          singleflight.Group
	log            logger.Logger
	metrics        metrics.Recorder
}

type Option func(*Coordinator)

func WithBinder(b ProofBinder) Option {
	return func(c *Coordinator) { c.binder = b }
}

func WithReconciler(r Reconciler) Option {
	return func(c *Coordinator) { c.reconciler = r }
}

// WithRetry sets the attempt count and the base of the doubling backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.backoff = backoff
	}
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.confirmTimeout = d }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.log = logger.Component(l, "grant") }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = metrics.OrNoop(r) }
}

func NewCoordinator(l ledger.Gateway, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:         l,
		binder:         NewMemoryBinder(),
		reconciler:     NewMemoryReconciler(),
		attempts:       DefaultAttempts,
		backoff:        DefaultBackoff,
		confirmTimeout: GatewayConfirmTimeout,
		log:            logger.NoopLogger{},
		metrics:        metrics.NoopRecorder{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Reconciler returns the queue failed grants are pushed to.
func (c *Coordinator) Reconciler() Reconciler { return c.reconciler }

// Grant binds proofID to the pair and writes the grant, retrying up to the
// configured attempts. Concurrent calls for the same pair share one write.
// Every failure other than a reused proof queues the payment for
// reconciliation.
func (c *Coordinator) Grant(ctx context.Context, contentID, consumer, proofID string, expiry int64) (*types.GrantResult, error) {
	return c.grant(ctx, types.AccessGrant{
		ContentID:       contentID,
		Consumer:        consumer,
		PaymentProofID:  proofID,
		ExpiryTimestamp: expiry,
	}, true)
}

// grant runs one grant. When queue is false failures are left to the caller.
func (c *Coordinator) grant(ctx context.Context, g types.AccessGrant, queue bool) (*types.GrantResult, error) {
	fail := func(err error, attempts int) (*types.GrantResult, error) {
		if queue {
			c.enqueue(g, err, attempts)
		}
		return &types.GrantResult{Success: false, Error: err.Error()}, err
	}

	if err := utils.ValidateContentID(g.ContentID); err != nil {
		return fail(err, 0)
	}
	if err := utils.ValidateAddress("consumer", g.Consumer); err != nil {
		return fail(err, 0)
	}
	if err := c.binder.Bind(ctx, g.PaymentProofID, g.ContentID, g.Consumer); err != nil {
		if types.IsKind(err, types.KindPaymentVerification) {
			return &types.GrantResult{Success: false, Error: err.Error()}, err
		}
		return fail(writeFailed(g, err, 0), 0)
	}

	key := g.ContentID + "|" + strings.ToLower(g.Consumer)
	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.write(ctx, g)
	})
	if shared {
		c.log.Debug("grant shared with in-flight call", map[string]any{"content": g.ContentID, "consumer": g.Consumer})
	}
	if err != nil {
		// only the caller that ran the write queues it
		if shared {
			return &types.GrantResult{Success: false, Error: err.Error()}, err
		}
		return fail(err, attemptsOf(err))
	}
	res := *v.(*types.GrantResult)
	return &res, nil
}

func (c *Coordinator) write(ctx context.Context, g types.AccessGrant) (*types.GrantResult, error) {
	start := time.Now()
	defer metrics.Since(c.metrics, metrics.Grants, start, nil)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				break
			}
		}
		attempts++

		hash, err := c.attemptOnce(ctx, g)
		if err == nil {
			c.metrics.IncCounter(metrics.Grants, map[string]string{"outcome": metrics.OutcomeOK})
			c.log.Info("access granted", map[string]any{
				"content": g.ContentID, "consumer": g.Consumer, "proof": g.PaymentProofID, "tx": hash, "attempts": attempts,
			})
			return &types.GrantResult{Success: true, GrantTxHash: hash}, nil
		}
		lastErr = err

		if types.IsUserRejection(err) || IsConfirmationTimeout(err) || types.IsKind(err, types.KindNotFound) {
			break
		}
		c.log.Warn("grant attempt failed", map[string]any{"content": g.ContentID, "attempt": attempts, "error": err})
	}

	c.metrics.IncCounter(metrics.Grants, map[string]string{"outcome": metrics.OutcomeError})
	return nil, writeFailed(g, lastErr, attempts)
}

func writeFailed(g types.AccessGrant, cause error, attempts int) error {
	kind := types.KindGrantWrite
	code := types.ErrGrantFailed
	if types.IsUserRejection(cause) {
		kind, code = types.KindUserRejected, types.ErrUserRejected
	}
	return types.WrapError(cause, kind, code, "grant for content %s failed after %d attempt(s)", g.ContentID, attempts).
		WithData(map[string]string{
			"proofId":   g.PaymentProofID,
			"contentId": g.ContentID,
			"consumer":  g.Consumer,
			"attempts":  strconv.Itoa(attempts),
		})
}

func attemptsOf(err error) int {
	if e, ok := types.AsError(err); ok {
		if data, ok := e.Data.(map[string]string); ok {
			n, _ := strconv.Atoi(data["attempts"])
			return n
		}
	}
	return 0
}

func (c *Coordinator) attemptOnce(ctx context.Context, g types.AccessGrant) (string, error) {
	hash, err := c.ledger.GrantAccess(ctx, g)
	if err != nil {
		return "", err
	}
	if _, err := Confirm(ctx, c.ledger, hash, c.confirmTimeout); err != nil {
		return hash, err
	}
	return hash, nil
}

func (c *Coordinator) enqueue(g types.AccessGrant, cause error, attempts int) {
	p := Pending{
		ContentID: g.ContentID,
		Consumer:  g.Consumer,
		ProofID:   g.PaymentProofID,
		Expiry:    g.ExpiryTimestamp,
		Attempts:  attempts,
	}
	c.push(p, cause)
}

func (c *Coordinator) push(p Pending, cause error) {
	// the request context may already be gone
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if cause != nil {
		p.Error = cause.Error()
	}
	p.FailedAt = time.Now().UTC()
	if err := c.reconciler.Push(ctx, p); err != nil {
		c.log.Error("could not queue ungranted payment", map[string]any{"proof": p.ProofID, "content": p.ContentID, "error": err})
		return
	}
	c.log.Error("payment requires manual reconciliation", map[string]any{"proof": p.ProofID, "content": p.ContentID, "consumer": p.Consumer})
}

// Reconcile replays up to limit queued grants, each at most once per run.
// Entries that fail again go back to the end of the queue. It returns how
// many succeeded.
func (c *Coordinator) Reconcile(ctx context.Context, limit int) (int, error) {
	queued, err := c.reconciler.Len(ctx)
	if err != nil {
		return 0, err
	}
	if queued < limit {
		limit = queued
	}

	done := 0
	for i := 0; i < limit; i++ {
		p, err := c.reconciler.Pop(ctx)
		if err != nil {
			return done, err
		}
		if p == nil {
			break
		}
		_, err = c.grant(ctx, types.AccessGrant{
			ContentID:       p.ContentID,
			Consumer:        p.Consumer,
			PaymentProofID:  p.ProofID,
			ExpiryTimestamp: p.Expiry,
		}, false)
		if err == nil {
			done++
			continue
		}
		if types.IsKind(err, types.KindPaymentVerification) {
			c.log.Error("dropping queued grant whose proof is bound elsewhere", map[string]any{"proof": p.ProofID, "content": p.ContentID, "error": err})
			continue
		}
		c.log.Warn("reconciliation retry failed", map[string]any{"proof": p.ProofID, "error": err})
		p.Attempts += attemptsOf(err)
		c.push(*p, err)
	}
	return done, nil
}
