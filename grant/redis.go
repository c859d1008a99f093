package grant

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	proofKeyPrefix = "paygate:proof:"
	reconcileKey   = "paygate:reconcile"
)

// Redis holds proof bindings and the reconciliation queue so that several
// gateway replicas share them.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

var (
	_ ProofBinder = (*Redis)(nil)
	_ Reconciler  = (*Redis)(nil)
)

// NewRedis connects to url and pings the server.
func NewRedis(url string, timeout time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return NewRedisWithClient(client, timeout), nil
}

func NewRedisWithClient(client *redis.Client, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Redis{client: client, timeout: timeout}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Bind(ctx context.Context, proofID, contentID, consumer string) error {
	if proofID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := proofKeyPrefix + strings.ToLower(proofID)
	want := bindingValue(contentID, consumer)
	ok, err := r.client.SetNX(ctx, key, want, 0).Result()
	if err != nil {
		return errors.Wrap(err, "bind proof")
	}
	if ok {
		return nil
	}

	have, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "read proof binding")
	}
	if have != want {
		return proofReused(proofID)
	}
	return nil
}

func (r *Redis) Push(ctx context.Context, p Pending) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal pending grant")
	}
	return errors.Wrap(r.client.RPush(ctx, reconcileKey, data).Err(), "push pending grant")
}

func (r *Redis) Pop(ctx context.Context) (*Pending, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.LPop(ctx, reconcileKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "pop pending grant")
	}
	var p Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal pending grant")
	}
	return &p, nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.client.LLen(ctx, reconcileKey).Result()
	if err != nil {
		return 0, errors.Wrap(err, "pending grant count")
	}
	return int(n), nil
}
