package gateway

import (
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const maxLimiters = 10000

// Limiter hands out one token bucket per client IP. The least recently seen
// clients are evicted once maxLimiters is reached.
type Limiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
	rps     rate.Limit
	burst   int
}

// NewLimiter returns a per-IP limiter. rps <= 0 disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	buckets, _ := lru.New[string, *rate.Limiter](maxLimiters)
	return &Limiter{buckets: buckets, rps: rate.Limit(rps), burst: burst}
}

// Allow reports whether ip may make another request now.
func (l *Limiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets.Get(ip)
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets.Add(ip, b)
	}
	l.mu.Unlock()
	return b.Allow()
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
