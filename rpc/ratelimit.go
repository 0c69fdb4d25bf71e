package rpc

import (
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"lnsim/observability/metrics"
)

const maxTrackedClients = 1024

// ipRateLimiter keeps one token bucket per client address. The least recently
// seen clients are evicted once maxTrackedClients is reached.
type ipRateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients *lru.Cache
}

func newIPRateLimiter(perSecond float64, burst int) *ipRateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	clients, err := lru.New(maxTrackedClients)
	if err != nil {
		return nil
	}
	return &ipRateLimiter{limit: rate.Limit(perSecond), burst: burst, clients: clients}
}

func (l *ipRateLimiter) allow(ip string) bool {
	if l == nil || ip == "" {
		return true
	}
	l.mu.Lock()
	var limiter *rate.Limiter
	if v, ok := l.clients.Get(ip); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(ip, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *handlers) rateLimit(l *ipRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(clientIP(r)) {
				metrics.RPC().RecordThrottle("rate_limit")
				h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
