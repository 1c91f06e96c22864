package server

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// visitorLimiter applies a per-remote-address token bucket to the control
// endpoints.
type visitorLimiter struct {
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newVisitorLimiter(perSec float64, burst int) *visitorLimiter {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &visitorLimiter{
		visitors: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSec),
		burst:    burst,
	}
}

func (l *visitorLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.obtain(clientAddr(r)).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *visitorLimiter) obtain(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.visitors[id]; ok {
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.visitors[id] = limiter
	return limiter
}

// clientAddr keys the limiter by remote host. The RealIP middleware has
// already rewritten RemoteAddr from forwarding headers when present.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
