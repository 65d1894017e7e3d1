package http

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// clientLimiter is a per-client-IP token bucket, adapted from the
// teacher's per-host outbound limiter to the inbound side: one bucket
// per remote address instead of per upstream host.
type clientLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	return &clientLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *clientLimiter) allow(clientIP string) bool {
	l.mu.RLock()
	limiter, exists := l.limiters[clientIP]
	l.mu.RUnlock()
	if exists {
		return limiter.Allow()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists := l.limiters[clientIP]; exists {
		return limiter.Allow()
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[clientIP] = limiter
	return limiter.Allow()
}

// rateLimitMiddleware rejects a client once it exceeds s.limiter's
// per-IP rate, protecting the store/cache behind /indicators/{symbol}
// from being hammered by a single misbehaving poller.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			clientIP = host
		}
		if !s.limiter.allow(clientIP) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
