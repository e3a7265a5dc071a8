package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an idle client's bucket is kept.
const limiterIdleTTL = 10 * time.Minute

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perMinute, burst int) *rateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
	}
}

func (l *rateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// sweep drops buckets idle for longer than limiterIdleTTL.
func (l *rateLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(l.buckets, ip)
		}
	}
}

func (l *rateLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterIdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

// clientIP returns the remote IP of r without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
