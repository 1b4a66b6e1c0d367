// Rate limiter for the admin endpoints.
// Simple in-memory fixed window per client IP.
package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter caps requests per client IP within a fixed window.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*quota
	limit     int           // max requests per window
	window    time.Duration // time window
	lastSweep time.Time
	now       func() time.Time
}

type quota struct {
	remaining int
	started   time.Time
}

// NewRateLimiter allows limit requests per window for each IP.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*quota),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow consumes one request for ip and reports whether it fit the window.
func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= 2*l.window {
		l.sweep(now)
	}

	q, ok := l.clients[ip]
	if !ok || now.Sub(q.started) >= l.window {
		l.clients[ip] = &quota{remaining: l.limit - 1, started: now}
		return true
	}

	if q.remaining > 0 {
		q.remaining--
		return true
	}
	return false
}

// RetryAfter is the number of seconds until ip gets a fresh window.
func (l *RateLimiter) RetryAfter(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, ok := l.clients[ip]
	if !ok {
		return 0
	}
	left := l.window - l.now().Sub(q.started)
	if left < 0 {
		return 0
	}
	return int(left.Seconds()) + 1
}

// sweep drops clients idle for two windows. Caller holds mu.
func (l *RateLimiter) sweep(now time.Time) {
	for ip, q := range l.clients {
		if now.Sub(q.started) > 2*l.window {
			delete(l.clients, ip)
		}
	}
	l.lastSweep = now
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(l.RetryAfter(ip)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then the remote address
// without its port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
