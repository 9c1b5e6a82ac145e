// Package ratelimiter bounds request rates per storage host.
package ratelimiter

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MapLimiter keeps one token bucket per host. Buckets unused for idleTTL are dropped
// on the next sweep; sweeps run at most once per idleTTL.
type MapLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	*rate.Limiter
	lastUsed time.Time
}

// New returns nil, which never limits, when rps or burst is not positive.
func New(rps float64, burst int, idleTTL time.Duration) *MapLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &MapLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
	}
}

func (l *MapLimiter) Allow(host string, now time.Time) bool {
	b := l.bucketFor(host, now)
	return b == nil || b.AllowN(now, 1)
}

// Wait blocks until host has a free token or ctx is done.
func (l *MapLimiter) Wait(ctx context.Context, host string) error {
	b := l.bucketFor(host, time.Now())
	if b == nil {
		return nil
	}
	return b.Wait(ctx)
}

// Hosts reports how many buckets are currently tracked.
func (l *MapLimiter) Hosts() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *MapLimiter) bucketFor(host string, now time.Time) *bucket {
	if l == nil {
		return nil
	}
	key := normalizeHost(host)
	if key == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastUsed = now
	return b
}

func (l *MapLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for k, b := range l.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

// normalizeHost folds case and drops default ports so example.com and
// EXAMPLE.com:443 share a bucket.
func normalizeHost(raw string) string {
	h := strings.ToLower(strings.TrimSpace(raw))
	if host, port, err := net.SplitHostPort(h); err == nil && (port == "80" || port == "443") {
		return host
	}
	return h
}
