// Package governor implements traffic shaping for downloads: concurrency
// gating, a lazily-refilling token-bucket bandwidth limiter, and
// download-domain / link-expiry policy, following an
// atomic-counter RAII-release idiom from internal/circuit/breaker.go.
package governor

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimbusgate/gateway/pkg/gwerrors"
	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

// Release is returned by Acquire; callers must call it exactly once,
// typically via defer, to give back the concurrency slot.
type Release func()

// ConcurrencyGate bounds the number of simultaneously active downloads.
// A zero-value max means unlimited.
type ConcurrencyGate struct {
	max     int32
	current int32
}

// NewConcurrencyGate creates a gate allowing up to max concurrent holders.
// max <= 0 means unlimited.
func NewConcurrencyGate(max int32) *ConcurrencyGate {
	return &ConcurrencyGate{max: max}
}

// Acquire takes a slot, or returns an error immediately if the gate is
// already at capacity. The gate rejects rather than queues.
func (g *ConcurrencyGate) Acquire() (Release, error) {
	if g.max <= 0 {
		return func() {}, nil
	}

	for {
		cur := atomic.LoadInt32(&g.current)
		if cur >= g.max {
			return nil, gwerrors.Transient("governor", "concurrency limit reached", nil)
		}
		if atomic.CompareAndSwapInt32(&g.current, cur, cur+1) {
			var once sync.Once
			return func() {
				once.Do(func() { atomic.AddInt32(&g.current, -1) })
			}, nil
		}
	}
}

// InUse reports the current number of held slots, for metrics.
func (g *ConcurrencyGate) InUse() int32 { return atomic.LoadInt32(&g.current) }

// TokenBucket is a lazily-refilling bandwidth limiter: capacity bytes,
// refilled at rate bytes/sec, computed from elapsed wall time on each call
// rather than a background ticker.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64 // bytes/sec, 0 = unlimited
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a bucket with the given capacity and refill rate
// in bytes/sec. rate <= 0 means unlimited (WaitN never blocks).
func NewTokenBucket(capacity, rateBPS int64) *TokenBucket {
	cap64 := float64(capacity)
	if cap64 <= 0 {
		cap64 = float64(rateBPS)
	}
	return &TokenBucket{
		capacity:   cap64,
		rate:       float64(rateBPS),
		tokens:     cap64,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (b *TokenBucket) refillLocked() {
	if b.rate <= 0 {
		return
	}
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// TryConsume removes up to n bytes' worth of tokens and returns how many it
// actually took: min(n, available). Never blocks.
func (b *TokenBucket) TryConsume(n int64) int64 {
	if b.rate <= 0 {
		return n
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()

	take := float64(n)
	if take > b.tokens {
		take = b.tokens
	}
	b.tokens -= take
	return int64(take)
}

// WaitN blocks, sleeping in short increments, until n bytes of budget are
// available or ctx is cancelled. Implements stream.Limiter.
func (b *TokenBucket) WaitN(ctx context.Context, n int) error {
	remaining := int64(n)
	for remaining > 0 {
		took := b.TryConsume(remaining)
		remaining -= took
		if remaining == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

// DomainPolicy checks request hosts against the configured download domain
// and reports the configured link expiry.
type DomainPolicy struct {
	settings gwtypes.DownloadSettings
}

// NewDomainPolicy wraps the process-wide download settings.
func NewDomainPolicy(settings gwtypes.DownloadSettings) *DomainPolicy {
	return &DomainPolicy{settings: settings}
}

// Allowed reports whether host matches the configured download domain.
// An unconfigured domain allows everything. host is normalized the same
// way the configured domain is: lowercased, with any protocol prefix,
// port suffix, and trailing slash stripped.
func (p *DomainPolicy) Allowed(host string) bool {
	if p.settings.DownloadDomain == "" {
		return true
	}
	return normalizeHost(host) == normalizeHost(p.settings.DownloadDomain)
}

// normalizeHost lowercases host, strips a leading "scheme://", a trailing
// "/", and a trailing ":port".
func normalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	h = strings.TrimSuffix(h, "/")
	if i := strings.LastIndex(h, ":"); i >= 0 && !strings.Contains(h[i+1:], ":") {
		h = h[:i]
	}
	return h
}

// Expiry returns the link expiry duration, defaulting to 15 minutes when
// unconfigured.
func (p *DomainPolicy) Expiry() time.Duration {
	minutes := p.settings.LinkExpiryMinutes
	if minutes <= 0 {
		minutes = 15
	}
	return time.Duration(minutes) * time.Minute
}

// Governor bundles the concurrency gate, bandwidth limiter, and domain
// policy that a download request must pass through.
type Governor struct {
	Gate   *ConcurrencyGate
	Bucket *TokenBucket
	Domain *DomainPolicy
}

// New builds a Governor from process-wide download settings.
func New(settings gwtypes.DownloadSettings) *Governor {
	return &Governor{
		Gate:   NewConcurrencyGate(settings.MaxConcurrent),
		Bucket: NewTokenBucket(settings.MaxSpeedBPS, settings.MaxSpeedBPS),
		Domain: NewDomainPolicy(settings),
	}
}
