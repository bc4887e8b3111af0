package ratelimit

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonwraymond/toolgate/auth"
	"github.com/jonwraymond/toolgate/observe"
)

// Scopes name the bucket a result describes.
const (
	ScopeIdentity = "identity"
	ScopeTool     = "tool"
)

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed reports whether the request is admitted.
	Allowed bool

	// Limit is the requests-per-second quota of the reported bucket.
	Limit int

	// Remaining is the number of whole tokens left in the reported bucket.
	Remaining int

	// ResetAt is when the reported bucket is full again.
	ResetAt time.Time

	// RetryAfterSecs is set only when Allowed is false, and is at least 1.
	RetryAfterSecs int

	// Scope names the reported bucket: the one that denied, or the one
	// with fewer tokens left.
	Scope string
}

// bucket is a token bucket and the time it was last used.
type bucket struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64
}

func (b *bucket) touch(now time.Time) {
	b.lastAccess.Store(now.UnixNano())
}

func (b *bucket) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, b.lastAccess.Load()))
}

type toolKey struct {
	identity string
	tool     string
}

// Limiter holds the identity and tool buckets.
type Limiter struct {
	config     Config
	identities sync.Map // string -> *bucket
	tools      sync.Map // toolKey -> *bucket
	now        func() time.Time
	logger     observe.Logger
}

// NewLimiter creates a limiter. Zero config values take their defaults.
func NewLimiter(config Config, logger observe.Logger) *Limiter {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &Limiter{
		config: config.WithDefaults(),
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// Check checks identity's quota and, when tool matches a tool limit, the
// (identity, tool) quota. Pass an empty tool for requests that are not
// tool calls.
func (l *Limiter) Check(identity *auth.Identity, tool string) Result {
	return l.CheckAt(identity, tool, l.now())
}

// CheckAt is Check at the given time.
//
// A request consumes one token from each applicable bucket, or none when
// any of them denies it.
func (l *Limiter) CheckAt(identity *auth.Identity, tool string, now time.Time) Result {
	if !l.config.Enabled {
		return Result{Allowed: true, Limit: l.config.RequestsPerSecond, Remaining: l.config.Burst, ResetAt: now}
	}

	id := ""
	if identity != nil {
		id = identity.ID
	}

	rps, burst := l.identityQuota(identity)
	ib := l.bucketFor(&l.identities, id, rps, burst, now)
	ir := ib.limiter.ReserveN(now, 1)
	if delay := ir.DelayFrom(now); delay > 0 {
		ir.CancelAt(now)
		return denied(ScopeIdentity, ib.limiter, rps, delay, now)
	}
	result := allowed(ScopeIdentity, ib.limiter, rps, now)

	tl, ok := l.config.toolLimitFor(tool)
	if !ok {
		return result
	}

	tburst := tl.Burst
	if tburst <= 0 {
		tburst = derivedBurst(tl.RequestsPerSecond)
	}
	tb := l.bucketFor(&l.tools, toolKey{identity: id, tool: tool}, tl.RequestsPerSecond, tburst, now)
	tr := tb.limiter.ReserveN(now, 1)
	if delay := tr.DelayFrom(now); delay > 0 {
		tr.CancelAt(now)
		ir.CancelAt(now)
		return denied(ScopeTool, tb.limiter, tl.RequestsPerSecond, delay, now)
	}

	if toolResult := allowed(ScopeTool, tb.limiter, tl.RequestsPerSecond, now); toolResult.Remaining < result.Remaining {
		return toolResult
	}
	return result
}

// identityQuota returns the identity's requests-per-second and burst.
func (l *Limiter) identityQuota(identity *auth.Identity) (int, int) {
	if identity != nil && identity.RateLimit > 0 {
		return identity.RateLimit, derivedBurst(identity.RateLimit)
	}
	return l.config.RequestsPerSecond, l.config.Burst
}

// bucketFor returns the bucket for key, creating it on first use. Concurrent
// creators converge on the first stored bucket.
func (l *Limiter) bucketFor(m *sync.Map, key any, rps, burst int, now time.Time) *bucket {
	if v, ok := m.Load(key); ok {
		b := v.(*bucket)
		b.retune(rps, burst, now)
		b.touch(now)
		return b
	}

	fresh := &bucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
	fresh.touch(now)
	v, loaded := m.LoadOrStore(key, fresh)
	b := v.(*bucket)
	if loaded {
		b.retune(rps, burst, now)
		b.touch(now)
	}
	return b
}

// retune applies a changed quota, e.g. after an API key's rate_limit
// is edited, without resetting the tokens already spent.
func (b *bucket) retune(rps, burst int, now time.Time) {
	if b.limiter.Limit() != rate.Limit(rps) {
		b.limiter.SetLimitAt(now, rate.Limit(rps))
	}
	if b.limiter.Burst() != burst {
		b.limiter.SetBurstAt(now, burst)
	}
}

func allowed(scope string, lim *rate.Limiter, rps int, now time.Time) Result {
	tokens := lim.TokensAt(now)
	return Result{
		Allowed:   true,
		Limit:     rps,
		Remaining: max(0, int(math.Floor(tokens))),
		ResetAt:   resetAt(lim, tokens, now),
		Scope:     scope,
	}
}

func denied(scope string, lim *rate.Limiter, rps int, delay time.Duration, now time.Time) Result {
	return Result{
		Limit:          rps,
		ResetAt:        resetAt(lim, lim.TokensAt(now), now),
		RetryAfterSecs: max(1, int(math.Ceil(delay.Seconds()))),
		Scope:          scope,
	}
}

// resetAt is when a bucket holding tokens is full again.
func resetAt(lim *rate.Limiter, tokens float64, now time.Time) time.Time {
	missing := float64(lim.Burst()) - tokens
	if missing <= 0 || lim.Limit() <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / float64(lim.Limit()) * float64(time.Second)))
}

// Len returns the number of identity and tool buckets.
func (l *Limiter) Len() (identities, tools int) {
	l.identities.Range(func(_, _ any) bool {
		identities++
		return true
	})
	l.tools.Range(func(_, _ any) bool {
		tools++
		return true
	})
	return identities, tools
}

// Sweep removes buckets idle for longer than the entry TTL and returns how
// many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	sweep := func(m *sync.Map) {
		m.Range(func(key, v any) bool {
			if v.(*bucket).idleSince(now) > l.config.EntryTTL && m.CompareAndDelete(key, v) {
				removed++
			}
			return true
		})
	}
	sweep(&l.identities)
	sweep(&l.tools)
	return removed
}

// Run sweeps idle buckets every SweepInterval until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(l.now()); n > 0 {
				l.logger.Debug(ctx, "evicted idle rate limit buckets", observe.Field{Key: "count", Value: n})
			}
		}
	}
}
