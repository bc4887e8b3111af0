package cache

import "time"

// Policy bounds how long a Bounded cache keeps entries and how many.
type Policy struct {
	// TTL is the lifetime of an entry. Zero disables storing.
	TTL time.Duration

	// MaxEntries caps the cache size. Zero means unbounded.
	MaxEntries int

	// EvictionMargin is evicted on top of the overage once MaxEntries is
	// exceeded, so eviction does not run on every insert.
	EvictionMargin int

	// CleanupEvery sweeps expired entries after this many inserts. Expired
	// entries are never returned either way.
	CleanupEvery int
}

// TokenPolicy is the policy for validated OAuth tokens: five minutes, at
// most 500 entries, 50 evicted past the cap, a sweep every 100 inserts.
func TokenPolicy() Policy {
	return Policy{
		TTL:            5 * time.Minute,
		MaxEntries:     500,
		EvictionMargin: 50,
		CleanupEvery:   100,
	}
}

// Enabled reports whether the policy stores anything.
func (p Policy) Enabled() bool {
	return p.TTL > 0
}

// Lifetime returns how long an entry stored at now may live: the policy
// TTL, cut short by deadline when deadline is set. A non-positive result
// means the entry must not be stored.
func (p Policy) Lifetime(now, deadline time.Time) time.Duration {
	ttl := p.TTL
	if !deadline.IsZero() {
		ttl = min(ttl, deadline.Sub(now))
	}
	return ttl
}
