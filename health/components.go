package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/toolgate/resilience"
)

// KeySet is the view of a JWKS cache the key set checker needs.
type KeySet interface {
	Expired() bool
	FetchedAt() time.Time
	Len() int
	LastError() error
}

// KeySetChecker reports the freshness of a verification key set.
//
// Fresh keys are healthy. Keys past their TTL are degraded: tokens signed
// by known keys still verify. An empty set is unhealthy.
type KeySetChecker struct {
	name string
	keys KeySet
}

// NewKeySetChecker creates a checker for keys.
func NewKeySetChecker(name string, keys KeySet) *KeySetChecker {
	return &KeySetChecker{name: name, keys: keys}
}

// Name returns the checker name.
func (c *KeySetChecker) Name() string {
	return c.name
}

// Check reports the key set status.
func (c *KeySetChecker) Check(_ context.Context) Result {
	n := c.keys.Len()
	fetchedAt := c.keys.FetchedAt()
	lastErr := c.keys.LastError()

	details := map[string]any{"keys": n}
	if !fetchedAt.IsZero() {
		details["fetched_at"] = fetchedAt.UTC().Format(time.RFC3339)
	}

	switch {
	case n == 0:
		err := lastErr
		if err == nil {
			err = ErrNoKeys
		}
		return Unhealthy("no verification keys cached", err).WithDetails(details)
	case c.keys.Expired():
		return Degraded("verification keys are stale", lastErr).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("%d verification keys cached", n)).WithDetails(details)
	}
}

// Breaker is the view of a circuit breaker the breaker checker needs.
type Breaker interface {
	Name() string
	State() resilience.State
	Failures() int
}

// BreakerChecker reports an upstream circuit breaker: closed is healthy,
// half-open degraded and open unhealthy.
type BreakerChecker struct {
	breaker Breaker
}

// NewBreakerChecker creates a checker for b.
func NewBreakerChecker(b Breaker) *BreakerChecker {
	return &BreakerChecker{breaker: b}
}

// Name returns "breaker:<breaker name>".
func (c *BreakerChecker) Name() string {
	return "breaker:" + c.breaker.Name()
}

// Check reports the breaker state.
func (c *BreakerChecker) Check(_ context.Context) Result {
	state := c.breaker.State()
	details := map[string]any{
		"state":    state.String(),
		"failures": c.breaker.Failures(),
	}

	switch state {
	case resilience.StateOpen:
		return Unhealthy("upstream circuit open", ErrCircuitOpen).WithDetails(details)
	case resilience.StateHalfOpen:
		return Degraded("upstream circuit probing", nil).WithDetails(details)
	default:
		return Healthy("upstream circuit closed").WithDetails(details)
	}
}

// Bounded is a store with a fixed capacity.
type Bounded interface {
	Len() int
	Cap() int
}

// CapacityChecker reports a bounded store as degraded once its fill ratio
// reaches a threshold.
type CapacityChecker struct {
	name      string
	store     Bounded
	threshold float64
}

// NewCapacityChecker creates a checker. A threshold outside (0, 1]
// selects 0.9.
func NewCapacityChecker(name string, store Bounded, threshold float64) *CapacityChecker {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.9
	}
	return &CapacityChecker{name: name, store: store, threshold: threshold}
}

// Name returns the checker name.
func (c *CapacityChecker) Name() string {
	return c.name
}

// Check reports the fill ratio.
func (c *CapacityChecker) Check(_ context.Context) Result {
	n, capacity := c.store.Len(), c.store.Cap()
	details := map[string]any{"entries": n, "capacity": capacity}
	if capacity <= 0 {
		return Healthy("unbounded").WithDetails(details)
	}

	ratio := float64(n) / float64(capacity)
	msg := fmt.Sprintf("%d of %d entries in use", n, capacity)
	if ratio >= c.threshold {
		return Degraded(msg, nil).WithDetails(details)
	}
	return Healthy(msg).WithDetails(details)
}
