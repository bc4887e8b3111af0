package health

import (
	"context"
	"time"
)

// Status is a component status, ordered from best to worst.
type Status int

const (
	StatusHealthy Status = iota
	// StatusDegraded still serves requests, with weaker guarantees such as
	// stale verification keys or a probing breaker.
	StatusDegraded
	// StatusUnhealthy fails the requests that depend on the component.
	StatusUnhealthy
)

// String returns the lowercase status name used in JSON output.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Ready reports whether the gateway should receive traffic with this
// status. Only unhealthy is not ready.
func (s Status) Ready() bool {
	return s < StatusUnhealthy
}

// Result is the outcome of one check. Duration and Timestamp are filled
// in by the Aggregator when the checker leaves them zero.
type Result struct {
	Status    Status
	Message   string
	Details   map[string]any
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

func newResult(s Status, message string, err error) Result {
	return Result{Status: s, Message: message, Error: err, Timestamp: time.Now()}
}

// Healthy creates a healthy result.
func Healthy(message string) Result { return newResult(StatusHealthy, message, nil) }

// Degraded creates a degraded result. err may be nil.
func Degraded(message string, err error) Result { return newResult(StatusDegraded, message, err) }

// Unhealthy creates an unhealthy result.
func Unhealthy(message string, err error) Result { return newResult(StatusUnhealthy, message, err) }

// WithDetails returns r with details attached.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// Checker reports the status of one gateway dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc is a named Checker backed by a function.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a checker named name that runs fn.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name returns the checker name.
func (f *CheckerFunc) Name() string { return f.name }

// Check runs the function.
func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }
