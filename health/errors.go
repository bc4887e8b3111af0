package health

import "errors"

var (
	// ErrCheckTimeout indicates a health check did not finish in time.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound indicates no checker is registered under a name.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrNoKeys indicates the key set holds no usable keys.
	ErrNoKeys = errors.New("health: no verification keys")

	// ErrCircuitOpen indicates an upstream breaker is rejecting calls.
	ErrCircuitOpen = errors.New("health: circuit open")
)
