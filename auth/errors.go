package auth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an authentication failure.
type ErrorKind int

const (
	// KindInternal is an unexpected failure inside the gateway.
	KindInternal ErrorKind = iota
	// KindMissingCredential means no provider found credential material.
	KindMissingCredential
	// KindInvalidCredential means a credential was present but failed verification.
	KindInvalidCredential
	// KindExpired is the expired sub-case of an invalid credential.
	KindExpired
	// KindProviderMisconfigured is a startup-time configuration failure.
	KindProviderMisconfigured
	// KindUpstreamUnavailable means a key-set or token endpoint could not be reached.
	KindUpstreamUnavailable
)

// String returns the kind name used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindMissingCredential:
		return "missing_credential"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindExpired:
		return "expired"
	case KindProviderMisconfigured:
		return "provider_misconfigured"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// Sentinel errors, one per kind. Use errors.Is against these.
var (
	ErrMissingCredential     = errors.New("auth: missing credential")
	ErrInvalidCredential     = errors.New("auth: invalid credential")
	ErrExpired               = errors.New("auth: credential expired")
	ErrProviderMisconfigured = errors.New("auth: provider misconfigured")
	ErrUpstreamUnavailable   = errors.New("auth: upstream unavailable")
	ErrInternal              = errors.New("auth: internal error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindMissingCredential:
		return ErrMissingCredential
	case KindInvalidCredential:
		return ErrInvalidCredential
	case KindExpired:
		return ErrExpired
	case KindProviderMisconfigured:
		return ErrProviderMisconfigured
	case KindUpstreamUnavailable:
		return ErrUpstreamUnavailable
	default:
		return ErrInternal
	}
}

// Error is the typed failure returned by every provider operation.
//
// Reason is intended for audit logs. Clients should only ever see
// PublicMessage.
type Error struct {
	Kind     ErrorKind
	Provider string
	Reason   string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.Provider != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Provider)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's kind. An expired credential
// also matches ErrInvalidCredential.
func (e *Error) Is(target error) bool {
	if target == e.Kind.sentinel() {
		return true
	}
	return e.Kind == KindExpired && target == ErrInvalidCredential
}

// PublicMessage returns a client-safe description of the failure.
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case KindMissingCredential:
		return "authentication required"
	case KindInvalidCredential:
		return "invalid credentials"
	case KindExpired:
		return "credentials expired"
	case KindUpstreamUnavailable:
		return "authentication temporarily unavailable"
	default:
		return "authentication failed"
	}
}

// withProvider returns a copy of e tagged with the provider name, unless
// one is already set.
func (e *Error) withProvider(name string) *Error {
	if e.Provider != "" {
		return e
	}
	cp := *e
	cp.Provider = name
	return &cp
}

// MissingCredential reports that no credential material was found.
func MissingCredential() *Error {
	return &Error{Kind: KindMissingCredential}
}

// InvalidCredential reports a credential that failed verification.
func InvalidCredential(reason string) *Error {
	return &Error{Kind: KindInvalidCredential, Reason: reason}
}

// Expired reports an expired credential.
func Expired(reason string) *Error {
	return &Error{Kind: KindExpired, Reason: reason}
}

// Misconfigured reports a configuration problem detected at construction.
func Misconfigured(reason string) *Error {
	return &Error{Kind: KindProviderMisconfigured, Reason: reason}
}

// UpstreamUnavailable reports an unreachable key-set or token endpoint.
func UpstreamUnavailable(reason string, cause error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Reason: reason, Cause: cause}
}

// Internal reports an unexpected failure.
func Internal(reason string, cause error) *Error {
	return &Error{Kind: KindInternal, Reason: reason, Cause: cause}
}

// KindOf classifies err. Errors that are not *Error are KindInternal.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// AsError converts err into an *Error, wrapping foreign errors as Internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal("unexpected error", err)
}
