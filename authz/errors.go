package authz

import "errors"

var (
	// ErrMalformedMessage indicates a body that is not a JSON-RPC message.
	ErrMalformedMessage = errors.New("authz: malformed message")

	// ErrMalformedResult indicates a tools/list result that cannot be
	// filtered safely.
	ErrMalformedResult = errors.New("authz: malformed tools/list result")
)
