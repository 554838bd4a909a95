package core

import "errors"

// The portal reports failure in many shapes (redirects, markers in the body,
// missing cookies), so callers classify with errors.Is against these rather
// than string matching.
var (
	// the login page did not contain a recognizable login form
	ErrLoginFormMissing = errors.New("no login form found on login page")

	// credentials were submitted but no success signal was observed
	ErrVerificationFailed = errors.New("could not verify login success")

	// a network-level failure (timeout included), safe to retry from scratch
	ErrTransport = errors.New("transport failure")

	// the delegation endpoint rejected the request
	ErrDelegationFailed = errors.New("delegation failed")

	// the token refresh endpoint returned no usable token, a derived
	// degraded-mode token is in use instead
	ErrTokenRefreshDegraded = errors.New("token refresh degraded to derived token")

	// the document could not be parsed, extraction produced nothing
	ErrParseDegraded = errors.New("html parse degraded")
)
