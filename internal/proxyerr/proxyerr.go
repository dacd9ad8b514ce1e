// Package proxyerr defines the proxy's error taxonomy so that callers can
// branch on failure kind with errors.Is/errors.As instead of matching on
// message text.
package proxyerr

import "errors"

// Kind classifies a proxy error for logging and disconnect-reason mapping.
type Kind string

const (
	// KindNetworkTransient covers backend dial failures and broker disconnects.
	KindNetworkTransient Kind = "network_transient"
	// KindAuthDenied covers pre-login/pre-connect denial and session-service rejection.
	KindAuthDenied Kind = "auth_denied"
	// KindInvalidReferral covers HMAC verification failure.
	KindInvalidReferral Kind = "invalid_referral"
	// KindStaleReferral covers a referral timestamp outside the validity window.
	KindStaleReferral Kind = "stale_referral"
	// KindIdentityMismatch covers a referral whose identity fields disagree with the session.
	KindIdentityMismatch Kind = "identity_mismatch"
	// KindProtocolViolation covers malformed or unexpected frames.
	KindProtocolViolation Kind = "protocol_violation"
	// KindPolicyLimitReached covers the connection cap and similar hard limits.
	KindPolicyLimitReached Kind = "policy_limit_reached"
	// KindFatal covers startup failures that should abort the process.
	KindFatal Kind = "fatal"
)

// Error is a proxy error tagged with a Kind and, where relevant, a
// client-visible reason string suitable for a Disconnect frame.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a client-visible reason.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Is reports whether err is a proxyerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

var (
	// ErrInvalidReferral signals HMAC verification failure on a referral blob.
	ErrInvalidReferral = New(KindInvalidReferral, "invalid referral")
	// ErrStaleReferral signals a referral timestamp outside the validity window.
	ErrStaleReferral = New(KindStaleReferral, "stale referral")
	// ErrIdentityMismatch signals a referral whose uuid/username/backend disagree with the session.
	ErrIdentityMismatch = New(KindIdentityMismatch, "identity mismatch")
)
