package gateway

import "fmt"

// Kind classifies every error the gateway returns to a caller.
type Kind int

const (
	// KindInvalidInput: malformed credential/endpoint/arguments.
	// Never reaches the downstream service.
	KindInvalidInput Kind = iota + 1
	// KindRejectedByUpstream: the downstream service declined
	// credential verification.
	KindRejectedByUpstream
	// KindRateLimited: transient; the caller should back off.
	KindRateLimited
	// KindSessionExpiredOrUnknown: the caller must re-authenticate.
	KindSessionExpiredOrUnknown
	// KindUpstreamAuthRevoked: the session was destroyed because the
	// downstream rejected its credential mid-flight.
	KindUpstreamAuthRevoked
	// KindUpstreamUnavailable: network or timeout talking downstream.
	// Transient, retryable, never destroys the session.
	KindUpstreamUnavailable
	// KindInternal: unexpected. Logged; details never exposed raw.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindRejectedByUpstream:
		return "rejected_by_upstream"
	case KindRateLimited:
		return "rate_limited"
	case KindSessionExpiredOrUnknown:
		return "session_expired_or_unknown"
	case KindUpstreamAuthRevoked:
		return "upstream_auth_revoked"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// Error is the only error type that crosses the gateway boundary.
// Messages are passed through the error sanitizer at construction, so
// no credential or token material survives into callers or logs.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: SanitizeErrorText(fmt.Sprintf(format, args...)),
	}
}

// KindOf extracts the Kind from an error, or KindInternal for
// anything that is not a gateway error.
func KindOf(err error) Kind {
	if gerr, ok := err.(*Error); ok {
		return gerr.Kind
	}
	return KindInternal
}
