package exchange

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindAuthentication
	KindRequest
	KindRateLimited
	KindServiceUnavailable
	KindTransport
	KindUnhandled
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindAuthentication:
		return "authentication error"
	case KindRequest:
		return "request error"
	case KindRateLimited:
		return "rate limited"
	case KindServiceUnavailable:
		return "service unavailable"
	case KindTransport:
		return "transport error"
	case KindUnhandled:
		return "unhandled error"
	default:
		return "unknown error"
	}
}

// Retryable reports whether the kind is handled by the retry loop.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindServiceUnavailable || k == KindTransport
}

// Error is the terminal error of a logical request. Payload is the request
// body as sent, empty for sensitive requests; it never holds key material.
type Error struct {
	Kind       Kind
	Message    string
	Verb       Verb
	Endpoint   string
	Payload    string
	StatusCode int
	Body       string
	Timeout    bool
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " (endpoint %s %s", e.Verb, e.Endpoint)
		if e.StatusCode != 0 {
			fmt.Fprintf(&b, ", status %d", e.StatusCode)
		}
		if e.Attempts > 1 {
			fmt.Fprintf(&b, ", %d attempts", e.Attempts)
		}
		b.WriteString(")")
	}
	if e.Payload != "" {
		fmt.Fprintf(&b, " payload: %s", e.Payload)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, " response: %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Cause lets errors.Cause walk through an *Error.
func (e *Error) Cause() error { return e.Err }

func ConfigurationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

func AuthenticationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

// TransportError wraps a failure below HTTP (dial, TLS, deadline).
func TransportError(err error, timeout bool) *Error {
	msg := "connection error"
	if timeout {
		msg = "timed out"
	}
	return &Error{Kind: KindTransport, Message: msg, Timeout: timeout, Err: err}
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransport && e.Timeout
}
