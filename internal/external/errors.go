package external

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed external call.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindUnavailable    ErrorKind = "unavailable"
	KindQuotaExceeded  ErrorKind = "quota_exceeded"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindDecode         ErrorKind = "decode"
	KindCancelled      ErrorKind = "cancelled"
)

// GeocodeError is returned by every Geocoder.
type GeocodeError struct {
	Adapter string
	Kind    ErrorKind
	Status  int // HTTP status, 0 when the request never got an answer
	Message string
	Err     error
}

func (e *GeocodeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "geocode %s: %s", e.Adapter, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *GeocodeError) Unwrap() error { return e.Err }

// TranslationError fails one translated item.
type TranslationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TranslationError) Error() string {
	msg := "translate: " + string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TranslationError) Unwrap() error { return e.Err }

// KindOf returns the kind of a GeocodeError or TranslationError, or "".
func KindOf(err error) ErrorKind {
	var ge *GeocodeError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	var te *TranslationError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

func IsTimeout(err error) bool       { return KindOf(err) == KindTimeout }
func IsUnavailable(err error) bool   { return KindOf(err) == KindUnavailable }
func IsQuotaExceeded(err error) bool { return KindOf(err) == KindQuotaExceeded }

// IsRetryable reports whether backing off and trying again can help.
// Quota errors are never retryable.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindUnavailable:
		return true
	}
	return false
}

// statusKind maps an HTTP status to an error kind; "" means success.
func statusKind(status int) ErrorKind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusForbidden, status == http.StatusPaymentRequired:
		return KindQuotaExceeded
	case status == http.StatusTooManyRequests, status >= 500:
		return KindUnavailable
	case status == http.StatusRequestTimeout:
		return KindTimeout
	}
	return KindInvalidRequest
}

// transportKind classifies an error returned before any response arrived.
func transportKind(ctx context.Context, err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUnavailable
}

func transportError(ctx context.Context, adapter string, err error) *GeocodeError {
	return &GeocodeError{Adapter: adapter, Kind: transportKind(ctx, err), Message: "request failed", Err: err}
}

func statusError(adapter string, status int, body []byte) *GeocodeError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &GeocodeError{Adapter: adapter, Kind: statusKind(status), Status: status, Message: msg}
}
