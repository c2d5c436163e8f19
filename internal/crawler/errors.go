package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a failure for the retry predicate and the item
// status writer. The transport/content split is load-bearing: transport
// and server failures may be retried, blocked and content failures are
// terminal on the first occurrence.
type ErrorKind string

// ErrNotFound is returned by stores when the requested record does
// not exist.
var ErrNotFound = errors.New("not found")

// Failure classes per the crawl error taxonomy.
const (
	KindTransport ErrorKind = "transport" // DNS, connection, timeout
	KindServer    ErrorKind = "server"    // 429, 5xx
	KindBlocked   ErrorKind = "blocked"   // 403 or detected challenge page
	KindContent   ErrorKind = "content"   // no strategy, parse failure
	KindInfra     ErrorKind = "infra"     // store/queue unavailable
)

// Error is a classified crawl failure carried through the retry
// executor as a tagged value rather than inspected exception subtypes.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Msg        string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt can change the outcome.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindServer
}

// NewError builds a classified error.
func NewError(kind ErrorKind, statusCode int, msg string, cause error) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Msg: msg, Err: cause}
}

// KindOf extracts the classification from err, classifying raw network
// errors as transport. Unclassified errors default to content: an
// unknown failure must not burn retry attempts.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransport
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	return KindContent
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}

// IsBlocked reports whether err is a terminal block (403 or detected
// challenge). Blocked failures are never retried.
func IsBlocked(err error) bool {
	return KindOf(err) == KindBlocked
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	kind := KindOf(err)
	return kind == KindTransport || kind == KindServer
}

// blockSignatures are body markers of an explicit denial page served
// with a 200. Challenge interstitials that merely want JavaScript are
// handled by the escalation heuristic instead.
var blockSignatures = []string{
	"access denied",
	"you have been blocked",
	"unusual traffic from your",
	"attention required! | cloudflare",
	"complete the captcha",
	"verify you are human",
}

// HasBlockSignature reports whether the page body carries an explicit
// block or captcha wall, regardless of HTTP status.
func HasBlockSignature(html []byte) bool {
	body := strings.ToLower(string(html))
	for _, sig := range blockSignatures {
		if strings.Contains(body, sig) {
			return true
		}
	}
	return false
}

// ClassifyStatusCode maps a non-200 HTTP response to an error kind.
func ClassifyStatusCode(code int) ErrorKind {
	switch {
	case code == 403:
		return KindBlocked
	case code == 429 || code >= 500:
		return KindServer
	default:
		return KindContent
	}
}
