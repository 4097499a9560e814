package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// retryableError marks a failure the caller has judged safe to repeat.
type retryableError struct {
	err  error
	code int
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as safe to retry. code carries the HTTP status when
// one exists; pass 0 otherwise.
func Retryable(err error, code int) error {
	return &retryableError{err: err, code: code}
}

// IsRetryable reports whether err is worth another attempt: an explicit
// Retryable mark, a network timeout, or a dropped connection. Anything
// else, bad URLs and 4xx responses included, fails fast.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var marked *retryableError
	if errors.As(err, &marked) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// HTTP clients flatten some network failures into strings.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// RetryableStatus reports whether an HTTP status from a data mirror or a
// webhook endpoint signals a condition that tends to clear on its own.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
