package chain

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrRateLimited marks a rate-limit response from the endpoint.
var ErrRateLimited = errors.New("chain: rate limited")

// ErrServerError marks a generic 5xx-class failure from the endpoint.
var ErrServerError = errors.New("chain: server error")

// IsTransient classifies failures worth retrying: rate limits, timeouts,
// connection resets and generic server errors. Validation and state errors
// propagate immediately.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit",
		"too many requests",
		"timeout",
		"connection reset",
		"server error",
		"service unavailable",
		"bad gateway",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
