package chain

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited sentinel", ErrRateLimited, true},
		{"wrapped rate limited", fmt.Errorf("call: %w", ErrRateLimited), true},
		{"server error sentinel", ErrServerError, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"canceled is permanent", context.Canceled, false},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"message marker", errors.New("upstream 502 bad gateway"), true},
		{"too many requests", errors.New("429 Too Many Requests"), true},
		{"plain failure", errors.New("invalid nullifier"), false},
		{"validation", errors.New("leverage out of range"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v)=%v want %v", tc.err, got, tc.want)
			}
		})
	}
}
