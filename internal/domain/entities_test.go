package domain

import (
	"errors"
	"testing"
)

func TestQuotaErrorUnwrap(t *testing.T) {
	err := &QuotaError{Kind: QuotaKindRPM}
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected QuotaError to unwrap to ErrQuotaExceeded")
	}
	if err.Error() == "" {
		t.Fatalf("expected non-empty error message")
	}
}

func TestQuotaErrorKinds(t *testing.T) {
	rpm := &QuotaError{Kind: QuotaKindRPM}
	token := &QuotaError{Kind: QuotaKindToken}
	if rpm.Error() == token.Error() {
		t.Fatalf("expected distinct messages for rpm vs token quota errors")
	}
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrConflict, ErrBadRequest, ErrAuthFailure, ErrPermissionDenied,
		ErrQuotaExceeded, ErrModelNotFound, ErrJobNotFound, ErrSessionMissing,
		ErrSessionExpired, ErrTransformFailed, ErrUpstreamRetryable, ErrUpstreamNonRetryable,
		ErrAllBackendsExhausted, ErrMaxIterations, ErrNotSupported, ErrInternal,
	}
	seen := map[string]bool{}
	for _, s := range sentinels {
		if seen[s.Error()] {
			t.Fatalf("duplicate sentinel message: %q", s.Error())
		}
		seen[s.Error()] = true
	}
}
