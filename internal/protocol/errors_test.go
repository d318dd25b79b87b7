package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	for code := range codes {
		if !IsKnownCode(code) {
			t.Fatalf("expected known code: %q", code)
		}
	}
	if !IsKnownCode("") {
		t.Fatalf("empty code means success")
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(ErrRateLimit) || !Retryable(ErrWorldBusy) {
		t.Fatalf("rate limit and busy should be retryable")
	}
	if Retryable(ErrBlocked) || Retryable("E_NOT_DEFINED") {
		t.Fatalf("blocked/unknown should not be retryable")
	}
}
