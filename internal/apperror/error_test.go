package apperror

import (
	"errors"
	"testing"
)

func TestWrapPassesThroughAppErrors(t *testing.T) {
	orig := New(CodeInvalidAddress, WithContext("0xbad"))
	wrapped := Wrap(orig, CodeNetworkError, "fetch balance")

	if wrapped.Code != CodeInvalidAddress {
		t.Errorf("code = %s, want %s (wrapping must not recode)", wrapped.Code, CodeInvalidAddress)
	}
	if wrapped.Context != "0xbad" {
		t.Errorf("context = %q, want original preserved", wrapped.Context)
	}
}

func TestWrapPlainError(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(cause, CodeNetworkError, "dial node", WithResource("rpc:ethereum"))

	if wrapped.Code != CodeNetworkError {
		t.Errorf("code = %s, want %s", wrapped.Code, CodeNetworkError)
	}
	if wrapped.Resource != "rpc:ethereum" {
		t.Errorf("resource = %q", wrapped.Resource)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error does not unwrap to its cause")
	}
	if Wrap(nil, CodeNetworkError, "") != nil {
		t.Error("wrapping nil must yield nil")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(New(CodeCircuitOpen)); got != CodeCircuitOpen {
		t.Errorf("CodeOf = %s, want %s", got, CodeCircuitOpen)
	}
	if got := CodeOf(errors.New("plain")); got != CodeUnknownError {
		t.Errorf("CodeOf(plain) = %s, want %s", got, CodeUnknownError)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", New(CodeNetworkError), true},
		{"timeout", New(CodeServiceTimeout), true},
		{"rate_limited", New(CodeRateLimitExceeded), true},
		{"invalid_address", New(CodeInvalidAddress), false},
		{"circuit_open", New(CodeCircuitOpen), false},
		{"insufficient_balance", New(CodeInsufficientBalance), false},
		{"plain_error", errors.New("socket hang up"), true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := Wrap(errors.New("tx reverted"), CodeContractCallFailed, "flash loan")
	if !errors.Is(err, New(CodeContractCallFailed)) {
		t.Error("errors.Is must match AppErrors by code")
	}
	if errors.Is(err, New(CodeNetworkError)) {
		t.Error("errors.Is matched a different code")
	}
}
